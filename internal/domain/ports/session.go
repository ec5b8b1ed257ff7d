package ports

import (
	"context"
	"io"

	"popcornstream/internal/domain"
)

// StreamHandle controls one running engine session.
type StreamHandle interface {
	SessionID() domain.SessionID
	// SelectFile tells a session waiting on file enumeration which file to
	// download. It may be called once.
	SelectFile(index int) error
	// Cancel stops the session. Data is removed from disk only when
	// deleteData is set.
	Cancel(deleteData bool) error
	NewReader() (StreamReader, error)
}

// StreamReader reads the selected file while it is still downloading. Reads
// block until the pieces they cover arrive, or the context set with
// SetContext is done.
type StreamReader interface {
	io.ReadSeekCloser
	SetContext(context.Context)
	// SetReadahead sets how many bytes past the read position are
	// prioritised.
	SetReadahead(int64)
	SetResponsive()
}
