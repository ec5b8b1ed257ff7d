package anacrolix

import (
	"log/slog"

	"github.com/anacrolix/torrent"
)

// pieceSpan is a half-open range of piece indexes.
type pieceSpan struct {
	start int
	end   int
}

func (p pieceSpan) len() int { return p.end - p.start }

// headSpan returns the pieces covering the first head bytes of a file that
// starts at offset within the torrent.
func headSpan(offset, length, head, pieceLen int64, numPieces int) (pieceSpan, bool) {
	if length <= 0 || pieceLen <= 0 || numPieces <= 0 || offset < 0 {
		return pieceSpan{}, false
	}
	if head <= 0 || head > length {
		head = length
	}
	end := offset + head

	startPiece := int(offset / pieceLen)
	endPiece := int((end + pieceLen - 1) / pieceLen)
	if startPiece >= numPieces {
		return pieceSpan{}, false
	}
	if endPiece > numPieces {
		endPiece = numPieces
	}
	if endPiece <= startPiece {
		endPiece = startPiece + 1
	}
	return pieceSpan{start: startPiece, end: endPiece}, true
}

// bufferProgress reports the completed fraction of span and whether every
// piece in it is complete.
func bufferProgress(span pieceSpan, complete func(int) bool) (float64, bool) {
	n := span.len()
	if n <= 0 {
		return 0, false
	}
	have := 0
	for i := span.start; i < span.end; i++ {
		if complete(i) {
			have++
		}
	}
	return float64(have) / float64(n), have == n
}

// prioritizeFile deselects every other file, queues the chosen one and pulls
// its head to the front of the request queue.
func prioritizeFile(t *torrent.Torrent, index int, head int64) (span pieceSpan, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("prioritizeFile recovered from panic",
				slog.Any("panic", rec),
				slog.String("infoHash", t.InfoHash().HexString()),
			)
			ok = false
		}
	}()

	files := t.Files()
	if index < 0 || index >= len(files) {
		return pieceSpan{}, false
	}
	for i, f := range files {
		if i != index {
			f.SetPriority(torrent.PiecePriorityNone)
		}
	}
	t.SetMaxEstablishedConns(defaultMaxConns)
	t.AllowDataDownload()

	f := files[index]
	span, ok = headSpan(f.Offset(), f.Length(), head, int64(t.Info().PieceLength), t.NumPieces())
	if !ok {
		return pieceSpan{}, false
	}
	f.Download()
	for i := span.start; i < span.end; i++ {
		t.Piece(i).SetPriority(torrent.PiecePriorityNow)
	}
	// Containers often keep their index at the tail.
	if tail, tok := tailPiece(f.Offset(), f.Length(), int64(t.Info().PieceLength)); tok && tail >= span.end && tail < t.NumPieces() {
		t.Piece(tail).SetPriority(torrent.PiecePriorityNext)
	}
	return span, true
}

func tailPiece(offset, length, pieceLen int64) (int, bool) {
	if length <= 0 || pieceLen <= 0 {
		return 0, false
	}
	return int((offset + length - 1) / pieceLen), true
}
