package domain

type SourceKind string

const (
	SourceMagnet     SourceKind = "magnet"
	SourceLocalFile  SourceKind = "local_file"
	SourceRemoteFile SourceKind = "remote_file"
)

// TorrentSource is the classified form of a torrent reference. A session is
// started from exactly one source and the source is never changed.
type TorrentSource struct {
	Kind     SourceKind `json:"kind"`
	Location string     `json:"location"`
}

func MagnetLink(uri string) TorrentSource {
	return TorrentSource{Kind: SourceMagnet, Location: uri}
}

func LocalTorrentFile(path string) TorrentSource {
	return TorrentSource{Kind: SourceLocalFile, Location: path}
}

func RemoteTorrentFile(url string) TorrentSource {
	return TorrentSource{Kind: SourceRemoteFile, Location: url}
}

// Streamable reports whether the engine can start from this source without a
// prior fetch.
func (s TorrentSource) Streamable() bool {
	return s.Kind == SourceMagnet || s.Kind == SourceLocalFile
}
