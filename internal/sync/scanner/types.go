package scanner

// LocalEntry is a regular file found under the sync root
type LocalEntry struct {
	RelativePath string
	AbsPath      string
	// Key is the remote object key, always slash separated
	Key     string
	Size    int64
	// ModTime is in nanoseconds since the epoch
	ModTime int64
}
