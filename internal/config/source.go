package config

import (
	"os"
	"time"
)

// Source supplies configuration snapshots to the scheduler.
type Source interface {
	// Load parses the current configuration.
	Load() (*Document, error)
	// Changed reports whether the configuration changed since the last Load.
	Changed() bool
}

type fileStamp struct {
	exists  bool
	modTime time.Time
	size    int64
}

// FileSource loads the YAML document from a file and detects changes by
// modification time and size. It is not safe for concurrent use.
type FileSource struct {
	path string
	seen fileStamp
}

// NewFileSource returns a source reading path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the watched file path.
func (s *FileSource) Path() string {
	return s.path
}

// Load parses the file. The stamp of the file is recorded even when
// parsing fails, so a broken file is reported once rather than on
// every poll.
func (s *FileSource) Load() (*Document, error) {
	s.seen = s.stat()
	return LoadFile(s.path)
}

// Changed reports whether the file differs from the last loaded one.
func (s *FileSource) Changed() bool {
	return s.stat() != s.seen
}

func (s *FileSource) stat() fileStamp {
	info, err := os.Stat(s.path)
	if err != nil {
		return fileStamp{}
	}
	return fileStamp{exists: true, modTime: info.ModTime(), size: info.Size()}
}
