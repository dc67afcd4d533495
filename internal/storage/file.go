package storage

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/johan/oddsrelay/internal/ws"
)

// FileStorage appends messages to JSONL files, starting a new file every
// rotation interval.
type FileStorage struct {
	outputDir        string
	rotationInterval time.Duration
	useGzip          bool
	now              func() time.Time

	mu           sync.Mutex
	currentFile  *os.File
	gzWriter     *gzip.Writer
	writer       *bufio.Writer
	currentPath  string
	lastRotation time.Time
	messageCount int64
}

// FileOption configures a FileStorage.
type FileOption func(*FileStorage)

// WithGzip compresses journal files.
func WithGzip(enabled bool) FileOption {
	return func(s *FileStorage) {
		s.useGzip = enabled
	}
}

// NewFileStorage creates a new file storage.
func NewFileStorage(outputDir string, rotationInterval time.Duration, opts ...FileOption) (*FileStorage, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	s := &FileStorage{
		outputDir:        outputDir,
		rotationInterval: rotationInterval,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.rotate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Write appends a message to the current file.
func (s *FileStorage) Write(msg *ws.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile == nil {
		return fmt.Errorf("storage closed")
	}

	if s.rotationInterval > 0 && s.now().Sub(s.lastRotation) > s.rotationInterval {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing newline: %w", err)
	}
	// Updates are infrequent; flush so a crash loses at most one line.
	if err := s.flush(); err != nil {
		return fmt.Errorf("flushing journal: %w", err)
	}

	s.messageCount++
	return nil
}

// Close flushes and closes the current file.
func (s *FileStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile == nil {
		return nil
	}
	err := s.closeFile()
	s.currentFile = nil
	return err
}

func (s *FileStorage) flush() error {
	if err := s.writer.Flush(); err != nil {
		return err
	}
	if s.gzWriter != nil {
		return s.gzWriter.Flush()
	}
	return nil
}

// closeFile closes the writers in order: buffer, gzip, file. It returns
// the first error; a failed gzip close means a truncated file.
func (s *FileStorage) closeFile() error {
	err := s.writer.Flush()
	if err != nil {
		err = fmt.Errorf("flushing journal: %w", err)
	}
	if s.gzWriter != nil {
		if gzErr := s.gzWriter.Close(); gzErr != nil && err == nil {
			err = fmt.Errorf("closing gzip stream: %w", gzErr)
		}
		s.gzWriter = nil
	}
	if closeErr := s.currentFile.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("closing journal file: %w", closeErr)
	}
	return err
}

// rotate creates a new output file. A failure closing the previous file
// is returned once the new file is open.
func (s *FileStorage) rotate() error {
	var closeErr error
	if s.currentFile != nil {
		if err := s.closeFile(); err != nil {
			closeErr = fmt.Errorf("closing %s: %w", s.currentPath, err)
		}
		s.currentFile = nil
	}

	now := s.now().UTC()
	filename := fmt.Sprintf("updates_%s.jsonl", now.Format("2006-01-02_15-04-05.000"))
	if s.useGzip {
		filename += ".gz"
	}
	path := filepath.Join(s.outputDir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}

	s.currentFile = f
	if s.useGzip {
		s.gzWriter = gzip.NewWriter(f)
		s.writer = bufio.NewWriter(s.gzWriter)
	} else {
		s.writer = bufio.NewWriter(f)
	}
	s.currentPath = path
	s.lastRotation = now
	s.messageCount = 0

	return closeErr
}

// CurrentPath returns the path to the current output file.
func (s *FileStorage) CurrentPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPath
}

// MessageCount returns the number of messages written to the current file.
func (s *FileStorage) MessageCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}
