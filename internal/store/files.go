package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
)

// stream is an append-only byte file. Appends are serialised; reads use
// ReadAt and may run concurrently with them.
type stream struct {
	mu   sync.Mutex
	f    *os.File
	size int64
}

func openStream(path string) (*stream, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &stream{f: f, size: info.Size()}, nil
}

// append writes data at the end of the file and returns its offset.
func (s *stream) append(data []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off := s.size
	n, err := s.f.WriteAt(data, off)
	if err != nil {
		return 0, fmt.Errorf("appending %d bytes to %s: %w", len(data), s.f.Name(), err)
	}
	if n != len(data) {
		return 0, fmt.Errorf("appending to %s: wrote %d of %d bytes: %w", s.f.Name(), n, len(data), apperrors.ErrDataMisaligned)
	}
	s.size += int64(n)
	return off, nil
}

// read returns exactly length bytes at offset.
func (s *stream) read(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	if length == 0 {
		return buf, nil
	}
	n, err := s.f.ReadAt(buf, offset)
	if n != length {
		if err == nil || errors.Is(err, io.EOF) {
			err = apperrors.ErrDataCorrupted
		}
		return nil, fmt.Errorf("reading %d bytes at %d from %s: got %d: %w", length, offset, s.f.Name(), n, err)
	}
	return buf, nil
}

// flush forces appended bytes to stable storage.
func (s *stream) flush() error {
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", s.f.Name(), err)
	}
	return nil
}

// refresh picks up bytes appended by other processes.
func (s *stream) refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", s.f.Name(), err)
	}
	s.size = max(s.size, info.Size())
	return nil
}

func (s *stream) len() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *stream) close() error {
	return s.f.Close()
}

// records is a file of fixed-size records addressed by position.
type records struct {
	*stream
	recSize int
}

func openRecords(path string, size int) (*records, error) {
	s, err := openStream(path)
	if err != nil {
		return nil, err
	}
	if s.size%int64(size) != 0 {
		s.close()
		return nil, fmt.Errorf("%s holds %d bytes, not a multiple of %d: %w", path, s.size, size, apperrors.ErrDataMisaligned)
	}
	return &records{stream: s, recSize: size}, nil
}

func (r *records) count() int64 {
	return r.len() / int64(r.recSize)
}

// add appends rec and returns its position.
func (r *records) add(rec []byte) (int64, error) {
	off, err := r.append(rec)
	if err != nil {
		return 0, err
	}
	return off / int64(r.recSize), nil
}

// put writes rec at pos, extending the file when pos is past the end.
func (r *records) put(pos int64, rec []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	off := pos * int64(r.recSize)
	n, err := r.f.WriteAt(rec, off)
	if err != nil {
		return fmt.Errorf("writing record %d to %s: %w", pos, r.f.Name(), err)
	}
	if n != len(rec) {
		return fmt.Errorf("writing record %d to %s: %w", pos, r.f.Name(), apperrors.ErrDataMisaligned)
	}
	r.size = max(r.size, off+int64(n))
	return nil
}

// get returns the record at pos, or ok=false past the end of the file.
func (r *records) get(pos int64) ([]byte, bool, error) {
	if pos < 0 {
		return nil, false, nil
	}
	buf := make([]byte, r.recSize)
	n, err := r.f.ReadAt(buf, pos*int64(r.recSize))
	if n == r.recSize {
		return buf, true, nil
	}
	if n == 0 && errors.Is(err, io.EOF) {
		return nil, false, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = apperrors.ErrDataCorrupted
	}
	return nil, false, fmt.Errorf("reading record %d from %s: %w", pos, r.f.Name(), err)
}
