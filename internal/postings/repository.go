package postings

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/metrics"
)

// Index blob framing.
const (
	IndexMagic      uint32 = 0x50495831 // "PIX1"
	IndexVersion    uint32 = 1
	IndexHeaderSize int    = 16
	IndexFileName          = "_.pix"
)

var emptyFiller = []byte{0}

type location struct {
	Offset int64 `json:"o"`
	Length int64 `json:"l"`
}

// Repository is the local posting storage engine. Each collection owns one
// append-only "{collection}.pos" file; the offset index for all collections
// lives in a single blob that a background goroutine rewrites after every
// write.
type Repository struct {
	dir     string
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu    sync.RWMutex
	index map[uint64]map[int64][]location

	writeMu sync.Mutex

	flushReq  chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open loads the persisted index blob from dir, creating dir if needed, and
// starts the background index flusher.
func Open(dir string, m *metrics.Metrics) (*Repository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating postings directory: %w", err)
	}
	r := &Repository{
		dir:      dir,
		metrics:  m,
		logger:   slog.Default().With("component", "postings"),
		index:    make(map[uint64]map[int64][]location),
		flushReq: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := r.loadIndex(); err != nil {
		return nil, err
	}
	go r.flushLoop()
	return r, nil
}

func (r *Repository) dataPath(collectionID uint64) string {
	return filepath.Join(r.dir, fmt.Sprintf("%d.pos", collectionID))
}

// Write appends every block of payload to the collection's data file. The
// returned offset of each block is its id. Index entries become durable
// once the next asynchronous index flush completes.
func (r *Repository) Write(ctx context.Context, collectionID uint64, payload []byte) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blocks, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	f, err := os.OpenFile(r.dataPath(collectionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening postings data file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat postings data file: %w", err)
	}
	pos := info.Size()

	offsets := make([]int64, len(blocks))
	locs := make([]location, len(blocks))
	written := 0
	for i, block := range blocks {
		// an empty block still occupies one byte so its offset stays unique
		data := block
		if len(data) == 0 {
			data = emptyFiller
		}
		n, err := f.Write(data)
		if err != nil {
			return nil, fmt.Errorf("writing block %d: %w", i, err)
		}
		if n != len(data) {
			return nil, fmt.Errorf("block %d: wrote %d of %d bytes: %w", i, n, len(data), apperrors.ErrDataMisaligned)
		}
		offsets[i] = pos
		locs[i] = location{Offset: pos, Length: int64(len(block))}
		pos += int64(n)
		written += len(block)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("syncing postings data file: %w", err)
	}

	r.mu.Lock()
	coll := r.index[collectionID]
	if coll == nil {
		coll = make(map[int64][]location)
		r.index[collectionID] = coll
	}
	for i, off := range offsets {
		coll[off] = append(coll[off], locs[i])
	}
	r.mu.Unlock()

	r.metrics.PostingBytes("write", written)
	r.requestFlush()
	return offsets, nil
}

// Read returns the concatenation of all blocks recorded under id. An
// unknown id yields an empty slice.
func (r *Repository) Read(ctx context.Context, collectionID uint64, id int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	locs := append([]location(nil), r.index[collectionID][id]...)
	r.mu.RUnlock()
	if len(locs) == 0 {
		return []byte{}, nil
	}

	f, err := os.Open(r.dataPath(collectionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("postings data file for collection %d missing: %w", collectionID, apperrors.ErrDataCorrupted)
		}
		return nil, fmt.Errorf("opening postings data file: %w", err)
	}
	defer f.Close()

	var total int64
	for _, l := range locs {
		total += l.Length
	}
	out := make([]byte, 0, total)
	for _, l := range locs {
		buf := make([]byte, l.Length)
		n, err := f.ReadAt(buf, l.Offset)
		if int64(n) != l.Length {
			if err == nil || errors.Is(err, io.EOF) {
				err = apperrors.ErrDataCorrupted
			}
			return nil, fmt.Errorf("reading %d bytes at %d: got %d: %w", l.Length, l.Offset, n, err)
		}
		out = append(out, buf...)
	}
	r.metrics.PostingBytes("read", len(out))
	return out, nil
}

func (r *Repository) requestFlush() {
	select {
	case r.flushReq <- struct{}{}:
	default:
	}
}

func (r *Repository) flushLoop() {
	defer close(r.done)
	for {
		select {
		case <-r.flushReq:
			if err := r.Flush(); err != nil {
				r.logger.Error("flushing postings index failed", "error", err)
			}
		case <-r.stop:
			return
		}
	}
}

// Flush synchronously persists the offset index.
func (r *Repository) Flush() error {
	r.mu.RLock()
	body, err := json.Marshal(r.index)
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshaling postings index: %w", err)
	}

	header := make([]byte, IndexHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], IndexMagic)
	binary.LittleEndian.PutUint32(header[4:8], IndexVersion)
	binary.LittleEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(body))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(body)))

	finalPath := filepath.Join(r.dir, IndexFileName)
	tmpPath := finalPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp index file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(header); err != nil {
		return fmt.Errorf("writing index header: %w", err)
	}
	if _, err := f.Write(body); err != nil {
		return fmt.Errorf("writing index body: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing index file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming index file: %w", err)
	}
	return nil
}

func (r *Repository) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(r.dir, IndexFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading postings index: %w", err)
	}
	if len(data) < IndexHeaderSize {
		return fmt.Errorf("postings index truncated to %d bytes: %w", len(data), apperrors.ErrDataCorrupted)
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != IndexMagic {
		return fmt.Errorf("postings index has bad magic %x: %w", magic, apperrors.ErrDataCorrupted)
	}
	size := binary.LittleEndian.Uint32(data[12:16])
	body := data[IndexHeaderSize:]
	if uint32(len(body)) != size || crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(data[8:12]) {
		return fmt.Errorf("postings index checksum mismatch: %w", apperrors.ErrDataCorrupted)
	}
	if err := json.Unmarshal(body, &r.index); err != nil {
		return fmt.Errorf("parsing postings index: %w", err)
	}
	if r.index == nil {
		r.index = make(map[uint64]map[int64][]location)
	}
	r.logger.Info("postings index loaded", "collections", len(r.index))
	return nil
}

// Close stops the background flusher and persists the index one last time.
func (r *Repository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stop)
		<-r.done
		err = r.Flush()
	})
	return err
}
