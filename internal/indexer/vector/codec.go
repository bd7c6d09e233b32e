package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
)

// Tree file framing.
const (
	FileMagic      uint32 = 0x56544958 // "VTIX"
	FileVersion    uint32 = 1
	FileHeaderSize int    = 32
	FileExt               = ".ix"

	flagToken    byte = 1 << 0
	flagLeft     byte = 1 << 1
	flagRight    byte = 1 << 2
	flagPostings byte = 1 << 3
)

// FileHeader is the fixed 32-byte header of a tree file.
type FileHeader struct {
	Magic        uint32
	Version      uint32
	CollectionID uint64
	KeyID        int64
	NodeCount    uint32
	Checksum     uint32
}

// FileName returns the tree file name for (collectionID, keyID).
func FileName(collectionID uint64, keyID int64) string {
	return fmt.Sprintf("%d.%d%s", collectionID, keyID, FileExt)
}

// Encode writes the tree rooted at root in preorder. Each node is a flags
// byte, a uint16 token length, the token bytes and, when flagged, the int64
// offset of its persisted postings.
func Encode(w io.Writer, collectionID uint64, keyID int64, root *Node) error {
	var body bytes.Buffer
	count := 0
	var err error
	root.Walk(func(n *Node) bool {
		if len(n.token) > math.MaxUint16 {
			err = fmt.Errorf("token of %d bytes exceeds limit: %w", len(n.token), apperrors.ErrInvalidInput)
			return false
		}
		var flags byte
		if n.token != "" {
			flags |= flagToken
		}
		if n.left != nil {
			flags |= flagLeft
		}
		if n.right != nil {
			flags |= flagRight
		}
		if n.offset != NoOffset {
			flags |= flagPostings
		}
		body.WriteByte(flags)
		body.Write(binary.LittleEndian.AppendUint16(nil, uint16(len(n.token))))
		body.WriteString(n.token)
		if flags&flagPostings != 0 {
			body.Write(binary.LittleEndian.AppendUint64(nil, uint64(n.offset)))
		}
		count++
		return true
	})
	if err != nil {
		return err
	}

	header := make([]byte, FileHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], FileMagic)
	binary.LittleEndian.PutUint32(header[4:8], FileVersion)
	binary.LittleEndian.PutUint64(header[8:16], collectionID)
	binary.LittleEndian.PutUint64(header[16:24], uint64(keyID))
	binary.LittleEndian.PutUint32(header[24:28], uint32(count))
	binary.LittleEndian.PutUint32(header[28:32], crc32.ChecksumIEEE(body.Bytes()))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing tree header: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("writing tree body: %w", err)
	}
	return nil
}

// Decode reads a tree written by Encode. Postings are not part of the file;
// decoded nodes carry only their postings offset until hydrated.
func Decode(r io.Reader) (FileHeader, *Node, error) {
	var h FileHeader
	raw := make([]byte, FileHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return h, nil, fmt.Errorf("reading tree header: %w", err)
	}
	h = FileHeader{
		Magic:        binary.LittleEndian.Uint32(raw[0:4]),
		Version:      binary.LittleEndian.Uint32(raw[4:8]),
		CollectionID: binary.LittleEndian.Uint64(raw[8:16]),
		KeyID:        int64(binary.LittleEndian.Uint64(raw[16:24])),
		NodeCount:    binary.LittleEndian.Uint32(raw[24:28]),
		Checksum:     binary.LittleEndian.Uint32(raw[28:32]),
	}
	if h.Magic != FileMagic {
		return h, nil, fmt.Errorf("invalid tree file: bad magic bytes %x: %w", h.Magic, apperrors.ErrDataCorrupted)
	}
	if h.Version != FileVersion {
		return h, nil, fmt.Errorf("unsupported tree file version %d: %w", h.Version, apperrors.ErrDataCorrupted)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return h, nil, fmt.Errorf("reading tree body: %w", err)
	}
	if crc32.ChecksumIEEE(body) != h.Checksum {
		return h, nil, fmt.Errorf("tree file checksum mismatch: %w", apperrors.ErrDataCorrupted)
	}

	d := &decoder{buf: body}
	root, err := d.node()
	if err != nil {
		return h, nil, err
	}
	if d.count != int(h.NodeCount) || d.pos != len(body) {
		return h, nil, fmt.Errorf("tree file declares %d nodes, decoded %d: %w", h.NodeCount, d.count, apperrors.ErrDataMisaligned)
	}
	return h, root, nil
}

type decoder struct {
	buf   []byte
	pos   int
	count int
}

func (d *decoder) take(n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, fmt.Errorf("tree body truncated at byte %d: %w", d.pos, apperrors.ErrDataCorrupted)
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) node() (*Node, error) {
	head, err := d.take(3)
	if err != nil {
		return nil, err
	}
	flags := head[0]
	tok, err := d.take(int(binary.LittleEndian.Uint16(head[1:3])))
	if err != nil {
		return nil, err
	}
	n := &Node{offset: NoOffset, postings: map[uint64]uint32{}}
	if flags&flagToken != 0 {
		n.token = string(tok)
		n.vector = FromToken(n.token)
	}
	if flags&flagPostings != 0 {
		off, err := d.take(8)
		if err != nil {
			return nil, err
		}
		n.offset = int64(binary.LittleEndian.Uint64(off))
	}
	d.count++
	if flags&flagLeft != 0 {
		if n.left, err = d.node(); err != nil {
			return nil, err
		}
	}
	if flags&flagRight != 0 {
		if n.right, err = d.node(); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// WriteFile atomically writes the tree to dir via a temporary file.
func WriteFile(dir string, collectionID uint64, keyID int64, root *Node) (string, error) {
	p, err := StageFile(dir, collectionID, keyID, root)
	if err != nil {
		return "", err
	}
	if err := p.Commit(); err != nil {
		p.Discard()
		return "", err
	}
	return p.Path, nil
}

// PendingFile is a tree file written under a temporary name. Loaders do
// not see it until Commit renames it into place.
type PendingFile struct {
	Path    string
	tmpPath string
}

// StageFile encodes and syncs the tree to a temporary file next to its
// final path. Nothing is left behind on error.
func StageFile(dir string, collectionID uint64, keyID int64, root *Node) (PendingFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return PendingFile{}, fmt.Errorf("creating tree directory: %w", err)
	}
	p := PendingFile{Path: filepath.Join(dir, FileName(collectionID, keyID))}
	p.tmpPath = p.Path + ".tmp"
	f, err := os.Create(p.tmpPath)
	if err != nil {
		return PendingFile{}, fmt.Errorf("creating temp tree file: %w", err)
	}
	if err := writeTree(f, collectionID, keyID, root); err != nil {
		f.Close()
		os.Remove(p.tmpPath)
		return PendingFile{}, err
	}
	if err := f.Close(); err != nil {
		os.Remove(p.tmpPath)
		return PendingFile{}, fmt.Errorf("closing temp tree file: %w", err)
	}
	return p, nil
}

func writeTree(f *os.File, collectionID uint64, keyID int64, root *Node) error {
	bw := bufio.NewWriter(f)
	if err := Encode(bw, collectionID, keyID, root); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing tree file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing tree file: %w", err)
	}
	return nil
}

// Commit renames the staged file into place.
func (p PendingFile) Commit() error {
	if err := os.Rename(p.tmpPath, p.Path); err != nil {
		return fmt.Errorf("renaming tree file: %w", err)
	}
	return nil
}

// Discard removes the staged file. It is a no-op after Commit.
func (p PendingFile) Discard() {
	os.Remove(p.tmpPath)
}

// ReadFile decodes the tree file at path.
func ReadFile(path string) (FileHeader, *Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileHeader{}, nil, fmt.Errorf("opening tree file: %w", err)
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}
