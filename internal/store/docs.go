package store

import (
	"encoding/binary"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
)

// DocRecordSize is the width of a document index record: int64 offset,
// int32 length, int64 batch version, uint64 content hash.
const DocRecordSize = 28

// fieldRefSize is one (key id, value position) pair in a document stream.
const fieldRefSize = 16

// DocRecord is the document index entry for one document id. A zero
// Version marks an unused slot.
type DocRecord struct {
	Offset  int64
	Length  int32
	Version int64
	Hash    uint64
}

func (r DocRecord) encode() []byte {
	buf := make([]byte, DocRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Offset))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.Length))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(r.Version))
	binary.LittleEndian.PutUint64(buf[20:28], r.Hash)
	return buf
}

func decodeDocRecord(buf []byte) DocRecord {
	return DocRecord{
		Offset:  int64(binary.LittleEndian.Uint64(buf[0:8])),
		Length:  int32(binary.LittleEndian.Uint32(buf[8:12])),
		Version: int64(binary.LittleEndian.Uint64(buf[12:20])),
		Hash:    binary.LittleEndian.Uint64(buf[20:28]),
	}
}

type fieldRef struct {
	KeyID    int64
	ValuePos int64
}

func encodeFieldRefs(refs []fieldRef) []byte {
	buf := make([]byte, 0, fieldRefSize*len(refs))
	for _, r := range refs {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(r.KeyID))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(r.ValuePos))
	}
	return buf
}

func decodeFieldRefs(buf []byte) ([]fieldRef, error) {
	if len(buf)%fieldRefSize != 0 {
		return nil, fmt.Errorf("document record of %d bytes: %w", len(buf), apperrors.ErrDataMisaligned)
	}
	refs := make([]fieldRef, len(buf)/fieldRefSize)
	for i := range refs {
		refs[i] = fieldRef{
			KeyID:    int64(binary.LittleEndian.Uint64(buf[i*fieldRefSize:])),
			ValuePos: int64(binary.LittleEndian.Uint64(buf[i*fieldRefSize+8:])),
		}
	}
	return refs, nil
}
