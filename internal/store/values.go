package store

import (
	"encoding/binary"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
)

// IndexRecordSize is the width of a value or key index record: int64
// offset, int32 length, one kind byte.
const IndexRecordSize = 13

// IndexRecord locates one value in a value stream.
type IndexRecord struct {
	Offset int64
	Length int32
	Kind   document.Kind
}

func (r IndexRecord) encode() []byte {
	buf := make([]byte, IndexRecordSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.Offset))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.Length))
	buf[12] = byte(r.Kind)
	return buf
}

func decodeIndexRecord(buf []byte) IndexRecord {
	return IndexRecord{
		Offset: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Length: int32(binary.LittleEndian.Uint32(buf[8:12])),
		Kind:   document.Kind(buf[12]),
	}
}

// ValueWriter appends encoded values to a value stream.
type ValueWriter struct {
	s *stream
}

// Write appends v and returns where it was stored.
func (w *ValueWriter) Write(v document.Value) (IndexRecord, error) {
	data, err := v.MarshalBinary()
	if err != nil {
		return IndexRecord{}, err
	}
	off, err := w.s.append(data)
	if err != nil {
		return IndexRecord{}, err
	}
	return IndexRecord{Offset: off, Length: int32(len(data)), Kind: v.Kind()}, nil
}

// ValueReader reads values back from a value stream.
type ValueReader struct {
	s *stream
}

// Read decodes the value of kind stored at offset.
func (r *ValueReader) Read(offset int64, length int32, kind document.Kind) (document.Value, error) {
	if length < 0 {
		return document.Value{}, fmt.Errorf("negative value length %d", length)
	}
	data, err := r.s.read(offset, int(length))
	if err != nil {
		return document.Value{}, err
	}
	return document.Decode(kind, data)
}

// valueStore pairs a value stream with its index so values can be addressed
// by position.
type valueStore struct {
	ValueWriter
	reader ValueReader
	index  *records
}

func openValueStore(dataPath, indexPath string) (*valueStore, error) {
	s, err := openStream(dataPath)
	if err != nil {
		return nil, err
	}
	idx, err := openRecords(indexPath, IndexRecordSize)
	if err != nil {
		s.close()
		return nil, err
	}
	return &valueStore{ValueWriter: ValueWriter{s: s}, reader: ValueReader{s: s}, index: idx}, nil
}

// put stores v and returns its position in the index.
func (vs *valueStore) put(v document.Value) (int64, error) {
	rec, err := vs.Write(v)
	if err != nil {
		return 0, err
	}
	return vs.index.add(rec.encode())
}

// at returns the value stored at position pos.
func (vs *valueStore) at(pos int64) (document.Value, bool, error) {
	raw, ok, err := vs.index.get(pos)
	if err != nil || !ok {
		return document.Value{}, false, err
	}
	rec := decodeIndexRecord(raw)
	v, err := vs.reader.Read(rec.Offset, rec.Length, rec.Kind)
	if err != nil {
		return document.Value{}, false, fmt.Errorf("reading value %d: %w", pos, err)
	}
	return v, true, nil
}

func (vs *valueStore) flush() error {
	if err := vs.s.flush(); err != nil {
		return err
	}
	return vs.index.flush()
}

func (vs *valueStore) refresh() error {
	if err := vs.s.refresh(); err != nil {
		return err
	}
	return vs.index.refresh()
}

func (vs *valueStore) close() error {
	err := vs.s.close()
	if ierr := vs.index.close(); err == nil {
		err = ierr
	}
	return err
}
