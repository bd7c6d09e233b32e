package postings

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ContentType is the media type of payloads and offset lists exchanged with
// the postings service.
const ContentType = "application/postings"

// ErrMalformedPayload is returned when a payload's declared block count or
// lengths do not match its contents.
var ErrMalformedPayload = errors.New("malformed postings payload")

// EncodePayload lays blocks out as int32 count, count*int32 length, then
// the concatenated blocks, all little-endian.
func EncodePayload(blocks [][]byte) []byte {
	size := 4 + 4*len(blocks)
	for _, b := range blocks {
		size += len(b)
	}
	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(blocks)))
	for _, b := range blocks {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	}
	for _, b := range blocks {
		buf = append(buf, b...)
	}
	return buf
}

// DecodePayload splits a payload into its blocks. The returned slices alias
// buf.
func DecodePayload(buf []byte) ([][]byte, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("reading block count from %d bytes: %w", len(buf), ErrMalformedPayload)
	}
	count := int32(binary.LittleEndian.Uint32(buf))
	if count < 0 {
		return nil, fmt.Errorf("negative block count %d: %w", count, ErrMalformedPayload)
	}
	read := 4
	if int64(len(buf)-read) < int64(count)*4 {
		return nil, fmt.Errorf("payload declares %d blocks but has no room for their lengths: %w", count, ErrMalformedPayload)
	}
	lengths := make([]int, count)
	total := 0
	for i := range lengths {
		n := int32(binary.LittleEndian.Uint32(buf[read:]))
		if n < 0 {
			return nil, fmt.Errorf("block %d has negative length %d: %w", i, n, ErrMalformedPayload)
		}
		lengths[i] = int(n)
		total += int(n)
		read += 4
	}
	if len(buf)-read != total {
		return nil, fmt.Errorf("payload declares %d block bytes, carries %d: %w", total, len(buf)-read, ErrMalformedPayload)
	}
	blocks := make([][]byte, count)
	for i, n := range lengths {
		blocks[i] = buf[read : read+n : read+n]
		read += n
	}
	return blocks, nil
}

// EncodeOffsets writes each offset as a little-endian int64.
func EncodeOffsets(offsets []int64) []byte {
	buf := make([]byte, 0, 8*len(offsets))
	for _, off := range offsets {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(off))
	}
	return buf
}

// DecodeOffsets reverses EncodeOffsets.
func DecodeOffsets(buf []byte) ([]int64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("offset list of %d bytes is not a multiple of 8: %w", len(buf), ErrMalformedPayload)
	}
	offsets := make([]int64, len(buf)/8)
	for i := range offsets {
		offsets[i] = int64(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return offsets, nil
}

const listRecordSize = 12

// EncodeList serialises a posting list as (uint64 docID, uint32 count)
// records sorted by document id.
func EncodeList(postings map[uint64]uint32) []byte {
	ids := make([]uint64, 0, len(postings))
	for id := range postings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	buf := make([]byte, 0, listRecordSize*len(ids))
	for _, id := range ids {
		buf = binary.LittleEndian.AppendUint64(buf, id)
		buf = binary.LittleEndian.AppendUint32(buf, postings[id])
	}
	return buf
}

// DecodeList reverses EncodeList.
func DecodeList(buf []byte) (map[uint64]uint32, error) {
	if len(buf)%listRecordSize != 0 {
		return nil, fmt.Errorf("posting list of %d bytes is not a multiple of %d: %w", len(buf), listRecordSize, ErrMalformedPayload)
	}
	postings := make(map[uint64]uint32, len(buf)/listRecordSize)
	for read := 0; read < len(buf); read += listRecordSize {
		id := binary.LittleEndian.Uint64(buf[read:])
		postings[id] += binary.LittleEndian.Uint32(buf[read+8:])
	}
	return postings, nil
}
