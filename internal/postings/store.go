// Package postings implements the posting storage engine: an append-only
// data file per collection with an in-memory (offset -> locations) index
// that is periodically persisted as one blob. It also provides the HTTP
// service exposing the engine and a client for it.
package postings

import "context"

// Store is satisfied by the local Repository and the remote Client.
type Store interface {
	// Write appends every block of payload and returns one offset per
	// block, usable as ids for Read.
	Write(ctx context.Context, collectionID uint64, payload []byte) ([]int64, error)
	// Read returns the bytes stored under id, or an empty slice when the id
	// is unknown.
	Read(ctx context.Context, collectionID uint64, id int64) ([]byte, error)
}
