// Package store holds the fixed-record streams behind a collection: field
// values, field keys and documents, each an append-only data file with a
// fixed-width index.
package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
)

// CollectionID derives the numeric id used for a collection name.
func CollectionID(name string) uint64 {
	return xxhash.Sum64String(name)
}

// Collection is the on-disk document store of one collection.
type Collection struct {
	id     uint64
	values *valueStore
	keys   *KeyMap
	docs   *stream
	dix    *records

	mu     sync.Mutex
	nextID uint64
}

func openCollection(dir string, id uint64) (*Collection, error) {
	path := func(ext string) string { return filepath.Join(dir, fmt.Sprintf("%d.%s", id, ext)) }
	c := &Collection{id: id}
	var err error
	if c.values, err = openValueStore(path("val"), path("vix")); err != nil {
		return nil, err
	}
	if c.keys, err = openKeyMap(path("key"), path("kix")); err != nil {
		c.Close()
		return nil, err
	}
	if c.docs, err = openStream(path("docs")); err != nil {
		c.Close()
		return nil, err
	}
	if c.dix, err = openRecords(path("dix"), DocRecordSize); err != nil {
		c.Close()
		return nil, err
	}
	c.nextID = uint64(c.dix.count()) + 1
	return c, nil
}

// ID returns the collection id.
func (c *Collection) ID() uint64 { return c.id }

// Keys returns the collection's key registry.
func (c *Collection) Keys() *KeyMap { return c.keys }

// WriteDocument stores doc under its id, assigning the next free id when
// doc.ID is zero, and returns the id used. An explicit id that already
// holds a document, from any batch, is rejected with ErrInvalidInput:
// published postings keep pointing at it.
func (c *Collection) WriteDocument(doc document.Document, version int64) (uint64, error) {
	if version <= 0 {
		return 0, fmt.Errorf("batch version %d must be positive: %w", version, apperrors.ErrInvalidInput)
	}
	if doc.ID != 0 {
		if err := c.checkUnused(doc.ID); err != nil {
			return 0, err
		}
	}
	refs := make([]fieldRef, 0, len(doc.Fields))
	for _, f := range doc.Fields {
		keyID, err := c.keys.Ensure(f.Key)
		if err != nil {
			return 0, err
		}
		pos, err := c.values.put(f.Value)
		if err != nil {
			return 0, fmt.Errorf("writing value of %q: %w", f.Key, err)
		}
		refs = append(refs, fieldRef{KeyID: keyID, ValuePos: pos})
	}
	data := encodeFieldRefs(refs)
	off, err := c.docs.append(data)
	if err != nil {
		return 0, fmt.Errorf("writing document record: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id := doc.ID
	if id == 0 {
		id = c.nextID
	} else if err := c.checkUnused(id); err != nil {
		return 0, err
	}
	rec := DocRecord{Offset: off, Length: int32(len(data)), Version: version, Hash: doc.ContentHash()}
	if err := c.dix.put(int64(id-1), rec.encode()); err != nil {
		return 0, err
	}
	c.nextID = max(c.nextID, id+1)
	return id, nil
}

func (c *Collection) checkUnused(docID uint64) error {
	rec, ok, err := c.DocRecord(docID)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("document %d already stored by batch %d: %w", docID, rec.Version, apperrors.ErrInvalidInput)
	}
	return nil
}

// DocRecord returns the index entry for docID, or false when no document
// was stored under it.
func (c *Collection) DocRecord(docID uint64) (DocRecord, bool, error) {
	if docID == 0 {
		return DocRecord{}, false, nil
	}
	raw, ok, err := c.dix.get(int64(docID - 1))
	if err != nil || !ok {
		return DocRecord{}, false, err
	}
	rec := decodeDocRecord(raw)
	if rec.Version == 0 {
		return DocRecord{}, false, nil
	}
	return rec, true, nil
}

// ReadDocument rebuilds the stored document with the given id.
func (c *Collection) ReadDocument(docID uint64) (document.Document, bool, error) {
	rec, ok, err := c.DocRecord(docID)
	if err != nil || !ok {
		return document.Document{}, false, err
	}
	data, err := c.docs.read(rec.Offset, int(rec.Length))
	if err != nil {
		return document.Document{}, false, fmt.Errorf("reading document %d: %w", docID, err)
	}
	refs, err := decodeFieldRefs(data)
	if err != nil {
		return document.Document{}, false, fmt.Errorf("reading document %d: %w", docID, err)
	}
	doc := document.Document{ID: docID, Fields: make([]document.Field, 0, len(refs))}
	for _, r := range refs {
		key, ok := c.keys.Key(r.KeyID)
		if !ok {
			if err := c.keys.refresh(); err != nil {
				return document.Document{}, false, err
			}
			if key, ok = c.keys.Key(r.KeyID); !ok {
				return document.Document{}, false, fmt.Errorf("document %d references unknown key %d: %w", docID, r.KeyID, apperrors.ErrDataCorrupted)
			}
		}
		v, ok, err := c.values.at(r.ValuePos)
		if err != nil {
			return document.Document{}, false, err
		}
		if !ok {
			return document.Document{}, false, fmt.Errorf("document %d references missing value %d: %w", docID, r.ValuePos, apperrors.ErrDataCorrupted)
		}
		doc.Fields = append(doc.Fields, document.Field{Key: key, Value: v})
	}
	return doc, true, nil
}

// Flush forces every stream of the collection to stable storage.
func (c *Collection) Flush() error {
	if err := c.values.flush(); err != nil {
		return err
	}
	if err := c.keys.values.flush(); err != nil {
		return err
	}
	if err := c.docs.flush(); err != nil {
		return err
	}
	return c.dix.flush()
}

// Close releases the collection's files.
func (c *Collection) Close() error {
	var first error
	keep := func(err error) {
		if first == nil {
			first = err
		}
	}
	if c.values != nil {
		keep(c.values.close())
	}
	if c.keys != nil {
		keep(c.keys.close())
	}
	if c.docs != nil {
		keep(c.docs.close())
	}
	if c.dix != nil {
		keep(c.dix.close())
	}
	return first
}
