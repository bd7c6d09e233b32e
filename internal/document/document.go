// Package document models the records fed into the index: an ordered set of
// named scalar fields plus out-of-band metadata (id and score). Field names
// starting with "__" carry metadata and are never indexed.
package document

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	MetaPrefix = "__"
	IDField    = "__docid"
	ScoreField = "__score"
)

// Kind tags the variant held by a Value. The numeric values are persisted
// in the value index and must not change.
type Kind byte

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a tagged scalar.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

// Constructors for each value kind.
func String(s string) Value { return Value{kind: KindString, s: s} }

func Int(i int64) Value { return Value{kind: KindInt, i: i} }

func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind reports which accessor holds the value.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string payload and whether v holds a string.
func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

// Text is the literal form of the value, used when a field is indexed as a
// single token instead of being tokenized.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Interface returns the value as a Go string, int64, float64 or bool.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// MarshalBinary encodes the payload without the kind tag; the tag lives in
// the value index record.
func (v Value) MarshalBinary() ([]byte, error) {
	switch v.kind {
	case KindString:
		return []byte(v.s), nil
	case KindInt:
		return binary.LittleEndian.AppendUint64(nil, uint64(v.i)), nil
	case KindFloat:
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(v.f)), nil
	case KindBool:
		if v.b {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	default:
		return nil, fmt.Errorf("encoding value of kind %d: unknown kind", v.kind)
	}
}

// Decode rebuilds a Value from its payload and kind tag.
func Decode(kind Kind, data []byte) (Value, error) {
	switch kind {
	case KindString:
		return String(string(data)), nil
	case KindInt:
		if len(data) != 8 {
			return Value{}, fmt.Errorf("decoding int value: want 8 bytes, got %d", len(data))
		}
		return Int(int64(binary.LittleEndian.Uint64(data))), nil
	case KindFloat:
		if len(data) != 8 {
			return Value{}, fmt.Errorf("decoding float value: want 8 bytes, got %d", len(data))
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(data))), nil
	case KindBool:
		if len(data) != 1 {
			return Value{}, fmt.Errorf("decoding bool value: want 1 byte, got %d", len(data))
		}
		return Bool(data[0] == 1), nil
	default:
		return Value{}, fmt.Errorf("decoding value: unknown kind %d", kind)
	}
}

// Field is one key/value pair of a document.
type Field struct {
	Key   string
	Value Value
}

// IsMeta reports whether the field is metadata rather than content.
func (f Field) IsMeta() bool {
	return strings.HasPrefix(f.Key, MetaPrefix)
}

// Document is an ordered set of fields with its numeric id.
type Document struct {
	ID     uint64
	Fields []Field
	Score  float64
}

// Set replaces the value of key, appending the field when absent.
func (d *Document) Set(key string, v Value) {
	for i := range d.Fields {
		if d.Fields[i].Key == key {
			d.Fields[i].Value = v
			return
		}
	}
	d.Fields = append(d.Fields, Field{Key: key, Value: v})
}

// Get returns the first field named key.
func (d Document) Get(key string) (Value, bool) {
	for _, f := range d.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// ContentHash identifies the document's content independently of the id it
// was assigned in a particular batch. Metadata fields are excluded and field
// order does not matter.
func (d Document) ContentHash() uint64 {
	content := make([]Field, 0, len(d.Fields))
	for _, f := range d.Fields {
		if !f.IsMeta() {
			content = append(content, f)
		}
	}
	sort.Slice(content, func(i, j int) bool { return content[i].Key < content[j].Key })

	h := xxhash.New()
	for _, f := range content {
		h.WriteString(f.Key)
		h.Write([]byte{0, byte(f.Value.kind)})
		h.WriteString(f.Value.Text())
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// MarshalJSON writes fields in document order followed by __docid and
// __score.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, f := range d.Fields {
		if f.Key == IDField || f.Key == ScoreField {
			continue
		}
		if err := writeMember(&buf, f.Key, f.Value.Interface()); err != nil {
			return nil, err
		}
		buf.WriteByte(',')
	}
	if err := writeMember(&buf, IDField, d.ID); err != nil {
		return nil, err
	}
	buf.WriteByte(',')
	if err := writeMember(&buf, ScoreField, d.Score); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, key string, v any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	val, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling field %q: %w", key, err)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(val)
	return nil
}

// UnmarshalJSON reads a flat JSON object, keeping field order. Integral
// numbers become KindInt, other numbers KindFloat. __docid sets ID and
// __score sets Score; other values must be scalars.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decoding document: expected object")
	}
	doc := Document{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decoding document key: %w", err)
		}
		key := tok.(string)
		tok, err = dec.Token()
		if err != nil {
			return fmt.Errorf("decoding field %q: %w", key, err)
		}
		v, err := scalar(tok)
		if err != nil {
			return fmt.Errorf("decoding field %q: %w", key, err)
		}
		switch key {
		case IDField:
			if v.kind != KindInt || v.i < 0 {
				return fmt.Errorf("decoding field %q: must be a non-negative integer", key)
			}
			doc.ID = uint64(v.i)
		case ScoreField:
			switch v.kind {
			case KindInt:
				doc.Score = float64(v.i)
			case KindFloat:
				doc.Score = v.f
			default:
				return fmt.Errorf("decoding field %q: must be numeric", key)
			}
		default:
			doc.Set(key, v)
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decoding document end: %w", err)
	}
	*d = doc
	return nil
}

func scalar(tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case nil:
		return Value{}, fmt.Errorf("null values are not supported")
	default:
		return Value{}, fmt.Errorf("nested values are not supported")
	}
}
