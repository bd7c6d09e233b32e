package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Collection string `json:"collection"`
	Version    int64  `json:"version"`
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[sample]([]byte(`{"collection":"news","version":3}`))
	require.NoError(t, err)
	assert.Equal(t, sample{Collection: "news", Version: 3}, got)

	_, err = DecodeJSON[sample]([]byte(`{`))
	assert.Error(t, err)
}

func TestEncodeRoundTripsThroughMessage(t *testing.T) {
	record, err := Encode(Event{
		Key:     "news",
		JobID:   "job-7",
		Value:   sample{Collection: "news", Version: 2},
		Headers: map[string]string{"source": "treectl"},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("news"), record.Key)
	require.Len(t, record.Headers, 3)

	record.Topic = "index.complete"
	record.Offset = 41
	msg := fromRecord(record)
	assert.Equal(t, "news", msg.Key)
	assert.Equal(t, int64(41), msg.Offset)
	assert.Equal(t, "job-7", msg.Headers[HeaderJobID])
	assert.Equal(t, "application/json", msg.Headers[HeaderContentType])
	assert.Equal(t, "treectl", msg.Headers["source"])

	got, err := DecodeJSON[sample](msg.Value)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestEncodeOmitsEmptyJobID(t *testing.T) {
	record, err := Encode(Event{Key: "k", Value: 1})
	require.NoError(t, err)
	assert.Equal(t, []kafka.Header{{Key: HeaderContentType, Value: []byte("application/json")}}, record.Headers)
}

func TestEncodeRejectsUnmarshalableValue(t *testing.T) {
	_, err := Encode(Event{Key: "k", Value: make(chan int)})
	assert.Error(t, err)
}
