package queue

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

func TestValidateEnvelope(t *testing.T) {
	assert.NoError(t, ValidateEnvelope([]byte(`{"type":"order","order_id":"o-1","created_at":"2026-10-17T00:00:00Z"}`)))
	assert.Error(t, ValidateEnvelope([]byte(`not json`)))
	assert.Error(t, ValidateEnvelope([]byte(`[{"type":"order"}]`)))
	assert.Error(t, ValidateEnvelope([]byte(`{"type":"refund","created_at":"2026-10-17T00:00:00Z"}`)))
	assert.Error(t, ValidateEnvelope([]byte(`{"type":"order"}`)))
}

func TestConsumerSkipsInvalidAndFailedMessages(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{
		{Key: []byte("o-1"), Value: []byte(`{"type":"order","created_at":"2026-10-17T00:00:00Z"}`)},
		{Key: []byte("bad"), Value: []byte(`{"oops":true}`)},
		{Key: []byte("o-2"), Value: []byte(`{"type":"order","created_at":"2026-10-17T00:00:00Z"}`)},
		{Key: []byte("o-3"), Value: []byte(`{"type":"register","created_at":"2026-10-17T00:00:00Z"}`)},
	}}
	var handled []string
	c := newConsumer(r, func(_ context.Context, key, _ []byte) error {
		handled = append(handled, string(key))
		if string(key) == "o-2" {
			return errors.New("mirror down")
		}
		return nil
	}, nil)

	c.Run(context.Background())
	require.NoError(t, c.Close())

	assert.Equal(t, []string{"o-1", "o-2", "o-3"}, handled)
	assert.True(t, r.closed)
}
