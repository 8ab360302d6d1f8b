package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/linesearch/pkg/config"
)

type sample struct {
	Query string `json:"query"`
	Hits  int    `json:"hits"`
}

func TestEncode(t *testing.T) {
	msgs, err := encode([]Event{
		{Key: "search", Value: sample{Query: "hello", Hits: 2}},
		{Key: "fetch", Value: map[string]int{"line": 3}},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "search", string(msgs[0].Key))
	assert.JSONEq(t, `{"query":"hello","hits":2}`, string(msgs[0].Value))
	assert.JSONEq(t, `{"line":3}`, string(msgs[1].Value))
}

func TestEncodeRejectsUnmarshalable(t *testing.T) {
	_, err := encode([]Event{{Key: "bad", Value: make(chan int)}})
	assert.Error(t, err)
}

func TestDecodeJSON(t *testing.T) {
	got, err := DecodeJSON[sample]([]byte(`{"query":"q","hits":5}`))
	require.NoError(t, err)
	assert.Equal(t, sample{Query: "q", Hits: 5}, got)

	_, err = DecodeJSON[sample]([]byte(`not json`))
	assert.Error(t, err)
}

func TestPublishEmptyBatchIsNoop(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}}, "unused")
	defer p.Close()
	assert.NoError(t, p.PublishBatch(context.Background(), nil))
}
