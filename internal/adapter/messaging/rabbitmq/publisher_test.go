package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/srgjo27/escrow_ledger/internal/core/domain"
	"github.com/srgjo27/escrow_ledger/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	closed   bool
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestPublishJSON_Envelope(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{ch: ch, exchange: "escrow.events"}

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	event := domain.NewDomainEvent(domain.EventPaymentEscrowed, at, map[string]any{"booking_id": "b-1"})

	require.NoError(t, p.PublishJSON(context.Background(), domain.EventPaymentEscrowed, event))

	assert.Equal(t, "escrow.events", ch.exchange)
	assert.Equal(t, "payment.escrowed", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.NotEmpty(t, ch.msg.MessageId)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(ch.msg.Body, &decoded))
	assert.Equal(t, "payment.escrowed", decoded["event"])
	assert.Equal(t, float64(1), decoded["version"])
	assert.Equal(t, "2026-05-01T12:00:00Z", decoded["occurred_at"])
	assert.Equal(t, "b-1", decoded["data"].(map[string]any)["booking_id"])
}

func TestPublishJSON_ChannelError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel closed")}
	p := &Publisher{ch: ch, exchange: "escrow.events"}

	err := p.PublishJSON(context.Background(), "booking.created", map[string]any{})
	assert.EqualError(t, err, "channel closed")
}

func TestClose(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{ch: ch}

	assert.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(logger.Discard())
	assert.NoError(t, p.PublishJSON(context.Background(), "booking.created", nil))
}
