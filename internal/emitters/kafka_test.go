package emitters

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"polywallet/internal/models"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

func TestKafkaEmitter_EmitEvent(t *testing.T) {
	writer := &mockWriter{}
	logger := zerolog.Nop()
	emitter := NewKafkaEmitterWithWriter(writer, &logger)

	event := models.NewTransferEvent(models.Transfer{
		ID:      "ABC",
		Network: models.NanoMainnet,
		From:    "nano_a",
		To:      "nano_b",
		Amount:  decimal.RequireFromString("0.25"),
	}, "user-1")

	require.NoError(t, emitter.EmitEvent(context.Background(), event))
	require.Len(t, writer.messages, 1)

	msg := writer.messages[0]
	assert.Equal(t, "nano-mainnet:ABC", string(msg.Key))
	assert.Equal(t, "user_id", msg.Headers[0].Key)

	var decoded models.TransferEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "ABC", decoded.Cursor)
	assert.True(t, decoded.Transfer.Amount.Equal(decimal.RequireFromString("0.25")))
}

func TestKafkaEmitter_Errors(t *testing.T) {
	writer := &mockWriter{err: errors.New("broker down")}
	logger := zerolog.Nop()
	emitter := NewKafkaEmitterWithWriter(writer, &logger)

	err := emitter.EmitEvent(context.Background(), models.TransferEvent{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	require.NoError(t, emitter.Close())
	assert.True(t, writer.closed)
	require.Error(t, emitter.EmitEvent(context.Background(), models.TransferEvent{}))
	require.NoError(t, emitter.Close())
}
