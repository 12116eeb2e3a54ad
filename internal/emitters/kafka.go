package emitters

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"polywallet/internal/config"
	"polywallet/internal/interfaces"
	"polywallet/internal/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var _ interfaces.EventEmitter = (*KafkaEmitter)(nil)

// MessageWriter is the part of kafka.Writer used by the emitter.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter publishes transfer events keyed by network and transfer id.
type KafkaEmitter struct {
	writer MessageWriter
	logger *zerolog.Logger
	mu     sync.Mutex
}

// NewKafkaEmitter creates a new KafkaEmitter
func NewKafkaEmitter(cfg config.KafkaConfig, logger *zerolog.Logger) *KafkaEmitter {
	return NewKafkaEmitterWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(cfg.BrokerAddress),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}, logger)
}

func NewKafkaEmitterWithWriter(writer MessageWriter, logger *zerolog.Logger) *KafkaEmitter {
	return &KafkaEmitter{writer: writer, logger: logger}
}

func (k *KafkaEmitter) EmitEvent(ctx context.Context, event models.TransferEvent) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer == nil {
		return errors.New("kafka emitter closed")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Transfer.Network.String() + ":" + event.Transfer.ID),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "user_id", Value: []byte(event.UserID)},
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to write message to Kafka")
	}

	k.logger.Debug().
		Str("network", event.Transfer.Network.String()).
		Str("hash", event.Transfer.ID).
		Uint64("confirmations", event.Transfer.Confirmations).
		Msg("Emitted transfer event to Kafka")
	return nil
}

func (k *KafkaEmitter) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer != nil {
		err := k.writer.Close()
		k.writer = nil
		return err
	}
	return nil
}
