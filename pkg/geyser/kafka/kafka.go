// Package kafka publishes node notifications to a Kafka topic as JSON
// events, keyed so that all events for one account land on one partition.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/fortiblox/rock-destroyer/internal/types"
	"github.com/fortiblox/rock-destroyer/pkg/geyser"
	"github.com/fortiblox/rock-destroyer/pkg/svm/programs/leaderboard"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "rock-destroyer.events"

// Event types.
const (
	EventAccount     = "account"
	EventLeaderboard = "leaderboard"
	EventTransaction = "transaction"
	EventSlot        = "slot"
)

// ErrNoBrokers is returned when no broker is configured.
var ErrNoBrokers = errors.New("kafka brokers are required")

// Config configures the exporter.
type Config struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`

	// ProgramID selects which accounts are decoded as leaderboards.
	ProgramID types.Pubkey `yaml:"-"`
}

// Event is the message value.
type Event struct {
	ID          string                    `json:"id"`
	Type        string                    `json:"type"`
	Slot        uint64                    `json:"slot"`
	Timestamp   time.Time                 `json:"timestamp"`
	Account     *geyser.AccountUpdate     `json:"account,omitempty"`
	Leaderboard *leaderboard.Leaderboard  `json:"leaderboard,omitempty"`
	Transaction *geyser.TransactionUpdate `json:"transaction,omitempty"`
	SlotUpdate  *geyser.SlotUpdate        `json:"slotUpdate,omitempty"`
}

// Plugin is a geyser.Plugin producing to Kafka.
type Plugin struct {
	producer  sarama.AsyncProducer
	topic     string
	programID types.Pubkey

	wg     sync.WaitGroup
	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewSaramaConfig returns the producer settings the exporter uses.
func NewSaramaConfig(clientID string) *sarama.Config {
	config := sarama.NewConfig()
	if clientID != "" {
		config.ClientID = clientID
	}
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	return config
}

// New connects to the brokers and returns the plugin.
func New(cfg Config) (*Plugin, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, NewSaramaConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewWithProducer(producer, cfg), nil
}

// NewWithProducer wraps an existing producer, which must return both
// successes and errors.
func NewWithProducer(producer sarama.AsyncProducer, cfg Config) *Plugin {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = types.LeaderboardProgramID
	}
	p := &Plugin{
		producer:  producer,
		topic:     cfg.Topic,
		programID: cfg.ProgramID,
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		for range producer.Successes() {
			p.sent.Add(1)
		}
	}()
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.failed.Add(1)
			log.Printf("[GEYSER] Kafka producer error: %v", err)
		}
	}()
	return p
}

// Name implements geyser.Plugin.
func (p *Plugin) Name() string { return "kafka" }

// OnAccountUpdate publishes an account event, decoding leaderboards.
func (p *Plugin) OnAccountUpdate(ctx context.Context, u *geyser.AccountUpdate) error {
	ev := &Event{Type: EventAccount, Slot: u.Slot, Account: u}
	if u.Owner == p.programID && leaderboard.IsLeaderboardAccount(u.Data) {
		if lb, err := leaderboard.Decode(u.Data); err == nil {
			ev.Type = EventLeaderboard
			ev.Leaderboard = lb
		}
	}
	return p.publish(ctx, u.Pubkey.String(), ev)
}

// OnTransaction publishes a transaction event keyed by signature.
func (p *Plugin) OnTransaction(ctx context.Context, u *geyser.TransactionUpdate) error {
	return p.publish(ctx, u.Signature.String(), &Event{Type: EventTransaction, Slot: u.Slot, Transaction: u})
}

// OnSlot publishes a slot event keyed by slot number.
func (p *Plugin) OnSlot(ctx context.Context, u *geyser.SlotUpdate) error {
	return p.publish(ctx, strconv.FormatUint(u.Slot, 10), &Event{Type: EventSlot, Slot: u.Slot, SlotUpdate: u})
}

func (p *Plugin) publish(ctx context.Context, key string, ev *Event) error {
	ev.ID = uuid.New().String()
	ev.Timestamp = time.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", ev.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(ev.Type)},
		},
	}
	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the number of acknowledged and failed messages.
func (p *Plugin) Stats() (sent, failed uint64) {
	return p.sent.Load(), p.failed.Load()
}

// Close flushes pending messages and closes the producer.
func (p *Plugin) Close() error {
	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}

var _ geyser.Plugin = (*Plugin)(nil)
