// Package events publishes command settlements to Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// Event describes one settled command for one (tile, layer) pair.
type Event struct {
	Tile       string    `json:"tile"`
	Layer      string    `json:"layer"`
	Level      int       `json:"level"`
	Outcome    string    `json:"outcome"`
	ErrorCount int       `json:"error_count"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	TS         time.Time `json:"ts"`
}

// Recorder receives settlement events. Record must not block.
type Recorder interface {
	Record(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(Event) {}

type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	log     *slog.Logger
	stopped chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return NewWithProducer(prod, topic, queueSize, log), nil
}

// NewWithProducer wraps an existing producer; the Publisher owns it from now on.
func NewWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		log:     log,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Warn("events: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Layer + "/" + ev.Tile),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.log.Warn("events: producer error", "err", err)
			}
		}
	}()

	return p
}

// Record enqueues ev, dropping it when the queue is full so the traversal
// loop never waits on Kafka.
func (p *Publisher) Record(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
