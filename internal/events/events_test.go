package events

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestPublisher_PublishesJSON(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Errors = true
	prod := mocks.NewAsyncProducer(t, cfg)

	prod.ExpectInputWithCheckerFunctionAndSucceed(func(b []byte) error {
		var ev Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return err
		}
		if ev.Tile != "3/4/2" || ev.Layer != "dem" || ev.Outcome != "failed" || ev.ErrorCount != 2 {
			return fmt.Errorf("unexpected event %+v", ev)
		}
		return nil
	})

	p := NewWithProducer(prod, "tile-settlements", 4, nil)
	p.Record(Event{Tile: "3/4/2", Layer: "dem", Level: 3, Outcome: "failed", ErrorCount: 2, TS: time.Now()})

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublisher_ProducerErrorsDoNotBlock(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Errors = true
	prod := mocks.NewAsyncProducer(t, cfg)
	prod.ExpectInputAndFail(sarama.ErrOutOfBrokers)
	prod.ExpectInputAndSucceed()

	p := NewWithProducer(prod, "t", 4, nil)
	p.Record(Event{Tile: "0/0/0", Layer: "a"})
	p.Record(Event{Tile: "0/1/0", Layer: "a"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.Record(Event{})
}
