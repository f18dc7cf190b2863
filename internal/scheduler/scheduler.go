// Package scheduler runs prioritized, cancellable fetch commands with bounded
// concurrency. Providers run on their own goroutines; every settlement
// callback and every drop predicate runs on the goroutine calling Poll.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/tile-streamer/internal/core/observability"
)

type Config struct {
	MaxRunning int
	// DropCheck is the minimum interval between drop checks of running commands.
	DropCheck time.Duration
}

func DefaultConfig() Config {
	return Config{MaxRunning: 16, DropCheck: 100 * time.Millisecond}
}

type completion struct {
	cmd *Command
	val any
	err error
}

type Scheduler struct {
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
	providers map[string]Provider

	queue     queue
	running   map[*Command]struct{}
	seq       uint64
	lastCheck time.Time

	mu    sync.Mutex
	done  []completion
	ready chan struct{}
}

func New(cfg Config, log *slog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxRunning <= 0 {
		cfg.MaxRunning = def.MaxRunning
	}
	if cfg.DropCheck <= 0 {
		cfg.DropCheck = def.DropCheck
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		providers: make(map[string]Provider),
		running:   make(map[*Command]struct{}),
		ready:     make(chan struct{}, 1),
	}
}

// Register binds a provider to a layer protocol.
func (s *Scheduler) Register(protocol string, p Provider) {
	s.providers[protocol] = p
}

// Execute queues cmd. settle is called exactly once, from Poll.
func (s *Scheduler) Execute(cmd *Command, settle func(Outcome)) {
	s.seq++
	cmd.seq = s.seq
	cmd.settle = settle
	heap.Push(&s.queue, cmd)
	s.signal()
}

// Ready fires when Poll has work to do.
func (s *Scheduler) Ready() <-chan struct{} { return s.ready }

// Idle reports whether nothing is queued or running.
func (s *Scheduler) Idle() bool { return len(s.queue) == 0 && len(s.running) == 0 }

// Len returns the number of queued and running commands.
func (s *Scheduler) Len() (queued, running int) { return len(s.queue), len(s.running) }

// Poll settles finished commands, drops running commands whose predicate now
// holds, and starts queued commands up to the concurrency bound. It returns
// the number of commands settled.
func (s *Scheduler) Poll() int {
	n := s.drain()

	if now := s.now(); now.Sub(s.lastCheck) >= s.cfg.DropCheck {
		s.lastCheck = now
		for cmd := range s.running {
			if cmd.shouldDrop() {
				delete(s.running, cmd)
				cmd.cancel()
				s.finish(cmd, Outcome{Status: Cancelled, Err: ErrCancelled})
				n++
			}
		}
	}

	for len(s.running) < s.cfg.MaxRunning && len(s.queue) > 0 {
		cmd := heap.Pop(&s.queue).(*Command)
		if cmd.shouldDrop() {
			s.finish(cmd, Outcome{Status: Cancelled, Err: ErrCancelled})
			n++
			continue
		}
		p, ok := s.providers[cmd.protocol()]
		if !ok {
			s.finish(cmd, Outcome{Status: Failed, Err: fmt.Errorf("no provider for protocol %q", cmd.protocol())})
			n++
			continue
		}
		s.start(cmd, p)
	}

	observability.SetScheduler(len(s.queue), len(s.running))
	return n
}

// Close cancels every running command and settles everything as cancelled.
func (s *Scheduler) Close() {
	for cmd := range s.running {
		delete(s.running, cmd)
		cmd.cancel()
		s.finish(cmd, Outcome{Status: Cancelled, Err: ErrCancelled})
	}
	for len(s.queue) > 0 {
		cmd := heap.Pop(&s.queue).(*Command)
		s.finish(cmd, Outcome{Status: Cancelled, Err: ErrCancelled})
	}
}

func (s *Scheduler) start(cmd *Command, p Provider) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd.cancel = cancel
	cmd.started = s.now()
	s.running[cmd] = struct{}{}

	go func() {
		v, err := p.Execute(ctx, cmd)
		s.mu.Lock()
		s.done = append(s.done, completion{cmd: cmd, val: v, err: err})
		s.mu.Unlock()
		s.signal()
	}()
}

func (s *Scheduler) drain() int {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()

	n := 0
	for _, c := range done {
		if _, ok := s.running[c.cmd]; !ok {
			// already settled as cancelled; the late payload is dropped
			continue
		}
		delete(s.running, c.cmd)
		c.cmd.cancel()
		switch {
		case c.err == nil:
			s.finish(c.cmd, Outcome{Status: Succeeded, Value: c.val})
		case errors.Is(c.err, ErrCancelled):
			s.finish(c.cmd, Outcome{Status: Cancelled, Err: c.err})
		default:
			s.finish(c.cmd, Outcome{Status: Failed, Err: c.err})
		}
		n++
	}
	return n
}

func (s *Scheduler) finish(cmd *Command, out Outcome) {
	dur := -1.0
	if !cmd.started.IsZero() {
		dur = s.now().Sub(cmd.started).Seconds()
	}
	observability.ObserveCommand(cmd.layerKind(), out.Status.String(), dur)
	if out.Status == Failed {
		s.log.Debug("command failed", "layer", layerID(cmd), "level", cmd.TargetLevel, "err", out.Err)
	}
	if cmd.settle != nil {
		cmd.settle(out)
	}
}

func (s *Scheduler) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func layerID(cmd *Command) string {
	if cmd.Layer == nil {
		return ""
	}
	return cmd.Layer.ID
}
