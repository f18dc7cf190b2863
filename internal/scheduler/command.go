package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/mohammed-shakir/tile-streamer/internal/layer"
	"github.com/mohammed-shakir/tile-streamer/internal/tile"
)

// ErrCancelled is the error carried by a Cancelled outcome.
var ErrCancelled = errors.New("command cancelled")

type Status int

const (
	Succeeded Status = iota
	Cancelled
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Cancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Outcome is the settlement of a command. Continuations inspect Status rather
// than matching errors.
type Outcome struct {
	Status Status
	Value  any
	Err    error
}

// Command asks for one layer's texture(s) for one tile at TargetLevel.
type Command struct {
	Layer       *layer.Layer
	Requester   *tile.Tile
	TargetLevel int
	Priority    float64
	// Force keeps the command alive when its tile stops being displayed.
	Force bool
	// EarlyDrop is evaluated on the polling goroutine before the command
	// starts and periodically while it runs.
	EarlyDrop func(*Command) bool

	seq     uint64
	index   int
	settle  func(Outcome)
	cancel  context.CancelFunc
	started time.Time
}

func (c *Command) layerKind() string {
	if c.Layer == nil {
		return "unknown"
	}
	return c.Layer.Kind.String()
}

func (c *Command) protocol() string {
	if c.Layer == nil {
		return ""
	}
	return c.Layer.Protocol
}

func (c *Command) shouldDrop() bool {
	return c.EarlyDrop != nil && c.EarlyDrop(c)
}

// Provider performs the work of a command. It runs on its own goroutine and
// must not touch tile state; ctx is cancelled when the command is dropped.
type Provider interface {
	Execute(ctx context.Context, cmd *Command) (any, error)
}

type ProviderFunc func(ctx context.Context, cmd *Command) (any, error)

func (f ProviderFunc) Execute(ctx context.Context, cmd *Command) (any, error) { return f(ctx, cmd) }

// queue orders by priority (higher first) then submission order.
type queue []*Command

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].seq < q[j].seq
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	c := x.(*Command)
	c.index = len(*q)
	*q = append(*q, c)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	c.index = -1
	*q = old[:n-1]
	return c
}
