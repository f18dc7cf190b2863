// Package fetch retrieves raw tile payloads through a memory tier, an optional
// shared redis tier and finally the upstream server.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/mohammed-shakir/tile-streamer/internal/cache/keys"
	"github.com/mohammed-shakir/tile-streamer/internal/core/observability"
)

// ErrStatus matches every *StatusError.
var ErrStatus = errors.New("unexpected upstream status")

// ErrTooLarge is returned for bodies over Config.MaxBody.
var ErrTooLarge = errors.New("upstream body too large")

type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// Store is the shared payload tier. *redisstore.Client implements it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type Config struct {
	L1MaxCost int64 // bytes
	L2TTL     time.Duration
	MaxBody   int64
}

func DefaultConfig() Config {
	return Config{L1MaxCost: 64 << 20, L2TTL: time.Hour, MaxBody: 32 << 20}
}

type Fetcher struct {
	cfg    Config
	client *http.Client
	l1     *ristretto.Cache[string, []byte]
	l2     Store
	log    *slog.Logger
}

// New builds a Fetcher. l2 may be nil.
func New(cfg Config, client *http.Client, l2 Store, log *slog.Logger) (*Fetcher, error) {
	def := DefaultConfig()
	if cfg.L1MaxCost <= 0 {
		cfg.L1MaxCost = def.L1MaxCost
	}
	if cfg.L2TTL <= 0 {
		cfg.L2TTL = def.L2TTL
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = def.MaxBody
	}
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	l1, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		// ~10x the number of 64KiB payloads that fit
		NumCounters: max(1000, cfg.L1MaxCost/(64<<10)*10),
		MaxCost:     cfg.L1MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &Fetcher{cfg: cfg, client: client, l1: l1, l2: l2, log: log}, nil
}

// Fetch returns the payload at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	key := keys.Bytes(rawURL)

	if b, ok := f.l1.Get(key); ok {
		observability.IncBytesCache("l1", "hit")
		return b, nil
	}
	observability.IncBytesCache("l1", "miss")

	if f.l2 != nil {
		b, ok, err := f.l2.Get(ctx, key)
		switch {
		case err != nil:
			// the shared tier is an optimization; fall through to upstream
			f.log.Debug("l2 get failed", "key", key, "err", err)
			observability.IncBytesCache("l2", "error")
		case ok:
			observability.IncBytesCache("l2", "hit")
			f.l1.Set(key, b, int64(len(b)))
			return b, nil
		default:
			observability.IncBytesCache("l2", "miss")
		}
	}

	b, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	f.l1.Set(key, b, int64(len(b)))
	if f.l2 != nil {
		if err := f.l2.Set(ctx, key, b, f.cfg.L2TTL); err != nil {
			f.log.Debug("l2 set failed", "key", key, "err", err)
		}
	}
	return b, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	start := time.Now()
	resp, err := f.client.Do(req)
	observability.ObserveUpstreamLatency(host(rawURL), time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if int64(len(b)) > f.cfg.MaxBody {
		return nil, fmt.Errorf("GET %s: %w (limit %d)", rawURL, ErrTooLarge, f.cfg.MaxBody)
	}
	return b, nil
}

// Forget drops rawURL from both tiers so the next Fetch goes upstream.
// Callers use it when a cached payload turns out to be unusable.
func (f *Fetcher) Forget(ctx context.Context, rawURL string) {
	key := keys.Bytes(rawURL)
	f.l1.Del(key)
	if f.l2 != nil {
		if err := f.l2.Del(ctx, key); err != nil {
			f.log.Debug("l2 del failed", "key", key, "err", err)
		}
	}
}

// Wait blocks until buffered memory-tier writes are visible.
func (f *Fetcher) Wait() { f.l1.Wait() }

func (f *Fetcher) Close() { f.l1.Close() }

func host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
