package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/tile-streamer/internal/cache/keys"
	"github.com/mohammed-shakir/tile-streamer/internal/cache/redisstore"
)

func upstream(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newFetcher(t *testing.T, l2 Store) *Fetcher {
	t.Helper()
	f, err := New(Config{L1MaxCost: 1 << 20}, nil, l2, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(f.Close)
	return f
}

func TestFetch_MemoryTierServesRepeats(t *testing.T) {
	srv, hits := upstream(t, http.StatusOK, "tile")
	f := newFetcher(t, nil)

	for range 3 {
		b, err := f.Fetch(context.Background(), srv.URL+"/1/0/0.png")
		if err != nil || string(b) != "tile" {
			t.Fatalf("got=%q err=%v", b, err)
		}
		f.Wait()
	}
	if hits.Load() != 1 {
		t.Fatalf("upstream hits=%d want 1", hits.Load())
	}
}

func TestFetch_StatusError(t *testing.T) {
	srv, _ := upstream(t, http.StatusNotFound, "nope")
	f := newFetcher(t, nil)

	_, err := f.Fetch(context.Background(), srv.URL+"/9/9/9.png")
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("err=%v want ErrStatus", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("StatusError=%+v", se)
	}
}

func TestFetch_RedisTierSharedAcrossFetchers(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	srv, hits := upstream(t, http.StatusOK, "dem")
	u := srv.URL + "/3/1/1.bil"

	if _, err := newFetcher(t, rc).Fetch(ctx, u); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if !mr.Exists(keys.Bytes(u)) {
		t.Fatalf("payload not written to redis")
	}

	// a second process with a cold memory tier
	b, err := newFetcher(t, rc).Fetch(ctx, u)
	if err != nil || string(b) != "dem" {
		t.Fatalf("got=%q err=%v", b, err)
	}
	if hits.Load() != 1 {
		t.Fatalf("upstream hits=%d want 1", hits.Load())
	}
}

func TestFetch_RedisDownFallsThrough(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	ctx := context.Background()
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	mr.Close()

	srv, _ := upstream(t, http.StatusOK, "ok")
	b, err := newFetcher(t, rc).Fetch(ctx, srv.URL+"/a.png")
	if err != nil || string(b) != "ok" {
		t.Fatalf("got=%q err=%v", b, err)
	}
}

func TestFetch_OversizeBodyRejected(t *testing.T) {
	srv, hits := upstream(t, http.StatusOK, strings.Repeat("x", 100))
	f, err := New(Config{L1MaxCost: 1 << 20, MaxBody: 10}, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(f.Close)

	for range 2 {
		b, err := f.Fetch(context.Background(), srv.URL+"/big.png")
		if !errors.Is(err, ErrTooLarge) {
			t.Fatalf("got=%d bytes err=%v want ErrTooLarge", len(b), err)
		}
		f.Wait()
	}
	// nothing was cached so both calls reach upstream
	if hits.Load() != 2 {
		t.Fatalf("upstream hits=%d want 2", hits.Load())
	}
}

func TestFetch_BodyAtLimitAccepted(t *testing.T) {
	srv, _ := upstream(t, http.StatusOK, "0123456789")
	f, err := New(Config{L1MaxCost: 1 << 20, MaxBody: 10}, nil, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(f.Close)

	b, err := f.Fetch(context.Background(), srv.URL+"/ten.png")
	if err != nil || len(b) != 10 {
		t.Fatalf("got=%q err=%v", b, err)
	}
}

func TestForget_DropsBothTiers(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	ctx := context.Background()
	rc, err := redisstore.New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	srv, hits := upstream(t, http.StatusOK, "tile")
	u := srv.URL + "/2/1/1.png"
	f := newFetcher(t, rc)

	if _, err := f.Fetch(ctx, u); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	f.Wait()
	f.Forget(ctx, u)
	f.Wait()
	if mr.Exists(keys.Bytes(u)) {
		t.Fatalf("payload still in redis after Forget")
	}
	if _, err := f.Fetch(ctx, u); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("upstream hits=%d want 2", hits.Load())
	}
}
