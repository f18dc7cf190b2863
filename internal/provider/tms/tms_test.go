package tms

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mohammed-shakir/tile-streamer/internal/cache/result"
	"github.com/mohammed-shakir/tile-streamer/internal/fetch"
	"github.com/mohammed-shakir/tile-streamer/internal/layer"
	"github.com/mohammed-shakir/tile-streamer/internal/raster"
	"github.com/mohammed-shakir/tile-streamer/internal/scheduler"
	"github.com/mohammed-shakir/tile-streamer/internal/tile"
)

func xbil(vals ...float32) []byte {
	b := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

type fixture struct {
	srv  *httptest.Server
	hits sync.Map // path -> *atomic.Int32
	body atomic.Pointer[[]byte]
	p    *Provider
}

func newFixture(t *testing.T, body []byte) *fixture {
	t.Helper()
	fx := &fixture{}
	fx.body.Store(&body)
	fx.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, _ := fx.hits.LoadOrStore(r.URL.Path, new(atomic.Int32))
		v.(*atomic.Int32).Add(1)
		_, _ = w.Write(*fx.body.Load())
	}))
	t.Cleanup(fx.srv.Close)

	f, err := fetch.New(fetch.Config{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("fetch.New: %v", err)
	}
	t.Cleanup(f.Close)
	c, err := result.New(result.DefaultConfig())
	if err != nil {
		t.Fatalf("result.New: %v", err)
	}
	fx.p = New(f, c, tile.Geographic(), nil)
	return fx
}

func (fx *fixture) count(path string) int32 {
	v, ok := fx.hits.Load(path)
	if !ok {
		return 0
	}
	return v.(*atomic.Int32).Load()
}

func TestURL_Template(t *testing.T) {
	p := New(nil, nil, tile.Geographic(), nil)
	got := p.URL("http://h/{z}/{x}/{y}/{-y}", tile.Coord{Z: 2, X: 5, Y: 1})
	// 4 rows at level 2 with one root row
	if got != "http://h/2/5/1/2" {
		t.Fatalf("got=%s", got)
	}
}

func TestExecute_ElevationUsesAncestorAtTarget(t *testing.T) {
	fx := newFixture(t, xbil(1, 2, 3, 4))
	l := &layer.Layer{ID: "dem", Kind: layer.Elevation, URL: fx.srv.URL + "/{z}/{x}/{y}.bil", Format: raster.FormatXBIL, NoDataValue: -99999}
	tr := tile.NewTree(tile.Geographic())
	kids := tr.Subdivide(tr.Roots()[0].ID())
	child := kids[3] // 1/1/1

	v, err := fx.p.Execute(context.Background(), &scheduler.Command{Layer: l, Requester: child, TargetLevel: 0})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	e := v.(tile.TextureSet)
	if e.Len() != 1 {
		t.Fatalf("textures=%d want 1", e.Len())
	}
	tex := e.Textures[0]
	if tex.Coord != (tile.Coord{Z: 0, X: 0, Y: 0}) {
		t.Fatalf("coord=%v want 0/0/0", tex.Coord)
	}
	want := tile.OffsetScale{X: 0.5, Y: 0.5, ScaleX: 0.5, ScaleY: 0.5}
	if e.Pitches[0] != want {
		t.Fatalf("pitch=%+v want %+v", e.Pitches[0], want)
	}
	if tex.Grid == nil || *tex.Max != 4 {
		t.Fatalf("grid not decoded: %+v", tex)
	}
}

func TestExecute_ImageryCoalescesAcrossCommands(t *testing.T) {
	fx := newFixture(t, pngBytes(t))
	l := &layer.Layer{ID: "ortho", Kind: layer.Imagery, URL: fx.srv.URL + "/{z}/{x}/{y}.png", Format: raster.FormatPNG, SubTileDepth: 1}
	tr := tile.NewTree(tile.Geographic())
	root := tr.Roots()[0]

	var wg sync.WaitGroup
	res := make([]tile.TextureSet, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := fx.p.Execute(context.Background(), &scheduler.Command{Layer: l, Requester: root, TargetLevel: 1})
			if err != nil {
				t.Errorf("Execute: %v", err)
				return
			}
			res[i] = v.(tile.TextureSet)
		}(i)
	}
	wg.Wait()

	if len(res[0].Textures) != 4 {
		t.Fatalf("textures=%d want 4", len(res[0].Textures))
	}
	for i := range res[0].Textures {
		if res[0].Textures[i] != res[1].Textures[i] {
			t.Fatalf("slot %d: commands must share the same texture", i)
		}
		if res[0].Pitches[i] != raster.Identity {
			t.Fatalf("slot %d pitch=%+v want identity", i, res[0].Pitches[i])
		}
	}
	for _, p := range []string{"/1/0/0.png", "/1/1/0.png", "/1/0/1.png", "/1/1/1.png"} {
		if n := fx.count(p); n != 1 {
			t.Fatalf("%s fetched %d times want 1", p, n)
		}
	}
}

func TestExecute_DecodeErrorFails(t *testing.T) {
	fx := newFixture(t, []byte("not a png"))
	l := &layer.Layer{ID: "ortho", Kind: layer.Imagery, URL: fx.srv.URL + "/{z}/{x}/{y}.png", Format: raster.FormatPNG}
	tr := tile.NewTree(tile.Geographic())
	if _, err := fx.p.Execute(context.Background(), &scheduler.Command{Layer: l, Requester: tr.Roots()[0], TargetLevel: 0}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestExecute_DecodeErrorRefetchesUpstream(t *testing.T) {
	fx := newFixture(t, []byte("truncated"))
	l := &layer.Layer{ID: "ortho", Kind: layer.Imagery, URL: fx.srv.URL + "/{z}/{x}/{y}.png", Format: raster.FormatPNG}
	tr := tile.NewTree(tile.Geographic())
	cmd := &scheduler.Command{Layer: l, Requester: tr.Roots()[0], TargetLevel: 0}

	if _, err := fx.p.Execute(context.Background(), cmd); err == nil {
		t.Fatalf("expected decode error")
	}
	good := pngBytes(t)
	fx.body.Store(&good)

	v, err := fx.p.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if v.(tile.TextureSet).Len() != 1 {
		t.Fatalf("textures=%d want 1", v.(tile.TextureSet).Len())
	}
	if n := fx.count("/0/0/0.png"); n != 2 {
		t.Fatalf("upstream hits=%d want 2", n)
	}
}
