package keys

import (
	"regexp"
	"testing"
)

func TestResource_Determinism(t *testing.T) {
	k1 := Resource("http://Tiles.Example.com/3/2/1.png?b=2&a=1", Options{"format": "png", "nodata": "-99999"})
	k2 := Resource(" http://tiles.example.com/3/2/1.png?a=1&b=2 ", Options{"nodata": "-99999", "format": "png"})
	if k1 != k2 {
		t.Fatalf("normalized keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestResource_OptionsMatter(t *testing.T) {
	u := "http://tiles.example.com/3/2/1.bil"
	if Resource(u, Options{"nodata": "-9999"}) == Resource(u, Options{"nodata": "0"}) {
		t.Fatalf("different options must produce different keys")
	}
	if Resource(u, nil) != Resource(u, Options{}) {
		t.Fatalf("nil and empty options must be equal")
	}
	if Resource(u, nil) == Resource("http://tiles.example.com/3/2/2.bil", nil) {
		t.Fatalf("different urls must produce different keys")
	}
}

func TestBytes_Shape(t *testing.T) {
	k := Bytes("https://dem.example.com:8443/z/1/2/3.bil")
	if !regexp.MustCompile(`^tile:dem\.example\.com-8443:u=[0-9a-f]{16}$`).MatchString(k) {
		t.Fatalf("unexpected key shape: %s", k)
	}
	if Bytes("HTTPS://DEM.example.com:8443/z/1/2/3.bil") != k {
		t.Fatalf("host case must not matter")
	}
}
