package countdb

import (
	"log/slog"
	"testing"
)

func TestHexHelpers(t *testing.T) {
	if got := hexstr(nil); got != "<nil>" {
		t.Fatalf("hexstr(nil) = %q, wanted <nil>", got)
	}
	if got := hexstr([]byte{}); got != "<empty>" {
		t.Fatalf("hexstr(empty) = %q, wanted <empty>", got)
	}
	if got := hexstr([]byte{0xAA, 0xBB}); got != "aabb" {
		t.Fatalf("hexstr = %q, wanted aabb", got)
	}
	a := hexAttr("k", []byte{0xAA})
	if a.Key != "k" || a.Value.Kind() != slog.KindString {
		t.Fatalf("hexAttr returned unexpected attr: %+v", a)
	}
}

func TestCloneBytes(t *testing.T) {
	if cloneBytes(nil) != nil {
		t.Fatalf("cloneBytes(nil) != nil")
	}
	src := []byte{1, 2, 3}
	c := cloneBytes(src)
	src[0] = 9
	deepEqual(t, c, []byte{1, 2, 3})

	empty := cloneBytes([]byte{})
	if empty == nil || len(empty) != 0 {
		t.Fatalf("cloneBytes(empty) = %v, wanted non-nil empty", empty)
	}
}

func TestGrow(t *testing.T) {
	buf := []byte{1}
	off, buf := grow(buf, 20)
	if off != 1 || len(buf) != 21 || cap(buf) < 21 {
		t.Fatalf("grow = (%d, len %d cap %d)", off, len(buf), cap(buf))
	}
	if buf[0] != 1 {
		t.Fatalf("grow lost existing data")
	}
	deepEqual(t, appendRaw([]byte{1}, []byte{2, 3}), []byte{1, 2, 3})
}
