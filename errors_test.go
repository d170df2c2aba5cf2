package countdb

import (
	"errors"
	"strings"
	"testing"
)

func TestDataError_ErrorAndUnwrap(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		inner := errors.New("inner")
		err := dataErrf([]byte{0xAA, 0xBB}, 1, inner, "oops")
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("err = %T, wanted *DataError", err)
		}
		if !errors.Is(err, inner) {
			t.Fatalf("errors.Is(err, inner) = false, wanted true")
		}
		s := err.Error()
		if !strings.Contains(s, "oops") || !strings.Contains(s, "inner") || !strings.Contains(s, "(2)") {
			t.Fatalf("err.Error() = %q, wanted message with oops/inner/(2)", s)
		}
	})

	t.Run("large data includes prefix+suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		err := dataErrf(data, 0, nil, "oops")
		s := err.Error()
		if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
			t.Fatalf("err.Error() = %q, wanted message with (200) and ...", s)
		}
	})
}

func TestStoreError_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := storeErrf("lex", EncodeKey(Key{3, 4}), inner, "oops %d", 1)
	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is(err, inner) = false, wanted true")
	}
	if s := err.Error(); s != "lex/[3 4]: oops 1: inner" {
		t.Fatalf("err.Error() = %q, wanted %q", s, "lex/[3 4]: oops 1: inner")
	}

	if s := (&StoreError{Store: "T", Err: inner}).Error(); s != "T: inner" {
		t.Fatalf("StoreError.Error() = %q, wanted %q", s, "T: inner")
	}

	err = storeErrf("phr", []byte{0, 'm'}, nil, "bad")
	if s := err.Error(); s != "phr/006d: bad" {
		t.Fatalf("err.Error() = %q, wanted %q", s, "phr/006d: bad")
	}
}

func TestFatalError(t *testing.T) {
	inner := errors.New("disk full")
	var err error = &FatalError{Store: "x", Op: "clear: recreate", Err: inner}
	if !IsFatal(err) {
		t.Fatalf("IsFatal = false, wanted true")
	}
	if !IsFatal(storeErrf("x", nil, err, "wrapped")) {
		t.Fatalf("IsFatal(wrapped) = false, wanted true")
	}
	if IsFatal(inner) {
		t.Fatalf("IsFatal(inner) = true, wanted false")
	}
	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is(err, inner) = false, wanted true")
	}
	if s := err.Error(); s != "x: clear: recreate: unrecoverable: disk full" {
		t.Fatalf("err.Error() = %q", s)
	}
}

func TestDecodeKeyString(t *testing.T) {
	deepEqual(t, DecodeKeyString(EncodeKey(Key{1, 2, 3})), "[1 2 3]")
	deepEqual(t, DecodeKeyString(phraseSrcKey(nil, Key{7})), "[src 7]")
	deepEqual(t, DecodeKeyString(phraseBySrcKey(nil, Key{7}, 9)), "[bysrc 7 9]")
	deepEqual(t, DecodeKeyString([]byte{1, 2}), "0102")
	deepEqual(t, DecodeKeyString(nil), "<nil>")
}
