package countdb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when opening a store that does not exist.
	ErrNotFound = errors.New("store not found")

	// ErrIncompatible is returned when the on-disk store was written by a
	// different table kind or key codec.
	ErrIncompatible = errors.New("incompatible store")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")

	// ErrCursorsOpen is returned by operations that cannot run while the
	// store has open cursors.
	ErrCursorsOpen = errors.New("cursors open")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// StoreError describes a failed operation on a named store, optionally
// pinned to an encoded key.
type StoreError struct {
	Store string
	Key   []byte
	Msg   string
	Err   error
}

func storeErrf(store string, key []byte, err error, format string, args ...any) error {
	return &StoreError{store, key, fmt.Sprintf(format, args...), err}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func (e *StoreError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Store)
	if e.Key != nil {
		buf.WriteByte('/')
		buf.WriteString(DecodeKeyString(e.Key))
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// FatalError means the store is in an unknown state (e.g. Clear dropped the
// old data but could not create a fresh store). The Store refuses all further
// operations with the same error; callers must propagate it and stop using
// the store.
type FatalError struct {
	Store string
	Op    string
	Err   error
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %s: unrecoverable: %v", e.Store, e.Op, e.Err)
}

// IsFatal reports whether err (or anything it wraps) is a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// DecodeKeyString renders an encoded key for messages, falling back to hex
// for byte strings the codec did not produce.
func DecodeKeyString(raw []byte) string {
	if len(raw) == 0 || len(raw)%DigitWidth != 0 {
		return hexstr(raw)
	}
	for _, b := range raw {
		if b == 0 {
			return hexstr(raw)
		}
	}
	comps := decodeComponents(raw)
	var buf strings.Builder
	buf.WriteByte('[')
	for i, c := range comps {
		if i > 0 {
			buf.WriteByte(' ')
		}
		switch c {
		case srcMarker:
			buf.WriteString("src")
		case bySrcMarker:
			buf.WriteString("bysrc")
		default:
			fmt.Fprintf(&buf, "%d", c)
		}
	}
	buf.WriteByte(']')
	return buf.String()
}
