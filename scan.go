package countdb

import (
	"bytes"
	"context"
	"log/slog"
)

// traceScans logs every cursor step at Debug level, with decoded keys.
const traceScans = false

// RawRange selects a run of encoded keys. Constructor names spell the two
// bounds, lower then upper: O is open, I inclusive, E exclusive.
type RawRange struct {
	Prefix   []byte
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
}

func RawOO() RawRange            { return RawRange{} }
func RawIO(l []byte) RawRange    { return RawRange{Lower: l, LowerInc: true} }
func RawOE(u []byte) RawRange    { return RawRange{Upper: u} }
func RawII(l, u []byte) RawRange { return RawRange{Lower: l, Upper: u, LowerInc: true, UpperInc: true} }
func RawIE(l, u []byte) RawRange { return RawRange{Lower: l, Upper: u, LowerInc: true} }
func RawPrefix(p []byte) RawRange {
	return RawRange{Prefix: p}
}

func (rang RawRange) Prefixed(p []byte) RawRange {
	rang.Prefix = p
	return rang
}

// dataRange covers every statistic key; the metadata record sorts before it
// because codec bytes are never zero.
func dataRange() RawRange {
	return RawRange{Lower: []byte{1}, LowerInc: true}
}

// partnerRange covers every key led by the component lead: all sources of a
// lexical target, or all joint rows of a phrase target.
func partnerRange(lead uint64) RawRange {
	return RawIE(leadingBound(lead))
}

func (r *RawRange) seekKey() []byte {
	if r.Lower == nil {
		return r.Prefix
	}
	if r.Prefix != nil && !bytes.HasPrefix(r.Lower, r.Prefix) {
		panic("lower bound does not match prefix")
	}
	return r.Lower
}

func (r *RawRange) contains(k []byte) bool {
	if r.Prefix != nil && !bytes.HasPrefix(k, r.Prefix) {
		return false
	}
	if r.Upper != nil {
		c := bytes.Compare(k, r.Upper)
		if c > 0 || (c == 0 && !r.UpperInc) {
			return false
		}
	}
	return true
}

func (rang *RawRange) newCursor(bcur storageCursor, logger *slog.Logger) *RawRangeCursor {
	return &RawRangeCursor{rang: *rang, bcur: bcur, logger: logger}
}

// RawRangeCursor walks a RawRange. Key and Value are only valid until the
// next call to Next.
type RawRangeCursor struct {
	rang    RawRange
	bcur    storageCursor
	logger  *slog.Logger
	k, v    []byte
	started bool
	done    bool
}

func (c *RawRangeCursor) Next() bool {
	if c.done {
		return false
	}
	var k, v []byte
	if c.started {
		k, v = c.bcur.Next()
		c.trace("next", k)
	} else {
		c.started = true
		k, v = c.first()
	}
	if k == nil || !c.rang.contains(k) {
		c.trace("stop", k)
		c.k, c.v, c.done = nil, nil, true
		return false
	}
	c.k, c.v = k, v
	return true
}

func (c *RawRangeCursor) first() ([]byte, []byte) {
	seek := c.rang.seekKey()
	if seek == nil {
		k, v := c.bcur.First()
		c.trace("first", k)
		return k, v
	}
	k, v := c.bcur.Seek(seek)
	c.trace("seek", k)
	if k != nil && !c.rang.LowerInc && c.rang.Lower != nil && bytes.Equal(k, c.rang.Lower) {
		k, v = c.bcur.Next()
		c.trace("skip lower", k)
	}
	return k, v
}

func (c *RawRangeCursor) trace(step string, k []byte) {
	if traceScans {
		c.logger.LogAttrs(context.Background(), slog.LevelDebug, "countdb: scan "+step, slog.String("key", DecodeKeyString(k)), hexAttr("raw", k))
	}
}

func (c *RawRangeCursor) Key() []byte   { return c.k }
func (c *RawRangeCursor) Value() []byte { return c.v }

// Err reports whether the underlying iterator stopped because of a failure
// rather than the end of the range. Callers must check it before treating an
// empty or short result as authoritative.
func (c *RawRangeCursor) Err() error { return c.bcur.Err() }
