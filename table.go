package countdb

import (
	"math"
)

// logSumExp returns log(exp(a) + exp(b)) without overflowing or losing the
// smaller term to underflow. -Inf is the identity.
func logSumExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

// Value reads the float stored under an encoded key.
func (tx *Tx) Value(raw []byte) (float32, bool, error) {
	v, err := tx.stx.Get(raw)
	tx.store.stats.Gets.Add(1)
	if err != nil {
		return 0, false, storeErrf(tx.store.name, raw, err, "get")
	}
	if v == nil {
		return 0, false, nil
	}
	if len(v) != ValueSize {
		return 0, false, storeErrf(tx.store.name, raw, dataErrf(v, 0, nil, "invalid value"), "get")
	}
	return DecodeValue(v), true, nil
}

// SetValue stores v under an encoded key.
func (tx *Tx) SetValue(raw []byte, v float32) error {
	return tx.Put(raw, EncodeValue(v))
}

// IncrementLog treats the stored value as a logarithm and adds exp(logInc)
// to the quantity it represents. Returns the new stored value.
func (tx *Tx) IncrementLog(raw []byte, logInc float64) (float32, error) {
	old, found, err := tx.Value(raw)
	if err != nil {
		return 0, err
	}
	nv := float32(logInc)
	if found {
		nv = float32(logSumExp(float64(old), logInc))
	}
	return nv, tx.SetValue(raw, nv)
}

// AccumulateLog treats the stored value as a plain count and adds
// exp(logInc) to it, doing the addition in the log domain. Returns the new
// stored value.
func (tx *Tx) AccumulateLog(raw []byte, logInc float64) (float32, error) {
	old, found, err := tx.Value(raw)
	if err != nil {
		return 0, err
	}
	var nv float32
	if found {
		nv = float32(math.Exp(logSumExp(math.Log(float64(old)), logInc)))
	} else {
		nv = float32(math.Exp(logInc))
	}
	return nv, tx.SetValue(raw, nv)
}

// Add adds delta to the plain count stored under raw.
func (tx *Tx) Add(raw []byte, delta float32) (float32, error) {
	old, _, err := tx.Value(raw)
	if err != nil {
		return 0, err
	}
	nv := old + delta
	return nv, tx.SetValue(raw, nv)
}

// Table is a generic count table over arbitrary keys: marginals are
// length-1 keys, joint entries are longer.
type Table struct {
	tableHandle
}

// OpenTable attaches a raw count table at path according to opt.
func OpenTable(path string, opt Options) (*Table, error) {
	s, err := Open(path, KindRaw, opt)
	if err != nil {
		return nil, err
	}
	return &Table{tableHandle{s}}, nil
}

// InitTable creates an empty raw count table at path, discarding any
// previous content.
func InitTable(path string, opt Options) (*Table, error) {
	s, err := Init(path, KindRaw, opt)
	if err != nil {
		return nil, err
	}
	return &Table{tableHandle{s}}, nil
}

func (t *Table) SetCount(key Key, v float32) error {
	return t.store.Update(func(tx *Tx) error {
		return tx.SetValue(tx.key(key), v)
	})
}

// Count returns the value under key. A missing entry returns found == false
// and a zero value, which is distinguishable from a stored zero.
func (t *Table) Count(key Key) (v float32, found bool, err error) {
	err = t.store.View(func(tx *Tx) error {
		v, found, err = tx.Value(tx.key(key))
		return err
	})
	return v, found, err
}

// IncrementLog combines logInc into the log-domain value under key with
// log-sum-exp. The first increment stores logInc as is.
func (t *Table) IncrementLog(key Key, logInc float64) error {
	return t.store.Update(func(tx *Tx) error {
		_, err := tx.IncrementLog(tx.key(key), logInc)
		return err
	})
}

// AccumulateLog adds exp(logInc) to the plain count under key.
func (t *Table) AccumulateLog(key Key, logInc float64) error {
	return t.store.Update(func(tx *Tx) error {
		_, err := tx.AccumulateLog(tx.key(key), logInc)
		return err
	})
}

// Size returns the number of entries.
func (t *Table) Size() (int, error) {
	return t.store.Size()
}

// Entry is a decoded (key, value) pair.
type Entry struct {
	Key   Key
	Value float32
}

// Begin returns a cursor over all entries in key order.
func (t *Table) Begin() (*TableCursor, error) {
	c, err := t.store.Begin()
	if err != nil {
		return nil, err
	}
	return &TableCursor{c: c}, nil
}

// Entries returns every entry in key order.
func (t *Table) Entries() ([]Entry, error) {
	c, err := t.Begin()
	if err != nil {
		return nil, err
	}
	defer c.Close()
	var result []Entry
	for c.Next() {
		result = append(result, c.Entry())
	}
	return result, c.Err()
}

// TableCursor decodes the entries of a raw count table.
type TableCursor struct {
	c *Cursor
}

func (c *TableCursor) Next() bool { return c.c.Next() }
func (c *TableCursor) Key() Key { return DecodeKey(c.c.Key()) }
func (c *TableCursor) Value() float32 { return DecodeValue(c.c.Value()) }
func (c *TableCursor) Entry() Entry { return Entry{c.Key(), c.Value()} }
func (c *TableCursor) Err() error { return c.c.Err() }
func (c *TableCursor) Close() { c.c.Close() }
func (c *TableCursor) Raw() *Cursor { return c.c }

// tableHandle carries the lifecycle shared by every table shape.
type tableHandle struct {
	store *Store
}

// Store returns the underlying store.
func (h tableHandle) Store() *Store { return h.store }

func (h tableHandle) Name() string { return h.store.Name() }

// Clear empties the table. A *FatalError result means the table is unusable.
func (h tableHandle) Clear() error { return h.store.Clear() }

// Drop closes the table and destroys its data.
func (h tableHandle) Drop() error { return h.store.Drop() }

func (h tableHandle) Close() error { return h.store.Close() }

func (h tableHandle) Stats() StatsSnapshot { return h.store.Stats() }
