package countdb

import (
	"time"
)

// Cursor is a forward, single-pass walk over raw store entries in byte
// order, pinned to the snapshot taken by Begin. Every Begin returns an
// independent cursor; to restart, call Begin again.
//
// A cursor holds a read transaction open until Close. Clear, Drop and Close
// on the store fail with ErrCursorsOpen while cursors are open, and so do
// writes on the bolt engine.
type Cursor struct {
	store     *Store
	stx       storageTx
	bcur      storageCursor
	rc        *RawRangeCursor
	startTime time.Time
	closed    bool
	visited   int64
}

// Begin opens a cursor over every statistic entry of the store.
func (s *Store) Begin() (*Cursor, error) {
	return s.BeginRange(dataRange())
}

// BeginRange opens a cursor over rang.
func (s *Store) BeginRange(rang RawRange) (*Cursor, error) {
	stg, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer s.release()

	stx, err := stg.BeginTx(false)
	if err != nil {
		return nil, storeErrf(s.name, nil, err, "begin cursor")
	}
	bcur := stx.Cursor()
	c := &Cursor{
		store:     s,
		stx:       stx,
		bcur:      bcur,
		rc:        rang.newCursor(bcur, s.logger),
		startTime: time.Now(),
	}
	s.addCursor(c)
	s.stats.Scans.Add(1)
	return c, nil
}

// Next advances to the next entry. It returns false at the end of the range,
// after Close, or on failure; check Err to tell them apart.
func (c *Cursor) Next() bool {
	if c.closed {
		return false
	}
	if !c.rc.Next() {
		return false
	}
	c.visited++
	return true
}

// Key returns the current encoded key. Valid until the next call to Next.
func (c *Cursor) Key() []byte { return c.rc.Key() }

// Value returns the current encoded value. Valid until the next call to Next.
func (c *Cursor) Value() []byte { return c.rc.Value() }

// Err reports an I/O failure that ended the walk early. A cursor that
// stopped with a non-nil Err has not seen the whole range.
func (c *Cursor) Err() error {
	if err := c.rc.Err(); err != nil {
		return storeErrf(c.store.name, c.rc.Key(), err, "cursor")
	}
	return nil
}

// Close releases the snapshot. Safe to call multiple times.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.bcur.Close()
	c.stx.Rollback()
	c.store.stats.ScannedEntries.Add(c.visited)
	c.store.removeCursor(c)
}
