package countdb

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const formatVersion = 1

// metaKey sorts before every codec-produced key because codec bytes are
// never zero.
var metaKey = []byte("\x00meta")

type storeMeta struct {
	FormatVersion int       `msgpack:"v"`
	Kind          Kind      `msgpack:"k"`
	DigitBase     int       `msgpack:"b"`
	DigitWidth    int       `msgpack:"w"`
	Created       time.Time `msgpack:"c"`
}

func (m *storeMeta) check(kind Kind) error {
	if m.FormatVersion != formatVersion {
		return fmt.Errorf("format version %d, wanted %d: %w", m.FormatVersion, formatVersion, ErrIncompatible)
	}
	if m.DigitBase != DigitBase || m.DigitWidth != DigitWidth {
		return fmt.Errorf("key codec base %d width %d, wanted base %d width %d: %w", m.DigitBase, m.DigitWidth, DigitBase, DigitWidth, ErrIncompatible)
	}
	if m.Kind != kind {
		return fmt.Errorf("holds a %s table, wanted %s: %w", m.Kind, kind, ErrIncompatible)
	}
	return nil
}

// ensureMeta validates the metadata record of an attached storage, writing
// one if the storage is empty.
func ensureMeta(stg storage, kind Kind) error {
	stx, err := stg.BeginTx(true)
	if err != nil {
		return err
	}
	defer stx.Rollback()

	raw, err := stx.Get(metaKey)
	if err != nil {
		return err
	}
	if raw != nil {
		var m storeMeta
		if err := msgpack.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("metadata: %v: %w", err, ErrIncompatible)
		}
		return m.check(kind)
	}

	bcur := stx.Cursor()
	k, _ := bcur.First()
	err = bcur.Err()
	bcur.Close()
	if err != nil {
		return err
	}
	if k != nil {
		return fmt.Errorf("metadata record missing: %w", ErrIncompatible)
	}

	raw, err = msgpack.Marshal(&storeMeta{
		FormatVersion: formatVersion,
		Kind:          kind,
		DigitBase:     DigitBase,
		DigitWidth:    DigitWidth,
		Created:       time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := stx.Put(metaKey, raw); err != nil {
		return err
	}
	return stx.Commit()
}

// readMeta returns the metadata record of an open store.
func (s *Store) readMeta() (*storeMeta, error) {
	var m storeMeta
	err := s.View(func(tx *Tx) error {
		raw, err := tx.stx.Get(metaKey)
		if err != nil {
			return err
		}
		if raw == nil {
			return fmt.Errorf("metadata record missing: %w", ErrIncompatible)
		}
		return msgpack.Unmarshal(raw, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Created returns the time the store was created or last cleared.
func (s *Store) Created() (time.Time, error) {
	m, err := s.readMeta()
	if err != nil {
		return time.Time{}, err
	}
	return m.Created, nil
}
