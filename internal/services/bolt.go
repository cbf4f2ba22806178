package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MegaGrindStone/llamachat/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltJournal records proxied exchanges in a BoltDB file. Entries are keyed by a big-endian sequence
// number so that cursor order is insertion order. Only the most recent keep entries are retained.
type BoltJournal struct {
	db   *bolt.DB
	keep uint64
}

var exchangesBucket = []byte("exchanges")

// DefaultJournalKeep is the retention used when NewBoltJournal is given a non-positive keep.
const DefaultJournalKeep = 1000

// journalLockTimeout bounds the wait for the file lock held by another process using the journal.
const journalLockTimeout = time.Second

// NewBoltJournal opens (or creates with 0600 permissions) the journal at path. It fails when another
// process holds the journal for longer than a second.
func NewBoltJournal(path string, keep int) (BoltJournal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: journalLockTimeout})
	if err != nil {
		return BoltJournal{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(exchangesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return BoltJournal{}, fmt.Errorf("failed to create bucket: %w", err)
	}

	if keep <= 0 {
		keep = DefaultJournalKeep
	}
	return BoltJournal{db: db, keep: uint64(keep)}, nil
}

func sequenceKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Record appends an exchange and drops the entry that fell out of the retention window.
func (b BoltJournal) Record(_ context.Context, ex models.Exchange) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(exchangesBucket)
		if bkt == nil {
			return fmt.Errorf("bucket %s not found", exchangesBucket)
		}

		seq, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(ex)
		if err != nil {
			return fmt.Errorf("failed to marshal exchange: %w", err)
		}
		if err := bkt.Put(sequenceKey(seq), v); err != nil {
			return err
		}

		if seq > b.keep {
			return bkt.Delete(sequenceKey(seq - b.keep))
		}
		return nil
	})
}

// Recent returns up to limit exchanges, newest first.
func (b BoltJournal) Recent(_ context.Context, limit int) ([]models.Exchange, error) {
	var exchanges []models.Exchange
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(exchangesBucket)
		if bkt == nil {
			return nil
		}

		c := bkt.Cursor()
		for k, v := c.Last(); k != nil && len(exchanges) < limit; k, v = c.Prev() {
			var ex models.Exchange
			if err := json.Unmarshal(v, &ex); err != nil {
				return fmt.Errorf("failed to unmarshal exchange: %w", err)
			}
			exchanges = append(exchanges, ex)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return exchanges, nil
}

// Close closes the underlying database.
func (b BoltJournal) Close() error {
	return b.db.Close()
}
