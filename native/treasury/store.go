package treasury

import (
	"errors"
	"fmt"

	"github.com/D2dProtocol/d2d-program/storage"
	"github.com/D2dProtocol/d2d-program/storage/trie"
	"github.com/ethereum/go-ethereum/rlp"
)

var (
	recordPrefix = []byte("treasury/")
	ledgerKey    = []byte("treasury/ledger")
	stakerPrefix = []byte("treasury/staker/")
	queuePrefix  = []byte("treasury/queue/")
	debtPrefix   = []byte("treasury/debt/")
	epochPrefix  = []byte("treasury/epoch/")
)

func stakerKey(id string) []byte { return append(append([]byte(nil), stakerPrefix...), id...) }

func queueKey(position uint64) []byte {
	return append(append([]byte(nil), queuePrefix...), fmt.Sprintf("%020d", position)...)
}

func debtKey(id string) []byte { return append(append([]byte(nil), debtPrefix...), id...) }

func epochKey(index uint64) []byte {
	return append(append([]byte(nil), epochPrefix...), fmt.Sprintf("%020d", index)...)
}

// ChangeSet carries every record mutated by one operation. It is committed as
// a single atomic batch.
type ChangeSet struct {
	Ledger  *Ledger
	Stakers []*StakerPosition
	Queue   []*QueueEntry
	Debts   []*DebtRecord
	Epochs  []*DistributionEpoch
}

// Empty reports whether the change set carries no writes.
func (c *ChangeSet) Empty() bool {
	return c == nil || (c.Ledger == nil && len(c.Stakers) == 0 && len(c.Queue) == 0 && len(c.Debts) == 0 && len(c.Epochs) == 0)
}

// Store persists treasury records as RLP encoded values keyed by stable
// identifiers. No record embeds another.
type Store struct {
	db storage.Database
}

// NewStore wraps the database.
func NewStore(db storage.Database) *Store { return &Store{db: db} }

// StateRoot commits to every treasury record currently persisted.
func (s *Store) StateRoot() (trie.Commitment, error) {
	c, err := trie.Root(s.db, recordPrefix)
	if err != nil {
		return trie.Commitment{}, fmt.Errorf("treasury store: state root: %w", err)
	}
	return c, nil
}

func (s *Store) load(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("treasury store: read %s: %w", key, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("treasury store: decode %s: %w", key, err)
	}
	return true, nil
}

// GetLedger loads the pool aggregate.
func (s *Store) GetLedger() (*Ledger, bool, error) {
	ledger := new(Ledger)
	ok, err := s.load(ledgerKey, ledger)
	if !ok || err != nil {
		return nil, false, err
	}
	return ledger.Clone(), true, nil
}

// GetStaker loads a staker position.
func (s *Store) GetStaker(id string) (*StakerPosition, bool, error) {
	position := new(StakerPosition)
	ok, err := s.load(stakerKey(id), position)
	if !ok || err != nil {
		return nil, false, err
	}
	return position.Clone(), true, nil
}

// GetQueueEntry loads the queue entry at position.
func (s *Store) GetQueueEntry(position uint64) (*QueueEntry, bool, error) {
	entry := new(QueueEntry)
	ok, err := s.load(queueKey(position), entry)
	if !ok || err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// GetDebtRecord loads the debt record of a deployment.
func (s *Store) GetDebtRecord(id string) (*DebtRecord, bool, error) {
	record := new(DebtRecord)
	ok, err := s.load(debtKey(id), record)
	if !ok || err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// GetEpoch loads a closed duration epoch.
func (s *Store) GetEpoch(index uint64) (*DistributionEpoch, bool, error) {
	epoch := new(DistributionEpoch)
	ok, err := s.load(epochKey(index), epoch)
	if !ok || err != nil {
		return nil, false, err
	}
	return epoch.Clone(), true, nil
}

// ForEachStaker visits every staker position in key order.
func (s *Store) ForEachStaker(fn func(*StakerPosition) error) error {
	return s.iterate(stakerPrefix, func() interface{} { return new(StakerPosition) }, func(v interface{}) error {
		return fn(v.(*StakerPosition).Clone())
	})
}

// ForEachQueueEntry visits every queue entry in position order.
func (s *Store) ForEachQueueEntry(fn func(*QueueEntry) error) error {
	return s.iterate(queuePrefix, func() interface{} { return new(QueueEntry) }, func(v interface{}) error {
		return fn(v.(*QueueEntry))
	})
}

// ForEachDebtRecord visits every debt record in key order.
func (s *Store) ForEachDebtRecord(fn func(*DebtRecord) error) error {
	return s.iterate(debtPrefix, func() interface{} { return new(DebtRecord) }, func(v interface{}) error {
		return fn(v.(*DebtRecord))
	})
}

func (s *Store) iterate(prefix []byte, alloc func() interface{}, fn func(interface{}) error) error {
	var callbackErr error
	err := s.db.Iterate(prefix, func(key, value []byte) bool {
		record := alloc()
		if err := rlp.DecodeBytes(value, record); err != nil {
			callbackErr = fmt.Errorf("treasury store: decode %s: %w", key, err)
			return false
		}
		if err := fn(record); err != nil {
			callbackErr = err
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("treasury store: iterate %s: %w", prefix, err)
	}
	return callbackErr
}

// Commit encodes every record in the change set and writes them in one batch.
func (s *Store) Commit(changes *ChangeSet) error {
	if changes.Empty() {
		return nil
	}
	batch := storage.NewBatch()
	put := func(key []byte, value interface{}) error {
		encoded, err := rlp.EncodeToBytes(value)
		if err != nil {
			return fmt.Errorf("treasury store: encode %s: %w", key, err)
		}
		batch.Put(key, encoded)
		return nil
	}
	if changes.Ledger != nil {
		if err := put(ledgerKey, changes.Ledger); err != nil {
			return err
		}
	}
	for _, staker := range changes.Stakers {
		if err := put(stakerKey(staker.ID), staker); err != nil {
			return err
		}
	}
	for _, entry := range changes.Queue {
		if err := put(queueKey(entry.Position), entry); err != nil {
			return err
		}
	}
	for _, record := range changes.Debts {
		if err := put(debtKey(record.DeploymentID), record); err != nil {
			return err
		}
	}
	for _, epoch := range changes.Epochs {
		if err := put(epochKey(epoch.Index), epoch); err != nil {
			return err
		}
	}
	if err := s.db.Write(batch); err != nil {
		return fmt.Errorf("treasury store: commit: %w", err)
	}
	return nil
}
