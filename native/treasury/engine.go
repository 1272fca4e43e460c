package treasury

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	nativecommon "github.com/D2dProtocol/d2d-program/native/common"
	"github.com/holiman/uint256"
)

type engineState interface {
	GetLedger() (*Ledger, bool, error)
	GetStaker(id string) (*StakerPosition, bool, error)
	GetQueueEntry(position uint64) (*QueueEntry, bool, error)
	GetDebtRecord(id string) (*DebtRecord, bool, error)
	GetEpoch(index uint64) (*DistributionEpoch, bool, error)
	ForEachStaker(fn func(*StakerPosition) error) error
	ForEachQueueEntry(fn func(*QueueEntry) error) error
	ForEachDebtRecord(fn func(*DebtRecord) error) error
	Commit(changes *ChangeSet) error
}

// Outcome classifies how an operation ended.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeNoop      Outcome = "noop"
	OutcomeFailed    Outcome = "failed"
)

// OperationEvent is reported to observers after every mutating operation.
// Ledger is the post-commit snapshot and is nil unless the operation
// committed.
type OperationEvent struct {
	Operation string
	Caller    string
	Outcome   Outcome
	Err       error
	Ledger    *Ledger
	Timestamp uint64
}

// Observer receives operation events. Implementations must not block.
type Observer interface {
	ObserveOperation(event OperationEvent)
}

// Engine applies treasury operations as indivisible state transitions. Every
// operation either commits all of its record mutations in one batch or leaves
// the state untouched.
type Engine struct {
	mu        sync.Mutex
	state     engineState
	clock     func() time.Time
	logger    *slog.Logger
	observers []Observer
}

// NewEngine constructs an engine over the persistence layer.
func NewEngine(state engineState) *Engine {
	return &Engine{state: state, clock: time.Now, logger: slog.Default()}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state
}

// SetClock overrides the external clock consulted at the start of every
// operation.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

// SetLogger replaces the structured logger used for committed operations.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger
}

// AddObserver registers an observer for operation events.
func (e *Engine) AddObserver(observer Observer) {
	if e == nil || observer == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, observer)
}

func (e *Engine) nowUnix() uint64 {
	secs := e.clock().Unix()
	if secs < 0 {
		return 0
	}
	return uint64(secs)
}

func guardAny(capability *nativecommon.Capability, roles ...nativecommon.Role) error {
	var err error
	for _, role := range roles {
		if err = nativecommon.Guard(capability, role); err == nil {
			return nil
		}
	}
	return err
}

func callerOf(capability *nativecommon.Capability) string {
	if capability == nil {
		return ""
	}
	return capability.Caller
}

// execute runs fn inside a transaction over the initialised, open ledger.
func (e *Engine) execute(op string, capability *nativecommon.Capability, roles []nativecommon.Role, fn func(tx *txn) error) error {
	if e == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	caller := callerOf(capability)
	if e.state == nil {
		return errNilState
	}
	if err := guardAny(capability, roles...); err != nil {
		e.notify(op, caller, err, nil, 0)
		return err
	}
	tx, err := e.begin()
	if err != nil {
		e.notify(op, caller, err, nil, 0)
		return err
	}
	if err := fn(tx); err != nil {
		e.notify(op, caller, err, nil, tx.now)
		return err
	}
	if err := e.state.Commit(tx.changes()); err != nil {
		err = fmt.Errorf("treasury: commit %s: %w", op, err)
		e.notify(op, caller, err, nil, tx.now)
		return err
	}
	e.logger.Debug("treasury operation committed",
		slog.String("operation", op),
		slog.String("caller", caller),
		slog.Uint64("liquid", tx.ledger.LiquidBalance),
		slog.Uint64("borrowed", tx.ledger.TotalBorrowed),
		slog.Uint64("queued", tx.ledger.QueuedWithdrawals))
	e.notify(op, caller, nil, tx.ledger.Clone(), tx.now)
	return nil
}

func (e *Engine) notify(op, caller string, err error, ledger *Ledger, now uint64) {
	outcome := OutcomeCommitted
	switch {
	case err != nil && !IsFatal(err):
		outcome = OutcomeNoop
	case err != nil:
		outcome = OutcomeFailed
	}
	event := OperationEvent{Operation: op, Caller: caller, Outcome: outcome, Err: err, Ledger: ledger, Timestamp: now}
	for _, observer := range e.observers {
		observer.ObserveOperation(event)
	}
}

func (e *Engine) begin() (*txn, error) {
	ledger, ok, err := e.state.GetLedger()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	if ledger.Closed {
		return nil, ErrLedgerClosed
	}
	tx := newTxn(e.state, ledger)
	if clock := e.nowUnix(); clock > tx.ledger.LastObservedTime {
		tx.ledger.LastObservedTime = clock
	}
	tx.now = tx.ledger.LastObservedTime
	if err := tx.accrueWeight(); err != nil {
		return nil, err
	}
	return tx, nil
}

// view runs a read-only function against a transaction that is never
// committed.
func (e *Engine) view(fn func(tx *txn) error) error {
	if e == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	ledger, ok, err := e.state.GetLedger()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInitialized
	}
	tx := newTxn(e.state, ledger)
	tx.now = ledger.LastObservedTime
	if clock := e.nowUnix(); clock > tx.now {
		tx.now = clock
	}
	return fn(tx)
}

// txn caches cloned records for a single operation and tracks which of them
// must be written back.
type txn struct {
	state  engineState
	now    uint64
	ledger *Ledger

	stakers map[string]*StakerPosition
	queue   map[uint64]*QueueEntry
	debts   map[string]*DebtRecord
	epochs  map[uint64]*DistributionEpoch

	dirtyStakers []string
	dirtyQueue   []uint64
	dirtyDebts   []string
	newEpochs    []*DistributionEpoch
	touched      map[string]bool
}

func newTxn(state engineState, ledger *Ledger) *txn {
	return &txn{
		state:   state,
		ledger:  ledger.Clone(),
		stakers: make(map[string]*StakerPosition),
		queue:   make(map[uint64]*QueueEntry),
		debts:   make(map[string]*DebtRecord),
		epochs:  make(map[uint64]*DistributionEpoch),
		touched: make(map[string]bool),
	}
}

func (tx *txn) mark(kind, key string) bool {
	id := kind + "/" + key
	if tx.touched[id] {
		return false
	}
	tx.touched[id] = true
	return true
}

// staker returns the cached position for id. Missing positions are created
// when create is set.
func (tx *txn) staker(id string, create bool) (*StakerPosition, error) {
	if s, ok := tx.stakers[id]; ok {
		return s, nil
	}
	s, ok, err := tx.state.GetStaker(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		if !create {
			return nil, ErrUnknownStaker
		}
		// A new position starts accruing where the ledger's weight clock
		// stands so it never claims weight the ledger did not count.
		start := tx.now
		if tx.ledger.LastWeightUpdate > start {
			start = tx.ledger.LastWeightUpdate
		}
		s = &StakerPosition{
			ID:             id,
			RewardDebt:     new(uint256.Int).Set(zeroIfNil(tx.ledger.RewardPerShare)),
			DurationWeight: new(uint256.Int),
			WeightEpoch:    tx.ledger.Epoch,
			LastUpdateTime: start,
			CreatedAt:      tx.now,
		}
	} else {
		s = s.Clone()
	}
	tx.stakers[id] = s
	return s, nil
}

func (tx *txn) putStaker(s *StakerPosition) {
	tx.stakers[s.ID] = s
	if tx.mark("staker", s.ID) {
		tx.dirtyStakers = append(tx.dirtyStakers, s.ID)
	}
}

func (tx *txn) queueEntry(position uint64) (*QueueEntry, error) {
	if entry, ok := tx.queue[position]; ok {
		return entry, nil
	}
	entry, ok, err := tx.state.GetQueueEntry(position)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidQueuePosition
	}
	entry = entry.Clone()
	tx.queue[position] = entry
	return entry, nil
}

func (tx *txn) putQueueEntry(entry *QueueEntry) {
	tx.queue[entry.Position] = entry
	if tx.mark("queue", fmt.Sprint(entry.Position)) {
		tx.dirtyQueue = append(tx.dirtyQueue, entry.Position)
	}
}

func (tx *txn) debt(id string) (*DebtRecord, error) {
	if record, ok := tx.debts[id]; ok {
		return record, nil
	}
	record, ok, err := tx.state.GetDebtRecord(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownDeployment
	}
	record = record.Clone()
	tx.debts[id] = record
	return record, nil
}

func (tx *txn) putDebt(record *DebtRecord) {
	tx.debts[record.DeploymentID] = record
	if tx.mark("debt", record.DeploymentID) {
		tx.dirtyDebts = append(tx.dirtyDebts, record.DeploymentID)
	}
}

func (tx *txn) epoch(index uint64) (*DistributionEpoch, error) {
	if epoch, ok := tx.epochs[index]; ok {
		return epoch, nil
	}
	epoch, ok, err := tx.state.GetEpoch(index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing distribution epoch %d", ErrInvariantViolated, index)
	}
	tx.epochs[index] = epoch
	return epoch, nil
}

func (tx *txn) putEpoch(epoch *DistributionEpoch) {
	tx.epochs[epoch.Index] = epoch
	tx.newEpochs = append(tx.newEpochs, epoch)
}

func (tx *txn) changes() *ChangeSet {
	changes := &ChangeSet{Ledger: tx.ledger}
	for _, id := range tx.dirtyStakers {
		changes.Stakers = append(changes.Stakers, tx.stakers[id])
	}
	for _, position := range tx.dirtyQueue {
		changes.Queue = append(changes.Queue, tx.queue[position])
	}
	for _, id := range tx.dirtyDebts {
		changes.Debts = append(changes.Debts, tx.debts[id])
	}
	changes.Epochs = append(changes.Epochs, tx.newEpochs...)
	return changes
}

// requirePositive rejects zero amounts.
func requirePositive(amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	return nil
}
