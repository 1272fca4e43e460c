package treasury

import (
	"testing"

	nativecommon "github.com/D2dProtocol/d2d-program/native/common"
	"github.com/D2dProtocol/d2d-program/storage"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestStoreCommitRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	_, ok, err := store.GetLedger()
	require.NoError(t, err)
	require.False(t, ok)

	changes := &ChangeSet{
		Ledger: &Ledger{
			LiquidBalance:       10,
			RewardPerShare:      uint256.NewInt(42),
			TotalDurationWeight: uint256.NewInt(7),
			QueueHead:           1,
			QueueTail:           3,
			Params:              DefaultParams(),
		},
		Stakers: []*StakerPosition{
			{ID: "bob", Deposited: 4, RewardDebt: uint256.NewInt(42)},
			{ID: "alice", Deposited: 6, DurationWeight: uint256.NewInt(9)},
		},
		Queue: []*QueueEntry{
			{Position: 2, StakerID: "alice", Requested: 3, Status: QueuePending},
			{Position: 1, StakerID: "bob", Requested: 1, Fulfilled: 1, Status: QueueFulfilled},
		},
		Debts:  []*DebtRecord{{DeploymentID: "dep-1", BorrowedAmount: 5, DebtOutstanding: 5, Status: DebtActive}},
		Epochs: []*DistributionEpoch{{Index: 0, End: 100, RatePerWeight: uint256.NewInt(3), CumulativeRate: uint256.NewInt(300)}},
	}
	require.NoError(t, store.Commit(changes))

	ledger, ok, err := store.GetLedger()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), ledger.LiquidBalance)
	require.Equal(t, uint64(42), ledger.RewardPerShare.Uint64())
	require.Equal(t, DefaultParams(), ledger.Params)

	alice, ok, err := store.GetStaker("alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(6), alice.Deposited)
	require.NotNil(t, alice.RewardDebt)
	require.True(t, alice.RewardDebt.IsZero())
	require.Equal(t, uint64(9), alice.DurationWeight.Uint64())

	epoch, ok, err := store.GetEpoch(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(300), epoch.CumulativeRate.Uint64())
	require.True(t, epoch.TotalWeight.IsZero())

	record, ok, err := store.GetDebtRecord("dep-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, DebtActive, record.Status)

	var ids []string
	require.NoError(t, store.ForEachStaker(func(s *StakerPosition) error {
		ids = append(ids, s.ID)
		return nil
	}))
	require.Equal(t, []string{"alice", "bob"}, ids)

	var positions []uint64
	require.NoError(t, store.ForEachQueueEntry(func(q *QueueEntry) error {
		positions = append(positions, q.Position)
		return nil
	}))
	require.Equal(t, []uint64{1, 2}, positions)
}

func TestStoreReportsCorruptRecords(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, db.Put(stakerKey("broken"), []byte{0xff, 0x01}))
	store := NewStore(db)

	_, _, err := store.GetStaker("broken")
	require.Error(t, err)
	require.Error(t, store.ForEachStaker(func(*StakerPosition) error { return nil }))
}

func TestEmptyChangeSetWritesNothing(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db)
	require.NoError(t, store.Commit(&ChangeSet{}))
	ok, err := db.Has(ledgerKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEngineRunsOnLevelDB(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	engine := NewEngine(NewStore(db))
	require.ErrorIs(t, engine.Initialize(stakerCap("alice"), DefaultParams()), nativecommon.ErrRoleNotGranted)
	require.NoError(t, engine.Initialize(nativecommon.NewCapability("admin", nativecommon.RoleAdmin), DefaultParams()))
	_, err = engine.Deposit(stakerCap("alice"), 5_000)
	require.NoError(t, err)
	db.Close()

	reopened, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	engine = NewEngine(NewStore(reopened))
	staker, err := engine.Staker("alice")
	require.NoError(t, err)
	require.Equal(t, uint64(4_945), staker.Deposited)
	require.NoError(t, engine.CheckInvariants())
}

func TestStateRootTracksCommittedRecords(t *testing.T) {
	store := NewStore(storage.NewMemDB())

	empty, err := store.StateRoot()
	require.NoError(t, err)
	require.Zero(t, empty.Records)

	require.NoError(t, store.Commit(&ChangeSet{
		Ledger:  &Ledger{LiquidBalance: 10, Params: DefaultParams()},
		Stakers: []*StakerPosition{{ID: "alice", Deposited: 10}},
	}))
	first, err := store.StateRoot()
	require.NoError(t, err)
	require.Equal(t, 2, first.Records)
	require.NotEqual(t, empty.Root, first.Root)

	again, err := store.StateRoot()
	require.NoError(t, err)
	require.Equal(t, first, again)

	require.NoError(t, store.Commit(&ChangeSet{
		Stakers: []*StakerPosition{{ID: "alice", Deposited: 11}},
	}))
	changed, err := store.StateRoot()
	require.NoError(t, err)
	require.Equal(t, 2, changed.Records)
	require.NotEqual(t, first.Root, changed.Root)
}
