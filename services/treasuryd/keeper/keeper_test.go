package keeper

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nativecommon "github.com/D2dProtocol/d2d-program/native/common"
	"github.com/D2dProtocol/d2d-program/native/treasury"
	"github.com/D2dProtocol/d2d-program/storage"
)

type fakeEngine struct {
	payouts      []treasury.Payout
	queueErr     error
	distErr      error
	invariantErr error
	queueBatch   uint64
	rewardsBatch uint64
	callers      []string
}

func (f *fakeEngine) ProcessQueue(c *nativecommon.Capability, maxEntries uint64) ([]treasury.Payout, error) {
	f.queueBatch = maxEntries
	f.callers = append(f.callers, c.Caller)
	return f.payouts, f.queueErr
}

func (f *fakeEngine) DistributePendingRewards(c *nativecommon.Capability, maxBatch uint64) (treasury.DistributionResult, error) {
	f.rewardsBatch = maxBatch
	f.callers = append(f.callers, c.Caller)
	return treasury.DistributionResult{Epoch: 3, Released: 100}, f.distErr
}

func (f *fakeEngine) CheckInvariants() error { return f.invariantErr }

type runRecorder struct {
	mu   sync.Mutex
	runs map[string][]error
}

func (r *runRecorder) RecordKeeperRun(job string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = make(map[string][]error)
	}
	r.runs[job] = append(r.runs[job], err)
}

func adminCap() *nativecommon.Capability {
	return nativecommon.NewCapability("keeper", nativecommon.RoleAdmin)
}

func TestRunProcessQueueForwardsPayouts(t *testing.T) {
	engine := &fakeEngine{payouts: []treasury.Payout{{Position: 1, StakerID: "alice", Amount: 5}, {Position: 2, StakerID: "bob", Amount: 1}}}
	rec := &runRecorder{}
	var delivered []treasury.Payout
	k := New(engine, adminCap(), Schedule{QueueBatch: 16}, rec, func(p []treasury.Payout) { delivered = p }, nil)

	require.NoError(t, k.RunProcessQueue())
	require.Equal(t, uint64(16), engine.queueBatch)
	require.Len(t, delivered, 2)
	require.Equal(t, []string{"keeper"}, engine.callers)
	require.Equal(t, []error{nil}, rec.runs[JobProcessQueue])
}

func TestRunDistributeReportsInformationalOutcomes(t *testing.T) {
	engine := &fakeEngine{distErr: treasury.ErrNothingToDistribute}
	rec := &runRecorder{}
	k := New(engine, adminCap(), Schedule{RewardsBatch: 500}, rec, nil, nil)

	err := k.RunDistribute()
	require.True(t, errors.Is(err, treasury.ErrNothingToDistribute))
	require.Equal(t, uint64(500), engine.rewardsBatch)
	require.Len(t, rec.runs[JobDistribute], 1)
}

func TestRunInvariantCheckSurfacesViolation(t *testing.T) {
	engine := &fakeEngine{invariantErr: treasury.ErrInvariantViolated}
	rec := &runRecorder{}
	k := New(engine, adminCap(), Schedule{}, rec, nil, nil)
	require.True(t, errors.Is(k.RunInvariantCheck(), treasury.ErrInvariantViolated))
	require.Len(t, rec.runs[JobInvariants], 1)
}

func TestRegisterSkipsEmptySchedules(t *testing.T) {
	k := New(&fakeEngine{}, adminCap(), Schedule{ProcessQueue: "@every 1m", Invariants: "@hourly"}, nil, nil, nil)
	require.NoError(t, k.Register())
	require.Len(t, k.cron.Entries(), 2)

	bad := New(&fakeEngine{}, adminCap(), Schedule{Distribute: "whenever"}, nil, nil, nil)
	require.Error(t, bad.Register())
}

func TestKeeperDrivesRealEngine(t *testing.T) {
	engine := treasury.NewEngine(treasury.NewStore(storage.NewMemDB()))
	now := time.Unix(1_000_000, 0)
	engine.SetClock(func() time.Time { return now })

	admin := adminCap()
	params := treasury.DefaultParams()
	params.RewardFeeBps = 0
	params.PlatformFeeBps = 0
	params.MinDistributionInterval = 0
	require.NoError(t, engine.Initialize(admin, params))

	// Credited before any stake exists, so the whole fee is parked.
	require.NoError(t, engine.CreditFee(admin, 300, treasury.FeeToRewards))
	alice := nativecommon.NewCapability("alice", nativecommon.RoleStaker)
	_, err := engine.Deposit(alice, 1_000)
	require.NoError(t, err)
	now = now.Add(time.Hour)

	k := New(engine, admin, Schedule{QueueBatch: 4, RewardsBatch: 200}, nil, nil, nil)
	require.NoError(t, k.RunProcessQueue())
	require.NoError(t, k.RunDistribute())
	require.NoError(t, k.RunInvariantCheck())

	ledger, err := engine.Ledger()
	require.NoError(t, err)
	require.Equal(t, uint64(1), ledger.Epoch)
	require.Equal(t, uint64(200), ledger.BonusReserve)
	require.Equal(t, uint64(100), ledger.PendingRewards)
}
