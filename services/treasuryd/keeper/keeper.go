package keeper

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	nativecommon "github.com/D2dProtocol/d2d-program/native/common"
	"github.com/D2dProtocol/d2d-program/native/treasury"
)

// Job names used for logging and metrics.
const (
	JobProcessQueue = "process_queue"
	JobDistribute   = "distribute_rewards"
	JobInvariants   = "check_invariants"
)

// Engine is the subset of the treasury engine the keeper drives.
type Engine interface {
	ProcessQueue(capability *nativecommon.Capability, maxEntries uint64) ([]treasury.Payout, error)
	DistributePendingRewards(capability *nativecommon.Capability, maxBatch uint64) (treasury.DistributionResult, error)
	CheckInvariants() error
}

// Recorder counts job outcomes.
type Recorder interface {
	RecordKeeperRun(job string, err error)
}

// PayoutSink receives queue payouts for the external transfer executor.
type PayoutSink func(payouts []treasury.Payout)

// Schedule lists the cron expressions for each job. Empty expressions leave
// the job unscheduled.
type Schedule struct {
	ProcessQueue string
	QueueBatch   uint64
	Distribute   string
	RewardsBatch uint64
	Invariants   string
}

// Keeper runs the periodic admin steps of the treasury.
type Keeper struct {
	cron       *cron.Cron
	engine     Engine
	capability *nativecommon.Capability
	recorder   Recorder
	payouts    PayoutSink
	logger     *slog.Logger
	schedule   Schedule

	// serialises manual triggers with scheduled runs of the same job
	mu sync.Mutex
}

// New builds a keeper acting with the admin capability.
func New(engine Engine, capability *nativecommon.Capability, schedule Schedule, recorder Recorder, payouts PayoutSink, logger *slog.Logger) *Keeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		engine:     engine,
		capability: capability,
		recorder:   recorder,
		payouts:    payouts,
		logger:     logger,
		schedule:   schedule,
	}
}

// Register adds every configured job to the scheduler.
func (k *Keeper) Register() error {
	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{JobProcessQueue, k.schedule.ProcessQueue, func() { _ = k.RunProcessQueue() }},
		{JobDistribute, k.schedule.Distribute, func() { _ = k.RunDistribute() }},
		{JobInvariants, k.schedule.Invariants, func() { _ = k.RunInvariantCheck() }},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := k.cron.AddFunc(job.spec, job.run); err != nil {
			return fmt.Errorf("register %s: %w", job.name, err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (k *Keeper) Start() {
	k.cron.Start()
	k.logger.Info("keeper started", slog.Int("jobs", len(k.cron.Entries())))
}

// Stop stops the scheduler and waits for running jobs.
func (k *Keeper) Stop() {
	<-k.cron.Stop().Done()
	k.logger.Info("keeper stopped")
}

// RunProcessQueue fulfils queued withdrawals from available liquidity.
func (k *Keeper) RunProcessQueue() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	payouts, err := k.engine.ProcessQueue(k.capability, k.schedule.QueueBatch)
	k.record(JobProcessQueue, err)
	if err != nil {
		return err
	}
	if len(payouts) > 0 {
		var total uint64
		for _, p := range payouts {
			total += p.Amount
		}
		k.logger.Info("queue payouts ready",
			slog.Int("entries", len(payouts)),
			slog.Uint64("amount", total))
		if k.payouts != nil {
			k.payouts(payouts)
		}
	}
	return nil
}

// RunDistribute releases a slice of parked rewards into the duration bonus.
func (k *Keeper) RunDistribute() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	res, err := k.engine.DistributePendingRewards(k.capability, k.schedule.RewardsBatch)
	k.record(JobDistribute, err)
	if err != nil {
		return err
	}
	k.logger.Info("pending rewards released",
		slog.Uint64("epoch", res.Epoch),
		slog.Uint64("released", res.Released))
	return nil
}

// RunInvariantCheck reconciles the records and logs any violation.
func (k *Keeper) RunInvariantCheck() error {
	err := k.engine.CheckInvariants()
	k.record(JobInvariants, err)
	return err
}

func (k *Keeper) record(job string, err error) {
	if k.recorder != nil {
		k.recorder.RecordKeeperRun(job, err)
	}
	switch {
	case err == nil:
	case !treasury.IsFatal(err), errors.Is(err, treasury.ErrDistributionTooSoon), errors.Is(err, treasury.ErrNotInitialized):
		k.logger.Debug("keeper job skipped", slog.String("job", job), slog.String("reason", err.Error()))
	default:
		k.logger.Error("keeper job failed", slog.String("job", job), slog.Any("error", err))
	}
}
