package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/D2dProtocol/d2d-program/native/treasury"
)

const defaultBuffer = 256

// ErrClosed is returned once the journal has been shut down.
var ErrClosed = errors.New("journal: closed")

// OperationRecord is one journaled treasury operation with the ledger
// aggregate as it stood after the commit.
type OperationRecord struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Operation         string    `gorm:"size:64;index" json:"operation"`
	Caller            string    `gorm:"size:128;index" json:"caller"`
	Outcome           string    `gorm:"size:16;index" json:"outcome"`
	Error             string    `gorm:"size:512" json:"error"`
	LedgerTime        uint64    `gorm:"index" json:"ledger_time"`
	LiquidBalance     uint64    `json:"liquid_balance"`
	TotalBorrowed     uint64    `json:"total_borrowed"`
	QueuedWithdrawals uint64    `json:"queued_withdrawals"`
	TotalDeposited    uint64    `json:"total_deposited"`
	PendingRewards    uint64    `json:"pending_rewards"`
	BonusReserve      uint64    `json:"bonus_reserve"`
	RewardPool        uint64    `json:"reward_pool"`
	PlatformPool      uint64    `json:"platform_pool"`
	RewardPerShare    string    `gorm:"size:80" json:"reward_per_share"`
	Epoch             uint64    `json:"epoch"`
	RecordedAt        time.Time `gorm:"index" json:"recorded_at"`
}

// TableName pins the table name independent of gorm's pluralisation rules.
func (OperationRecord) TableName() string { return "treasury_operations" }

type item struct {
	record *OperationRecord
	flush  chan struct{}
}

// Journal persists operation events on a background writer so the engine's
// observer hook never waits on the database.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	clock  func() time.Time

	mu      sync.RWMutex
	closed  bool
	items   chan item
	done    chan struct{}
	dropped atomic.Uint64
}

// Option customises the journal.
type Option func(*Journal)

// WithLogger routes write failures to logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithClock overrides the wall clock used for RecordedAt.
func WithClock(clock func() time.Time) Option {
	return func(j *Journal) {
		if clock != nil {
			j.clock = clock
		}
	}
}

// WithBuffer sets the number of events held while the writer catches up.
func WithBuffer(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.items = make(chan item, n)
		}
	}
}

// Dialector picks the gorm driver for dsn. postgres:// and postgresql:// URLs
// and libpq key/value strings select postgres; anything else is handed to
// sqlite.
func Dialector(dsn string) (gorm.Dialector, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("journal dsn required")
	}
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return postgres.Open(dsn), nil
	case strings.HasPrefix(lower, "host=") || strings.Contains(lower, " host="):
		return postgres.Open(dsn), nil
	}
	return sqlite.Open(dsn), nil
}

// Open connects to the journal database, migrates the schema and starts the
// writer.
func Open(dsn string, opts ...Option) (*Journal, error) {
	dialector, err := Dialector(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.AutoMigrate(&OperationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	j := &Journal{
		db:     db,
		logger: slog.Default(),
		clock:  time.Now,
		items:  make(chan item, defaultBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	go j.run()
	return j, nil
}

// ObserveOperation satisfies treasury.Observer. Events arriving while the
// buffer is full are dropped and counted.
func (j *Journal) ObserveOperation(event treasury.OperationEvent) {
	if j == nil {
		return
	}
	record := newRecord(event, j.clock())
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.items <- item{record: record}:
	default:
		dropped := j.dropped.Add(1)
		j.logger.Warn("journal buffer full, dropping event",
			slog.String("operation", event.Operation),
			slog.Uint64("dropped", dropped))
	}
}

func newRecord(event treasury.OperationEvent, now time.Time) *OperationRecord {
	record := &OperationRecord{
		ID:         uuid.New(),
		Operation:  event.Operation,
		Caller:     event.Caller,
		Outcome:    string(event.Outcome),
		LedgerTime: event.Timestamp,
		RecordedAt: now.UTC(),
	}
	if event.Err != nil {
		msg := event.Err.Error()
		if len(msg) > 512 {
			msg = msg[:512]
		}
		record.Error = msg
	}
	if l := event.Ledger; l != nil {
		record.LiquidBalance = l.LiquidBalance
		record.TotalBorrowed = l.TotalBorrowed
		record.QueuedWithdrawals = l.QueuedWithdrawals
		record.TotalDeposited = l.TotalDeposited
		record.PendingRewards = l.PendingRewards
		record.BonusReserve = l.BonusReserve
		record.RewardPool = l.RewardPool
		record.PlatformPool = l.PlatformPool
		record.Epoch = l.Epoch
		if l.RewardPerShare != nil {
			record.RewardPerShare = l.RewardPerShare.Dec()
		}
	}
	return record
}

func (j *Journal) run() {
	defer close(j.done)
	for it := range j.items {
		if it.flush != nil {
			close(it.flush)
			continue
		}
		if err := j.db.Create(it.record).Error; err != nil {
			j.logger.Error("journal write failed",
				slog.String("operation", it.record.Operation),
				slog.Any("error", err))
		}
	}
}

// Dropped reports how many events were discarded on a full buffer.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Flush blocks until every event accepted before the call has been written.
func (j *Journal) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrClosed
	}
	select {
	case j.items <- item{flush: marker}:
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}
	j.mu.RUnlock()
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recent returns the newest records first. A zero limit defaults to 50.
func (j *Journal) Recent(ctx context.Context, limit int) ([]OperationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []OperationRecord
	err := j.db.WithContext(ctx).
		Order("recorded_at DESC").
		Order("ledger_time DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return records, nil
}

// ByOperation returns records for a single operation name, newest first.
func (j *Journal) ByOperation(ctx context.Context, operation string, limit int) ([]OperationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []OperationRecord
	err := j.db.WithContext(ctx).
		Where("operation = ?", operation).
		Order("recorded_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	return records, nil
}

// Close drains buffered events and releases the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.items)
	j.mu.Unlock()
	<-j.done

	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
