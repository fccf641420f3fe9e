package service

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-pdm/internal/config"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/entity"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/lock"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/repository"
	"go.uber.org/zap"
)

// Dispatcher receives the events drained from an aggregate after a successful save.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []entity.DomainEvent) error
}

// Options 应用服务参数
type Options struct {
	MaxConflictRetries int
	LockTTL            time.Duration
	LockWait           time.Duration
}

func OptionsFromConfig(cfg config.EngineConfig) Options {
	return Options{
		MaxConflictRetries: cfg.MaxConflictRetries,
		LockTTL:            cfg.RecalcLockTTL,
		LockWait:           cfg.LockWait,
	}
}

// Services 服务集合
type Services struct {
	BOM     *BOMService
	Project *ProjectService
}

// NewServices 创建服务集合
func NewServices(repos *repository.Repositories, locker lock.Locker, dispatcher Dispatcher, opts Options, log *zap.Logger) *Services {
	return &Services{
		BOM:     NewBOMService(repos.BOM, repos.BOMVersion, dispatcher, opts, log),
		Project: NewProjectService(repos.Project, repos.ProjectItem, repos.BOM, locker, dispatcher, opts, log),
	}
}

// withRetry runs attempt until it succeeds, fails with anything other than a
// version conflict, or the retry budget is spent. attempt must reload the
// aggregate itself.
func withRetry(ctx context.Context, log *zap.Logger, retries int, op, id string, attempt func(ctx context.Context) error) error {
	for n := 0; ; n++ {
		err := attempt(ctx)
		if err == nil || !errors.Is(err, entity.ErrConcurrencyConflict) || n >= retries {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		log.Warn("concurrency conflict, retrying",
			zap.String("op", op),
			zap.String("aggregate_id", id),
			zap.Int("attempt", n+1))
	}
}

func dispatch(ctx context.Context, log *zap.Logger, d Dispatcher, events []entity.DomainEvent) {
	if d == nil || len(events) == 0 {
		return
	}
	if err := d.Dispatch(ctx, events); err != nil {
		log.Warn("dispatch events", zap.Int("count", len(events)), zap.Error(err))
		return
	}
	log.Debug("events dispatched",
		zap.String("aggregate_id", events[0].AggregateID),
		zap.Int("count", len(events)),
		zap.Int("version", events[len(events)-1].Version))
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
