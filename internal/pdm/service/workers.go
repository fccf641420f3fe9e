package service

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-pdm/internal/pdm/entity"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/eventhub"
	"go.uber.org/zap"
)

// progressTriggers are the events after which project progress is stale.
var progressTriggers = []entity.EventKind{
	entity.EventProjectItemStatus,
	entity.EventProjectItemQuantity,
	entity.EventProjectItemAdded,
	entity.EventProjectItemRemoved,
}

// RecalcWorker recalculates project progress when item progress changes.
type RecalcWorker struct {
	hub      *eventhub.Hub
	projects *ProjectService
	buffer   int
	actor    string
	log      *zap.Logger
}

func NewRecalcWorker(hub *eventhub.Hub, projects *ProjectService, buffer int, actor string, log *zap.Logger) *RecalcWorker {
	return &RecalcWorker{
		hub:      hub,
		projects: projects,
		buffer:   buffer,
		actor:    actor,
		log:      orNop(log).Named("recalc"),
	}
}

// Run consumes events until ctx is done.
func (w *RecalcWorker) Run(ctx context.Context) {
	sub := w.hub.Subscribe("recalc-worker", w.buffer, progressTriggers...)
	defer w.hub.Unsubscribe(sub.ID)
	w.log.Info("recalc worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("recalc worker stopped")
			return
		case e, ok := <-sub.Events:
			if !ok {
				return
			}
			w.handle(ctx, e)
		}
	}
}

func (w *RecalcWorker) handle(ctx context.Context, e entity.DomainEvent) {
	if e.AggregateType != entity.AggregateProject {
		return
	}
	progress, err := w.projects.RecalculateProgress(ctx, e.AggregateID, w.actor)
	switch {
	case err == nil:
		w.log.Debug("recalculated",
			zap.String("project_id", e.AggregateID),
			zap.String("trigger", string(e.Kind)),
			zap.String("progress_percent", progress.String()))
	case entity.IsRule(err, entity.RuleProjectTerminal):
		w.log.Debug("project closed, skipping", zap.String("project_id", e.AggregateID))
	default:
		w.log.Error("recalculate progress", zap.String("project_id", e.AggregateID), zap.Error(err))
	}
}

// OverdueSweeper periodically reports projects and items past their deadline.
type OverdueSweeper struct {
	projects *ProjectService
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger
}

func NewOverdueSweeper(projects *ProjectService, interval time.Duration, log *zap.Logger) *OverdueSweeper {
	return &OverdueSweeper{
		projects: projects,
		interval: interval,
		now:      time.Now,
		log:      orNop(log).Named("overdue"),
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *OverdueSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("overdue sweep", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *OverdueSweeper) Sweep(ctx context.Context) (*OverdueReport, error) {
	report, err := s.projects.ListOverdue(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for _, p := range report.Projects {
		s.log.Warn("project overdue",
			zap.String("project_id", p.ID),
			zap.String("name", p.Name),
			zap.String("status", string(p.Status)),
			zap.Timep("planned_end", p.PlannedEnd))
	}
	for _, it := range report.Items {
		s.log.Warn("project item overdue",
			zap.String("project_id", it.ProjectID),
			zap.String("item_id", it.ID),
			zap.String("nomenclature_item_id", it.NomenclatureItemID),
			zap.Stringp("responsible_user_id", it.ResponsibleUserID))
	}
	s.log.Info("overdue sweep done", zap.Int("projects", len(report.Projects)), zap.Int("items", len(report.Items)))
	return report, nil
}
