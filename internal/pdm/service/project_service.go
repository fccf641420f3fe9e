package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-pdm/internal/pdm/entity"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/lock"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProjectService 项目执行服务
type ProjectService struct {
	projects   repository.ProjectStore
	items      repository.ProjectItemStore
	boms       repository.BOMStructureStore
	locker     lock.Locker
	dispatcher Dispatcher
	opts       Options
	log        *zap.Logger
}

func NewProjectService(projects repository.ProjectStore, items repository.ProjectItemStore, boms repository.BOMStructureStore,
	locker lock.Locker, dispatcher Dispatcher, opts Options, log *zap.Logger) *ProjectService {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &ProjectService{
		projects:   projects,
		items:      items,
		boms:       boms,
		locker:     locker,
		dispatcher: dispatcher,
		opts:       opts,
		log:        orNop(log).Named("project"),
	}
}

// CreateFromBOM 根据BOM生成项目执行树
func (s *ProjectService) CreateFromBOM(ctx context.Context, bomID, name string, quantity decimal.Decimal, actor string) (*entity.Project, error) {
	bom, err := s.boms.FindByID(ctx, bomID)
	if err != nil {
		return nil, err
	}
	project, err := entity.NewProjectFromBOM(bom, name, quantity, actor)
	if err != nil {
		return nil, err
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, err
	}
	s.log.Info("project created from bom",
		zap.String("project_id", project.ID),
		zap.String("bom_id", bomID),
		zap.Int("items", len(project.Items())))
	dispatch(ctx, s.log, s.dispatcher, project.PullEvents())
	return project, nil
}

// CreateProject 创建空项目
func (s *ProjectService) CreateProject(ctx context.Context, name, actor string) (*entity.Project, error) {
	project, err := entity.NewProject(name, actor)
	if err != nil {
		return nil, err
	}
	if err := s.projects.Create(ctx, project); err != nil {
		return nil, err
	}
	dispatch(ctx, s.log, s.dispatcher, project.PullEvents())
	return project, nil
}

func (s *ProjectService) GetProject(ctx context.Context, id string) (*entity.Project, error) {
	return s.projects.FindByID(ctx, id)
}

// mutate runs cmd inside the load/save/dispatch cycle with conflict retries.
// serialized commands additionally hold the per-project lock for the whole cycle.
func (s *ProjectService) mutate(ctx context.Context, id, op string, serialized bool, cmd func(p *entity.Project) error) (*entity.Project, error) {
	if serialized {
		release, err := s.acquire(ctx, id)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				s.log.Warn("release project lock", zap.String("project_id", id), zap.Error(err))
			}
		}()
	}

	var saved *entity.Project
	err := withRetry(ctx, s.log, s.opts.MaxConflictRetries, op, id, func(ctx context.Context) error {
		project, err := s.projects.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := cmd(project); err != nil {
			return err
		}
		if err := s.projects.Save(ctx, project); err != nil {
			return err
		}
		saved = project
		return nil
	})
	if err != nil {
		return nil, err
	}
	dispatch(ctx, s.log, s.dispatcher, saved.PullEvents())
	return saved, nil
}

func (s *ProjectService) acquire(ctx context.Context, projectID string) (lock.ReleaseFunc, error) {
	waitCtx := ctx
	if s.opts.LockWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.opts.LockWait)
		defer cancel()
	}
	release, err := s.locker.Acquire(waitCtx, "project:"+projectID, s.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock project %s: %w", projectID, err)
	}
	return release, nil
}

func (s *ProjectService) ChangeStatus(ctx context.Context, projectID string, status entity.ProjectStatus, actor string) (*entity.Project, error) {
	return s.mutate(ctx, projectID, "change_status", true, func(p *entity.Project) error {
		return p.ChangeStatus(status, actor)
	})
}

func (s *ProjectService) SetPlannedDates(ctx context.Context, projectID string, start, end *time.Time, actor string) error {
	_, err := s.mutate(ctx, projectID, "set_planned_dates", false, func(p *entity.Project) error {
		return p.SetPlannedDates(start, end, actor)
	})
	return err
}

func (s *ProjectService) SetProjectManager(ctx context.Context, projectID, userID, actor string) error {
	_, err := s.mutate(ctx, projectID, "set_project_manager", false, func(p *entity.Project) error {
		return p.SetProjectManager(userID, actor)
	})
	return err
}

func (s *ProjectService) AssignUser(ctx context.Context, projectID, userID, role, actor string) error {
	_, err := s.mutate(ctx, projectID, "assign_user", false, func(p *entity.Project) error {
		_, err := p.AssignUser(userID, role, actor)
		return err
	})
	return err
}

func (s *ProjectService) UnassignUser(ctx context.Context, projectID, userID, role, actor string) error {
	_, err := s.mutate(ctx, projectID, "unassign_user", false, func(p *entity.Project) error {
		return p.UnassignUser(userID, role, actor)
	})
	return err
}

// AddItem 手工添加项目节点
func (s *ProjectService) AddItem(ctx context.Context, projectID string, in entity.AddProjectItemInput, actor string) (*entity.ProjectItem, error) {
	var item *entity.ProjectItem
	_, err := s.mutate(ctx, projectID, "add_item", true, func(p *entity.Project) error {
		var err error
		item, err = p.AddItem(in, actor)
		return err
	})
	return item, err
}

func (s *ProjectService) RemoveItem(ctx context.Context, projectID, itemID string, removeDescendants bool, actor string) error {
	_, err := s.mutate(ctx, projectID, "remove_item", true, func(p *entity.Project) error {
		return p.RemoveItem(itemID, removeDescendants, actor)
	})
	return err
}

// UpdateManufacturingStatus 更新自制件状态
func (s *ProjectService) UpdateManufacturingStatus(ctx context.Context, projectID, itemID string, status entity.ManufacturingStatus, actor string) error {
	_, err := s.mutate(ctx, projectID, "update_manufacturing_status", true, func(p *entity.Project) error {
		return p.UpdateManufacturingStatus(itemID, status, actor)
	})
	return err
}

// UpdatePurchaseStatus 更新外购件状态
func (s *ProjectService) UpdatePurchaseStatus(ctx context.Context, projectID, itemID string, status entity.PurchaseStatus, actor string) error {
	_, err := s.mutate(ctx, projectID, "update_purchase_status", true, func(p *entity.Project) error {
		return p.UpdatePurchaseStatus(itemID, status, actor)
	})
	return err
}

func (s *ProjectService) RecordQuantityCompleted(ctx context.Context, projectID, itemID string, completed decimal.Decimal, actor string) error {
	_, err := s.mutate(ctx, projectID, "record_quantity", true, func(p *entity.Project) error {
		return p.RecordQuantityCompleted(itemID, completed, actor)
	})
	return err
}

func (s *ProjectService) AssignResponsible(ctx context.Context, projectID, itemID, userID, actor string) error {
	_, err := s.mutate(ctx, projectID, "assign_responsible", false, func(p *entity.Project) error {
		return p.AssignResponsible(itemID, userID, actor)
	})
	return err
}

func (s *ProjectService) SetItemDates(ctx context.Context, projectID, itemID string, dates entity.ItemDates, actor string) error {
	_, err := s.mutate(ctx, projectID, "set_item_dates", false, func(p *entity.Project) error {
		return p.SetItemDates(itemID, dates, actor)
	})
	return err
}

func (s *ProjectService) SetDelayReason(ctx context.Context, projectID, itemID string, reasonID *string, actor string) error {
	_, err := s.mutate(ctx, projectID, "set_delay_reason", false, func(p *entity.Project) error {
		return p.SetDelayReason(itemID, reasonID, actor)
	})
	return err
}

// SetContractor 指定制造方
func (s *ProjectService) SetContractor(ctx context.Context, projectID, itemID string, manufacturer entity.ManufacturerType, contractorID *string, actor string) error {
	_, err := s.mutate(ctx, projectID, "set_contractor", false, func(p *entity.Project) error {
		return p.SetContractor(itemID, manufacturer, contractorID, actor)
	})
	return err
}

// SetSupplier 指定材料供应方
func (s *ProjectService) SetSupplier(ctx context.Context, projectID, itemID string, supply entity.MaterialSupplyType, supplierID *string, actor string) error {
	_, err := s.mutate(ctx, projectID, "set_supplier", false, func(p *entity.Project) error {
		return p.SetSupplier(itemID, supply, supplierID, actor)
	})
	return err
}

func (s *ProjectService) ListItems(ctx context.Context, projectID string) ([]entity.ProjectItem, error) {
	return s.items.ListByProject(ctx, projectID)
}

// RecalculateProgress 按数量加权重新计算项目进度
func (s *ProjectService) RecalculateProgress(ctx context.Context, projectID, actor string) (decimal.Decimal, error) {
	var progress decimal.Decimal
	_, err := s.mutate(ctx, projectID, "recalculate_progress", true, func(p *entity.Project) error {
		var err error
		progress, err = p.RecalculateProgress(actor)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	s.log.Info("progress recalculated", zap.String("project_id", projectID), zap.String("progress_percent", progress.String()))
	return progress, nil
}

// AverageProgress returns the unweighted roll-up without changing the project.
func (s *ProjectService) AverageProgress(ctx context.Context, projectID string) (decimal.Decimal, error) {
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		return decimal.Zero, err
	}
	return project.AverageProgress(), nil
}

func (s *ProjectService) ListByStatus(ctx context.Context, status entity.ProjectStatus) ([]entity.Project, error) {
	return s.projects.ListByStatus(ctx, status)
}

func (s *ProjectService) ListByManager(ctx context.Context, userID string) ([]entity.Project, error) {
	return s.projects.ListByManager(ctx, userID)
}

func (s *ProjectService) ListByResponsible(ctx context.Context, userID string) ([]entity.ProjectItem, error) {
	return s.items.ListByResponsible(ctx, userID)
}

// OverdueReport 逾期项目与节点
type OverdueReport struct {
	Projects []entity.Project
	Items    []entity.ProjectItem
}

func (s *ProjectService) ListOverdue(ctx context.Context, now time.Time) (*OverdueReport, error) {
	projects, err := s.projects.ListOverdue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list overdue projects: %w", err)
	}
	items, err := s.items.ListOverdue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list overdue items: %w", err)
	}
	return &OverdueReport{Projects: projects, Items: items}, nil
}
