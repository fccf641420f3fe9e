package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-pdm/internal/pdm/entity"
	"gorm.io/gorm"
)

var terminalStatuses = []entity.ProjectStatus{entity.ProjectCompleted, entity.ProjectCancelled}

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) DB() *gorm.DB {
	return r.db
}

// FindByID 加载项目聚合（含节点与成员）
func (r *ProjectRepository) FindByID(ctx context.Context, id string) (*entity.Project, error) {
	var header entity.Project
	if err := r.db.WithContext(ctx).First(&header, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "project", id)
	}
	var items []entity.ProjectItem
	if err := r.db.WithContext(ctx).Where("project_id = ?", id).Order("seq").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load project items: %w", err)
	}
	var members []entity.UserAssignment
	if err := r.db.WithContext(ctx).Where("project_id = ?", id).Order("assigned_at").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("load project assignments: %w", err)
	}
	return entity.RestoreProject(header, items, members), nil
}

// Create 创建项目
func (r *ProjectRepository) Create(ctx context.Context, project *entity.Project) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		return writeProjectRows(tx, project)
	})
	if err != nil {
		return err
	}
	project.MarkPersisted()
	return nil
}

// Save writes the aggregate with an optimistic version check.
func (r *ProjectRepository) Save(ctx context.Context, project *entity.Project) error {
	expected := project.PersistedVersion()
	if project.Version == expected {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entity.Project{}).
			Where("id = ? AND version = ?", project.ID, expected).
			Updates(map[string]interface{}{
				"name":               project.Name,
				"description":        project.Description,
				"status":             project.Status,
				"planned_start":      project.PlannedStart,
				"planned_end":        project.PlannedEnd,
				"actual_start":       project.ActualStart,
				"actual_end":         project.ActualEnd,
				"progress_percent":   project.ProgressPercent,
				"project_manager_id": project.ProjectManagerID,
				"version":            project.Version,
				"updated_by":         project.UpdatedBy,
				"updated_at":         project.UpdatedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("update project: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return conflict("project", project.ID, expected)
		}
		if err := tx.Where("project_id = ?", project.ID).Delete(&entity.ProjectItem{}).Error; err != nil {
			return fmt.Errorf("delete project items: %w", err)
		}
		if err := tx.Where("project_id = ?", project.ID).Delete(&entity.UserAssignment{}).Error; err != nil {
			return fmt.Errorf("delete project assignments: %w", err)
		}
		return writeProjectRows(tx, project)
	})
	if err != nil {
		return err
	}
	project.MarkPersisted()
	return nil
}

func writeProjectRows(tx *gorm.DB, project *entity.Project) error {
	items := project.Items()
	for i := range items {
		items[i].Seq = i
	}
	if len(items) > 0 {
		if err := tx.CreateInBatches(&items, 500).Error; err != nil {
			return fmt.Errorf("create project items: %w", err)
		}
	}
	members := project.Assignments()
	if len(members) > 0 {
		if err := tx.Create(&members).Error; err != nil {
			return fmt.Errorf("create project assignments: %w", err)
		}
	}
	return nil
}

// ListByStatus 按状态获取项目（仅表头）
func (r *ProjectRepository) ListByStatus(ctx context.Context, status entity.ProjectStatus) ([]entity.Project, error) {
	var projects []entity.Project
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at DESC").Find(&projects).Error
	return projects, err
}

// ListByManager 获取项目经理负责的项目
func (r *ProjectRepository) ListByManager(ctx context.Context, userID string) ([]entity.Project, error) {
	var projects []entity.Project
	err := r.db.WithContext(ctx).Where("project_manager_id = ?", userID).Order("created_at DESC").Find(&projects).Error
	return projects, err
}

// ListOverdue 计划结束已过且未结束的项目
func (r *ProjectRepository) ListOverdue(ctx context.Context, now time.Time) ([]entity.Project, error) {
	var projects []entity.Project
	err := r.db.WithContext(ctx).
		Where("planned_end IS NOT NULL AND planned_end < ?", now).
		Where("status NOT IN ?", terminalStatuses).
		Order("planned_end").
		Find(&projects).Error
	return projects, err
}

type ProjectItemRepository struct {
	db *gorm.DB
}

func NewProjectItemRepository(db *gorm.DB) *ProjectItemRepository {
	return &ProjectItemRepository{db: db}
}

// ListByProject 获取项目节点
func (r *ProjectItemRepository) ListByProject(ctx context.Context, projectID string) ([]entity.ProjectItem, error) {
	var items []entity.ProjectItem
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("seq").Find(&items).Error
	return items, err
}

// ListByResponsible 获取用户负责的节点
func (r *ProjectItemRepository) ListByResponsible(ctx context.Context, userID string) ([]entity.ProjectItem, error) {
	var items []entity.ProjectItem
	err := r.db.WithContext(ctx).Where("responsible_user_id = ?", userID).Order("project_id, seq").Find(&items).Error
	return items, err
}

// ListOverdue returns unfinished items of open projects whose deadline (planned
// end, else required date) has passed.
func (r *ProjectItemRepository) ListOverdue(ctx context.Context, now time.Time) ([]entity.ProjectItem, error) {
	var items []entity.ProjectItem
	err := r.db.WithContext(ctx).
		Where("COALESCE(planned_end, required_date) < ?", now).
		Where("manufacturing_status IS DISTINCT FROM ?", entity.ManufacturingCompleted).
		Where("(purchase_status IS NULL OR purchase_status NOT IN ?)",
			[]entity.PurchaseStatus{entity.PurchaseDelivered, entity.PurchaseNotRequired}).
		Where("project_id IN (?)",
			r.db.Model(&entity.Project{}).Select("id").Where("status NOT IN ?", terminalStatuses)).
		Order("project_id, seq").
		Find(&items).Error
	return items, err
}
