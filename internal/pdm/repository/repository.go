package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-pdm/internal/pdm/entity"
	"gorm.io/gorm"
)

// BOMStructureStore BOM结构存储。按根物料查找用于保证一个根物料只有一个BOM。
type BOMStructureStore interface {
	FindByID(ctx context.Context, id string) (*entity.BOMStructure, error)
	FindByRootItem(ctx context.Context, rootItemID string) (*entity.BOMStructure, error)
	Create(ctx context.Context, bom *entity.BOMStructure) error
	Save(ctx context.Context, bom *entity.BOMStructure) error
}

// BOMVersionStore BOM版本快照
type BOMVersionStore interface {
	ListByBOM(ctx context.Context, bomID string) ([]entity.BOMVersion, error)
	FindByNumber(ctx context.Context, bomID string, number int) (*entity.BOMVersion, error)
}

// ProjectStore 项目存储
type ProjectStore interface {
	FindByID(ctx context.Context, id string) (*entity.Project, error)
	Create(ctx context.Context, project *entity.Project) error
	Save(ctx context.Context, project *entity.Project) error
	ListByStatus(ctx context.Context, status entity.ProjectStatus) ([]entity.Project, error)
	ListByManager(ctx context.Context, userID string) ([]entity.Project, error)
	ListOverdue(ctx context.Context, now time.Time) ([]entity.Project, error)
}

// ProjectItemStore 项目节点查询
type ProjectItemStore interface {
	ListByProject(ctx context.Context, projectID string) ([]entity.ProjectItem, error)
	ListByResponsible(ctx context.Context, userID string) ([]entity.ProjectItem, error)
	ListOverdue(ctx context.Context, now time.Time) ([]entity.ProjectItem, error)
}

var (
	_ BOMStructureStore = (*BOMStructureRepository)(nil)
	_ BOMVersionStore   = (*BOMVersionRepository)(nil)
	_ ProjectStore      = (*ProjectRepository)(nil)
	_ ProjectItemStore  = (*ProjectItemRepository)(nil)
)

// Repositories 仓库集合
type Repositories struct {
	BOM         *BOMStructureRepository
	BOMVersion  *BOMVersionRepository
	Project     *ProjectRepository
	ProjectItem *ProjectItemRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		BOM:         NewBOMStructureRepository(db),
		BOMVersion:  NewBOMVersionRepository(db),
		Project:     NewProjectRepository(db),
		ProjectItem: NewProjectItemRepository(db),
	}
}

// Models lists every table owned by this package, in migration order.
func Models() []interface{} {
	return []interface{}{
		&entity.BOMStructure{},
		&entity.BOMItem{},
		&entity.BOMVersion{},
		&entity.Project{},
		&entity.ProjectItem{},
		&entity.UserAssignment{},
	}
}

// AutoMigrate 自动迁移
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// notFound maps gorm's record-not-found onto the domain error.
func notFound(err error, kind, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return entity.NewNotFoundError(kind, id)
	}
	return err
}

func conflict(kind, id string, expected int) error {
	return fmt.Errorf("%s %s at version %d: %w", kind, id, expected, entity.ErrConcurrencyConflict)
}
