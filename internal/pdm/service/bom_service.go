package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-pdm/internal/pdm/entity"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BOMService BOM结构服务：加载、执行命令、保存、分发事件
type BOMService struct {
	boms       repository.BOMStructureStore
	versions   repository.BOMVersionStore
	dispatcher Dispatcher
	opts       Options
	categories entity.CategoryTable
	log        *zap.Logger
}

func NewBOMService(boms repository.BOMStructureStore, versions repository.BOMVersionStore, dispatcher Dispatcher, opts Options, log *zap.Logger) *BOMService {
	return &BOMService{
		boms:       boms,
		versions:   versions,
		dispatcher: dispatcher,
		opts:       opts,
		log:        orNop(log).Named("bom"),
	}
}

// SetCategoryTable overrides the built-in category table for every loaded BOM.
func (s *BOMService) SetCategoryTable(t entity.CategoryTable) {
	s.categories = t
}

// CreateBOMInput 创建BOM请求
type CreateBOMInput struct {
	RootItemID   string
	RootCategory entity.Category
	Name         string
	Description  string
}

// CreateBOM creates the BOM of a root item. A root item has at most one BOM.
func (s *BOMService) CreateBOM(ctx context.Context, in CreateBOMInput, actor string) (*entity.BOMStructure, error) {
	existing, err := s.boms.FindByRootItem(ctx, in.RootItemID)
	switch {
	case err == nil:
		return nil, entity.NewBusinessRuleError(entity.RuleBOMRootTaken, "root item %s already has bom %s", in.RootItemID, existing.ID)
	case !errors.Is(err, entity.ErrNotFound):
		return nil, fmt.Errorf("find bom by root: %w", err)
	}

	bom, err := entity.NewBOMStructure(in.RootItemID, in.RootCategory, in.Name, in.Description, actor)
	if err != nil {
		return nil, err
	}
	if err := s.boms.Create(ctx, bom); err != nil {
		return nil, err
	}
	s.log.Info("bom created", zap.String("bom_id", bom.ID), zap.String("root_item_id", bom.RootItemID))
	dispatch(ctx, s.log, s.dispatcher, bom.PullEvents())
	return bom, nil
}

func (s *BOMService) load(ctx context.Context, id string) (*entity.BOMStructure, error) {
	bom, err := s.boms.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.categories != nil {
		bom.SetCategoryTable(s.categories)
	}
	return bom, nil
}

func (s *BOMService) GetBOM(ctx context.Context, id string) (*entity.BOMStructure, error) {
	return s.load(ctx, id)
}

// mutate loads the BOM, applies cmd, saves it and dispatches the drained events.
// On a version conflict the whole sequence is repeated on a fresh copy.
func (s *BOMService) mutate(ctx context.Context, id, op string, cmd func(b *entity.BOMStructure) error) (*entity.BOMStructure, error) {
	var saved *entity.BOMStructure
	err := withRetry(ctx, s.log, s.opts.MaxConflictRetries, op, id, func(ctx context.Context) error {
		bom, err := s.load(ctx, id)
		if err != nil {
			return err
		}
		if err := cmd(bom); err != nil {
			return err
		}
		if err := s.boms.Save(ctx, bom); err != nil {
			return err
		}
		saved = bom
		return nil
	})
	if err != nil {
		return nil, err
	}
	dispatch(ctx, s.log, s.dispatcher, saved.PullEvents())
	return saved, nil
}

func (s *BOMService) AddItem(ctx context.Context, bomID string, in entity.AddBOMItemInput, actor string) (*entity.BOMItem, error) {
	var item *entity.BOMItem
	_, err := s.mutate(ctx, bomID, "add_item", func(b *entity.BOMStructure) error {
		var err error
		item, err = b.AddItem(in, actor)
		return err
	})
	return item, err
}

func (s *BOMService) RemoveItem(ctx context.Context, bomID, childItemID string, parentItemID *string, removeDescendants bool, actor string) error {
	_, err := s.mutate(ctx, bomID, "remove_item", func(b *entity.BOMStructure) error {
		return b.RemoveItem(childItemID, parentItemID, removeDescendants, actor)
	})
	return err
}

func (s *BOMService) UpdateItem(ctx context.Context, bomID string, in entity.UpdateBOMItemInput, actor string) (*entity.BOMItem, error) {
	var item *entity.BOMItem
	_, err := s.mutate(ctx, bomID, "update_item", func(b *entity.BOMStructure) error {
		var err error
		item, err = b.UpdateItem(in, actor)
		return err
	})
	return item, err
}

func (s *BOMService) UpdateDetails(ctx context.Context, bomID, name, description, actor string) error {
	_, err := s.mutate(ctx, bomID, "update_details", func(b *entity.BOMStructure) error {
		return b.UpdateDetails(name, description, actor)
	})
	return err
}

func (s *BOMService) Lock(ctx context.Context, bomID, actor string) error {
	_, err := s.mutate(ctx, bomID, "lock", func(b *entity.BOMStructure) error {
		return b.Lock(actor)
	})
	return err
}

func (s *BOMService) Unlock(ctx context.Context, bomID, actor string) error {
	_, err := s.mutate(ctx, bomID, "unlock", func(b *entity.BOMStructure) error {
		return b.Unlock(actor)
	})
	return err
}

// CreateVersion 发布版本快照
func (s *BOMService) CreateVersion(ctx context.Context, bomID, reason, actor string) (*entity.BOMVersion, error) {
	var v *entity.BOMVersion
	_, err := s.mutate(ctx, bomID, "create_version", func(b *entity.BOMStructure) error {
		var err error
		v, err = b.CreateVersion(reason, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("bom version created", zap.String("bom_id", bomID), zap.Int("version_number", v.VersionNumber))
	return v, nil
}

func (s *BOMService) DeactivateVersion(ctx context.Context, bomID string, number int, actor string) (*entity.BOMVersion, error) {
	var v *entity.BOMVersion
	_, err := s.mutate(ctx, bomID, "deactivate_version", func(b *entity.BOMStructure) error {
		var err error
		v, err = b.DeactivateVersion(number, actor)
		return err
	})
	return v, err
}

func (s *BOMService) ListVersions(ctx context.Context, bomID string) ([]entity.BOMVersion, error) {
	return s.versions.ListByBOM(ctx, bomID)
}

// GetVersionSnapshot returns the stored item tree of one version.
func (s *BOMService) GetVersionSnapshot(ctx context.Context, bomID string, number int) (*entity.BOMSnapshot, error) {
	v, err := s.versions.FindByNumber(ctx, bomID, number)
	if err != nil {
		return nil, err
	}
	return v.ParseSnapshot()
}

// TotalQuantity 计算物料在整个BOM中的总需求量
func (s *BOMService) TotalQuantity(ctx context.Context, bomID, itemID string, rootQuantity decimal.Decimal) (entity.Quantity, error) {
	bom, err := s.load(ctx, bomID)
	if err != nil {
		return entity.Quantity{}, err
	}
	return bom.CalculateTotalQuantity(itemID, rootQuantity)
}

// Explode 展开BOM，返回每个物料的总需求量
func (s *BOMService) Explode(ctx context.Context, bomID string, rootQuantity decimal.Decimal) (map[string]entity.Quantity, error) {
	bom, err := s.load(ctx, bomID)
	if err != nil {
		return nil, err
	}
	return bom.Explode(rootQuantity)
}

func (s *BOMService) Validate(ctx context.Context, bomID string) error {
	bom, err := s.load(ctx, bomID)
	if err != nil {
		return err
	}
	return bom.Validate()
}
