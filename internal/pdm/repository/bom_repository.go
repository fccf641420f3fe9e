package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-pdm/internal/pdm/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BOMStructureRepository struct {
	db *gorm.DB
}

func NewBOMStructureRepository(db *gorm.DB) *BOMStructureRepository {
	return &BOMStructureRepository{db: db}
}

func (r *BOMStructureRepository) DB() *gorm.DB {
	return r.db
}

// FindByID 根据ID加载BOM聚合
func (r *BOMStructureRepository) FindByID(ctx context.Context, id string) (*entity.BOMStructure, error) {
	var header entity.BOMStructure
	if err := r.db.WithContext(ctx).First(&header, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "bom", id)
	}
	return r.load(ctx, header)
}

// FindByRootItem 根据根物料加载BOM聚合
func (r *BOMStructureRepository) FindByRootItem(ctx context.Context, rootItemID string) (*entity.BOMStructure, error) {
	var header entity.BOMStructure
	if err := r.db.WithContext(ctx).First(&header, "root_item_id = ?", rootItemID).Error; err != nil {
		return nil, notFound(err, "bom for root", rootItemID)
	}
	return r.load(ctx, header)
}

func (r *BOMStructureRepository) load(ctx context.Context, header entity.BOMStructure) (*entity.BOMStructure, error) {
	var items []entity.BOMItem
	if err := r.db.WithContext(ctx).Where("bom_id = ?", header.ID).Order("seq").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load bom items: %w", err)
	}
	var versions []entity.BOMVersion
	if err := r.db.WithContext(ctx).Where("bom_id = ?", header.ID).Order("version_number").Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("load bom versions: %w", err)
	}
	return entity.RestoreBOMStructure(header, items, versions), nil
}

// Create 保存新BOM。根物料已有BOM时返回 bom_root_taken。
func (r *BOMStructureRepository) Create(ctx context.Context, bom *entity.BOMStructure) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(bom).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return entity.NewBusinessRuleError(entity.RuleBOMRootTaken, "root item %s already has a bom", bom.RootItemID)
			}
			return fmt.Errorf("create bom: %w", err)
		}
		return writeBOMRows(tx, bom)
	})
	if err != nil {
		return err
	}
	bom.MarkPersisted()
	return nil
}

// Save writes the aggregate if its version moved since it was loaded. The
// header update only matches the version the aggregate was loaded at.
func (r *BOMStructureRepository) Save(ctx context.Context, bom *entity.BOMStructure) error {
	expected := bom.PersistedVersion()
	if bom.Version == expected {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&entity.BOMStructure{}).
			Where("id = ? AND version = ?", bom.ID, expected).
			Updates(map[string]interface{}{
				"name":            bom.Name,
				"description":     bom.Description,
				"current_version": bom.CurrentVersion,
				"is_locked":       bom.IsLocked,
				"version":         bom.Version,
				"updated_by":      bom.UpdatedBy,
				"updated_at":      bom.UpdatedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("update bom: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return conflict("bom", bom.ID, expected)
		}
		if err := tx.Where("bom_id = ?", bom.ID).Delete(&entity.BOMItem{}).Error; err != nil {
			return fmt.Errorf("delete bom items: %w", err)
		}
		return writeBOMRows(tx, bom)
	})
	if err != nil {
		return err
	}
	bom.MarkPersisted()
	return nil
}

// writeBOMRows inserts the item rows and upserts the version rows. Versions are
// append-only, so only is_active can change on an existing row.
func writeBOMRows(tx *gorm.DB, bom *entity.BOMStructure) error {
	items := bom.Items()
	for i := range items {
		items[i].Seq = i
	}
	if len(items) > 0 {
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("create bom items: %w", err)
		}
	}

	versions := bom.Versions()
	if len(versions) == 0 {
		return nil
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bom_id"}, {Name: "version_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_active"}),
	}).Create(&versions).Error
	if err != nil {
		return fmt.Errorf("upsert bom versions: %w", err)
	}
	return nil
}

type BOMVersionRepository struct {
	db *gorm.DB
}

func NewBOMVersionRepository(db *gorm.DB) *BOMVersionRepository {
	return &BOMVersionRepository{db: db}
}

// ListByBOM 获取BOM版本列表
func (r *BOMVersionRepository) ListByBOM(ctx context.Context, bomID string) ([]entity.BOMVersion, error) {
	var versions []entity.BOMVersion
	err := r.db.WithContext(ctx).Where("bom_id = ?", bomID).Order("version_number DESC").Find(&versions).Error
	return versions, err
}

// FindByNumber 根据版本号查找
func (r *BOMVersionRepository) FindByNumber(ctx context.Context, bomID string, number int) (*entity.BOMVersion, error) {
	var v entity.BOMVersion
	err := r.db.WithContext(ctx).First(&v, "bom_id = ? AND version_number = ?", bomID, number).Error
	if err != nil {
		return nil, notFound(err, "bom version", fmt.Sprintf("%s/%d", bomID, number))
	}
	return &v, nil
}
