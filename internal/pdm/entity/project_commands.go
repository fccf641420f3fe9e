package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NewProjectFromBOM generates a project whose item tree mirrors the BOM. Each
// usage path of the BOM becomes its own ProjectItem, so an identity used under
// two parents yields two subtrees. QuantityRequired is the quantity accumulated
// along the path times the project quantity.
func NewProjectFromBOM(bom *BOMStructure, name string, quantity decimal.Decimal, actor string) (*Project, error) {
	if bom == nil {
		return nil, NewValidationError("bom", "required")
	}
	if quantity.IsNegative() || quantity.IsZero() {
		return nil, NewValidationError("quantity", "must be > 0")
	}
	if err := bom.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = bom.Name
	}
	p, err := newProject(name, actor)
	if err != nil {
		return nil, err
	}
	bomID := bom.ID
	p.BOMID = &bomID

	root, _ := bom.RootItem()
	type frame struct {
		row      BOMItem
		parentID *string
		acc      decimal.Decimal
		depth    int
	}
	now := time.Now()
	limit := len(bom.items)
	stack := []frame{{row: root, acc: quantity.Mul(root.Quantity.Amount)}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > limit {
			return nil, &CircularReferenceError{ItemID: f.row.ChildItemID}
		}

		bomItemID := f.row.ID
		it := newProjectItem(p.ID, f.row.ChildItemID, f.row.ChildCategory, f.row.Quantity, f.parentID, now)
		it.BOMItemID = &bomItemID
		it.QuantityRequired = f.acc
		it.Position = f.row.Position
		p.items = append(p.items, it)

		children := bom.Children(f.row.ChildItemID)
		// push in reverse so siblings come out in list order
		for i := len(children) - 1; i >= 0; i-- {
			parentID := it.ID
			stack = append(stack, frame{
				row:      children[i],
				parentID: &parentID,
				acc:      f.acc.Mul(children[i].Quantity.Amount),
				depth:    f.depth + 1,
			})
		}
	}
	p.apply(EventProjectCreated, actor, nil, map[string]string{
		"bom_id":     bomID,
		"item_count": fmt.Sprint(len(p.items)),
	})
	return p, nil
}

func newProjectItem(projectID, nomenclatureID string, category Category, qty Quantity, parentID *string, now time.Time) ProjectItem {
	it := ProjectItem{
		ID:                  uuid.New().String(),
		ProjectID:           projectID,
		NomenclatureItemID:  nomenclatureID,
		ParentProjectItemID: parentID,
		Category:            category,
		Quantity:            qty,
		QuantityRequired:    qty.Amount,
		QuantityCompleted:   decimal.Zero,
		ManufacturerType:    ManufacturerInternal,
		MaterialSupplyType:  SupplyOwn,
		ProgressPercent:     decimal.Zero,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if category.IsPurchased() {
		it.PurchaseStatus = PurchasePending
	} else {
		it.ManufacturingStatus = ManufacturingNotStarted
	}
	return it
}

// AddProjectItemInput 添加项目节点参数
type AddProjectItemInput struct {
	ParentProjectItemID *string
	NomenclatureItemID  string
	BOMItemID           *string
	Category            Category
	Quantity            Quantity
	Position            *int
}

func (p *Project) AddItem(in AddProjectItemInput, actor string) (*ProjectItem, error) {
	if err := p.ensureMutable(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.NomenclatureItemID) == "" {
		return nil, NewValidationError("nomenclature_item_id", "required")
	}
	if !in.Category.IsValid() {
		return nil, NewValidationError("category", fmt.Sprintf("unknown category %q", in.Category))
	}
	if in.Quantity.Amount.IsNegative() {
		return nil, NewValidationError("quantity.amount", "must be >= 0")
	}
	if in.ParentProjectItemID != nil && p.indexOf(*in.ParentProjectItemID) < 0 {
		return nil, NewNotFoundError("project item", *in.ParentProjectItemID)
	}
	qty := in.Quantity
	if qty.Unit == "" {
		qty.Unit = DefaultUnit
	}

	it := newProjectItem(p.ID, in.NomenclatureItemID, in.Category, qty, in.ParentProjectItemID, time.Now())
	it.BOMItemID = in.BOMItemID
	it.Position = len(p.GetChildren(in.ParentProjectItemID)) + 1
	if in.Position != nil {
		it.Position = *in.Position
	}
	p.items = append(p.items, it)
	p.apply(EventProjectItemAdded, actor, []string{it.ID}, map[string]string{"nomenclature_item_id": it.NomenclatureItemID})
	return &it, nil
}

// RemoveItem deletes an item, and its subtree when removeDescendants is set.
func (p *Project) RemoveItem(itemID string, removeDescendants bool, actor string) error {
	if err := p.ensureMutable(); err != nil {
		return err
	}
	if p.indexOf(itemID) < 0 {
		return NewNotFoundError("project item", itemID)
	}
	desc := p.Descendants(itemID)
	if len(desc) > 0 && !removeDescendants {
		return NewBusinessRuleError(RuleHasChildren, "project item %s has %d descendants", itemID, len(desc))
	}

	drop := map[string]bool{itemID: true}
	for _, d := range desc {
		drop[d.ID] = true
	}
	kept := make([]ProjectItem, 0, len(p.items)-len(drop))
	removed := make([]string, 0, len(drop))
	for _, it := range p.items {
		if drop[it.ID] {
			removed = append(removed, it.ID)
			continue
		}
		kept = append(kept, it)
	}
	p.items = kept
	p.apply(EventProjectItemRemoved, actor, removed, nil)
	return nil
}

// mutateItem runs fn against the item and records one event on success.
func (p *Project) mutateItem(itemID string, kind EventKind, actor string, fn func(it *ProjectItem) (map[string]string, error)) error {
	if err := p.ensureMutable(); err != nil {
		return err
	}
	i := p.indexOf(itemID)
	if i < 0 {
		return NewNotFoundError("project item", itemID)
	}
	draft := p.items[i]
	attrs, err := fn(&draft)
	if err != nil {
		return err
	}
	draft.UpdatedAt = time.Now()
	p.items[i] = draft
	p.apply(kind, actor, []string{itemID}, attrs)
	return nil
}

// UpdateManufacturingStatus sets the status of a manufactured item and its
// fixed progress percent.
func (p *Project) UpdateManufacturingStatus(itemID string, status ManufacturingStatus, actor string) error {
	if !status.IsValid() {
		return NewValidationError("manufacturing_status", fmt.Sprintf("unknown status %q", status))
	}
	return p.mutateItem(itemID, EventProjectItemStatus, actor, func(it *ProjectItem) (map[string]string, error) {
		if !it.IsManufactured() {
			return nil, NewBusinessRuleError(RuleStatusKindMismatch, "item %s (%s) is purchased", it.ID, it.Category)
		}
		previous := it.ManufacturingStatus
		now := time.Now()
		it.ManufacturingStatus = status
		it.ProgressPercent = status.ProgressPercent()
		switch status {
		case ManufacturingInProgress:
			if it.ActualStart == nil {
				it.ActualStart = &now
			}
		case ManufacturingCompleted:
			it.ActualEnd = &now
			it.QuantityCompleted = it.QuantityRequired
		}
		// 从完成态回退：清掉完成时补记的数量和结束时间
		if previous == ManufacturingCompleted && status != ManufacturingCompleted {
			it.ActualEnd = nil
			it.QuantityCompleted = decimal.Zero
		}
		return map[string]string{"kind": "manufacturing", "from": string(previous), "to": string(status)}, nil
	})
}

// UpdatePurchaseStatus sets the status of a purchased item.
func (p *Project) UpdatePurchaseStatus(itemID string, status PurchaseStatus, actor string) error {
	status = status.Canonical()
	if !status.IsValid() {
		return NewValidationError("purchase_status", fmt.Sprintf("unknown status %q", status))
	}
	return p.mutateItem(itemID, EventProjectItemStatus, actor, func(it *ProjectItem) (map[string]string, error) {
		if !it.IsPurchased() {
			return nil, NewBusinessRuleError(RuleStatusKindMismatch, "item %s (%s) is manufactured", it.ID, it.Category)
		}
		previous := it.PurchaseStatus
		now := time.Now()
		it.PurchaseStatus = status
		it.ProgressPercent = status.ProgressPercent()
		switch status {
		case PurchaseOrdered:
			if it.ActualStart == nil {
				it.ActualStart = &now
			}
		case PurchaseDelivered, PurchaseNotRequired:
			it.ActualEnd = &now
			it.QuantityCompleted = it.QuantityRequired
		}
		if previous.closesItem() && !status.closesItem() {
			it.ActualEnd = nil
			it.QuantityCompleted = decimal.Zero
		}
		return map[string]string{"kind": "purchase", "from": string(previous), "to": string(status)}, nil
	})
}

func (p *Project) AssignResponsible(itemID, userID, actor string) error {
	if strings.TrimSpace(userID) == "" {
		return NewValidationError("responsible_user_id", "required")
	}
	return p.mutateItem(itemID, EventProjectItemAssigned, actor, func(it *ProjectItem) (map[string]string, error) {
		it.ResponsibleUserID = &userID
		return map[string]string{"responsible_user_id": userID}, nil
	})
}

// ItemDates 节点计划日期
type ItemDates struct {
	PlannedStart *time.Time
	PlannedEnd   *time.Time
	RequiredDate *time.Time
}

func (p *Project) SetItemDates(itemID string, dates ItemDates, actor string) error {
	if dates.PlannedStart != nil && dates.PlannedEnd != nil && dates.PlannedEnd.Before(*dates.PlannedStart) {
		return NewValidationError("planned_end", "must not be before planned_start")
	}
	return p.mutateItem(itemID, EventProjectItemUpdated, actor, func(it *ProjectItem) (map[string]string, error) {
		it.PlannedStart = dates.PlannedStart
		it.PlannedEnd = dates.PlannedEnd
		it.RequiredDate = dates.RequiredDate
		return nil, nil
	})
}

// SetDelayReason records (or clears, with nil) why an item is late.
func (p *Project) SetDelayReason(itemID string, reasonID *string, actor string) error {
	return p.mutateItem(itemID, EventProjectItemUpdated, actor, func(it *ProjectItem) (map[string]string, error) {
		it.DelayReasonID = reasonID
		return map[string]string{"delay_reason_id": derefString(reasonID)}, nil
	})
}

// SetContractor chooses who manufactures the item.
func (p *Project) SetContractor(itemID string, manufacturer ManufacturerType, contractorID *string, actor string) error {
	if manufacturer != ManufacturerInternal && manufacturer != ManufacturerContractor {
		return NewValidationError("manufacturer_type", fmt.Sprintf("unknown manufacturer type %q", manufacturer))
	}
	if manufacturer == ManufacturerContractor && contractorID == nil {
		return NewValidationError("contractor_id", "required for contractor manufacturing")
	}
	return p.mutateItem(itemID, EventProjectItemUpdated, actor, func(it *ProjectItem) (map[string]string, error) {
		if !it.IsManufactured() {
			return nil, NewBusinessRuleError(RuleStatusKindMismatch, "item %s is purchased", it.ID)
		}
		it.ManufacturerType = manufacturer
		if manufacturer == ManufacturerInternal {
			contractorID = nil
		}
		it.ContractorID = contractorID
		return map[string]string{"manufacturer_type": string(manufacturer)}, nil
	})
}

// SetSupplier chooses who supplies the material of the item.
func (p *Project) SetSupplier(itemID string, supply MaterialSupplyType, supplierID *string, actor string) error {
	switch supply {
	case SupplyOwn, SupplyContractor, SupplyCustomer:
	default:
		return NewValidationError("material_supply_type", fmt.Sprintf("unknown supply type %q", supply))
	}
	return p.mutateItem(itemID, EventProjectItemUpdated, actor, func(it *ProjectItem) (map[string]string, error) {
		it.MaterialSupplyType = supply
		it.SupplierID = supplierID
		return map[string]string{"material_supply_type": string(supply)}, nil
	})
}

// RecordQuantityCompleted sets how much of the required quantity is done.
func (p *Project) RecordQuantityCompleted(itemID string, completed decimal.Decimal, actor string) error {
	if completed.IsNegative() {
		return NewValidationError("quantity_completed", "must be >= 0")
	}
	return p.mutateItem(itemID, EventProjectItemQuantity, actor, func(it *ProjectItem) (map[string]string, error) {
		if completed.GreaterThan(it.QuantityRequired) {
			return nil, NewValidationError("quantity_completed", "must not exceed quantity_required")
		}
		it.QuantityCompleted = completed
		return map[string]string{"quantity_completed": completed.String()}, nil
	})
}
