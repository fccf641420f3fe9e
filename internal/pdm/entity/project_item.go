package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ManufacturingStatus 自制件状态
type ManufacturingStatus string

const (
	ManufacturingNotStarted   ManufacturingStatus = "NOT_STARTED"
	ManufacturingInProgress   ManufacturingStatus = "IN_PROGRESS"
	ManufacturingSuspended    ManufacturingStatus = "SUSPENDED"
	ManufacturingQualityCheck ManufacturingStatus = "QUALITY_CHECK"
	ManufacturingCompleted    ManufacturingStatus = "COMPLETED"
	ManufacturingRejected     ManufacturingStatus = "REJECTED"
)

var manufacturingProgress = map[ManufacturingStatus]int64{
	ManufacturingNotStarted:   0,
	ManufacturingInProgress:   50,
	ManufacturingSuspended:    50,
	ManufacturingQualityCheck: 90,
	ManufacturingCompleted:    100,
	ManufacturingRejected:     0,
}

func (s ManufacturingStatus) IsValid() bool {
	_, ok := manufacturingProgress[s]
	return ok
}

// ProgressPercent is the fixed completion proxy for the status.
func (s ManufacturingStatus) ProgressPercent() decimal.Decimal {
	return decimal.NewFromInt(manufacturingProgress[s])
}

// PurchaseStatus 外购件状态
type PurchaseStatus string

const (
	PurchasePending     PurchaseStatus = "PENDING"
	PurchaseOrdered     PurchaseStatus = "ORDERED"
	PurchaseInTransit   PurchaseStatus = "IN_TRANSIT"
	PurchaseDelivered   PurchaseStatus = "DELIVERED"
	PurchaseNotRequired PurchaseStatus = "NOT_REQUIRED"
	PurchaseDelayed     PurchaseStatus = "DELAYED"
	PurchaseCancelled   PurchaseStatus = "CANCELLED"
)

var purchaseProgress = map[PurchaseStatus]int64{
	PurchasePending:     0,
	PurchaseOrdered:     25,
	PurchaseInTransit:   75,
	PurchaseDelivered:   100,
	PurchaseNotRequired: 100,
	PurchaseDelayed:     25,
	PurchaseCancelled:   0,
}

func (s PurchaseStatus) IsValid() bool {
	_, ok := purchaseProgress[s]
	return ok
}

// 采购状态别名，统一到主名称
var purchaseAliases = map[PurchaseStatus]PurchaseStatus{
	"WAITING_ORDER": PurchasePending,
	"IN_ORDER":      PurchaseOrdered,
	"CLOSED":        PurchaseDelivered,
}

// Canonical maps an alias such as CLOSED to the stored status name.
func (s PurchaseStatus) Canonical() PurchaseStatus {
	if c, ok := purchaseAliases[s]; ok {
		return c
	}
	return s
}

func (s PurchaseStatus) closesItem() bool {
	return s == PurchaseDelivered || s == PurchaseNotRequired
}

func (s PurchaseStatus) ProgressPercent() decimal.Decimal {
	return decimal.NewFromInt(purchaseProgress[s])
}

// ManufacturerType 制造方
type ManufacturerType string

const (
	ManufacturerInternal   ManufacturerType = "INTERNAL"
	ManufacturerContractor ManufacturerType = "CONTRACTOR"
)

// MaterialSupplyType 材料供应方
type MaterialSupplyType string

const (
	SupplyOwn        MaterialSupplyType = "OWN"
	SupplyContractor MaterialSupplyType = "CONTRACTOR"
	SupplyCustomer   MaterialSupplyType = "CUSTOMER"
)

// ProjectItem 项目执行树节点。ParentProjectItemID 指向另一个 ProjectItem 的 ID。
type ProjectItem struct {
	ID                  string              `json:"id" gorm:"primaryKey;size:36"`
	ProjectID           string              `json:"project_id" gorm:"size:36;not null;index"`
	BOMItemID           *string             `json:"bom_item_id,omitempty" gorm:"size:36"`
	NomenclatureItemID  string              `json:"nomenclature_item_id" gorm:"size:64;not null"`
	ParentProjectItemID *string             `json:"parent_project_item_id,omitempty" gorm:"size:36;index"`
	Category            Category            `json:"category" gorm:"size:32;not null"`
	Quantity            Quantity            `json:"quantity" gorm:"embedded;embeddedPrefix:quantity_"`
	QuantityRequired    decimal.Decimal     `json:"quantity_required" gorm:"type:numeric(18,6);not null;default:0"`
	QuantityCompleted   decimal.Decimal     `json:"quantity_completed" gorm:"type:numeric(18,6);not null;default:0"`
	ManufacturingStatus ManufacturingStatus `json:"manufacturing_status,omitempty" gorm:"size:32"`
	PurchaseStatus      PurchaseStatus      `json:"purchase_status,omitempty" gorm:"size:32"`
	ManufacturerType    ManufacturerType    `json:"manufacturer_type" gorm:"size:32;not null;default:INTERNAL"`
	MaterialSupplyType  MaterialSupplyType  `json:"material_supply_type" gorm:"size:32;not null;default:OWN"`
	ContractorID        *string             `json:"contractor_id,omitempty" gorm:"size:64"`
	SupplierID          *string             `json:"supplier_id,omitempty" gorm:"size:64"`
	PlannedStart        *time.Time          `json:"planned_start,omitempty" gorm:"type:date"`
	PlannedEnd          *time.Time          `json:"planned_end,omitempty" gorm:"type:date;index"`
	ActualStart         *time.Time          `json:"actual_start,omitempty"`
	ActualEnd           *time.Time          `json:"actual_end,omitempty"`
	RequiredDate        *time.Time          `json:"required_date,omitempty" gorm:"type:date"`
	ResponsibleUserID   *string             `json:"responsible_user_id,omitempty" gorm:"size:64;index"`
	ProgressPercent     decimal.Decimal     `json:"progress_percent" gorm:"type:numeric(5,2);not null;default:0"`
	DelayReasonID       *string             `json:"delay_reason_id,omitempty" gorm:"size:64"`
	Position            int                 `json:"position" gorm:"not null;default:0"`
	Seq                 int                 `json:"-" gorm:"not null;default:0"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

func (ProjectItem) TableName() string {
	return "project_items"
}

func (i ProjectItem) IsPurchased() bool { return i.Category.IsPurchased() }

func (i ProjectItem) IsManufactured() bool { return !i.Category.IsPurchased() }

func (i ProjectItem) IsRoot() bool { return i.ParentProjectItemID == nil }

// IsCompleted 自制件已完工，或外购件已到货/无需采购
func (i ProjectItem) IsCompleted() bool {
	if i.IsPurchased() {
		return i.PurchaseStatus == PurchaseDelivered || i.PurchaseStatus == PurchaseNotRequired
	}
	return i.ManufacturingStatus == ManufacturingCompleted
}

// Deadline is the planned end, falling back to the required date.
func (i ProjectItem) Deadline() *time.Time {
	if i.PlannedEnd != nil {
		return i.PlannedEnd
	}
	return i.RequiredDate
}

func (i ProjectItem) IsOverdue(now time.Time) bool {
	d := i.Deadline()
	return d != nil && !i.IsCompleted() && now.After(*d)
}

func (i ProjectItem) HasProblems(now time.Time) bool {
	if i.IsOverdue(now) || i.DelayReasonID != nil {
		return true
	}
	if i.IsPurchased() {
		return i.PurchaseStatus == PurchaseDelayed
	}
	return i.ManufacturingStatus == ManufacturingSuspended || i.ManufacturingStatus == ManufacturingRejected
}

// UserAssignment 项目成员
type UserAssignment struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	ProjectID  string    `json:"project_id" gorm:"size:36;not null;index"`
	UserID     string    `json:"user_id" gorm:"size:64;not null"`
	Role       string    `json:"role" gorm:"size:32;not null"`
	AssignedBy string    `json:"assigned_by" gorm:"size:64"`
	AssignedAt time.Time `json:"assigned_at"`
}

func (UserAssignment) TableName() string {
	return "project_assignments"
}
