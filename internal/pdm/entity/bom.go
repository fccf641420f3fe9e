package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BOMItem BOM行项。ParentItemID 与 ChildItemID 指向物料(nomenclature)标识，而不是行ID：
// 同一物料可以在多个父项下出现，每次出现对应一行。
type BOMItem struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	BOMID         string    `json:"bom_id" gorm:"size:36;not null;index"`
	ParentItemID  *string   `json:"parent_item_id,omitempty" gorm:"size:64;index"`
	ChildItemID   string    `json:"child_item_id" gorm:"size:64;not null;index"`
	ChildCategory Category  `json:"child_category" gorm:"size:32;not null"`
	Quantity      Quantity  `json:"quantity" gorm:"embedded;embeddedPrefix:quantity_"`
	Position      int       `json:"position" gorm:"not null;default:0"`
	Notes         *string   `json:"notes,omitempty" gorm:"type:text"`
	Seq           int       `json:"-" gorm:"not null;default:0"` // 存储顺序，由仓库维护
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (BOMItem) TableName() string {
	return "bom_items"
}

func (i BOMItem) IsRoot() bool {
	return i.ParentItemID == nil
}

func (i BOMItem) parent() string {
	if i.ParentItemID == nil {
		return ""
	}
	return *i.ParentItemID
}

// BOMVersion BOM版本快照，只追加，只能停用不能修改
type BOMVersion struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	BOMID         string    `json:"bom_id" gorm:"size:36;not null;uniqueIndex:idx_bom_version"`
	VersionNumber int       `json:"version_number" gorm:"not null;uniqueIndex:idx_bom_version"`
	Reason        string    `json:"reason" gorm:"type:text"`
	Snapshot      string    `json:"snapshot" gorm:"type:jsonb;not null"`
	IsActive      bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedBy     string    `json:"created_by" gorm:"size:64"`
	CreatedAt     time.Time `json:"created_at"`
}

func (BOMVersion) TableName() string {
	return "bom_versions"
}

// Deactivate marks the snapshot as no longer current.
func (v *BOMVersion) Deactivate() error {
	if !v.IsActive {
		return NewBusinessRuleError(RuleVersionInactive, "version %d of bom %s is already inactive", v.VersionNumber, v.BOMID)
	}
	v.IsActive = false
	return nil
}

// BOMSnapshot is the serialized form stored in BOMVersion.Snapshot.
type BOMSnapshot struct {
	BOMID        string    `json:"bom_id"`
	Name         string    `json:"name"`
	RootItemID   string    `json:"root_item_id"`
	RootCategory Category  `json:"root_category"`
	Version      int       `json:"version"`
	Items        []BOMItem `json:"items"`
}

// ParseSnapshot decodes the stored item tree.
func (v BOMVersion) ParseSnapshot() (*BOMSnapshot, error) {
	var snap BOMSnapshot
	if err := json.Unmarshal([]byte(v.Snapshot), &snap); err != nil {
		return nil, fmt.Errorf("decode bom snapshot: %w", err)
	}
	return &snap, nil
}

// BOMStructure is the aggregate root of a BOM template tree. Items are kept as a
// flat list and only change through the methods below.
type BOMStructure struct {
	ID             string    `json:"id" gorm:"primaryKey;size:36"`
	RootItemID     string    `json:"root_item_id" gorm:"size:64;not null;uniqueIndex"`
	RootCategory   Category  `json:"root_category" gorm:"size:32;not null"`
	Name           string    `json:"name" gorm:"size:128;not null"`
	Description    string    `json:"description" gorm:"type:text"`
	CurrentVersion int       `json:"current_version" gorm:"not null;default:1"`
	IsLocked       bool      `json:"is_locked" gorm:"not null;default:false"`
	Version        int       `json:"version" gorm:"not null;default:1"`
	CreatedBy      string    `json:"created_by" gorm:"size:64"`
	UpdatedBy      string    `json:"updated_by" gorm:"size:64"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	items            []BOMItem
	versions         []BOMVersion
	categories       CategoryTable
	persistedVersion int
	events           EventQueue
}

func (BOMStructure) TableName() string {
	return "bom_structures"
}

// NewBOMStructure creates a BOM with its synthesized root item.
func NewBOMStructure(rootItemID string, rootCategory Category, name, description, actor string) (*BOMStructure, error) {
	rootItemID = strings.TrimSpace(rootItemID)
	if rootItemID == "" {
		return nil, NewValidationError("root_item_id", "required")
	}
	if !rootCategory.IsValid() {
		return nil, NewValidationError("root_category", fmt.Sprintf("unknown category %q", rootCategory))
	}
	if strings.TrimSpace(name) == "" {
		name = rootItemID
	}

	now := time.Now()
	b := &BOMStructure{
		ID:             uuid.New().String(),
		RootItemID:     rootItemID,
		RootCategory:   rootCategory,
		Name:           name,
		Description:    description,
		CurrentVersion: 1,
		CreatedBy:      actor,
		UpdatedBy:      actor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	root := BOMItem{
		ID:            uuid.New().String(),
		BOMID:         b.ID,
		ChildItemID:   rootItemID,
		ChildCategory: rootCategory,
		Quantity:      Pieces(1),
		Position:      1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.items = []BOMItem{root}
	b.apply(EventBOMCreated, actor, []string{root.ID}, map[string]string{"root_item_id": rootItemID})
	return b, nil
}

// RestoreBOMStructure rebuilds an aggregate loaded from storage. The header's
// Version becomes the optimistic-concurrency token for the next save.
func RestoreBOMStructure(header BOMStructure, items []BOMItem, versions []BOMVersion) *BOMStructure {
	b := header
	b.items = append([]BOMItem(nil), items...)
	b.versions = append([]BOMVersion(nil), versions...)
	b.categories = nil
	b.events = EventQueue{}
	b.persistedVersion = header.Version
	return &b
}

// SetCategoryTable replaces the built-in compatibility table, e.g. with one loaded from storage.
func (b *BOMStructure) SetCategoryTable(t CategoryTable) {
	b.categories = t
}

func (b *BOMStructure) categoryTable() CategoryTable {
	if b.categories != nil {
		return b.categories
	}
	return DefaultCategoryTable
}

// PersistedVersion is the version the aggregate had when it was loaded or last saved.
func (b *BOMStructure) PersistedVersion() int { return b.persistedVersion }

// MarkPersisted is called by the repository after a successful write.
func (b *BOMStructure) MarkPersisted() { b.persistedVersion = b.Version }

func (b *BOMStructure) PendingEvents() []DomainEvent { return b.events.PendingEvents() }

func (b *BOMStructure) PullEvents() []DomainEvent { return b.events.PullEvents() }

// Items returns a copy of the flat item list.
func (b *BOMStructure) Items() []BOMItem {
	return append([]BOMItem(nil), b.items...)
}

// Versions returns a copy of the version history.
func (b *BOMStructure) Versions() []BOMVersion {
	return append([]BOMVersion(nil), b.versions...)
}

// RootItem returns the single item without a parent.
func (b *BOMStructure) RootItem() (BOMItem, bool) {
	for _, it := range b.items {
		if it.IsRoot() {
			return it, true
		}
	}
	return BOMItem{}, false
}

// FindItem returns the first row that represents the given nomenclature identity.
func (b *BOMStructure) FindItem(identity string) (BOMItem, bool) {
	if i := b.indexOf(identity); i >= 0 {
		return b.items[i], true
	}
	return BOMItem{}, false
}

// FindRow returns the row for the (parent, child) usage.
func (b *BOMStructure) FindRow(parentItemID, childItemID string) (BOMItem, bool) {
	if i := b.indexOfRow(parentItemID, childItemID); i >= 0 {
		return b.items[i], true
	}
	return BOMItem{}, false
}

// Children returns the rows whose parent is the given identity, in list order.
func (b *BOMStructure) Children(identity string) []BOMItem {
	var out []BOMItem
	for _, it := range b.items {
		if it.ParentItemID != nil && *it.ParentItemID == identity {
			out = append(out, it)
		}
	}
	return out
}

func (b *BOMStructure) indexOf(identity string) int {
	for i := range b.items {
		if b.items[i].ChildItemID == identity {
			return i
		}
	}
	return -1
}

func (b *BOMStructure) indexOfRow(parentItemID, childItemID string) int {
	for i := range b.items {
		it := &b.items[i]
		if it.ChildItemID == childItemID && it.ParentItemID != nil && *it.ParentItemID == parentItemID {
			return i
		}
	}
	return -1
}

// rowsOf returns the indices of every row representing identity.
func (b *BOMStructure) rowsOf(identity string) []int {
	var out []int
	for i := range b.items {
		if b.items[i].ChildItemID == identity {
			out = append(out, i)
		}
	}
	return out
}

func (b *BOMStructure) hasChildren(identity string) bool {
	for i := range b.items {
		if b.items[i].ParentItemID != nil && *b.items[i].ParentItemID == identity {
			return true
		}
	}
	return false
}

func (b *BOMStructure) ensureUnlocked() error {
	if b.IsLocked {
		return NewBusinessRuleError(RuleAggregateLocked, "bom %s is locked", b.ID)
	}
	return nil
}

func (b *BOMStructure) apply(kind EventKind, actor string, itemIDs []string, attrs map[string]string) {
	b.Version++
	b.UpdatedAt = time.Now()
	b.UpdatedBy = actor
	b.events.record(DomainEvent{
		Kind:          kind,
		AggregateType: AggregateBOM,
		AggregateID:   b.ID,
		Version:       b.Version,
		ItemIDs:       itemIDs,
		ActorID:       actor,
		Attributes:    attrs,
		OccurredAt:    b.UpdatedAt,
	})
}

// AddBOMItemInput 添加BOM行项参数
type AddBOMItemInput struct {
	ParentItemID  string
	ChildItemID   string
	ChildCategory Category
	Quantity      Quantity
	Position      *int
	Notes         *string
}

// AddItem places ChildItemID under the item representing ParentItemID.
func (b *BOMStructure) AddItem(in AddBOMItemInput, actor string) (*BOMItem, error) {
	if err := b.ensureUnlocked(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.ChildItemID) == "" {
		return nil, NewValidationError("child_item_id", "required")
	}
	if !in.ChildCategory.IsValid() {
		return nil, NewValidationError("child_category", fmt.Sprintf("unknown category %q", in.ChildCategory))
	}
	if in.Quantity.Amount.IsNegative() {
		return nil, NewValidationError("quantity.amount", "must be >= 0")
	}

	pi := b.indexOf(in.ParentItemID)
	if pi < 0 {
		return nil, NewNotFoundError("bom item", in.ParentItemID)
	}
	parent := b.items[pi]

	// cycle check runs before the category check
	if chain, found := b.ancestorChain(in.ParentItemID, in.ChildItemID); found {
		return nil, &CircularReferenceError{ItemID: in.ChildItemID, Chain: chain}
	}
	// 同一物料的所有行共享一棵子树，类别必须一致
	if prev := b.indexOf(in.ChildItemID); prev >= 0 && b.items[prev].ChildCategory != in.ChildCategory {
		return nil, NewBusinessRuleError(RuleCategoryConflict, "%s is already used as %s", in.ChildItemID, b.items[prev].ChildCategory)
	}
	if !b.categoryTable().Allows(parent.ChildCategory, in.ChildCategory) {
		return nil, NewBusinessRuleError(RuleCategoryNotAllowed, "%s cannot be a child of %s", in.ChildCategory, parent.ChildCategory)
	}
	if b.indexOfRow(in.ParentItemID, in.ChildItemID) >= 0 {
		return nil, NewBusinessRuleError(RuleDuplicateItem, "%s is already a child of %s", in.ChildItemID, in.ParentItemID)
	}

	position := len(b.Children(in.ParentItemID)) + 1
	if in.Position != nil {
		position = *in.Position
	}
	qty := in.Quantity
	if qty.Unit == "" {
		qty.Unit = DefaultUnit
	}

	now := time.Now()
	parentID := in.ParentItemID
	item := BOMItem{
		ID:            uuid.New().String(),
		BOMID:         b.ID,
		ParentItemID:  &parentID,
		ChildItemID:   in.ChildItemID,
		ChildCategory: in.ChildCategory,
		Quantity:      qty,
		Position:      position,
		Notes:         in.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.items = append(b.items, item)
	b.apply(EventBOMItemAdded, actor, []string{item.ID}, map[string]string{
		"parent_item_id": parentID,
		"child_item_id":  item.ChildItemID,
	})
	return &item, nil
}

// RemoveItem deletes the usage of childItemID under parentItemID (first usage when
// parentItemID is nil). The subtree hangs off the nomenclature identity, so it is
// only affected when this was the last usage of that identity.
func (b *BOMStructure) RemoveItem(childItemID string, parentItemID *string, removeDescendants bool, actor string) error {
	if err := b.ensureUnlocked(); err != nil {
		return err
	}

	idx := -1
	if parentItemID != nil {
		idx = b.indexOfRow(*parentItemID, childItemID)
	} else {
		idx = b.indexOf(childItemID)
	}
	if idx < 0 {
		return NewNotFoundError("bom item", childItemID)
	}
	if b.items[idx].IsRoot() {
		return NewBusinessRuleError(RuleRootRemoval, "root item %s cannot be removed", childItemID)
	}

	lastUsage := len(b.rowsOf(childItemID)) == 1
	if lastUsage && b.hasChildren(childItemID) && !removeDescendants {
		return NewBusinessRuleError(RuleHasChildren, "%s has children", childItemID)
	}

	removed := b.collectRemoval(idx)
	kept := make([]BOMItem, 0, len(b.items)-len(removed))
	var removedIDs []string
	for i, it := range b.items {
		if removed[i] {
			removedIDs = append(removedIDs, it.ID)
			continue
		}
		kept = append(kept, it)
	}
	b.items = kept
	b.apply(EventBOMItemRemoved, actor, removedIDs, map[string]string{
		"child_item_id":  childItemID,
		"parent_item_id": derefString(parentItemID),
	})
	return nil
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// collectRemoval returns the row indices removed together with row start.
func (b *BOMStructure) collectRemoval(start int) map[int]bool {
	removed := map[int]bool{}
	queue := []int{start}
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		if removed[idx] {
			continue
		}
		removed[idx] = true

		identity := b.items[idx].ChildItemID
		stillUsed := false
		for _, r := range b.rowsOf(identity) {
			if !removed[r] {
				stillUsed = true
				break
			}
		}
		if stillUsed {
			continue
		}
		for i := range b.items {
			if !removed[i] && b.items[i].ParentItemID != nil && *b.items[i].ParentItemID == identity {
				queue = append(queue, i)
			}
		}
	}
	return removed
}

// UpdateBOMItemInput carries the optional changes of UpdateItem.
type UpdateBOMItemInput struct {
	ParentItemID *string
	ChildItemID  string
	Quantity     *Quantity
	Position     *int
	Notes        *string
}

// UpdateItem changes quantity, position or notes of one usage row.
func (b *BOMStructure) UpdateItem(in UpdateBOMItemInput, actor string) (*BOMItem, error) {
	if err := b.ensureUnlocked(); err != nil {
		return nil, err
	}
	idx := -1
	if in.ParentItemID != nil {
		idx = b.indexOfRow(*in.ParentItemID, in.ChildItemID)
	} else {
		idx = b.indexOf(in.ChildItemID)
	}
	if idx < 0 {
		return nil, NewNotFoundError("bom item", in.ChildItemID)
	}
	if in.Quantity != nil && in.Quantity.Amount.IsNegative() {
		return nil, NewValidationError("quantity.amount", "must be >= 0")
	}

	it := &b.items[idx]
	if in.Quantity != nil {
		it.Quantity = *in.Quantity
		if it.Quantity.Unit == "" {
			it.Quantity.Unit = DefaultUnit
		}
	}
	if in.Position != nil {
		it.Position = *in.Position
	}
	if in.Notes != nil {
		it.Notes = in.Notes
	}
	it.UpdatedAt = time.Now()
	updated := *it
	b.apply(EventBOMItemUpdated, actor, []string{updated.ID}, map[string]string{"child_item_id": updated.ChildItemID})
	return &updated, nil
}

// UpdateDetails renames the BOM.
func (b *BOMStructure) UpdateDetails(name, description, actor string) error {
	if err := b.ensureUnlocked(); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return NewValidationError("name", "required")
	}
	b.Name = name
	b.Description = description
	b.apply(EventBOMUpdated, actor, nil, nil)
	return nil
}

// Lock blocks every further structural command until Unlock.
func (b *BOMStructure) Lock(actor string) error {
	if b.IsLocked {
		return NewBusinessRuleError(RuleAlreadyLocked, "bom %s is already locked", b.ID)
	}
	b.IsLocked = true
	b.apply(EventBOMLocked, actor, nil, nil)
	return nil
}

func (b *BOMStructure) Unlock(actor string) error {
	if !b.IsLocked {
		return NewBusinessRuleError(RuleNotLocked, "bom %s is not locked", b.ID)
	}
	b.IsLocked = false
	b.apply(EventBOMUnlocked, actor, nil, nil)
	return nil
}

// CreateVersion snapshots the current item list as CurrentVersion and moves
// CurrentVersion forward. Allowed on a locked BOM.
func (b *BOMStructure) CreateVersion(reason, actor string) (*BOMVersion, error) {
	snap := BOMSnapshot{
		BOMID:        b.ID,
		Name:         b.Name,
		RootItemID:   b.RootItemID,
		RootCategory: b.RootCategory,
		Version:      b.CurrentVersion,
		Items:        b.Items(),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal bom snapshot: %w", err)
	}

	v := BOMVersion{
		ID:            uuid.New().String(),
		BOMID:         b.ID,
		VersionNumber: b.CurrentVersion,
		Reason:        reason,
		Snapshot:      string(data),
		IsActive:      true,
		CreatedBy:     actor,
		CreatedAt:     time.Now(),
	}
	b.versions = append(b.versions, v)
	b.CurrentVersion++
	b.apply(EventBOMVersionCreated, actor, nil, map[string]string{
		"version_number": fmt.Sprint(v.VersionNumber),
	})
	return &v, nil
}

// DeactivateVersion disables a previously taken snapshot.
func (b *BOMStructure) DeactivateVersion(number int, actor string) (*BOMVersion, error) {
	for i := range b.versions {
		if b.versions[i].VersionNumber != number {
			continue
		}
		if err := b.versions[i].Deactivate(); err != nil {
			return nil, err
		}
		b.apply(EventBOMVersionDisabled, actor, nil, map[string]string{
			"version_number": fmt.Sprint(number),
		})
		v := b.versions[i]
		return &v, nil
	}
	return nil, NewNotFoundError("bom version", fmt.Sprint(number))
}

// Validate checks the structural invariants of a loaded aggregate.
func (b *BOMStructure) Validate() error {
	var problems []string
	roots := 0
	seen := map[string]bool{}
	for _, it := range b.items {
		if it.IsRoot() {
			roots++
			continue
		}
		if b.indexOf(it.parent()) < 0 {
			problems = append(problems, fmt.Sprintf("item %s references missing parent %s", it.ChildItemID, it.parent()))
		}
		key := it.parent() + "/" + it.ChildItemID
		if seen[key] {
			problems = append(problems, fmt.Sprintf("duplicate usage %s", key))
		}
		seen[key] = true
	}
	if roots != 1 {
		problems = append(problems, fmt.Sprintf("expected exactly one root, found %d", roots))
	}
	if len(problems) > 0 {
		return NewValidationError("items", strings.Join(problems, "; "))
	}
	for _, it := range b.items {
		if _, err := b.GetPathToRoot(it.ChildItemID); err != nil {
			return err
		}
	}
	return nil
}
