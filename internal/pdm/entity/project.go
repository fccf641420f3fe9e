package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProjectStatus 项目状态
type ProjectStatus string

const (
	ProjectDraft      ProjectStatus = "DRAFT"
	ProjectPlanning   ProjectStatus = "PLANNING"
	ProjectInProgress ProjectStatus = "IN_PROGRESS"
	ProjectOnHold     ProjectStatus = "ON_HOLD"
	ProjectCompleted  ProjectStatus = "COMPLETED"
	ProjectCancelled  ProjectStatus = "CANCELLED"
)

var projectTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectDraft:      {ProjectPlanning, ProjectCancelled},
	ProjectPlanning:   {ProjectInProgress, ProjectOnHold, ProjectCancelled},
	ProjectInProgress: {ProjectOnHold, ProjectCompleted, ProjectCancelled},
	ProjectOnHold:     {ProjectInProgress, ProjectCancelled},
	ProjectCompleted:  {},
	ProjectCancelled:  {},
}

func (s ProjectStatus) IsValid() bool {
	_, ok := projectTransitions[s]
	return ok
}

func (s ProjectStatus) IsTerminal() bool {
	return s == ProjectCompleted || s == ProjectCancelled
}

// AllowedTransitions returns the statuses reachable from s in one step.
func (s ProjectStatus) AllowedTransitions() []ProjectStatus {
	return append([]ProjectStatus(nil), projectTransitions[s]...)
}

func (s ProjectStatus) CanTransitionTo(target ProjectStatus) bool {
	for _, t := range projectTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// Project is the aggregate root of the execution tree.
type Project struct {
	ID               string          `json:"id" gorm:"primaryKey;size:36"`
	Name             string          `json:"name" gorm:"size:128;not null"`
	Description      string          `json:"description" gorm:"type:text"`
	BOMID            *string         `json:"bom_id,omitempty" gorm:"size:36;index"`
	Status           ProjectStatus   `json:"status" gorm:"size:16;not null;default:DRAFT;index"`
	PlannedStart     *time.Time      `json:"planned_start,omitempty" gorm:"type:date"`
	PlannedEnd       *time.Time      `json:"planned_end,omitempty" gorm:"type:date;index"`
	ActualStart      *time.Time      `json:"actual_start,omitempty"`
	ActualEnd        *time.Time      `json:"actual_end,omitempty"`
	ProgressPercent  decimal.Decimal `json:"progress_percent" gorm:"type:numeric(5,2);not null;default:0"`
	ProjectManagerID *string         `json:"project_manager_id,omitempty" gorm:"size:64;index"`
	Version          int             `json:"version" gorm:"not null;default:1"`
	CreatedBy        string          `json:"created_by" gorm:"size:64"`
	UpdatedBy        string          `json:"updated_by" gorm:"size:64"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`

	items            []ProjectItem
	assignments      []UserAssignment
	persistedVersion int
	events           EventQueue
}

func (Project) TableName() string {
	return "projects"
}

// NewProject creates an empty project in DRAFT.
func NewProject(name, actor string) (*Project, error) {
	p, err := newProject(name, actor)
	if err != nil {
		return nil, err
	}
	p.apply(EventProjectCreated, actor, nil, nil)
	return p, nil
}

func newProject(name, actor string) (*Project, error) {
	if strings.TrimSpace(name) == "" {
		return nil, NewValidationError("name", "required")
	}
	now := time.Now()
	p := &Project{
		ID:              uuid.New().String(),
		Name:            name,
		Status:          ProjectDraft,
		ProgressPercent: decimal.Zero,
		CreatedBy:       actor,
		UpdatedBy:       actor,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	return p, nil
}

// RestoreProject rebuilds a project loaded from storage.
func RestoreProject(header Project, items []ProjectItem, assignments []UserAssignment) *Project {
	p := header
	p.items = append([]ProjectItem(nil), items...)
	p.assignments = append([]UserAssignment(nil), assignments...)
	p.events = EventQueue{}
	p.persistedVersion = header.Version
	return &p
}

func (p *Project) PersistedVersion() int { return p.persistedVersion }

func (p *Project) MarkPersisted() { p.persistedVersion = p.Version }

func (p *Project) PendingEvents() []DomainEvent { return p.events.PendingEvents() }

func (p *Project) PullEvents() []DomainEvent { return p.events.PullEvents() }

func (p *Project) Items() []ProjectItem {
	return append([]ProjectItem(nil), p.items...)
}

func (p *Project) Assignments() []UserAssignment {
	return append([]UserAssignment(nil), p.assignments...)
}

func (p *Project) apply(kind EventKind, actor string, itemIDs []string, attrs map[string]string) {
	p.Version++
	p.UpdatedAt = time.Now()
	p.UpdatedBy = actor
	p.events.record(DomainEvent{
		Kind:          kind,
		AggregateType: AggregateProject,
		AggregateID:   p.ID,
		Version:       p.Version,
		ItemIDs:       itemIDs,
		ActorID:       actor,
		Attributes:    attrs,
		OccurredAt:    p.UpdatedAt,
	})
}

func (p *Project) ensureMutable() error {
	if p.Status.IsTerminal() {
		return NewBusinessRuleError(RuleProjectTerminal, "project %s is %s", p.ID, p.Status)
	}
	return nil
}

func (p *Project) indexOf(itemID string) int {
	for i := range p.items {
		if p.items[i].ID == itemID {
			return i
		}
	}
	return -1
}

// FindItem looks an item up by its own id.
func (p *Project) FindItem(itemID string) (ProjectItem, bool) {
	if i := p.indexOf(itemID); i >= 0 {
		return p.items[i], true
	}
	return ProjectItem{}, false
}

// GetChildren returns items whose parent is parentItemID; nil selects the roots.
func (p *Project) GetChildren(parentItemID *string) []ProjectItem {
	var out []ProjectItem
	for _, it := range p.items {
		switch {
		case parentItemID == nil && it.ParentProjectItemID == nil:
			out = append(out, it)
		case parentItemID != nil && it.ParentProjectItemID != nil && *it.ParentProjectItemID == *parentItemID:
			out = append(out, it)
		}
	}
	return out
}

func (p *Project) GetRootItems() []ProjectItem {
	return p.GetChildren(nil)
}

// childIndex groups item indices by parent id; roots are under "".
func (p *Project) childIndex() map[string][]int {
	idx := make(map[string][]int, len(p.items))
	for i, it := range p.items {
		key := ""
		if it.ParentProjectItemID != nil {
			key = *it.ParentProjectItemID
		}
		idx[key] = append(idx[key], i)
	}
	return idx
}

// Descendants returns every item below itemID, breadth first.
func (p *Project) Descendants(itemID string) []ProjectItem {
	children := p.childIndex()
	var out []ProjectItem
	seen := map[string]bool{itemID: true}
	queue := []string{itemID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, i := range children[cur] {
			it := p.items[i]
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			out = append(out, it)
			queue = append(queue, it.ID)
		}
	}
	return out
}

// PathToRoot returns the item and its ancestors, leaf first.
func (p *Project) PathToRoot(itemID string) ([]ProjectItem, error) {
	var path []ProjectItem
	visited := map[string]bool{}
	current := itemID
	for {
		if visited[current] {
			chain := make([]string, 0, len(path)+1)
			for _, it := range path {
				chain = append(chain, it.ID)
			}
			return nil, &CircularReferenceError{ItemID: current, Chain: append(chain, current)}
		}
		visited[current] = true
		i := p.indexOf(current)
		if i < 0 {
			return nil, NewNotFoundError("project item", current)
		}
		it := p.items[i]
		path = append(path, it)
		if it.ParentProjectItemID == nil {
			return path, nil
		}
		current = *it.ParentProjectItemID
	}
}

// IsOverdue 计划结束已过且项目未结束
func (p *Project) IsOverdue(now time.Time) bool {
	return p.PlannedEnd != nil && !p.Status.IsTerminal() && now.After(*p.PlannedEnd)
}

func (p *Project) HasProblems(now time.Time) bool {
	if p.IsOverdue(now) {
		return true
	}
	for _, it := range p.items {
		if it.HasProblems(now) {
			return true
		}
	}
	return false
}

// ChangeStatus moves the project along the status table.
func (p *Project) ChangeStatus(target ProjectStatus, actor string) error {
	if !target.IsValid() {
		return NewValidationError("status", fmt.Sprintf("unknown project status %q", target))
	}
	if !p.Status.CanTransitionTo(target) {
		allowed := p.Status.AllowedTransitions()
		names := make([]string, len(allowed))
		for i, s := range allowed {
			names[i] = string(s)
		}
		return &InvalidStatusTransitionError{Current: string(p.Status), Target: string(target), Allowed: names}
	}
	if target == ProjectCompleted {
		var open []string
		for _, it := range p.items {
			if !it.IsCompleted() {
				open = append(open, it.ID)
			}
		}
		if len(open) > 0 {
			return NewBusinessRuleError(RuleIncompleteItems, "%d items are not completed", len(open))
		}
	}

	now := time.Now()
	previous := p.Status
	p.Status = target
	switch target {
	case ProjectInProgress:
		if p.ActualStart == nil {
			p.ActualStart = &now
		}
	case ProjectCompleted:
		p.ActualEnd = &now
		p.ProgressPercent = decimal.NewFromInt(100)
	}
	p.apply(EventProjectStatus, actor, nil, map[string]string{
		"from": string(previous),
		"to":   string(target),
	})
	return nil
}

// Complete is ChangeStatus(COMPLETED).
func (p *Project) Complete(actor string) error {
	return p.ChangeStatus(ProjectCompleted, actor)
}

// SetPlannedDates 设置项目计划日期
func (p *Project) SetPlannedDates(start, end *time.Time, actor string) error {
	if err := p.ensureMutable(); err != nil {
		return err
	}
	if start != nil && end != nil && end.Before(*start) {
		return NewValidationError("planned_end", "must not be before planned_start")
	}
	p.PlannedStart = start
	p.PlannedEnd = end
	p.apply(EventProjectUpdated, actor, nil, nil)
	return nil
}

func (p *Project) SetProjectManager(userID, actor string) error {
	if err := p.ensureMutable(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return NewValidationError("project_manager_id", "required")
	}
	p.ProjectManagerID = &userID
	p.apply(EventProjectUpdated, actor, nil, map[string]string{"project_manager_id": userID})
	return nil
}

// AssignUser adds a project member in a role.
func (p *Project) AssignUser(userID, role, actor string) (*UserAssignment, error) {
	if err := p.ensureMutable(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, NewValidationError("user_id", "required")
	}
	if strings.TrimSpace(role) == "" {
		return nil, NewValidationError("role", "required")
	}
	for _, a := range p.assignments {
		if a.UserID == userID && a.Role == role {
			return nil, NewBusinessRuleError(RuleDuplicateMember, "user %s already has role %s", userID, role)
		}
	}
	a := UserAssignment{
		ID:         uuid.New().String(),
		ProjectID:  p.ID,
		UserID:     userID,
		Role:       role,
		AssignedBy: actor,
		AssignedAt: time.Now(),
	}
	p.assignments = append(p.assignments, a)
	p.apply(EventProjectUserAssigned, actor, nil, map[string]string{"user_id": userID, "role": role})
	return &a, nil
}

func (p *Project) UnassignUser(userID, role, actor string) error {
	if err := p.ensureMutable(); err != nil {
		return err
	}
	for i, a := range p.assignments {
		if a.UserID == userID && a.Role == role {
			p.assignments = append(p.assignments[:i:i], p.assignments[i+1:]...)
			p.apply(EventProjectUserAssigned, actor, nil, map[string]string{"user_id": userID, "role": role, "removed": "true"})
			return nil
		}
	}
	return NewNotFoundError("assignment", userID+"/"+role)
}
