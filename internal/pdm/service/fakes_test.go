package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bitfantasy/nimo-pdm/internal/pdm/entity"
)

// memBOMStore keeps BOM aggregates as rows, like the gorm adapter: every load
// returns an independent copy and saves are version-checked.
type memBOMStore struct {
	mu       sync.Mutex
	headers  map[string]entity.BOMStructure
	items    map[string][]entity.BOMItem
	versions map[string][]entity.BOMVersion
	loads    int
	// beforeSave runs inside Save before the version check
	beforeSave func(id string)
}

func newMemBOMStore() *memBOMStore {
	return &memBOMStore{
		headers:  map[string]entity.BOMStructure{},
		items:    map[string][]entity.BOMItem{},
		versions: map[string][]entity.BOMVersion{},
	}
}

func (m *memBOMStore) put(b *entity.BOMStructure) {
	m.headers[b.ID] = *b
	m.items[b.ID] = b.Items()
	m.versions[b.ID] = b.Versions()
}

func (m *memBOMStore) FindByID(_ context.Context, id string) (*entity.BOMStructure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.headers[id]
	if !ok {
		return nil, entity.NewNotFoundError("bom", id)
	}
	m.loads++
	return entity.RestoreBOMStructure(h, m.items[id], m.versions[id]), nil
}

func (m *memBOMStore) FindByRootItem(ctx context.Context, root string) (*entity.BOMStructure, error) {
	m.mu.Lock()
	var id string
	for _, h := range m.headers {
		if h.RootItemID == root {
			id = h.ID
		}
	}
	m.mu.Unlock()
	if id == "" {
		return nil, entity.NewNotFoundError("bom for root", root)
	}
	return m.FindByID(ctx, id)
}

func (m *memBOMStore) Create(_ context.Context, b *entity.BOMStructure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.headers {
		if h.RootItemID == b.RootItemID {
			return entity.NewBusinessRuleError(entity.RuleBOMRootTaken, "root taken")
		}
	}
	m.put(b)
	b.MarkPersisted()
	return nil
}

func (m *memBOMStore) Save(_ context.Context, b *entity.BOMStructure) error {
	if m.beforeSave != nil {
		m.beforeSave(b.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headers[b.ID].Version != b.PersistedVersion() {
		return fmt.Errorf("bom %s: %w", b.ID, entity.ErrConcurrencyConflict)
	}
	m.put(b)
	b.MarkPersisted()
	return nil
}

// bump simulates a concurrent writer.
func (m *memBOMStore) bump(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.headers[id]
	h.Version++
	m.headers[id] = h
}

func (m *memBOMStore) ListByBOM(_ context.Context, bomID string) ([]entity.BOMVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]entity.BOMVersion(nil), m.versions[bomID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber > out[j].VersionNumber })
	return out, nil
}

func (m *memBOMStore) FindByNumber(_ context.Context, bomID string, n int) (*entity.BOMVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[bomID] {
		if v.VersionNumber == n {
			return &v, nil
		}
	}
	return nil, entity.NewNotFoundError("bom version", fmt.Sprint(n))
}

type memProjectStore struct {
	mu         sync.Mutex
	headers    map[string]entity.Project
	items      map[string][]entity.ProjectItem
	members    map[string][]entity.UserAssignment
	beforeSave func(id string)
}

func newMemProjectStore() *memProjectStore {
	return &memProjectStore{
		headers: map[string]entity.Project{},
		items:   map[string][]entity.ProjectItem{},
		members: map[string][]entity.UserAssignment{},
	}
}

func (m *memProjectStore) put(p *entity.Project) {
	m.headers[p.ID] = *p
	m.items[p.ID] = p.Items()
	m.members[p.ID] = p.Assignments()
}

func (m *memProjectStore) FindByID(_ context.Context, id string) (*entity.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.headers[id]
	if !ok {
		return nil, entity.NewNotFoundError("project", id)
	}
	return entity.RestoreProject(h, m.items[id], m.members[id]), nil
}

func (m *memProjectStore) Create(_ context.Context, p *entity.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(p)
	p.MarkPersisted()
	return nil
}

func (m *memProjectStore) Save(_ context.Context, p *entity.Project) error {
	if m.beforeSave != nil {
		m.beforeSave(p.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.headers[p.ID].Version != p.PersistedVersion() {
		return fmt.Errorf("project %s: %w", p.ID, entity.ErrConcurrencyConflict)
	}
	m.put(p)
	p.MarkPersisted()
	return nil
}

func (m *memProjectStore) bump(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.headers[id]
	h.Version++
	m.headers[id] = h
}

func (m *memProjectStore) filter(keep func(entity.Project) bool) []entity.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Project
	for _, h := range m.headers {
		if keep(h) {
			out = append(out, h)
		}
	}
	return out
}

func (m *memProjectStore) ListByStatus(_ context.Context, status entity.ProjectStatus) ([]entity.Project, error) {
	return m.filter(func(p entity.Project) bool { return p.Status == status }), nil
}

func (m *memProjectStore) ListByManager(_ context.Context, userID string) ([]entity.Project, error) {
	return m.filter(func(p entity.Project) bool { return p.ProjectManagerID != nil && *p.ProjectManagerID == userID }), nil
}

func (m *memProjectStore) ListOverdue(_ context.Context, now time.Time) ([]entity.Project, error) {
	return m.filter(func(p entity.Project) bool { return p.IsOverdue(now) }), nil
}

// memItemStore answers item queries from a memProjectStore.
type memItemStore struct {
	projects *memProjectStore
}

func (m memItemStore) all(keep func(entity.Project, entity.ProjectItem) bool) []entity.ProjectItem {
	m.projects.mu.Lock()
	defer m.projects.mu.Unlock()
	var out []entity.ProjectItem
	for id, items := range m.projects.items {
		for _, it := range items {
			if keep(m.projects.headers[id], it) {
				out = append(out, it)
			}
		}
	}
	return out
}

func (m memItemStore) ListByProject(_ context.Context, projectID string) ([]entity.ProjectItem, error) {
	return m.all(func(_ entity.Project, it entity.ProjectItem) bool { return it.ProjectID == projectID }), nil
}

func (m memItemStore) ListByResponsible(_ context.Context, userID string) ([]entity.ProjectItem, error) {
	return m.all(func(_ entity.Project, it entity.ProjectItem) bool {
		return it.ResponsibleUserID != nil && *it.ResponsibleUserID == userID
	}), nil
}

func (m memItemStore) ListOverdue(_ context.Context, now time.Time) ([]entity.ProjectItem, error) {
	return m.all(func(p entity.Project, it entity.ProjectItem) bool {
		return !p.Status.IsTerminal() && it.IsOverdue(now)
	}), nil
}

// recordingDispatcher collects dispatched events.
type recordingDispatcher struct {
	mu     sync.Mutex
	events []entity.DomainEvent
}

func (d *recordingDispatcher) Dispatch(_ context.Context, events []entity.DomainEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, events...)
	return nil
}

func (d *recordingDispatcher) kinds() []entity.EventKind {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]entity.EventKind, len(d.events))
	for i, e := range d.events {
		out[i] = e.Kind
	}
	return out
}
