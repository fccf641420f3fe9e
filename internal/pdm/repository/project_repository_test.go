package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-pdm/internal/pdm/entity"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/repository"
	"github.com/bitfantasy/nimo-pdm/internal/pdm/testutil"
)

func TestProjectRepository_RoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	ctx := context.Background()

	_, project := testutil.SampleProject(t)
	if _, err := project.AssignUser("alice", "engineer", "tester"); err != nil {
		t.Fatalf("AssignUser: %v", err)
	}
	if err := repos.Project.Create(ctx, project); err != nil {
		t.Fatalf("Create: %v", err)
	}

	loaded, err := repos.Project.FindByID(ctx, project.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if len(loaded.Items()) != len(project.Items()) || len(loaded.Assignments()) != 1 {
		t.Fatalf("aggregate not fully restored: items=%d members=%d", len(loaded.Items()), len(loaded.Assignments()))
	}
	for i, it := range project.Items() {
		got := loaded.Items()[i]
		if got.ID != it.ID || !got.QuantityRequired.Equal(it.QuantityRequired) {
			t.Fatalf("item %d differs: %+v", i, got)
		}
	}

	steel := testutil.ItemByNomenclature(t, loaded, "STEEL")
	if err := loaded.UpdatePurchaseStatus(steel.ID, entity.PurchaseOrdered, "bob"); err != nil {
		t.Fatalf("UpdatePurchaseStatus: %v", err)
	}
	if err := repos.Project.Save(ctx, loaded); err != nil {
		t.Fatalf("Save: %v", err)
	}

	items, err := repos.ProjectItem.ListByProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("ListByProject: %v", err)
	}
	for _, it := range items {
		if it.ID == steel.ID && it.PurchaseStatus != entity.PurchaseOrdered {
			t.Fatalf("status not persisted: %s", it.PurchaseStatus)
		}
	}

	if _, err := repos.Project.FindByID(ctx, "missing"); !errors.Is(err, entity.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProjectRepository_SaveConflict(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	ctx := context.Background()

	_, project := testutil.SampleProject(t)
	if err := repos.Project.Create(ctx, project); err != nil {
		t.Fatalf("Create: %v", err)
	}
	a, _ := repos.Project.FindByID(ctx, project.ID)
	b, _ := repos.Project.FindByID(ctx, project.ID)

	if err := a.ChangeStatus(entity.ProjectPlanning, "alice"); err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if err := repos.Project.Save(ctx, a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.ChangeStatus(entity.ProjectCancelled, "bob"); err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if err := repos.Project.Save(ctx, b); !errors.Is(err, entity.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
}

func TestProjectRepository_Queries(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	ctx := context.Background()
	now := time.Now()
	past := now.AddDate(0, 0, -10)

	_, late := testutil.SampleProject(t)
	if err := late.SetPlannedDates(&past, &past, "tester"); err != nil {
		t.Fatalf("SetPlannedDates: %v", err)
	}
	if err := late.SetProjectManager("pm-1", "tester"); err != nil {
		t.Fatalf("SetProjectManager: %v", err)
	}
	asm := testutil.ItemByNomenclature(t, late, "ASM-1")
	if err := late.SetItemDates(asm.ID, entity.ItemDates{PlannedEnd: &past}, "tester"); err != nil {
		t.Fatalf("SetItemDates: %v", err)
	}
	if err := late.AssignResponsible(asm.ID, "carol", "tester"); err != nil {
		t.Fatalf("AssignResponsible: %v", err)
	}
	if err := repos.Project.Create(ctx, late); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, cancelled := testutil.SampleProject(t)
	if err := cancelled.SetPlannedDates(&past, &past, "tester"); err != nil {
		t.Fatalf("SetPlannedDates: %v", err)
	}
	if err := cancelled.ChangeStatus(entity.ProjectCancelled, "tester"); err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if err := repos.Project.Create(ctx, cancelled); err != nil {
		t.Fatalf("Create: %v", err)
	}

	overdue, err := repos.Project.ListOverdue(ctx, now)
	if err != nil {
		t.Fatalf("ListOverdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != late.ID {
		t.Fatalf("expected only the open late project, got %d", len(overdue))
	}

	drafts, err := repos.Project.ListByStatus(ctx, entity.ProjectDraft)
	if err != nil || len(drafts) != 1 {
		t.Fatalf("ListByStatus: %v (%d)", err, len(drafts))
	}
	managed, err := repos.Project.ListByManager(ctx, "pm-1")
	if err != nil || len(managed) != 1 {
		t.Fatalf("ListByManager: %v (%d)", err, len(managed))
	}

	lateItems, err := repos.ProjectItem.ListOverdue(ctx, now)
	if err != nil {
		t.Fatalf("ProjectItem.ListOverdue: %v", err)
	}
	if len(lateItems) != 1 || lateItems[0].ID != asm.ID {
		t.Fatalf("expected only ASM-1 overdue, got %d", len(lateItems))
	}
	mine, err := repos.ProjectItem.ListByResponsible(ctx, "carol")
	if err != nil || len(mine) != 1 {
		t.Fatalf("ListByResponsible: %v (%d)", err, len(mine))
	}
}
