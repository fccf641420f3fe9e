package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var allProjectStatuses = []ProjectStatus{
	ProjectDraft, ProjectPlanning, ProjectInProgress, ProjectOnHold, ProjectCompleted, ProjectCancelled,
}

func mustProject(t *testing.T) *Project {
	t.Helper()
	p, err := NewProject("Test project", "tester")
	if err != nil {
		t.Fatalf("NewProject: %v", err)
	}
	return p
}

func mustAddProjectItem(t *testing.T, p *Project, parent *ProjectItem, nomenclature string, cat Category, qty int64) *ProjectItem {
	t.Helper()
	in := AddProjectItemInput{NomenclatureItemID: nomenclature, Category: cat, Quantity: Pieces(qty)}
	if parent != nil {
		id := parent.ID
		in.ParentProjectItemID = &id
	}
	it, err := p.AddItem(in, "tester")
	if err != nil {
		t.Fatalf("AddItem(%s): %v", nomenclature, err)
	}
	return it
}

func TestNewProject(t *testing.T) {
	p := mustProject(t)
	if p.Status != ProjectDraft || p.Version != 1 {
		t.Fatalf("expected DRAFT v1, got %s v%d", p.Status, p.Version)
	}
	if _, err := NewProject(" ", "u"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestChangeStatus_TransitionClosure(t *testing.T) {
	allowed := map[ProjectStatus]map[ProjectStatus]bool{
		ProjectDraft:      {ProjectPlanning: true, ProjectCancelled: true},
		ProjectPlanning:   {ProjectInProgress: true, ProjectOnHold: true, ProjectCancelled: true},
		ProjectInProgress: {ProjectOnHold: true, ProjectCompleted: true, ProjectCancelled: true},
		ProjectOnHold:     {ProjectInProgress: true, ProjectCancelled: true},
	}

	for _, from := range allProjectStatuses {
		for _, to := range allProjectStatuses {
			p := mustProject(t)
			p.Status = from
			version := p.Version

			err := p.ChangeStatus(to, "u")
			if allowed[from][to] {
				if err != nil {
					t.Fatalf("%s -> %s: unexpected error %v", from, to, err)
				}
				if p.Status != to || p.Version != version+1 {
					t.Fatalf("%s -> %s: status=%s version=%d", from, to, p.Status, p.Version)
				}
				continue
			}
			var transErr *InvalidStatusTransitionError
			if !errors.As(err, &transErr) {
				t.Fatalf("%s -> %s: expected invalid transition, got %v", from, to, err)
			}
			if transErr.Current != string(from) || transErr.Target != string(to) || len(transErr.Allowed) != len(allowed[from]) {
				t.Fatalf("%s -> %s: unexpected error payload %+v", from, to, transErr)
			}
			if p.Status != from || p.Version != version {
				t.Fatalf("%s -> %s: state changed on failure", from, to)
			}
		}
	}
}

func TestChangeStatus_UnknownTarget(t *testing.T) {
	p := mustProject(t)
	if err := p.ChangeStatus(ProjectStatus("ARCHIVED"), "u"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestChangeStatus_ActualDates(t *testing.T) {
	p := mustProject(t)
	for _, s := range []ProjectStatus{ProjectPlanning, ProjectInProgress} {
		if err := p.ChangeStatus(s, "u"); err != nil {
			t.Fatalf("ChangeStatus(%s): %v", s, err)
		}
	}
	if p.ActualStart == nil {
		t.Fatalf("actual_start not set on IN_PROGRESS")
	}
	started := *p.ActualStart

	if err := p.ChangeStatus(ProjectOnHold, "u"); err != nil {
		t.Fatalf("ChangeStatus(ON_HOLD): %v", err)
	}
	if err := p.ChangeStatus(ProjectInProgress, "u"); err != nil {
		t.Fatalf("ChangeStatus(IN_PROGRESS): %v", err)
	}
	if !p.ActualStart.Equal(started) {
		t.Fatalf("actual_start overwritten on resume")
	}

	if err := p.Complete("u"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if p.ActualEnd == nil || !p.ProgressPercent.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("complete must set actual_end and progress 100")
	}
	if err := p.SetProjectManager("pm", "u"); !IsRule(err, RuleProjectTerminal) {
		t.Fatalf("expected project_terminal after completion, got %v", err)
	}
}

func TestComplete_RequiresAllItemsDone(t *testing.T) {
	p := mustProject(t)
	root := mustAddProjectItem(t, p, nil, "ASM", CategoryAssemblyUnit, 1)
	mat := mustAddProjectItem(t, p, root, "STEEL", CategoryMaterial, 5)
	p.Status = ProjectInProgress

	if err := p.Complete("u"); !IsRule(err, RuleIncompleteItems) {
		t.Fatalf("expected incomplete_items, got %v", err)
	}
	if p.Status != ProjectInProgress {
		t.Fatalf("status changed on failure")
	}

	if err := p.UpdatePurchaseStatus(mat.ID, PurchaseDelivered, "u"); err != nil {
		t.Fatalf("UpdatePurchaseStatus: %v", err)
	}
	if err := p.UpdateManufacturingStatus(root.ID, ManufacturingCompleted, "u"); err != nil {
		t.Fatalf("UpdateManufacturingStatus: %v", err)
	}
	if err := p.Complete("u"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestItemStatusUpdates(t *testing.T) {
	p := mustProject(t)
	asm := mustAddProjectItem(t, p, nil, "ASM", CategoryAssemblyUnit, 2)
	bolt := mustAddProjectItem(t, p, asm, "BOLT", CategoryStandardProduct, 8)

	if asm.ManufacturingStatus != ManufacturingNotStarted || bolt.PurchaseStatus != PurchasePending {
		t.Fatalf("unexpected initial statuses: %s / %s", asm.ManufacturingStatus, bolt.PurchaseStatus)
	}

	if err := p.UpdatePurchaseStatus(asm.ID, PurchaseOrdered, "u"); !IsRule(err, RuleStatusKindMismatch) {
		t.Fatalf("expected status_kind_mismatch, got %v", err)
	}
	if err := p.UpdateManufacturingStatus(bolt.ID, ManufacturingInProgress, "u"); !IsRule(err, RuleStatusKindMismatch) {
		t.Fatalf("expected status_kind_mismatch, got %v", err)
	}
	if err := p.UpdateManufacturingStatus(asm.ID, ManufacturingStatus("MELTED"), "u"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := p.UpdateManufacturingStatus("missing", ManufacturingInProgress, "u"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	mfg := []struct {
		status ManufacturingStatus
		want   int64
	}{
		{ManufacturingInProgress, 50},
		{ManufacturingSuspended, 50},
		{ManufacturingQualityCheck, 90},
		{ManufacturingRejected, 0},
		{ManufacturingCompleted, 100},
	}
	for _, tt := range mfg {
		if err := p.UpdateManufacturingStatus(asm.ID, tt.status, "u"); err != nil {
			t.Fatalf("UpdateManufacturingStatus(%s): %v", tt.status, err)
		}
		got, _ := p.FindItem(asm.ID)
		if !got.ProgressPercent.Equal(decimal.NewFromInt(tt.want)) {
			t.Fatalf("%s: want=%d got=%s", tt.status, tt.want, got.ProgressPercent)
		}
	}
	got, _ := p.FindItem(asm.ID)
	if got.ActualStart == nil || got.ActualEnd == nil || !got.QuantityCompleted.Equal(got.QuantityRequired) {
		t.Fatalf("completed item must carry actual dates and full quantity: %+v", got)
	}

	pur := []struct {
		status PurchaseStatus
		want   int64
	}{
		{PurchaseOrdered, 25},
		{PurchaseDelayed, 25},
		{PurchaseInTransit, 75},
		{PurchaseCancelled, 0},
		{PurchaseNotRequired, 100},
	}
	for _, tt := range pur {
		if err := p.UpdatePurchaseStatus(bolt.ID, tt.status, "u"); err != nil {
			t.Fatalf("UpdatePurchaseStatus(%s): %v", tt.status, err)
		}
		got, _ := p.FindItem(bolt.ID)
		if !got.ProgressPercent.Equal(decimal.NewFromInt(tt.want)) {
			t.Fatalf("%s: want=%d got=%s", tt.status, tt.want, got.ProgressPercent)
		}
	}
}

func TestItemStatusRollbackClearsCompletion(t *testing.T) {
	p := mustProject(t)
	asm := mustAddProjectItem(t, p, nil, "ASM", CategoryAssemblyUnit, 1)
	part := mustAddProjectItem(t, p, asm, "P", CategoryPart, 4)
	bolt := mustAddProjectItem(t, p, asm, "BOLT", CategoryStandardProduct, 8)

	if err := p.UpdateManufacturingStatus(part.ID, ManufacturingCompleted, "u"); err != nil {
		t.Fatalf("UpdateManufacturingStatus: %v", err)
	}
	if err := p.UpdateManufacturingStatus(part.ID, ManufacturingInProgress, "u"); err != nil {
		t.Fatalf("UpdateManufacturingStatus: %v", err)
	}
	got, _ := p.FindItem(part.ID)
	if got.IsCompleted() || !got.QuantityCompleted.IsZero() || got.ActualEnd != nil {
		t.Fatalf("reopened item still looks finished: qty=%s end=%v", got.QuantityCompleted, got.ActualEnd)
	}

	if err := p.UpdatePurchaseStatus(bolt.ID, PurchaseDelivered, "u"); err != nil {
		t.Fatalf("UpdatePurchaseStatus: %v", err)
	}
	if err := p.UpdatePurchaseStatus(bolt.ID, PurchaseDelayed, "u"); err != nil {
		t.Fatalf("UpdatePurchaseStatus: %v", err)
	}
	got, _ = p.FindItem(bolt.ID)
	if !got.QuantityCompleted.IsZero() || got.ActualEnd != nil {
		t.Fatalf("delayed item keeps delivered quantity %s", got.QuantityCompleted)
	}

	// nothing is done, so the weighted rollup must stay at zero
	progress, err := p.RecalculateProgress("u")
	if err != nil {
		t.Fatalf("RecalculateProgress: %v", err)
	}
	if !progress.IsZero() {
		t.Fatalf("expected 0 progress after rollback, got %s", progress)
	}
}

func TestPurchaseStatusAliases(t *testing.T) {
	p := mustProject(t)
	asm := mustAddProjectItem(t, p, nil, "ASM", CategoryAssemblyUnit, 1)
	bolt := mustAddProjectItem(t, p, asm, "BOLT", CategoryStandardProduct, 2)

	cases := []struct {
		alias PurchaseStatus
		want  PurchaseStatus
	}{
		{"IN_ORDER", PurchaseOrdered},
		{"WAITING_ORDER", PurchasePending},
		{"CLOSED", PurchaseDelivered},
	}
	for _, tt := range cases {
		if err := p.UpdatePurchaseStatus(bolt.ID, tt.alias, "u"); err != nil {
			t.Fatalf("UpdatePurchaseStatus(%s): %v", tt.alias, err)
		}
		got, _ := p.FindItem(bolt.ID)
		if got.PurchaseStatus != tt.want {
			t.Fatalf("%s: want=%s got=%s", tt.alias, tt.want, got.PurchaseStatus)
		}
	}
	got, _ := p.FindItem(bolt.ID)
	if !got.IsCompleted() {
		t.Fatalf("CLOSED must count as delivered")
	}
}

func TestProjectItemCommands(t *testing.T) {
	p := mustProject(t)
	asm := mustAddProjectItem(t, p, nil, "ASM", CategoryAssemblyUnit, 4)
	steel := mustAddProjectItem(t, p, asm, "STEEL", CategoryMaterial, 10)

	if err := p.AssignResponsible(asm.ID, "alice", "u"); err != nil {
		t.Fatalf("AssignResponsible: %v", err)
	}
	contractor := "acme"
	if err := p.SetContractor(asm.ID, ManufacturerContractor, &contractor, "u"); err != nil {
		t.Fatalf("SetContractor: %v", err)
	}
	if err := p.SetContractor(asm.ID, ManufacturerContractor, nil, "u"); !errors.Is(err, ErrValidation) {
		t.Fatalf("contractor without id: %v", err)
	}
	if err := p.SetContractor(steel.ID, ManufacturerInternal, nil, "u"); !IsRule(err, RuleStatusKindMismatch) {
		t.Fatalf("contractor on purchased item: %v", err)
	}
	supplier := "steelworks"
	if err := p.SetSupplier(steel.ID, SupplyCustomer, &supplier, "u"); err != nil {
		t.Fatalf("SetSupplier: %v", err)
	}
	if err := p.RecordQuantityCompleted(asm.ID, decimal.NewFromInt(5), "u"); !errors.Is(err, ErrValidation) {
		t.Fatalf("over-completion: %v", err)
	}
	if err := p.RecordQuantityCompleted(asm.ID, decimal.NewFromInt(3), "u"); err != nil {
		t.Fatalf("RecordQuantityCompleted: %v", err)
	}

	got, _ := p.FindItem(asm.ID)
	if got.ResponsibleUserID == nil || *got.ResponsibleUserID != "alice" {
		t.Fatalf("responsible not set")
	}
	if got.ManufacturerType != ManufacturerContractor || got.ContractorID == nil || *got.ContractorID != "acme" {
		t.Fatalf("contractor not set: %+v", got)
	}
	if !got.QuantityCompleted.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("quantity_completed: %s", got.QuantityCompleted)
	}
	s, _ := p.FindItem(steel.ID)
	if s.MaterialSupplyType != SupplyCustomer || s.SupplierID == nil {
		t.Fatalf("supplier not set: %+v", s)
	}
}

func TestProjectRemoveItem(t *testing.T) {
	p := mustProject(t)
	root := mustAddProjectItem(t, p, nil, "ASM", CategoryAssemblyUnit, 1)
	part := mustAddProjectItem(t, p, root, "P", CategoryPart, 2)
	mustAddProjectItem(t, p, part, "M", CategoryMaterial, 3)

	if err := p.RemoveItem(root.ID, false, "u"); !IsRule(err, RuleHasChildren) {
		t.Fatalf("expected has_children, got %v", err)
	}
	p.PullEvents()
	if err := p.RemoveItem(part.ID, true, "u"); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(p.Items()) != 1 {
		t.Fatalf("expected only the root to remain, got %d", len(p.Items()))
	}
	ev := p.PullEvents()
	if len(ev) != 1 || len(ev[0].ItemIDs) != 2 {
		t.Fatalf("expected one event for 2 removed items, got %+v", ev)
	}
}

func TestProjectNavigation(t *testing.T) {
	p := mustProject(t)
	root := mustAddProjectItem(t, p, nil, "ASM", CategoryAssemblyUnit, 1)
	a := mustAddProjectItem(t, p, root, "P1", CategoryPart, 1)
	mustAddProjectItem(t, p, root, "P2", CategoryPart, 1)
	m := mustAddProjectItem(t, p, a, "M", CategoryMaterial, 1)

	if len(p.GetRootItems()) != 1 {
		t.Fatalf("expected 1 root")
	}
	rootID := root.ID
	if len(p.GetChildren(&rootID)) != 2 {
		t.Fatalf("expected 2 children of root")
	}
	if len(p.Descendants(root.ID)) != 3 {
		t.Fatalf("expected 3 descendants")
	}
	path, err := p.PathToRoot(m.ID)
	if err != nil {
		t.Fatalf("PathToRoot: %v", err)
	}
	if len(path) != 3 || path[0].ID != m.ID || path[2].ID != root.ID {
		t.Fatalf("unexpected path %+v", path)
	}
	if _, err := p.PathToRoot("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOverdueAndProblems(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -3)
	future := now.AddDate(0, 0, 3)

	p := mustProject(t)
	asm := mustAddProjectItem(t, p, nil, "ASM", CategoryAssemblyUnit, 1)
	if p.HasProblems(now) {
		t.Fatalf("fresh project has no problems")
	}

	if err := p.SetItemDates(asm.ID, ItemDates{PlannedEnd: &past}, "u"); err != nil {
		t.Fatalf("SetItemDates: %v", err)
	}
	got, _ := p.FindItem(asm.ID)
	if !got.IsOverdue(now) || !p.HasProblems(now) {
		t.Fatalf("item past its planned end must be overdue")
	}
	if err := p.SetItemDates(asm.ID, ItemDates{PlannedStart: &future, PlannedEnd: &past}, "u"); !errors.Is(err, ErrValidation) {
		t.Fatalf("end before start: %v", err)
	}

	if err := p.SetPlannedDates(&past, &past, "u"); err != nil {
		t.Fatalf("SetPlannedDates: %v", err)
	}
	if !p.IsOverdue(now) {
		t.Fatalf("project past planned end must be overdue")
	}
	p.Status = ProjectCancelled
	if p.IsOverdue(now) {
		t.Fatalf("terminal projects are never overdue")
	}
}

func TestAssignUser(t *testing.T) {
	p := mustProject(t)
	if _, err := p.AssignUser("bob", "engineer", "u"); err != nil {
		t.Fatalf("AssignUser: %v", err)
	}
	if _, err := p.AssignUser("bob", "engineer", "u"); !IsRule(err, RuleDuplicateMember) {
		t.Fatalf("expected duplicate_member, got %v", err)
	}
	if _, err := p.AssignUser("bob", "reviewer", "u"); err != nil {
		t.Fatalf("second role: %v", err)
	}
	if err := p.UnassignUser("bob", "engineer", "u"); err != nil {
		t.Fatalf("UnassignUser: %v", err)
	}
	if len(p.Assignments()) != 1 {
		t.Fatalf("expected 1 assignment left, got %d", len(p.Assignments()))
	}
	if err := p.UnassignUser("bob", "engineer", "u"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProjectVersionMonotonicity(t *testing.T) {
	p := mustProject(t)
	p.PullEvents()
	root := mustAddProjectItem(t, p, nil, "ASM", CategoryAssemblyUnit, 1)
	p.PullEvents()

	steps := []func() error{
		func() error { return p.ChangeStatus(ProjectPlanning, "u") },
		func() error { return p.UpdateManufacturingStatus(root.ID, ManufacturingInProgress, "u") },
		func() error { return p.AssignResponsible(root.ID, "alice", "u") },
		func() error { _, err := p.RecalculateProgress("u"); return err },
		func() error { return p.SetProjectManager("pm", "u") },
	}
	for i, step := range steps {
		before := p.Version
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if p.Version != before+1 {
			t.Fatalf("step %d: version %d -> %d", i, before, p.Version)
		}
		ev := p.PullEvents()
		if len(ev) != 1 || ev[0].Version != p.Version || ev[0].ActorID != "u" {
			t.Fatalf("step %d: unexpected events %+v", i, ev)
		}
	}
}

func TestItemSourcing(t *testing.T) {
	p := mustProject(t)
	asm := mustAddProjectItem(t, p, nil, "ASM", CategoryAssemblyUnit, 1)
	steel := mustAddProjectItem(t, p, asm, "STEEL", CategoryMaterial, 5)

	if err := p.SetContractor(asm.ID, ManufacturerContractor, nil, "u"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error without contractor id, got %v", err)
	}
	contractor := "ctr-1"
	if err := p.SetContractor(asm.ID, ManufacturerContractor, &contractor, "u"); err != nil {
		t.Fatalf("SetContractor: %v", err)
	}
	if err := p.SetContractor(steel.ID, ManufacturerInternal, nil, "u"); !IsRule(err, RuleStatusKindMismatch) {
		t.Fatalf("expected status_kind_mismatch, got %v", err)
	}
	got, _ := p.FindItem(asm.ID)
	if got.ManufacturerType != ManufacturerContractor || got.ContractorID == nil || *got.ContractorID != contractor {
		t.Fatalf("contractor not set: %+v", got)
	}
	if err := p.SetContractor(asm.ID, ManufacturerInternal, &contractor, "u"); err != nil {
		t.Fatalf("SetContractor(INTERNAL): %v", err)
	}
	got, _ = p.FindItem(asm.ID)
	if got.ContractorID != nil {
		t.Fatalf("internal manufacturing must clear the contractor")
	}

	supplier := "sup-9"
	if err := p.SetSupplier(steel.ID, MaterialSupplyType("BARTER"), &supplier, "u"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := p.SetSupplier(steel.ID, SupplyCustomer, &supplier, "u"); err != nil {
		t.Fatalf("SetSupplier: %v", err)
	}
	got, _ = p.FindItem(steel.ID)
	if got.MaterialSupplyType != SupplyCustomer || got.SupplierID == nil || *got.SupplierID != supplier {
		t.Fatalf("supplier not set: %+v", got)
	}

	reason := "late-delivery"
	now := time.Now()
	if err := p.SetDelayReason(steel.ID, &reason, "u"); err != nil {
		t.Fatalf("SetDelayReason: %v", err)
	}
	got, _ = p.FindItem(steel.ID)
	if !got.HasProblems(now) {
		t.Fatalf("an item with a delay reason has problems")
	}
	if err := p.SetDelayReason(steel.ID, nil, "u"); err != nil {
		t.Fatalf("SetDelayReason(nil): %v", err)
	}
	got, _ = p.FindItem(steel.ID)
	if got.HasProblems(now) {
		t.Fatalf("clearing the delay reason must clear the problem")
	}
}
