package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"trackifyr/internal/config"
	"trackifyr/internal/db"
	"trackifyr/internal/domain"
	"trackifyr/internal/engine"
	"trackifyr/internal/events"
	"trackifyr/internal/store"
)

type testEnv struct {
	Engine *engine.Engine
	Store  store.KV
	DB     *sql.DB
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(dir)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	kv := store.KV{DB: conn}
	eng := engine.New(kv, events.Writer{DB: conn}, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	return testEnv{Engine: eng, Store: kv, DB: conn, Ctx: ctx}
}

func TestInitSeedsSampleData(t *testing.T) {
	env := newTestEnv(t)
	projects := env.Engine.Projects()
	if len(projects) != 1 || projects[0].ID != "p-1" {
		t.Fatalf("expected seeded project p-1, got %+v", projects)
	}
	if len(projects[0].Milestones) != 2 {
		t.Fatalf("expected two seeded milestones")
	}
	task, _, _, ok := env.Engine.FindTask("t-1")
	if !ok || task.Status != domain.StatusComplete {
		t.Fatalf("expected seeded t-1 complete")
	}
	sel := env.Engine.Selection()
	if sel.ProjectID != "p-1" || sel.MilestoneID != "m-1" {
		t.Fatalf("unexpected selection %+v", sel)
	}
}

func TestLockFollowsDependencyStatus(t *testing.T) {
	env := newTestEnv(t)
	// t-2 depends on complete t-1, t-3 on pending t-2
	if locked, _ := env.Engine.IsLocked("t-2"); locked {
		t.Fatalf("t-2 should be unlocked, its dependency is complete")
	}
	if locked, _ := env.Engine.IsLocked("t-3"); !locked {
		t.Fatalf("t-3 should be locked while t-2 is pending")
	}
	if locked, _ := env.Engine.IsLocked("t-4"); locked {
		t.Fatalf("t-4 has no dependency and can never be locked")
	}
	if _, err := env.Engine.IsLocked("t-nope"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestToggleOutcomes(t *testing.T) {
	env := newTestEnv(t)
	// locked: no state change, no error
	res, err := env.Engine.ToggleTaskComplete(env.Ctx, "t-3")
	if err != nil || res.Outcome != engine.OutcomeLocked {
		t.Fatalf("expected locked outcome, got %v %v", res.Outcome, err)
	}
	task, _, _, _ := env.Engine.FindTask("t-3")
	if task.Status != domain.StatusPending {
		t.Fatalf("locked toggle must not change status")
	}
	// unlocked: completes and reports progress
	res, err = env.Engine.ToggleTaskComplete(env.Ctx, "t-2")
	if err != nil || res.Outcome != engine.OutcomeComplete {
		t.Fatalf("expected complete outcome, got %v %v", res.Outcome, err)
	}
	if res.Progress.CompletedTasks != 2 || res.Progress.TotalTasks != 4 {
		t.Fatalf("unexpected progress %+v", res.Progress)
	}
	// completing t-2 unlocks t-3
	if locked, _ := env.Engine.IsLocked("t-3"); locked {
		t.Fatalf("t-3 should unlock once t-2 is complete")
	}
	// repeat toggle is a no-op
	res, err = env.Engine.ToggleTaskComplete(env.Ctx, "t-2")
	if err != nil || res.Outcome != engine.OutcomeAlreadyComplete {
		t.Fatalf("expected already_complete, got %v %v", res.Outcome, err)
	}
	if _, err := env.Engine.ToggleTaskComplete(env.Ctx, "t-nope"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompletionIsPermanent(t *testing.T) {
	env := newTestEnv(t)
	pending := domain.StatusPending
	_, err := env.Engine.UpdateTask(env.Ctx, "t-1", engine.TaskUpdateOptions{Status: &pending})
	if !errors.Is(err, engine.ErrTaskComplete) {
		t.Fatalf("expected task complete error, got %v", err)
	}
}

func TestUpdateTaskDependencyValidation(t *testing.T) {
	env := newTestEnv(t)
	self := "t-2"
	if _, err := env.Engine.UpdateTask(env.Ctx, "t-2", engine.TaskUpdateOptions{DependencyID: &self}); !errors.Is(err, engine.ErrSelfDependency) {
		t.Fatalf("expected self dependency error, got %v", err)
	}
	ghost := "t-ghost"
	if _, err := env.Engine.UpdateTask(env.Ctx, "t-2", engine.TaskUpdateOptions{DependencyID: &ghost}); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found for dangling target, got %v", err)
	}
	// t-3 -> t-2 -> t-1; making t-1 depend on t-3 closes the loop
	tail := "t-3"
	if _, err := env.Engine.UpdateTask(env.Ctx, "t-1", engine.TaskUpdateOptions{DependencyID: &tail}); !errors.Is(err, engine.ErrCircularDependency) {
		t.Fatalf("expected circular dependency error, got %v", err)
	}
	// cross-milestone dependency is legal
	dep := "t-4"
	task, err := env.Engine.UpdateTask(env.Ctx, "t-2", engine.TaskUpdateOptions{DependencyID: &dep})
	if err != nil || task.DependencyID == nil || *task.DependencyID != "t-4" {
		t.Fatalf("expected dependency on t-4, got %+v %v", task, err)
	}
	// empty string clears
	none := ""
	task, err = env.Engine.UpdateTask(env.Ctx, "t-2", engine.TaskUpdateOptions{DependencyID: &none})
	if err != nil || task.DependencyID != nil {
		t.Fatalf("expected dependency cleared, got %+v %v", task, err)
	}
}

func TestCompleteWithNewPendingDependencyRejected(t *testing.T) {
	env := newTestEnv(t)
	dep := "t-4"
	complete := domain.StatusComplete
	_, err := env.Engine.UpdateTask(env.Ctx, "t-2", engine.TaskUpdateOptions{DependencyID: &dep, Status: &complete})
	if !errors.Is(err, engine.ErrDependencyLocked) {
		t.Fatalf("expected dependency locked, got %v", err)
	}
}

func TestDependencyChain(t *testing.T) {
	env := newTestEnv(t)
	chain, err := env.Engine.DependencyChain("t-3")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected three entries, got %d", len(chain))
	}
	if chain[0].ID != "t-1" || chain[1].ID != "t-2" || chain[2].ID != "t-3" {
		t.Fatalf("chain out of order: %+v", chain)
	}
	if chain[0].IsCurrent || chain[1].IsCurrent || !chain[2].IsCurrent {
		t.Fatalf("only the queried task should be current")
	}
	solo, err := env.Engine.DependencyChain("t-4")
	if err != nil || len(solo) != 1 || !solo[0].IsCurrent {
		t.Fatalf("unexpected solo chain %+v %v", solo, err)
	}
}

func TestDeleteTaskClearsDependents(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.DeleteTask(env.Ctx, "t-2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	task, _, _, ok := env.Engine.FindTask("t-3")
	if !ok {
		t.Fatalf("dependents must survive the delete")
	}
	if task.DependencyID != nil {
		t.Fatalf("t-3 dependency should be nulled, got %v", *task.DependencyID)
	}
	if locked, _ := env.Engine.IsLocked("t-3"); locked {
		t.Fatalf("t-3 should be unlocked after its dependency vanished")
	}
	// deleting an absent id is a no-op
	if err := env.Engine.DeleteTask(env.Ctx, "t-2"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
}

func TestDeleteMilestoneCascades(t *testing.T) {
	env := newTestEnv(t)
	// make t-4 depend on t-2 so the cascade must reach across milestones
	dep := "t-2"
	if _, err := env.Engine.UpdateTask(env.Ctx, "t-4", engine.TaskUpdateOptions{DependencyID: &dep}); err != nil {
		t.Fatalf("wire t-4: %v", err)
	}
	if err := env.Engine.DeleteMilestone(env.Ctx, "m-1"); err != nil {
		t.Fatalf("delete milestone: %v", err)
	}
	if _, _, _, ok := env.Engine.FindTask("t-2"); ok {
		t.Fatalf("tasks of a deleted milestone must go with it")
	}
	task, _, _, _ := env.Engine.FindTask("t-4")
	if task.DependencyID != nil {
		t.Fatalf("t-4 dependency should be cleared by the cascade")
	}
	// the milestone cursor moves to the first remaining milestone
	if sel := env.Engine.Selection(); sel.MilestoneID != "m-2" {
		t.Fatalf("expected selection to move to m-2, got %+v", sel)
	}
}

func TestDeleteProjectClearsCrossProjectDependents(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.AddProject(env.Ctx, "Other", "")
	if err != nil {
		t.Fatal(err)
	}
	m, err := env.Engine.AddMilestone(env.Ctx, p.ID, "M", "")
	if err != nil {
		t.Fatal(err)
	}
	dep := "t-2"
	task, err := env.Engine.AddTask(env.Ctx, m.ID, engine.TaskCreateOptions{Name: "x", DependencyID: &dep})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteProject(env.Ctx, "p-1"); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	got, _, _, ok := env.Engine.FindTask(task.ID)
	if !ok {
		t.Fatalf("task in surviving project must remain")
	}
	if got.DependencyID != nil {
		t.Fatalf("dependency on a deleted project's task must be nulled, got %v", *got.DependencyID)
	}
	if locked, _ := env.Engine.IsLocked(task.ID); locked {
		t.Fatalf("task should be unlocked once its dependency project is gone")
	}
}

func TestDeleteProjectReselects(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.AddProject(env.Ctx, "Second", "")
	if err != nil {
		t.Fatalf("add project: %v", err)
	}
	if err := env.Engine.DeleteProject(env.Ctx, "p-1"); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if sel := env.Engine.Selection(); sel.ProjectID != p.ID {
		t.Fatalf("expected remaining project to become active, got %+v", sel)
	}
	if err := env.Engine.DeleteProject(env.Ctx, p.ID); err != nil {
		t.Fatalf("delete last project: %v", err)
	}
	if sel := env.Engine.Selection(); sel.ProjectID != "" || sel.MilestoneID != "" {
		t.Fatalf("expected empty selection, got %+v", sel)
	}
}

func TestDuplicateNames(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddProject(env.Ctx, "Initial Setup Project", ""); !errors.Is(err, engine.ErrDuplicateName) {
		t.Fatalf("expected duplicate project name, got %v", err)
	}
	if _, err := env.Engine.AddMilestone(env.Ctx, "p-1", "Phase II: UI/UX", ""); !errors.Is(err, engine.ErrDuplicateName) {
		t.Fatalf("expected duplicate milestone name, got %v", err)
	}
	if _, err := env.Engine.AddTask(env.Ctx, "m-1", engine.TaskCreateOptions{Name: "Define Data Structures"}); !errors.Is(err, engine.ErrDuplicateName) {
		t.Fatalf("expected duplicate task name, got %v", err)
	}
	// same task name in a different milestone is fine
	if _, err := env.Engine.AddTask(env.Ctx, "m-2", engine.TaskCreateOptions{Name: "Define Data Structures"}); err != nil {
		t.Fatalf("same name in another milestone: %v", err)
	}
	// renaming to the current name passes the uniqueness check
	name := "Initial Setup Project"
	if _, err := env.Engine.UpdateProject(env.Ctx, "p-1", engine.ProjectUpdate{Name: &name}); err != nil {
		t.Fatalf("rename to self: %v", err)
	}
}

func TestInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddProject(env.Ctx, "", ""); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty name, got %v", err)
	}
	empty := ""
	if _, err := env.Engine.UpdateProject(env.Ctx, "p-1", engine.ProjectUpdate{Name: &empty}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid input for blanked name, got %v", err)
	}
	bogus := domain.TaskStatus("done")
	if _, err := env.Engine.UpdateTask(env.Ctx, "t-2", engine.TaskUpdateOptions{Status: &bogus}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown status, got %v", err)
	}
}

func TestProgress(t *testing.T) {
	env := newTestEnv(t)
	pr, err := env.Engine.Progress("p-1")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	// 1 of 4 complete floors to 25
	if pr.TotalTasks != 4 || pr.CompletedTasks != 1 || pr.ProgressPercentage != 25 {
		t.Fatalf("unexpected progress %+v", pr)
	}
	empty, err := env.Engine.AddProject(env.Ctx, "Empty", "")
	if err != nil {
		t.Fatal(err)
	}
	pr, err = env.Engine.Progress(empty.ID)
	if err != nil || pr.ProgressPercentage != 0 || pr.TotalTasks != 0 {
		t.Fatalf("empty project should report 0%%, got %+v %v", pr, err)
	}
	if _, err := env.Engine.Progress("p-nope"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestComputeProgressFloors(t *testing.T) {
	p := domain.Project{Milestones: []domain.Milestone{{
		Tasks: []domain.Task{
			{Status: domain.StatusComplete},
			{Status: domain.StatusPending},
			{Status: domain.StatusPending},
		},
	}}}
	pr := engine.ComputeProgress(p)
	if pr.ProgressPercentage != 33 {
		t.Fatalf("expected floored 33, got %d", pr.ProgressPercentage)
	}
}

func TestAddTaskForcesPendingAndValidatesDependency(t *testing.T) {
	env := newTestEnv(t)
	ghost := "t-ghost"
	if _, err := env.Engine.AddTask(env.Ctx, "m-2", engine.TaskCreateOptions{Name: "x", DependencyID: &ghost}); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found for dangling dependency, got %v", err)
	}
	dep := "t-1"
	task, err := env.Engine.AddTask(env.Ctx, "m-2", engine.TaskCreateOptions{Name: "x", DependencyID: &dep})
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if task.Status != domain.StatusPending {
		t.Fatalf("new tasks start pending, got %s", task.Status)
	}
	if task.ID == "t-1" || task.ID == "" {
		t.Fatalf("unexpected id %q", task.ID)
	}
}

func TestGeneratedIDsAreDistinct(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.AddProject(env.Ctx, "A", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := env.Engine.AddProject(env.Ctx, "B", "")
	if err != nil {
		t.Fatal(err)
	}
	// Now is pinned, so distinctness comes from the monotonic bump
	if a.ID == b.ID {
		t.Fatalf("ids collide: %s", a.ID)
	}
}

func TestSelectionSurvivesRestart(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.AddProject(env.Ctx, "Second", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddMilestone(env.Ctx, p.ID, "M", ""); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SetActiveProject(env.Ctx, p.ID); err != nil {
		t.Fatalf("select: %v", err)
	}

	fresh := engine.New(env.Store, events.Writer{DB: env.DB}, config.Default())
	if err := fresh.Init(env.Ctx); err != nil {
		t.Fatalf("reinit: %v", err)
	}
	sel := fresh.Selection()
	if sel.ProjectID != p.ID {
		t.Fatalf("expected restored selection %s, got %+v", p.ID, sel)
	}
	if len(fresh.Projects()) != 2 {
		t.Fatalf("expected persisted snapshot with two projects")
	}
}

func TestSetActiveMilestoneScopedToActiveProject(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SetActiveMilestone("m-2"); err != nil {
		t.Fatalf("select m-2: %v", err)
	}
	p, err := env.Engine.AddProject(env.Ctx, "Other", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.SetActiveProject(env.Ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	// m-2 belongs to p-1, not the now-active project
	if err := env.Engine.SetActiveMilestone("m-2"); !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("expected not found for foreign milestone, got %v", err)
	}
}

func TestIsDependent(t *testing.T) {
	env := newTestEnv(t)
	if !env.Engine.IsDependent("t-1") {
		t.Fatalf("t-2 depends on t-1")
	}
	if env.Engine.IsDependent("t-3") {
		t.Fatalf("nothing depends on t-3")
	}
}

func TestDisabledEventLogIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	eng := engine.New(env.Store, events.Writer{}, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := eng.Init(env.Ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := eng.ToggleTaskComplete(env.Ctx, "t-2"); err != nil {
		t.Fatalf("toggle with disabled events: %v", err)
	}
	var count int
	if err := env.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events`).Scan(&count); err != nil {
		t.Fatalf("query events: %v", err)
	}
	if count != 0 {
		t.Fatalf("disabled writer must not append, got %d rows", count)
	}
}

func TestEventsAppendedOnMutations(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ToggleTaskComplete(env.Ctx, "t-2"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, "t-4"); err != nil {
		t.Fatal(err)
	}
	var count int
	row := env.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE entity_kind='task'`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("query events: %v", err)
	}
	if count < 2 {
		t.Fatalf("expected task events, got %d", count)
	}
}
