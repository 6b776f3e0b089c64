package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/migrate"
	"siteline/internal/repo"
	"siteline/internal/workflow"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("site-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "site-1", "Test Site", "owner"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

// addMemberWith enrolls an actor and grants the given capability flags.
func addMemberWith(t *testing.T, env testEnv, actorID string, caps ...string) {
	t.Helper()
	if _, err := env.Engine.AddMember(env.Ctx, "site-1", actorID, false, "owner"); err != nil {
		t.Fatalf("add member %s: %v", actorID, err)
	}
	for _, flag := range caps {
		if err := env.Engine.GrantCapability(env.Ctx, "site-1", actorID, flag, "owner"); err != nil {
			t.Fatalf("grant %s to %s: %v", flag, actorID, err)
		}
	}
}

func TestReportNumberContinuesSequence(t *testing.T) {
	env := newTestEnv(t)
	// five observation numbers already issued
	_, err := env.Engine.DB.ExecContext(env.Ctx,
		`INSERT INTO sequence_counters(project_id,kind,prefix,current_number) VALUES ('site-1','observation','NO',5)`)
	if err != nil {
		t.Fatalf("seed counter: %v", err)
	}
	rec, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1",
		Kind:      domain.KindObservation,
		Title:     "Cracked formwork",
		ActorID:   "owner",
	})
	if err != nil {
		t.Fatalf("create observation: %v", err)
	}
	if rec.ReportNumber != "NO-006" {
		t.Fatalf("expected NO-006, got %s", rec.ReportNumber)
	}
	if rec.Status != workflow.ObservationPreApproval {
		t.Fatalf("expected pre_approval, got %s", rec.Status)
	}
	next, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1",
		Kind:      domain.KindObservation,
		Title:     "Missing guard rail",
		ActorID:   "owner",
	})
	if err != nil {
		t.Fatalf("create second observation: %v", err)
	}
	if next.ReportNumber != "NO-007" {
		t.Fatalf("expected NO-007, got %s", next.ReportNumber)
	}
	// independent counter per kind
	task, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1",
		Kind:      domain.KindTask,
		Title:     "Grease crane bearings",
		ActorID:   "owner",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.ReportNumber != "MT-001" {
		t.Fatalf("expected MT-001, got %s", task.ReportNumber)
	}
}

func TestTaskLifecycleKeepsWorkLogAcrossReject(t *testing.T) {
	env := newTestEnv(t)
	addMemberWith(t, env, "crew", workflow.CapTaskAccess)

	task, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID:        "site-1",
		Kind:             domain.KindTask,
		Title:            "Replace scaffold boards",
		ActorID:          "owner",
		AssignedActorIDs: []string{"crew"},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	step := func(actor string, action workflow.Action, description, reason string) domain.Record {
		t.Helper()
		rec, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
			RecordID: task.ID, Action: action, ActorID: actor,
			Description: description, Reason: reason,
		})
		if err != nil {
			t.Fatalf("%s by %s: %v", action, actor, err)
		}
		return rec
	}

	rec := step("crew", workflow.ActionStart, "", "")
	if rec.Status != workflow.TaskInProgress {
		t.Fatalf("expected in_progress, got %s", rec.Status)
	}
	rec = step("crew", workflow.ActionSubmitWork, "boards replaced on level 2", "")
	if rec.Status != workflow.TaskPendingApproval {
		t.Fatalf("expected pending_approval, got %s", rec.Status)
	}
	rec = step("owner", workflow.ActionReject, "", "level 3 boards still rotten")
	if rec.Status != workflow.TaskOpen {
		t.Fatalf("expected reopened task, got %s", rec.Status)
	}
	if rec.RejectionReason == nil || *rec.RejectionReason != "level 3 boards still rotten" {
		t.Fatalf("rejection reason not recorded: %v", rec.RejectionReason)
	}
	step("crew", workflow.ActionStart, "", "")
	step("crew", workflow.ActionSubmitWork, "level 3 boards replaced too", "")
	rec = step("owner", workflow.ActionApprove, "", "")
	if rec.Status != workflow.TaskClosed {
		t.Fatalf("expected closed, got %s", rec.Status)
	}
	if rec.ClosedAt == nil || rec.Closure != domain.ClosureOnTime {
		t.Fatalf("expected on_time closure stamp, got closure=%q closed_at=%v", rec.Closure, rec.ClosedAt)
	}

	entries, err := env.Engine.WorkLog(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("work log: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 work-log entries, got %d", len(entries))
	}
	kinds := []string{entries[0].Kind, entries[1].Kind, entries[2].Kind}
	want := []string{repo.WorkLogWork, repo.WorkLogRejection, repo.WorkLogWork}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("work-log kinds %v, want %v", kinds, want)
		}
	}
}

func TestTransitionRequiresPayloads(t *testing.T) {
	env := newTestEnv(t)
	addMemberWith(t, env, "crew", workflow.CapTaskAccess)
	task, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindTask, Title: "Flush water lines",
		ActorID: "owner", AssignedActorIDs: []string{"crew"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		RecordID: task.ID, Action: workflow.ActionStart, ActorID: "crew",
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		RecordID: task.ID, Action: workflow.ActionSubmitWork, ActorID: "crew", Description: "   ",
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "description" {
		t.Fatalf("expected description validation error, got %v", err)
	}
}

func TestTrainingExecuteDeniedWithoutPlannerFlag(t *testing.T) {
	env := newTestEnv(t)
	addMemberWith(t, env, "foreman", workflow.CapTrainingCreator)
	addMemberWith(t, env, "bystander")

	training, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1",
		Kind:      domain.KindTraining,
		Title:     "Harness inspection refresher",
		ActorID:   "foreman",
	})
	if err != nil {
		t.Fatalf("create training: %v", err)
	}
	if training.OrganizerActorID == nil || *training.OrganizerActorID != "foreman" {
		t.Fatalf("organizer should default to creator, got %v", training.OrganizerActorID)
	}

	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		RecordID: training.ID, Action: workflow.ActionExecute, ActorID: "bystander",
	})
	var aerr engine.AuthorizationError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	// the organizer may execute without the planner flag
	rec, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		RecordID: training.ID, Action: workflow.ActionExecute, ActorID: "foreman",
	})
	if err != nil {
		t.Fatalf("organizer execute: %v", err)
	}
	if rec.Status != workflow.TrainingAwaitingApproval {
		t.Fatalf("expected awaiting_approval, got %s", rec.Status)
	}

	// approval needs the planner flag; the organizer branch no longer applies
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		RecordID: training.ID, Action: workflow.ActionApprove, ActorID: "foreman",
	})
	if !errors.As(err, &aerr) {
		t.Fatalf("expected approval denied for non-planner, got %v", err)
	}
}

func TestUndeclaredActionIsInvalidTransition(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindTask, Title: "Stack rebar", ActorID: "owner",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		RecordID: task.ID, Action: workflow.ActionApprove, ActorID: "owner",
	})
	var terr engine.InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected invalid transition error, got %v", err)
	}
	if terr.Status != workflow.TaskOpen || terr.Action != workflow.ActionApprove {
		t.Fatalf("unexpected error detail: %+v", terr)
	}
}

func TestObservationClosureBoundary(t *testing.T) {
	env := newTestEnv(t)
	// Now is frozen at 2024-01-10 12:00 UTC.
	closeObservation := func(planned string) domain.Record {
		t.Helper()
		rec, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
			ProjectID:        "site-1",
			Kind:             domain.KindObservation,
			Title:            "Exposed wiring",
			ActorID:          "owner",
			AssignedActorIDs: []string{"owner"},
			PlannedCloseDate: planned,
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		for _, action := range []workflow.Action{
			workflow.ActionApprove, workflow.ActionSubmitData,
			workflow.ActionRequestClose, workflow.ActionApprove,
		} {
			rec, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
				RecordID: rec.ID, Action: action, ActorID: "owner",
				Description: "corrective work done",
			})
			if err != nil {
				t.Fatalf("%s: %v", action, err)
			}
		}
		return rec
	}

	onTime := closeObservation("2024-01-10")
	if onTime.Status != workflow.ObservationClosedOnTime || onTime.Closure != domain.ClosureOnTime {
		t.Fatalf("closing on the deadline day must be on time, got %s/%s", onTime.Status, onTime.Closure)
	}
	late := closeObservation("2024-01-09")
	if late.Status != workflow.ObservationClosedLate || late.Closure != domain.ClosureLate {
		t.Fatalf("closing past the deadline must be late, got %s/%s", late.Status, late.Closure)
	}
	if late.ClosedAt == nil {
		t.Fatalf("expected closed_at stamp")
	}
	// terminal: nothing further
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		RecordID: late.ID, Action: workflow.ActionApprove, ActorID: "owner",
	})
	var terr engine.InvalidTransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected invalid transition from terminal status, got %v", err)
	}
}

func TestCreateRequiresCreatorCapability(t *testing.T) {
	env := newTestEnv(t)
	addMemberWith(t, env, "laborer")
	_, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindObservation, Title: "Spill", ActorID: "laborer",
	})
	var aerr engine.AuthorizationError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	addMemberWith(t, env, "inspector", workflow.CapObservationCreator)
	if _, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindObservation, Title: "Spill", ActorID: "inspector",
	}); err != nil {
		t.Fatalf("creator with flag: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name  string
		opts  engine.CreateOptions
		field string
	}{
		{"missing title", engine.CreateOptions{ProjectID: "site-1", Kind: domain.KindTask, ActorID: "owner"}, "title"},
		{"bad kind", engine.CreateOptions{ProjectID: "site-1", Kind: "inspection", Title: "x", ActorID: "owner"}, "kind"},
		{"too many assignees", engine.CreateOptions{
			ProjectID: "site-1", Kind: domain.KindTask, Title: "x", ActorID: "owner",
			AssignedActorIDs: []string{"a", "b", "c"},
		}, "assigned_actor_ids"},
		{"bad planned date", engine.CreateOptions{
			ProjectID: "site-1", Kind: domain.KindTask, Title: "x", ActorID: "owner",
			PlannedCloseDate: "next tuesday",
		}, "planned_close_date"},
	}
	for _, tc := range cases {
		_, err := env.Engine.CreateRecord(env.Ctx, tc.opts)
		var verr engine.ValidationError
		if !errors.As(err, &verr) || verr.Field != tc.field {
			t.Errorf("%s: expected validation error on %s, got %v", tc.name, tc.field, err)
		}
	}
	_, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "nowhere", Kind: domain.KindTask, Title: "x", ActorID: "owner",
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Errorf("unknown project: expected not-found, got %v", err)
	}
}

func TestConcurrentCreatesAllocateDistinctNumbers(t *testing.T) {
	env := newTestEnv(t)
	// single connection so concurrent tx serialize instead of hitting
	// SQLITE_BUSY; the callers still race
	env.Engine.DB.SetMaxOpenConns(1)

	const n = 10
	numbers := make(chan string, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
				ProjectID: "site-1",
				Kind:      domain.KindTask,
				Title:     fmt.Sprintf("Concurrent task %d", i),
				ActorID:   "owner",
			})
			if err != nil {
				errs <- err
				return
			}
			numbers <- rec.ReportNumber
		}(i)
	}
	wg.Wait()
	close(numbers)
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent create: %v", err)
	}
	seen := map[string]bool{}
	for num := range numbers {
		if seen[num] {
			t.Fatalf("report number %s allocated twice", num)
		}
		seen[num] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct numbers, got %d", n, len(seen))
	}
	// contiguous: every number from MT-001 through MT-010 was issued
	for i := 1; i <= n; i++ {
		num := fmt.Sprintf("MT-%03d", i)
		if !seen[num] {
			t.Fatalf("sequence has a gap: %s missing from %v", num, seen)
		}
	}
}

func TestConcurrentTransitionsSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.DB.SetMaxOpenConns(1)
	addMemberWith(t, env, "crew-a", workflow.CapTaskAccess)
	addMemberWith(t, env, "crew-b", workflow.CapTaskAccess)

	task, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindTask, Title: "Raced start",
		ActorID: "owner", AssignedActorIDs: []string{"crew-a", "crew-b"},
	})
	if err != nil {
		t.Fatal(err)
	}

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for _, actor := range []string{"crew-a", "crew-b"} {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			_, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
				RecordID: task.ID, Action: workflow.ActionStart, ActorID: actor,
			})
			results <- err
		}(actor)
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		// the loser either re-read after the winner committed or lost
		// the version guard; both surface as typed errors
		var terr engine.InvalidTransitionError
		var cerr engine.ConflictError
		if !errors.As(err, &terr) && !errors.As(err, &cerr) {
			t.Fatalf("loser got untyped error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", successes)
	}
	rec, err := env.Engine.GetRecord(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != workflow.TaskInProgress || rec.Version != task.Version+1 {
		t.Fatalf("transition applied %d times: status=%s version=%d", rec.Version-task.Version, rec.Status, rec.Version)
	}
}

func TestTransitionConflictOnConcurrentUpdate(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindTask, Title: "Contended", ActorID: "owner",
		AssignedActorIDs: []string{"owner"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// a competing writer bumps the row between this call's read and its
	// version-guarded update; the Now hook runs in exactly that window
	base := env.Engine.Now
	bumped := false
	env.Engine.Now = func() time.Time {
		if !bumped {
			bumped = true
			if _, err := env.Engine.DB.ExecContext(env.Ctx,
				`UPDATE records SET version = version + 1 WHERE id=?`, task.ID); err != nil {
				t.Errorf("competing update: %v", err)
			}
		}
		return base()
	}
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		RecordID: task.ID, Action: workflow.ActionStart, ActorID: "owner",
	})
	var cerr engine.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if cerr.RecordID != task.ID {
		t.Fatalf("conflict names wrong record: %+v", cerr)
	}
}

func TestStaleVersionUpdateConflicts(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindTask, Title: "Pour slab", ActorID: "owner",
	})
	if err != nil {
		t.Fatal(err)
	}
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	task.Status = workflow.TaskInProgress
	err = env.Engine.Repo.UpdateRecordTx(env.Ctx, tx, task, task.Version+1)
	if !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestStoredProjectConfigGovernsNumbering(t *testing.T) {
	env := newTestEnv(t)

	cfg := config.Default("site-1")
	cfg.Sequences[string(domain.KindTask)] = config.SequenceConfig{Prefix: "QX"}
	if err := env.Engine.Repo.UpsertProjectConfig(env.Ctx, "site-1", cfg); err != nil {
		t.Fatalf("upsert config: %v", err)
	}
	rec, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindTask, Title: "Custom numbered", ActorID: "owner",
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ReportNumber != "QX-001" {
		t.Fatalf("expected QX-001 from stored config, got %s", rec.ReportNumber)
	}

	// a corrupt stored config fails the create instead of silently
	// numbering under the defaults
	if _, err := env.Engine.DB.ExecContext(env.Ctx,
		`UPDATE project_configs SET config_json='{' WHERE project_id=?`, "site-1"); err != nil {
		t.Fatalf("corrupt config: %v", err)
	}
	_, err = env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindTask, Title: "Should not number", ActorID: "owner",
	})
	if err == nil {
		t.Fatal("create should fail when the stored config cannot be read")
	}
	var count int
	if err := env.Engine.DB.QueryRowContext(env.Ctx,
		`SELECT count(*) FROM records WHERE project_id=?`, "site-1").Scan(&count); err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 1 {
		t.Fatalf("failed create must not persist a record, got %d", count)
	}
}

func TestPendingDerivation(t *testing.T) {
	env := newTestEnv(t)
	addMemberWith(t, env, "crew", workflow.CapTaskAccess)
	addMemberWith(t, env, "approver", workflow.CapObservationApprover)

	task, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindTask, Title: "Fix hoist brake",
		ActorID: "owner", AssignedActorIDs: []string{"crew"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindObservation, Title: "Ponding water", ActorID: "owner",
	}); err != nil {
		t.Fatal(err)
	}

	crewPending, err := env.Engine.ListPendingFor(env.Ctx, "site-1", "crew")
	if err != nil {
		t.Fatal(err)
	}
	if len(crewPending) != 1 || crewPending[0].ID != task.ID {
		t.Fatalf("crew should see only the assigned open task, got %d records", len(crewPending))
	}

	counts, err := env.Engine.PendingCounts(env.Ctx, "site-1", "approver")
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.KindObservation] != 1 || counts[domain.KindTask] != 0 || counts[domain.KindTraining] != 0 {
		t.Fatalf("approver counts: %v", counts)
	}

	// task access alone is not enough: an unassigned member sees nothing
	addMemberWith(t, env, "other-crew", workflow.CapTaskAccess)
	otherPending, err := env.Engine.ListPendingFor(env.Ctx, "site-1", "other-crew")
	if err != nil {
		t.Fatal(err)
	}
	if len(otherPending) != 0 {
		t.Fatalf("unassigned member should have empty pending set, got %d records", len(otherPending))
	}
}

func TestPendingObservationDataEntryOnlyForAssignee(t *testing.T) {
	env := newTestEnv(t)
	addMemberWith(t, env, "inspector-a", workflow.CapObservationAccess)
	addMemberWith(t, env, "inspector-b", workflow.CapObservationAccess)

	obs, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindObservation, Title: "Exposed rebar",
		ActorID: "owner", AssignedActorIDs: []string{"inspector-a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		RecordID: obs.ID, Action: workflow.ActionApprove, ActorID: "owner",
	}); err != nil {
		t.Fatalf("approve: %v", err)
	}

	pending, err := env.Engine.ListPendingFor(env.Ctx, "site-1", "inspector-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != obs.ID {
		t.Fatalf("assignee should see the observation awaiting data entry, got %d records", len(pending))
	}
	if pending[0].Status != workflow.ObservationWaitingDataEntry {
		t.Fatalf("expected waiting_data_entry, got %s", pending[0].Status)
	}

	// the capability alone does not put it on someone else's plate
	pending, err = env.Engine.ListPendingFor(env.Ctx, "site-1", "inspector-b")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("unassigned holder should have empty pending set, got %d records", len(pending))
	}
}

func TestActionsReflectActorRights(t *testing.T) {
	env := newTestEnv(t)
	addMemberWith(t, env, "crew", workflow.CapTaskAccess)
	addMemberWith(t, env, "bystander")
	task, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindTask, Title: "Tension anchors",
		ActorID: "owner", AssignedActorIDs: []string{"crew"},
	})
	if err != nil {
		t.Fatal(err)
	}
	actions, err := env.Engine.Actions(env.Ctx, task.ID, "crew")
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0] != workflow.ActionStart {
		t.Fatalf("crew actions: %v", actions)
	}
	actions, err = env.Engine.Actions(env.Ctx, task.ID, "bystander")
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 0 {
		t.Fatalf("bystander should have no actions, got %v", actions)
	}
}

func TestGlobalAdminBypassesCapabilities(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.SetGlobalRole(env.Ctx, "site-admin", "admin"); err != nil {
		t.Fatalf("set role: %v", err)
	}
	// not a project member, no flags: the role alone grants everything
	rec, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindObservation, Title: "Loose netting", ActorID: "site-admin",
	})
	if err != nil {
		t.Fatalf("admin create: %v", err)
	}
	if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
		RecordID: rec.ID, Action: workflow.ActionApprove, ActorID: "site-admin",
	}); err != nil {
		t.Fatalf("admin approve: %v", err)
	}
}

func TestTransitionEventsLogged(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateRecord(env.Ctx, engine.CreateOptions{
		ProjectID: "site-1", Kind: domain.KindTask, Title: "Evented", ActorID: "owner",
		AssignedActorIDs: []string{"owner"},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, step := range []struct {
		action workflow.Action
		desc   string
	}{
		{workflow.ActionStart, ""},
		{workflow.ActionSubmitWork, "done"},
		{workflow.ActionApprove, ""},
	} {
		if _, err := env.Engine.Transition(env.Ctx, engine.TransitionOptions{
			RecordID: task.ID, Action: step.action, ActorID: "owner", Description: step.desc,
		}); err != nil {
			t.Fatalf("%s: %v", step.action, err)
		}
	}
	var count int
	err = env.Engine.DB.QueryRowContext(env.Ctx,
		`SELECT count(*) FROM events WHERE entity_id=? AND type='record.transitioned'`, task.ID).Scan(&count)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 transition events, got %d", count)
	}
}

func TestRemoveMemberDeletesRowsAndLogsEvent(t *testing.T) {
	env := newTestEnv(t)
	addMemberWith(t, env, "crew", workflow.CapTaskAccess)

	if err := env.Engine.RemoveMember(env.Ctx, "site-1", "crew", "owner"); err != nil {
		t.Fatalf("remove member: %v", err)
	}

	_, err := env.Engine.Repo.GetMembership(env.Ctx, "site-1", "crew")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("membership should be gone, got %v", err)
	}
	var caps int
	err = env.Engine.DB.QueryRowContext(env.Ctx,
		`SELECT count(*) FROM capabilities WHERE project_id=? AND actor_id=?`, "site-1", "crew").Scan(&caps)
	if err != nil {
		t.Fatalf("query capabilities: %v", err)
	}
	if caps != 0 {
		t.Fatalf("capability rows should be deleted with the membership, got %d", caps)
	}
	var events int
	err = env.Engine.DB.QueryRowContext(env.Ctx,
		`SELECT count(*) FROM events WHERE type='membership.removed' AND entity_id=?`, "crew").Scan(&events)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected one removal event, got %d", events)
	}

	// removing again finds nothing, and the failed attempt leaves no event
	err = env.Engine.RemoveMember(env.Ctx, "site-1", "crew", "owner")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second removal should report not found, got %v", err)
	}
	err = env.Engine.DB.QueryRowContext(env.Ctx,
		`SELECT count(*) FROM events WHERE type='membership.removed' AND entity_id=?`, "crew").Scan(&events)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if events != 1 {
		t.Fatalf("failed removal must not log an event, got %d", events)
	}
}
