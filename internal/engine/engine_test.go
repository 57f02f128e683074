package engine

import (
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"testing"
	"time"
)

func newTestEngine(t *testing.T, backend StateBackend) *Engine {
	t.Helper()
	return newTestEngineWithOptions(t, Options{Backend: backend})
}

func newTestEngineWithOptions(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Config.BaseTaskXP == 0 {
		opts.Config = DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = fixedClock()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(7))
	}
	eng, err := Open(opts)
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	return eng
}

func areasScan() ScanResult {
	return ScanResult{
		Doc:  "areas.zortex",
		Kind: ScanAreas,
		Headings: []HeadingRecord{
			{Level: 1, Text: "Life", LineNumber: 1},
			{Level: 2, Text: "Health", LineNumber: 2, AreaLinks: []string{"Life/Discipline"}},
			{Level: 2, Text: "Discipline", LineNumber: 3},
			{Level: 1, Text: "Career", LineNumber: 4},
		},
	}
}

func launchScan(thirdDone bool) ScanResult {
	ids := []string{"aa001", "aa002", "abc12", "aa004", "aa005"}
	tasks := make([]TaskRecord, 0, len(ids))
	for i, id := range ids {
		tasks = append(tasks, TaskRecord{
			ID:         id,
			LineNumber: 10 + i,
			LineText:   "- [ ] launch step",
			Completed:  thirdDone && i == 2,
			HeadingIdx: 0,
			Position:   i + 1,
			Total:      len(ids),
		})
	}
	return ScanResult{
		Doc:  "projects.zortex",
		Kind: ScanProject,
		Headings: []HeadingRecord{
			{Level: 1, Text: "Launch", LineNumber: 9, AreaLinks: []string{"Life/Health"}},
		},
		Tasks: tasks,
	}
}

func mustApply(t *testing.T, eng *Engine, res ScanResult) *BatchResult {
	t.Helper()
	bres, err := eng.ApplyScan(res)
	if err != nil {
		t.Fatalf("apply %s: %v", res.Doc, err)
	}
	return bres
}

func TestApplyScanThirdOfFiveThenUncheckNetsToZero(t *testing.T) {
	eng := newTestEngine(t, NewMemoryStateBackend())
	mustApply(t, eng, areasScan())

	bres := mustApply(t, eng, launchScan(true))
	if bres.XPDelta != 20 {
		t.Fatalf("batch xp delta = %d, want 20", bres.XPDelta)
	}
	task, ok := eng.Task("abc12")
	if !ok || task.XPAwarded != 20 || !task.Completed {
		t.Fatalf("task after completion = %+v", task)
	}
	project, ok := eng.Project("Launch")
	if !ok {
		t.Fatal("project Launch missing")
	}
	if project.XP != 20 || project.TaskCount != 5 || project.CompletedTasks != 1 {
		t.Fatalf("project record = %+v", project)
	}
	health, _ := eng.AreaByPath("Life/Health")
	if health.XP != 20 {
		t.Fatalf("Life/Health xp = %d, want 20", health.XP)
	}
	discipline, _ := eng.AreaByPath("Life/Discipline")
	if discipline.XP != 15 {
		t.Fatalf("Life/Discipline bubble xp = %d, want 15", discipline.XP)
	}
	if len(bres.Annotations) != 1 || bres.Annotations[0].Completed != 1 || bres.Annotations[0].Total != 5 {
		t.Fatalf("annotations = %+v", bres.Annotations)
	}
	foundEarn := false
	for _, ev := range bres.Events {
		if ev.Kind == EventXPEarned && ev.TaskID == "abc12" && ev.Amount == 20 && ev.Project == "Launch" {
			foundEarn = true
			if len(ev.AreaAwards) != 2 {
				t.Fatalf("area awards = %+v", ev.AreaAwards)
			}
		}
	}
	if !foundEarn {
		t.Fatalf("no xp_earned event for abc12 in %+v", bres.Events)
	}

	bres = mustApply(t, eng, launchScan(false))
	if bres.XPDelta != -20 {
		t.Fatalf("reversal batch xp delta = %d, want -20", bres.XPDelta)
	}
	task, _ = eng.Task("abc12")
	if task.Completed || task.XPAwarded != 0 {
		t.Fatalf("task after reversal = %+v", task)
	}
	project, _ = eng.Project("Launch")
	if project.XP != 0 || project.CompletedTasks != 0 {
		t.Fatalf("project after reversal = %+v", project)
	}
	health, _ = eng.AreaByPath("Life/Health")
	discipline, _ = eng.AreaByPath("Life/Discipline")
	if health.XP != 0 || discipline.XP != 0 {
		t.Fatalf("areas after reversal: health=%d discipline=%d", health.XP, discipline.XP)
	}
}

func TestApplyScanIsIdempotentAcrossRescans(t *testing.T) {
	eng := newTestEngine(t, NewMemoryStateBackend())
	mustApply(t, eng, areasScan())
	mustApply(t, eng, launchScan(true))

	bres := mustApply(t, eng, launchScan(true))
	if bres.XPDelta != 0 {
		t.Fatalf("rescan xp delta = %d, want 0", bres.XPDelta)
	}
	if len(bres.NewIDs) != 0 {
		t.Fatalf("rescan minted ids: %v", bres.NewIDs)
	}
	project, _ := eng.Project("Launch")
	if project.XP != 20 || project.CompletedTasks != 1 {
		t.Fatalf("project drifted on rescan: %+v", project)
	}
}

func TestApplyScanMintsIDsForBlankAndMalformed(t *testing.T) {
	eng := newTestEngine(t, NewMemoryStateBackend())
	scan := ScanResult{
		Doc:  "projects.zortex",
		Kind: ScanProject,
		Headings: []HeadingRecord{
			{Level: 1, Text: "Inbox", LineNumber: 1},
		},
		Tasks: []TaskRecord{
			{ID: "", LineNumber: 2, HeadingIdx: 0, Position: 1, Total: 3},
			{ID: "ab", LineNumber: 3, HeadingIdx: 0, Position: 2, Total: 3},
			{ID: "ok123", LineNumber: 4, HeadingIdx: 0, Position: 3, Total: 3},
		},
	}

	bres := mustApply(t, eng, scan)
	if len(bres.NewIDs) != 2 {
		t.Fatalf("new ids = %v, want entries for lines 2 and 3", bres.NewIDs)
	}
	for _, line := range []int{2, 3} {
		id, ok := bres.NewIDs[line]
		if !ok {
			t.Fatalf("no minted id for line %d", line)
		}
		if !validID(id, eng.Config().IDLength) {
			t.Fatalf("minted id %q is not valid", id)
		}
		if _, ok := eng.Task(id); !ok {
			t.Fatalf("minted id %s not registered", id)
		}
	}
	if _, ok := eng.Task("ok123"); !ok {
		t.Fatal("existing id ok123 not registered")
	}
	noted := false
	for _, note := range bres.Notes {
		if note.Kind == NoteInvalidID && note.LineNumber == 3 {
			noted = true
		}
	}
	if !noted {
		t.Fatalf("malformed id not noted: %+v", bres.Notes)
	}
}

func TestApplyScanReassignsDuplicateIDs(t *testing.T) {
	eng := newTestEngine(t, NewMemoryStateBackend())
	scan := ScanResult{
		Doc:  "projects.zortex",
		Kind: ScanProject,
		Headings: []HeadingRecord{
			{Level: 1, Text: "Inbox", LineNumber: 1},
		},
		Tasks: []TaskRecord{
			{ID: "dd111", LineNumber: 2, HeadingIdx: 0, Position: 1, Total: 2},
			{ID: "dd111", LineNumber: 3, HeadingIdx: 0, Position: 2, Total: 2},
		},
	}

	bres := mustApply(t, eng, scan)
	fresh, ok := bres.NewIDs[3]
	if !ok || fresh == "dd111" {
		t.Fatalf("duplicate line should get a fresh id, got %v", bres.NewIDs)
	}
	if _, ok := eng.Task("dd111"); !ok {
		t.Fatal("first occurrence lost its id")
	}
	if _, ok := eng.Task(fresh); !ok {
		t.Fatal("reassigned task not registered")
	}
	found := false
	for _, note := range bres.Notes {
		if note.Kind == NoteDuplicateID && note.LineNumber == 3 {
			found = true
			if !errors.Is(&DuplicateIDError{ID: "dd111", LineNumber: 3}, ErrInvalidTask) {
				t.Fatal("duplicate id error should match ErrInvalidTask")
			}
		}
	}
	if !found {
		t.Fatalf("duplicate not noted: %+v", bres.Notes)
	}
}

func TestProjectCompletionTransfersOnce(t *testing.T) {
	eng := newTestEngine(t, NewMemoryStateBackend())
	mustApply(t, eng, areasScan())
	if _, err := eng.StartSeason("Winter Arc", fixedClock()(), time.Time{}); err != nil {
		t.Fatalf("start season: %v", err)
	}

	ship := func(done ...bool) ScanResult {
		tasks := make([]TaskRecord, 0, 2)
		for i, id := range []string{"pa001", "pa002"} {
			tasks = append(tasks, TaskRecord{
				ID: id, LineNumber: 2 + i, HeadingIdx: 0,
				Position: i + 1, Total: 2, Completed: done[i],
			})
		}
		return ScanResult{
			Doc:  "ship.zortex",
			Kind: ScanProject,
			Headings: []HeadingRecord{
				{Level: 1, Text: "Ship", LineNumber: 1, AreaLinks: []string{"Career"}},
			},
			Tasks: tasks,
		}
	}

	bres := mustApply(t, eng, ship(true, true))
	// 15 for the opener, 75 for the closer, then 25% of the 90 routed on.
	if bres.XPDelta != 90 {
		t.Fatalf("batch xp delta = %d, want 90", bres.XPDelta)
	}
	project, _ := eng.Project("Ship")
	if !project.TransferDone || project.CompletedAt == "" {
		t.Fatalf("project not marked transferred: %+v", project)
	}
	career, _ := eng.AreaByPath("Career")
	if career.XP != 90+23 {
		t.Fatalf("Career xp = %d, want 113", career.XP)
	}
	season, _ := eng.Season()
	if season.XP != 90 || season.ProjectsCompleted != 1 {
		t.Fatalf("season = %+v", season)
	}
	transferSeen := false
	for _, ev := range bres.Events {
		if ev.Kind == EventProjectCompleted && ev.Project == "Ship" && ev.Amount == 23 {
			transferSeen = true
		}
	}
	if !transferSeen {
		t.Fatalf("no project_completed event: %+v", bres.Events)
	}

	// Uncheck and recheck: the reward flows again, the transfer does not.
	mustApply(t, eng, ship(true, false))
	bres = mustApply(t, eng, ship(true, true))
	for _, ev := range bres.Events {
		if ev.Kind == EventProjectCompleted {
			t.Fatalf("transfer fired twice: %+v", ev)
		}
	}
	season, _ = eng.Season()
	if season.ProjectsCompleted != 1 {
		t.Fatalf("projects_completed = %d, want 1", season.ProjectsCompleted)
	}
	career, _ = eng.AreaByPath("Career")
	if career.XP != 113 {
		t.Fatalf("Career xp after recheck = %d, want 113", career.XP)
	}
}

func objectivesScan(doneKRs int) ScanResult {
	ids := []string{"kr001", "kr002", "kr003", "kr004"}
	tasks := make([]TaskRecord, 0, len(ids))
	for i, id := range ids {
		tasks = append(tasks, TaskRecord{
			ID: id, LineNumber: 20 + i, HeadingIdx: 0,
			Position: i + 1, Total: len(ids), Completed: i < doneKRs,
		})
	}
	return ScanResult{
		Doc:  "okr.zortex",
		Kind: ScanObjectives,
		Headings: []HeadingRecord{{
			Level: 1, Text: "Master Distributed Systems", LineNumber: 19,
			AreaLinks: []string{"Career"}, Span: SpanWeekly, CreatedAt: "2026-03-14",
		}},
		Tasks: tasks,
	}
}

func TestObjectiveStepsTelescopeToFullReward(t *testing.T) {
	eng := newTestEngine(t, NewMemoryStateBackend())
	mustApply(t, eng, areasScan())

	// Shaping curve at R=100: cumulative 15, 35, 60, 100.
	wantSteps := []int{15, 20, 25, 40}
	wantCareer := 0
	for i, step := range wantSteps {
		bres := mustApply(t, eng, objectivesScan(i+1))
		if bres.XPDelta != step {
			t.Fatalf("KR %d step = %d, want %d", i+1, bres.XPDelta, step)
		}
		wantCareer += step
		career, _ := eng.AreaByPath("Career")
		if career.XP != wantCareer {
			t.Fatalf("Career xp after KR %d = %d, want %d", i+1, career.XP, wantCareer)
		}
	}
	if wantCareer != 100 {
		t.Fatalf("steps sum to %d, want the full reward 100", wantCareer)
	}

	objectives := eng.Objectives()
	if len(objectives) != 1 {
		t.Fatalf("objectives = %+v", objectives)
	}
	obj := objectives[0]
	if obj.CompletedKRs != 4 || obj.TotalKRs != 4 || obj.Span != SpanWeekly {
		t.Fatalf("objective record = %+v", obj)
	}

	// The fourth flip finished it.
	feed, _ := eng.EventsSince(0, 0)
	doneSeen := false
	for _, ev := range feed {
		if ev.Kind == EventObjectiveDone && ev.Objective == "Master Distributed Systems" && ev.Amount == 100 {
			doneSeen = true
		}
	}
	if !doneSeen {
		t.Fatal("no objective_completed event in feed")
	}

	// Unchecking the last KR pays back exactly its stored step.
	bres := mustApply(t, eng, objectivesScan(3))
	if bres.XPDelta != -40 {
		t.Fatalf("reversal delta = %d, want -40", bres.XPDelta)
	}
	career, _ := eng.AreaByPath("Career")
	if career.XP != 60 {
		t.Fatalf("Career xp after reversal = %d, want 60", career.XP)
	}
}

func TestApplyScanNotesMissingAreaLinksAndContinues(t *testing.T) {
	eng := newTestEngine(t, NewMemoryStateBackend())
	mustApply(t, eng, areasScan())
	scan := ScanResult{
		Doc:  "projects.zortex",
		Kind: ScanProject,
		Headings: []HeadingRecord{
			{Level: 1, Text: "Launch", LineNumber: 1, AreaLinks: []string{"Ghost/Path", "Life/Health"}},
		},
		Tasks: []TaskRecord{
			{ID: "mm001", LineNumber: 2, HeadingIdx: 0, Position: 1, Total: 2, Completed: true},
			{ID: "mm002", LineNumber: 3, HeadingIdx: 0, Position: 2, Total: 2},
		},
	}

	bres := mustApply(t, eng, scan)
	if bres.XPDelta != 15 {
		t.Fatalf("xp delta = %d, want 15", bres.XPDelta)
	}
	health, _ := eng.AreaByPath("Life/Health")
	if health.XP != 15 {
		t.Fatalf("resolvable link got %d, want 15", health.XP)
	}
	if _, ok := eng.AreaByPath("Ghost/Path"); ok {
		t.Fatal("missing link must not be materialized")
	}
	noted := false
	for _, note := range bres.Notes {
		if note.Kind == NoteMissingArea && strings.Contains(note.Message, "Ghost/Path") {
			noted = true
		}
	}
	if !noted {
		t.Fatalf("missing area not noted: %+v", bres.Notes)
	}
}

func TestApplyScanKeepsMemoryWhenSaveFails(t *testing.T) {
	flaky := &flakyBackend{inner: NewMemoryStateBackend()}
	eng := newTestEngine(t, flaky)
	mustApply(t, eng, areasScan())

	flaky.failSave = true
	bres, err := eng.ApplyScan(launchScan(true))
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if bres == nil || bres.XPDelta != 20 {
		t.Fatalf("batch result missing or wrong: %+v", bres)
	}
	task, ok := eng.Task("abc12")
	if !ok || !task.Completed || task.XPAwarded != 20 {
		t.Fatalf("batch not applied in memory: %+v", task)
	}
	health, _ := eng.AreaByPath("Life/Health")
	if health.XP != 20 {
		t.Fatalf("area xp = %d, want 20", health.XP)
	}
	if feed, _ := eng.EventsSince(0, 0); len(feed) == 0 {
		t.Fatal("applied batch published no events")
	}

	// The backend heals; an explicit save carries the batch forward.
	flaky.failSave = false
	if err := eng.Save(); err != nil {
		t.Fatalf("retry save: %v", err)
	}
	reopened := newTestEngine(t, flaky.inner)
	if task, ok := reopened.Task("abc12"); !ok || task.XPAwarded != 20 {
		t.Fatalf("persisted state missing the batch: %+v", task)
	}
}

func TestStartSeasonSurvivesSaveFailure(t *testing.T) {
	flaky := &flakyBackend{inner: NewMemoryStateBackend()}
	eng := newTestEngine(t, flaky)

	flaky.failSave = true
	state, err := eng.StartSeason("Q3", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), time.Time{})
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if state.Name != "Q3" {
		t.Fatalf("season state not returned: %+v", state)
	}
	if s, ok := eng.Season(); !ok || s.Name != "Q3" {
		t.Fatalf("season not active in memory: %+v", s)
	}

	flaky.failSave = false
	if err := eng.Save(); err != nil {
		t.Fatalf("retry save: %v", err)
	}
}

func TestApplyScanRollsBackWhenIDSpaceExhausts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IDAttempts = 4
	eng := newTestEngineWithOptions(t, Options{
		Config:  cfg,
		Backend: NewMemoryStateBackend(),
		Clock:   fixedClock(),
		Rand:    rand.New(rand.NewSource(42)),
	})
	mustApply(t, eng, areasScan())

	// A twin generator with the same seed predicts every id the engine
	// will draw; occupying them all forces exhaustion on the bare line.
	twin := rand.New(rand.NewSource(42))
	for i := 0; i < eng.Config().IDAttempts; i++ {
		id := generateID(fixedClock()(), eng.Config().IDLength, twin)
		eng.tracker.tasks[id] = &Task{ID: id}
	}

	res := ScanResult{
		Doc:  "projects.zortex",
		Kind: ScanProject,
		Headings: []HeadingRecord{
			{Level: 1, Text: "Rollout", LineNumber: 1, AreaLinks: []string{"Life/Health"}},
		},
		Tasks: []TaskRecord{
			{ID: "gg001", LineNumber: 2, HeadingIdx: 0, Position: 1, Total: 2, Completed: true},
			{LineNumber: 3, HeadingIdx: 0, Position: 2, Total: 2},
		},
	}
	if _, err := eng.ApplyScan(res); !errors.Is(err, ErrIDExhausted) {
		t.Fatalf("expected ErrIDExhausted, got %v", err)
	}
	if _, ok := eng.Task("gg001"); ok {
		t.Fatal("aborted batch left the first task registered")
	}
	if _, ok := eng.Project("Rollout"); ok {
		t.Fatal("aborted batch left a project record")
	}
	health, _ := eng.AreaByPath("Life/Health")
	if health.XP != 0 {
		t.Fatalf("aborted batch left area xp %d", health.XP)
	}
	if feed, _ := eng.EventsSince(0, 0); len(feed) != 0 {
		t.Fatalf("aborted batch published events: %+v", feed)
	}
}

func TestMoveProjectRetractsOldAwardAndRepays(t *testing.T) {
	eng := newTestEngine(t, NewMemoryStateBackend())
	mustApply(t, eng, areasScan())

	// Two tasks so the project stays short of completion; the move is
	// the only thing under test.
	alpha := ScanResult{
		Doc:  "alpha.zortex",
		Kind: ScanProject,
		Headings: []HeadingRecord{
			{Level: 1, Text: "Alpha", LineNumber: 1, AreaLinks: []string{"Career"}},
		},
		Tasks: []TaskRecord{
			{ID: "mv001", LineNumber: 2, HeadingIdx: 0, Position: 1, Total: 2, Completed: true},
			{ID: "mv002", LineNumber: 3, HeadingIdx: 0, Position: 2, Total: 2},
		},
	}
	mustApply(t, eng, alpha)
	if rec, _ := eng.Project("Alpha"); rec.XP != 15 {
		t.Fatalf("Alpha xp = %d, want 15", rec.XP)
	}

	beta := alpha
	beta.Doc = "beta.zortex"
	beta.Headings = []HeadingRecord{
		{Level: 1, Text: "Beta", LineNumber: 1, AreaLinks: []string{"Life/Health"}},
	}
	bres := mustApply(t, eng, beta)
	if bres.XPDelta != 0 {
		t.Fatalf("move batch net delta = %d, want 0", bres.XPDelta)
	}
	if rec, _ := eng.Project("Alpha"); rec.XP != 0 || rec.CompletedTasks != 0 {
		t.Fatalf("Alpha after move = %+v", rec)
	}
	if rec, _ := eng.Project("Beta"); rec.XP != 15 || rec.CompletedTasks != 1 {
		t.Fatalf("Beta after move = %+v", rec)
	}
	task, _ := eng.Task("mv001")
	if task.Project != "Beta" || !task.Completed || task.XPAwarded != 15 {
		t.Fatalf("task after move = %+v", task)
	}
	career, _ := eng.AreaByPath("Career")
	health, _ := eng.AreaByPath("Life/Health")
	if career.XP != 0 || health.XP != 15 {
		t.Fatalf("area xp after move: career=%d health=%d", career.XP, health.XP)
	}
}

func TestSeasonLevelUpEmitsEvent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SeasonCurve = LevelCurve{Base: 50, Exponent: 1}
	eng := newTestEngineWithOptions(t, Options{Config: cfg, Backend: NewMemoryStateBackend()})
	mustApply(t, eng, areasScan())
	if _, err := eng.StartSeason("Winter Arc", fixedClock()(), time.Time{}); err != nil {
		t.Fatalf("start season: %v", err)
	}

	tasks := make([]TaskRecord, 0, 3)
	for i, id := range []string{"lv001", "lv002", "lv003"} {
		tasks = append(tasks, TaskRecord{
			ID: id, LineNumber: 2 + i, HeadingIdx: 0,
			Position: i + 1, Total: 3, Completed: true,
		})
	}
	scan := ScanResult{
		Doc:      "grind.zortex",
		Kind:     ScanProject,
		Headings: []HeadingRecord{{Level: 1, Text: "Grind", LineNumber: 1}},
		Tasks:    tasks,
	}

	// 15 + 15 + 75 = 105 crosses the level-2 threshold at 100.
	bres := mustApply(t, eng, scan)
	leveled := false
	for _, ev := range bres.Events {
		if ev.Kind == EventLevelUp && ev.Season == "Winter Arc" && ev.Level == 2 {
			leveled = true
		}
	}
	if !leveled {
		t.Fatalf("no level_up event: %+v", bres.Events)
	}
	season, _ := eng.Season()
	if season.Level != 2 || season.Tier != "Bronze" {
		t.Fatalf("season = %+v", season)
	}
}

func TestEndSeasonArchivesAndClearsProjects(t *testing.T) {
	eng := newTestEngine(t, NewMemoryStateBackend())
	mustApply(t, eng, areasScan())
	if _, err := eng.StartSeason("Winter Arc", fixedClock()(), time.Time{}); err != nil {
		t.Fatalf("start season: %v", err)
	}
	mustApply(t, eng, launchScan(true))

	summary, err := eng.EndSeason()
	if err != nil {
		t.Fatalf("end season: %v", err)
	}
	if summary.Name != "Winter Arc" || summary.FinalXP != 20 || summary.FinalLevel != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.FinalTier != "Bronze" {
		t.Fatalf("final tier = %q, want Bronze", summary.FinalTier)
	}
	if _, ok := eng.Season(); ok {
		t.Fatal("season still active after end")
	}
	if got := eng.Projects(); len(got) != 0 {
		t.Fatalf("project ledger not cleared: %+v", got)
	}
	if history := eng.SeasonHistory(); len(history) != 1 || history[0].Name != "Winter Arc" {
		t.Fatalf("history = %+v", history)
	}
	// Area XP survives season boundaries.
	health, _ := eng.AreaByPath("Life/Health")
	if health.XP != 20 {
		t.Fatalf("area xp lost at season end: %d", health.XP)
	}
	if _, err := eng.EndSeason(); !errors.Is(err, ErrNoSeason) {
		t.Fatalf("second end should be ErrNoSeason, got %v", err)
	}
}

func TestEndSeasonIfDueUsesEndDate(t *testing.T) {
	eng := newTestEngine(t, NewMemoryStateBackend())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if _, err := eng.StartSeason("Q1", start, end); err != nil {
		t.Fatalf("start season: %v", err)
	}

	// Clock is 2026-03-14, past the end date.
	summary, ended, err := eng.EndSeasonIfDue()
	if err != nil || !ended {
		t.Fatalf("expected due season to end, got ended=%v err=%v", ended, err)
	}
	if summary.Name != "Q1" {
		t.Fatalf("summary = %+v", summary)
	}
	if _, ended, _ = eng.EndSeasonIfDue(); ended {
		t.Fatal("nothing left to end")
	}

	// Open-ended seasons never auto-end.
	if _, err := eng.StartSeason("Q2", fixedClock()(), time.Time{}); err != nil {
		t.Fatalf("start season: %v", err)
	}
	if _, ended, _ = eng.EndSeasonIfDue(); ended {
		t.Fatal("open-ended season must not auto-end")
	}
}

func TestRemoveTaskReversesAwardAndCommits(t *testing.T) {
	eng := newTestEngine(t, NewMemoryStateBackend())
	mustApply(t, eng, areasScan())
	mustApply(t, eng, launchScan(true))

	removed, err := eng.RemoveTask("abc12")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.XPAwarded != 20 {
		t.Fatalf("removed record = %+v", removed)
	}
	if _, ok := eng.Task("abc12"); ok {
		t.Fatal("task still present after removal")
	}
	project, _ := eng.Project("Launch")
	if project.XP != 0 || project.CompletedTasks != 0 {
		t.Fatalf("project after removal = %+v", project)
	}
	health, _ := eng.AreaByPath("Life/Health")
	discipline, _ := eng.AreaByPath("Life/Discipline")
	if health.XP != 0 || discipline.XP != 0 {
		t.Fatalf("area xp after removal: health=%d discipline=%d", health.XP, discipline.XP)
	}
	if _, err := eng.RemoveTask("abc12"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second removal should be ErrNotFound, got %v", err)
	}
}

func TestStatePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	eng := newTestEngine(t, NewDirStateBackend(dir))
	if _, err := eng.StartSeason("Winter Arc", fixedClock()(), time.Time{}); err != nil {
		t.Fatalf("start season: %v", err)
	}
	mustApply(t, eng, areasScan())
	mustApply(t, eng, launchScan(true))

	reopened := newTestEngine(t, NewDirStateBackend(dir))
	st := reopened.Status()
	if st.Tasks != 5 || st.CompletedTasks != 1 {
		t.Fatalf("status after reopen = %+v", st)
	}
	task, ok := reopened.Task("abc12")
	if !ok || task.XPAwarded != 20 {
		t.Fatalf("task after reopen = %+v", task)
	}
	season, ok := reopened.Season()
	if !ok || season.Name != "Winter Arc" || season.XP != 20 {
		t.Fatalf("season after reopen = %+v", season)
	}
	health, _ := reopened.AreaByPath("Life/Health")
	if health.XP != 20 {
		t.Fatalf("area xp after reopen = %d", health.XP)
	}

	// Unchecking on the reopened engine reverses the persisted award.
	bres := mustApply(t, reopened, launchScan(false))
	if bres.XPDelta != -20 {
		t.Fatalf("reversal on reopened engine = %d, want -20", bres.XPDelta)
	}
}

func TestAreasRescanPreservesXPByPath(t *testing.T) {
	eng := newTestEngine(t, NewMemoryStateBackend())
	mustApply(t, eng, areasScan())
	mustApply(t, eng, launchScan(true))

	// Health moves under a renamed parent; its old path keeps the XP,
	// carried by path, not by position.
	reorganized := ScanResult{
		Doc:  "areas.zortex",
		Kind: ScanAreas,
		Headings: []HeadingRecord{
			{Level: 1, Text: "Life", LineNumber: 1},
			{Level: 2, Text: "Health", LineNumber: 2},
			{Level: 1, Text: "Work", LineNumber: 3},
		},
	}
	mustApply(t, eng, reorganized)

	health, ok := eng.AreaByPath("Life/Health")
	if !ok || health.XP != 20 {
		t.Fatalf("Life/Health after rescan = %+v", health)
	}
	// The bubble target kept its XP too, as a materialized orphan.
	discipline, ok := eng.AreaByPath("Life/Discipline")
	if !ok || discipline.XP != 15 {
		t.Fatalf("Life/Discipline after rescan = %+v", discipline)
	}
	if _, ok := eng.AreaByPath("Work"); !ok {
		t.Fatal("new area missing after rescan")
	}
}

func TestEventFeedCursorAndRetention(t *testing.T) {
	eng := newTestEngineWithOptions(t, Options{
		Backend:        NewMemoryStateBackend(),
		EventRetention: 3,
	})
	mustApply(t, eng, areasScan())

	all := launchScan(true)
	for i := range all.Tasks {
		all.Tasks[i].Completed = true
	}
	mustApply(t, eng, all) // 5 awards + 1 completion transfer

	feed, next := eng.EventsSince(0, 0)
	if len(feed) != 3 {
		t.Fatalf("retention kept %d events, want 3", len(feed))
	}
	if feed[0].Seq != 4 || feed[2].Seq != 6 {
		t.Fatalf("retained window = %d..%d, want 4..6", feed[0].Seq, feed[2].Seq)
	}
	if next != 6 || eng.EventCursor() != 6 {
		t.Fatalf("cursor = %d / %d, want 6", next, eng.EventCursor())
	}

	page, next := eng.EventsSince(0, 2)
	if len(page) != 2 || next != 5 {
		t.Fatalf("page = %+v next = %d", page, next)
	}
	rest, next := eng.EventsSince(next, 2)
	if len(rest) != 1 || rest[0].Seq != 6 || next != 6 {
		t.Fatalf("rest = %+v next = %d", rest, next)
	}
	empty, next := eng.EventsSince(next, 2)
	if len(empty) != 0 || next != 6 {
		t.Fatalf("tail read = %+v next = %d", empty, next)
	}
}

func TestEventHookSeesCommittedEvents(t *testing.T) {
	var got []Event
	eng := newTestEngineWithOptions(t, Options{
		Backend:   NewMemoryStateBackend(),
		EventHook: func(ev Event) { got = append(got, ev) },
	})
	mustApply(t, eng, areasScan())
	bres := mustApply(t, eng, launchScan(true))

	if len(got) != len(bres.Events) {
		t.Fatalf("hook saw %d events, batch published %d", len(got), len(bres.Events))
	}
	if got[0].Kind != EventXPEarned || got[0].CorrelationID != bres.CorrelationID {
		t.Fatalf("hook event = %+v", got[0])
	}
}

type flakyBackend struct {
	inner    *MemoryStateBackend
	failSave bool
	saves    int
}

func (f *flakyBackend) Load() (*Snapshot, error) {
	return f.inner.Load()
}

func (f *flakyBackend) Save(snap *Snapshot) error {
	f.saves++
	if f.failSave {
		return &PersistenceError{Op: "save", Key: "flaky", Err: errors.New("disk full")}
	}
	return f.inner.Save(snap)
}
