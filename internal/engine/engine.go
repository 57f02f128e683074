package engine

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine owns the authoritative in-memory state and serializes every
// write behind one mutex. ApplyScan is the only path that moves XP;
// reads take the shared lock and return copies.
type Engine struct {
	mu  sync.RWMutex
	cfg Config

	logger  *slog.Logger
	backend StateBackend
	now     func() time.Time

	tracker  *Tracker
	areas    *AreaTree
	projects *ProjectLedger
	seasons  *SeasonLedger

	objectives map[string]Objective

	events    []Event
	eventSeq  uint64
	retention int
	hook      func(Event)

	lastScanDoc string
	lastScanAt  string
}

type Options struct {
	Config  Config
	Backend StateBackend
	Logger  *slog.Logger

	// Clock and Rand are test seams; zero values mean real time and a
	// time-seeded source.
	Clock func() time.Time
	Rand  *rand.Rand

	// EventHook, when set, observes every published event after the
	// batch that produced it has committed.
	EventHook      func(Event)
	EventRetention int
}

// Open builds an engine and loads whatever the backend has. A backend
// with nothing stored yields a fresh empty state; corrupt stored state
// fails the open.
func Open(opts Options) (*Engine, error) {
	cfg := opts.Config.normalized()
	backend := opts.Backend
	if backend == nil {
		backend = NewMemoryStateBackend()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(now().UnixNano()))
	}
	retention := opts.EventRetention
	if retention <= 0 {
		retention = defaultEventRetention
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		backend:    backend,
		now:        now,
		tracker:    newTracker(cfg, now, rng),
		areas:      NewAreaTree(cfg),
		projects:   newProjectLedger(),
		seasons:    newSeasonLedger(cfg),
		objectives: map[string]Objective{},
		retention:  retention,
		hook:       opts.EventHook,
	}

	snap, err := backend.Load()
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	if snap != nil {
		e.tracker.restore(snap.Registry.Tasks)
		e.projects.restore(snap.Registry.Projects)
		e.areas.Rehydrate(snap.Areas.XP)
		e.seasons.restore(snap.Season.Current, snap.Season.History)
	}
	logger.Info("engine open",
		"tasks", e.tracker.Count(),
		"projects", e.projects.Len(),
		"areas", e.areas.Len(),
		"season_active", e.seasons.Active())
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Save writes the current state through the backend without applying
// anything. ApplyScan and the season operations already commit; this is
// for shutdown, admin use, and retrying after a failed commit.
func (e *Engine) Save() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.Save(e.snapshotLocked())
}

// ApplyScan reconciles one scanned document against the registry and
// commits the result. Task records are processed strictly in document
// order. A batch that fails partway is rolled back whole. The save
// happens once at the end; a failed save leaves the applied batch in
// memory and returns it with the error, and the next successful save
// carries the state forward.
func (e *Engine) ApplyScan(res ScanResult) (*BatchResult, error) {
	e.mu.Lock()

	bres := &BatchResult{
		Doc:           res.Doc,
		Kind:          res.Kind,
		CorrelationID: uuid.NewString(),
		NewIDs:        map[int]string{},
	}
	mem := e.captureLocked()
	var pending []Event
	var err error

	switch res.Kind {
	case ScanAreas:
		e.applyAreasLocked(res)
	case ScanObjectives:
		pending, err = e.applyObjectivesLocked(res, bres)
	case ScanProject, "":
		pending, err = e.applyProjectLocked(res, bres)
	default:
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: scan kind %q", ErrInvalidInput, res.Kind)
	}
	if err != nil {
		e.restoreLocked(mem)
		e.mu.Unlock()
		return nil, err
	}

	pending = append(pending, e.seasonCrossingsLocked(mem.seasonLevel, mem.seasonTier)...)

	saveErr := e.backend.Save(e.snapshotLocked())

	bres.Events = e.publishLocked(pending, bres.CorrelationID, res.Doc)
	e.lastScanDoc = res.Doc
	at := res.ScannedAt
	if at.IsZero() {
		at = e.now()
	}
	e.lastScanAt = at.UTC().Format(time.RFC3339)
	hook := e.hook
	e.mu.Unlock()

	e.logger.Info("scan applied",
		"doc", res.Doc,
		"kind", res.Kind,
		"correlation_id", bres.CorrelationID,
		"xp_delta", bres.XPDelta,
		"new_ids", len(bres.NewIDs),
		"notes", len(bres.Notes))
	if saveErr != nil {
		e.logger.Error("state save failed",
			"doc", res.Doc,
			"correlation_id", bres.CorrelationID,
			"error", saveErr)
	}
	if hook != nil {
		for _, ev := range bres.Events {
			hook(ev)
		}
	}
	return bres, saveErr
}

// applyAreasLocked rebuilds the tree from the outline and carries the
// XP over by path. Orphaned paths keep their XP on materialized nodes.
func (e *Engine) applyAreasLocked(res ScanResult) {
	outline := make([]OutlineHeading, 0, len(res.Headings))
	for _, h := range res.Headings {
		outline = append(outline, OutlineHeading{
			Level:      h.Level,
			Text:       h.Text,
			LineNumber: h.LineNumber,
			CrossLinks: h.AreaLinks,
		})
	}
	next := BuildAreaTree(e.cfg, outline)
	next.Rehydrate(e.areas.SnapshotXP())
	e.areas = next
}

func (e *Engine) applyProjectLocked(res ScanResult, bres *BatchResult) ([]Event, error) {
	var pending []Event
	seen := map[string]int{}
	missingNoted := map[string]bool{}
	touched := map[string]bool{}

	for _, rec := range res.Tasks {
		project := projectForTask(res, rec)
		headingLinks := headingLinksFor(res, rec)
		links := normalizeAreaPaths(append(append([]string{}, headingLinks...), rec.AreaLinks...))

		id, ok, idErr := e.resolveIDLocked(rec, seen, bres)
		if idErr != nil {
			return nil, idErr
		}
		if !ok {
			continue
		}

		prev, existed := e.tracker.Get(id)
		if existed && prev.Project != project {
			// Undo under the old project so the flip below can award
			// fresh under the new one.
			if prev.Completed {
				delta, _ := e.tracker.UpdateStatus(id, false, prev.Position, prev.Total)
				pending = e.routeTaskDelta(pending, bres, missingNoted, delta, prev.Project, prev.AreaLinks, id, rec.LineNumber)
				if prev.Project != "" {
					e.projects.AddCompleted(prev.Project, -1)
				}
				touched[prev.Project] = true
			}
			e.tracker.MoveProject(id, project)
		}
		if _, err := e.tracker.Register(id, project, TaskAttrs{Position: rec.Position, Total: rec.Total, LineText: rec.LineText}, links); err != nil {
			bres.Notes = append(bres.Notes, BatchNote{
				LineNumber: rec.LineNumber,
				TaskID:     id,
				Kind:       NoteInvalidID,
				Message:    err.Error(),
			})
			continue
		}
		e.projects.Observe(project, rec.Total, headingLinks)
		touched[project] = true

		before, _ := e.tracker.Get(id)
		delta, _ := e.tracker.UpdateStatus(id, rec.Completed, rec.Position, rec.Total)
		if rec.Completed != before.Completed && project != "" {
			if rec.Completed {
				e.projects.AddCompleted(project, 1)
			} else {
				e.projects.AddCompleted(project, -1)
			}
		}
		pending = e.routeTaskDelta(pending, bres, missingNoted, delta, project, links, id, rec.LineNumber)
	}

	pending = e.sweepCompletionsLocked(touched, bres, missingNoted, pending)
	bres.Annotations = headingAnnotations(res, e.now())
	return pending, nil
}

// resolveIDLocked settles the id for one task record: keep a valid
// unseen id, mint a fresh one for blank, malformed, or duplicate ids.
// Only id-space exhaustion aborts the batch.
func (e *Engine) resolveIDLocked(rec TaskRecord, seen map[string]int, bres *BatchResult) (string, bool, error) {
	id := strings.TrimSpace(rec.ID)
	switch {
	case id == "":
		fresh, err := e.tracker.NewID()
		if err != nil {
			return "", false, err
		}
		id = fresh
		bres.NewIDs[rec.LineNumber] = id
	case !validID(id, e.cfg.IDLength):
		fresh, err := e.tracker.NewID()
		if err != nil {
			return "", false, err
		}
		bres.Notes = append(bres.Notes, BatchNote{
			LineNumber: rec.LineNumber,
			TaskID:     id,
			Kind:       NoteInvalidID,
			Message:    fmt.Sprintf("malformed id %q replaced with %s", id, fresh),
		})
		id = fresh
		bres.NewIDs[rec.LineNumber] = id
	default:
		if firstLine, dup := seen[id]; dup {
			fresh, err := e.tracker.NewID()
			if err != nil {
				return "", false, err
			}
			dupErr := &DuplicateIDError{ID: id, LineNumber: rec.LineNumber}
			bres.Notes = append(bres.Notes, BatchNote{
				LineNumber: rec.LineNumber,
				TaskID:     fresh,
				Kind:       NoteDuplicateID,
				Message:    fmt.Sprintf("%v (first at line %d), reassigned %s", dupErr, firstLine, fresh),
			})
			id = fresh
			bres.NewIDs[rec.LineNumber] = id
		}
	}
	seen[id] = rec.LineNumber
	return id, true, nil
}

// routeTaskDelta moves one task's XP change through the ledgers and the
// linked areas. Each resolvable link gets the full delta; its own
// cross-links get the decayed bubble share. Unresolvable links are
// noted and skipped.
func (e *Engine) routeTaskDelta(pending []Event, bres *BatchResult, missingNoted map[string]bool, delta int, project string, links []string, taskID string, line int) []Event {
	if delta == 0 {
		return pending
	}
	if project != "" {
		e.projects.AddXP(project, delta)
	}
	e.seasons.AddXP(delta)

	var awards []AreaAward
	for _, link := range normalizeAreaPaths(links) {
		node, ok := e.areas.FindByPath(link)
		if !ok {
			noteMissingArea(bres, missingNoted, link, taskID, line)
			continue
		}
		applied, _ := e.areas.AddAreaXP(node.Path, delta, node.CrossLinks)
		awards = append(awards, applied...)
	}

	kind := EventXPEarned
	if delta < 0 {
		kind = EventXPReversed
	}
	bres.XPDelta += delta
	return append(pending, Event{
		Kind:       kind,
		Project:    project,
		TaskID:     taskID,
		Amount:     delta,
		AreaAwards: awards,
	})
}

// sweepCompletionsLocked fires the one-time project completion payout
// for every project the batch touched that is now fully done.
func (e *Engine) sweepCompletionsLocked(touched map[string]bool, bres *BatchResult, missingNoted map[string]bool, pending []Event) []Event {
	projects := make([]string, 0, len(touched))
	for project := range touched {
		if project != "" {
			projects = append(projects, project)
		}
	}
	sort.Strings(projects)

	for _, project := range projects {
		if !e.projects.CompletionReady(project) {
			continue
		}
		record, _ := e.projects.Get(project)
		transfer := int(math.Round(e.cfg.ProjectTransferRate * float64(record.XP)))
		var awards []AreaAward
		for _, link := range record.AreaLinks {
			node, ok := e.areas.FindByPath(link)
			if !ok {
				noteMissingArea(bres, missingNoted, link, "", 0)
				continue
			}
			applied, _ := e.areas.AddAreaXP(node.Path, transfer, node.CrossLinks)
			awards = append(awards, applied...)
		}
		e.projects.MarkTransferred(project, e.now())
		e.seasons.BumpProjectsCompleted()
		pending = append(pending, Event{
			Kind:       EventProjectCompleted,
			Project:    project,
			Amount:     transfer,
			AreaAwards: awards,
		})
	}
	return pending
}

func (e *Engine) applyObjectivesLocked(res ScanResult, bres *BatchResult) ([]Event, error) {
	var pending []Event
	seen := map[string]int{}
	missingNoted := map[string]bool{}

	byHeading := make(map[int][]TaskRecord, len(res.Headings))
	for _, rec := range res.Tasks {
		byHeading[rec.HeadingIdx] = append(byHeading[rec.HeadingIdx], rec)
	}

	for idx, h := range res.Headings {
		krs := byHeading[idx]
		if len(krs) == 0 {
			continue
		}
		title := strings.TrimSpace(h.Text)
		span := h.Span
		age := daysOld(h.CreatedAt, e.now())
		paths := normalizeAreaPaths(h.AreaLinks)
		total := len(krs)

		cur := e.completedKRsLocked(krs)
		prevCur := cur

		for _, rec := range krs {
			id, ok, idErr := e.resolveIDLocked(rec, seen, bres)
			if idErr != nil {
				return nil, idErr
			}
			if !ok {
				continue
			}

			prev, existed := e.tracker.Get(id)
			if existed && prev.Project != "" {
				// A project task turned key result: retract its project
				// award before it is re-earned on the objective curve.
				if prev.Completed {
					delta, _ := e.tracker.UpdateStatus(id, false, prev.Position, prev.Total)
					pending = e.routeTaskDelta(pending, bres, missingNoted, delta, prev.Project, prev.AreaLinks, id, rec.LineNumber)
					e.projects.AddCompleted(prev.Project, -1)
				}
				e.tracker.MoveProject(id, "")
			}
			if _, err := e.tracker.Register(id, "", TaskAttrs{Position: rec.Position, Total: rec.Total, LineText: rec.LineText}, paths); err != nil {
				bres.Notes = append(bres.Notes, BatchNote{
					LineNumber: rec.LineNumber,
					TaskID:     id,
					Kind:       NoteInvalidID,
					Message:    err.Error(),
				})
				continue
			}

			state, _ := e.tracker.Get(id)
			switch {
			case rec.Completed && !state.Completed:
				step := e.cfg.ObjectiveStepReward(span, age, krFraction(cur, total), krFraction(cur+1, total))
				delta, _ := e.tracker.UpdateStatusReward(id, true, rec.Position, rec.Total, step)
				cur++
				pending = e.routeObjectiveDelta(pending, bres, missingNoted, delta, title, paths, id, rec.LineNumber)
			case !rec.Completed && state.Completed:
				delta, _ := e.tracker.UpdateStatusReward(id, false, rec.Position, rec.Total, 0)
				if cur > 0 {
					cur--
				}
				pending = e.routeObjectiveDelta(pending, bres, missingNoted, delta, title, paths, id, rec.LineNumber)
			default:
				e.tracker.UpdateStatusReward(id, rec.Completed, rec.Position, rec.Total, 0)
			}
		}

		if total > 0 && cur == total && prevCur < total {
			pending = append(pending, Event{
				Kind:      EventObjectiveDone,
				Objective: title,
				Amount:    e.cfg.ObjectiveReward(span, age),
			})
		}
		e.objectives[title] = Objective{
			Title:        title,
			Span:         span,
			AreaPaths:    paths,
			CompletedKRs: cur,
			TotalKRs:     total,
			CreatedAt:    h.CreatedAt,
		}
	}

	bres.Annotations = headingAnnotations(res, e.now())
	return pending, nil
}

// completedKRsLocked counts how many key results of one objective are
// already completed in the registry, before this batch flips any.
func (e *Engine) completedKRsLocked(krs []TaskRecord) int {
	counted := map[string]bool{}
	cur := 0
	for _, rec := range krs {
		id := strings.TrimSpace(rec.ID)
		if !validID(id, e.cfg.IDLength) || counted[id] {
			continue
		}
		counted[id] = true
		if task, ok := e.tracker.Get(id); ok && task.Completed {
			cur++
		}
	}
	return cur
}

// routeObjectiveDelta splits one key-result delta evenly across the
// objective's resolvable areas, remainder to the last. The season gets
// the full delta either way.
func (e *Engine) routeObjectiveDelta(pending []Event, bres *BatchResult, missingNoted map[string]bool, delta int, title string, paths []string, taskID string, line int) []Event {
	if delta == 0 {
		return pending
	}
	e.seasons.AddXP(delta)

	resolved := make([]*AreaNode, 0, len(paths))
	for _, path := range paths {
		node, ok := e.areas.FindByPath(path)
		if !ok {
			noteMissingArea(bres, missingNoted, path, taskID, line)
			continue
		}
		resolved = append(resolved, node)
	}
	var awards []AreaAward
	for i, share := range splitEvenly(delta, len(resolved)) {
		if share == 0 {
			continue
		}
		applied, _ := e.areas.AddAreaXP(resolved[i].Path, share, resolved[i].CrossLinks)
		awards = append(awards, applied...)
	}

	kind := EventXPEarned
	if delta < 0 {
		kind = EventXPReversed
	}
	bres.XPDelta += delta
	return append(pending, Event{
		Kind:       kind,
		Objective:  title,
		TaskID:     taskID,
		Amount:     delta,
		AreaAwards: awards,
	})
}

// seasonCrossingsLocked compares the season's derived level and tier
// against their values before the batch and emits up-crossing events.
func (e *Engine) seasonCrossingsLocked(levelBefore int, tierBefore string) []Event {
	if !e.seasons.Active() {
		return nil
	}
	var events []Event
	state, _ := e.seasons.Current()
	level := e.seasons.Level()
	tier := e.seasons.Tier()
	if level > levelBefore {
		events = append(events, Event{Kind: EventLevelUp, Season: state.Name, Level: level})
	}
	if tier != tierBefore && level > levelBefore {
		events = append(events, Event{Kind: EventTierUp, Season: state.Name, Level: level, Tier: tier})
	}
	return events
}

// StartSeason opens a new season and commits. A failed save leaves the
// season active in memory and surfaces the error; the next successful
// save picks it up.
func (e *Engine) StartSeason(name string, start, end time.Time) (SeasonState, error) {
	e.mu.Lock()
	state, err := e.seasons.Start(name, start, end)
	if err != nil {
		e.mu.Unlock()
		return SeasonState{}, err
	}
	saveErr := e.backend.Save(e.snapshotLocked())
	out := *state
	events := e.publishLocked([]Event{{Kind: EventSeasonStarted, Season: state.Name}}, uuid.NewString(), "")
	hook := e.hook
	e.mu.Unlock()

	e.logger.Info("season started", "season", out.Name, "start", out.StartDate, "end", out.EndDate)
	if saveErr != nil {
		e.logger.Error("state save failed", "season", out.Name, "error", saveErr)
	}
	if hook != nil {
		for _, ev := range events {
			hook(ev)
		}
	}
	return out, saveErr
}

// EndSeason archives the active season and clears the per-season
// project ledger. Area XP is untouched.
func (e *Engine) EndSeason() (SeasonSummary, error) {
	e.mu.Lock()
	summary, err := e.seasons.End(e.now())
	if err != nil {
		e.mu.Unlock()
		return SeasonSummary{}, err
	}
	e.projects.Reset()
	saveErr := e.backend.Save(e.snapshotLocked())
	out := *summary
	events := e.publishLocked([]Event{{
		Kind:   EventSeasonEnded,
		Season: out.Name,
		Amount: out.FinalXP,
		Level:  out.FinalLevel,
		Tier:   out.FinalTier,
	}}, uuid.NewString(), "")
	hook := e.hook
	e.mu.Unlock()

	e.logger.Info("season ended",
		"season", out.Name,
		"final_level", out.FinalLevel,
		"final_xp", out.FinalXP,
		"final_tier", out.FinalTier,
		"projects_completed", out.ProjectsCompleted)
	if saveErr != nil {
		e.logger.Error("state save failed", "season", out.Name, "error", saveErr)
	}
	if hook != nil {
		for _, ev := range events {
			hook(ev)
		}
	}
	return out, saveErr
}

// RemoveTask reverses whatever award the task still holds, drops it
// from the registry, and commits. The returned Task is the record as it
// was before removal.
func (e *Engine) RemoveTask(id string) (Task, error) {
	e.mu.Lock()
	task, ok := e.tracker.Get(id)
	if !ok {
		e.mu.Unlock()
		return Task{}, ErrNotFound
	}
	scratch := &BatchResult{}
	var pending []Event
	if task.Completed {
		delta, _ := e.tracker.UpdateStatus(id, false, task.Position, task.Total)
		pending = e.routeTaskDelta(pending, scratch, map[string]bool{}, delta, task.Project, task.AreaLinks, id, 0)
		if task.Project != "" {
			e.projects.AddCompleted(task.Project, -1)
		}
	}
	e.tracker.Remove(id)
	saveErr := e.backend.Save(e.snapshotLocked())
	events := e.publishLocked(pending, uuid.NewString(), "")
	hook := e.hook
	e.mu.Unlock()

	e.logger.Info("task removed", "task_id", id, "project", task.Project, "reversed", task.XPAwarded)
	if saveErr != nil {
		e.logger.Error("state save failed", "task_id", id, "error", saveErr)
	}
	if hook != nil {
		for _, ev := range events {
			hook(ev)
		}
	}
	return task, saveErr
}

// EndSeasonIfDue ends the active season once its end date has passed.
// Returns false when there is nothing to do.
func (e *Engine) EndSeasonIfDue() (SeasonSummary, bool, error) {
	e.mu.RLock()
	state, ok := e.seasons.Current()
	e.mu.RUnlock()
	if !ok || state.EndDate == "" {
		return SeasonSummary{}, false, nil
	}
	end, parsed := parseFlexDate(state.EndDate)
	if !parsed || !e.now().After(end) {
		return SeasonSummary{}, false, nil
	}
	summary, err := e.EndSeason()
	if err != nil && summary.Name == "" {
		return SeasonSummary{}, false, err
	}
	return summary, true, err
}

type memento struct {
	tasks       map[string]Task
	projects    map[string]ProjectRecord
	areasXP     map[string]int
	areaTree    *AreaTree
	season      *SeasonState
	history     []SeasonSummary
	seasonLevel int
	seasonTier  string
}

func (e *Engine) captureLocked() memento {
	current, history := e.seasons.snapshot()
	return memento{
		tasks:       e.tracker.snapshot(),
		projects:    e.projects.snapshot(),
		areasXP:     e.areas.SnapshotXP(),
		areaTree:    e.areas,
		season:      current,
		history:     history,
		seasonLevel: e.seasons.Level(),
		seasonTier:  e.seasons.Tier(),
	}
}

func (e *Engine) restoreLocked(m memento) {
	e.tracker.restore(m.tasks)
	e.projects.restore(m.projects)
	e.areas = m.areaTree
	e.areas.resetXP(m.areasXP)
	e.seasons.restore(m.season, m.history)
}

func (e *Engine) snapshotLocked() *Snapshot {
	current, history := e.seasons.snapshot()
	return &Snapshot{
		Registry: RegistryDoc{Tasks: e.tracker.snapshot(), Projects: e.projects.snapshot()},
		Areas:    AreasDoc{XP: e.areas.SnapshotXP()},
		Season:   SeasonDoc{Current: current, History: history},
	}
}

func projectForTask(res ScanResult, rec TaskRecord) string {
	if rec.HeadingIdx < 0 || rec.HeadingIdx >= len(res.Headings) {
		return ""
	}
	return strings.TrimSpace(res.Headings[rec.HeadingIdx].Text)
}

func headingLinksFor(res ScanResult, rec TaskRecord) []string {
	if rec.HeadingIdx < 0 || rec.HeadingIdx >= len(res.Headings) {
		return nil
	}
	return res.Headings[rec.HeadingIdx].AreaLinks
}

func noteMissingArea(bres *BatchResult, noted map[string]bool, path, taskID string, line int) {
	if noted[path] {
		return
	}
	noted[path] = true
	bres.Notes = append(bres.Notes, BatchNote{
		LineNumber: line,
		TaskID:     taskID,
		Kind:       NoteMissingArea,
		Message:    fmt.Sprintf("%v: %s", ErrMissingArea, path),
	})
}

func krFraction(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) / float64(total)
}

// headingAnnotations derives the [completed/total] progress markers the
// annotator writes back, one per heading with direct tasks. Fully done
// sections get a date stamp.
func headingAnnotations(res ScanResult, now time.Time) []Annotation {
	type tally struct {
		done  int
		total int
	}
	byHeading := map[int]*tally{}
	for _, rec := range res.Tasks {
		if rec.HeadingIdx < 0 || rec.HeadingIdx >= len(res.Headings) {
			continue
		}
		t := byHeading[rec.HeadingIdx]
		if t == nil {
			t = &tally{}
			byHeading[rec.HeadingIdx] = t
		}
		t.total++
		if rec.Completed {
			t.done++
		}
	}
	var out []Annotation
	for idx, h := range res.Headings {
		t := byHeading[idx]
		if t == nil {
			continue
		}
		a := Annotation{LineNumber: h.LineNumber, Completed: t.done, Total: t.total}
		if t.total > 0 && t.done == t.total {
			a.StampedAt = now.UTC().Format("2006-01-02")
		}
		out = append(out, a)
	}
	return out
}
