package engine

import (
	"math/rand"
	"sort"
	"time"
)

type Task struct {
	ID          string   `json:"id"`
	Project     string   `json:"project"`
	Completed   bool     `json:"completed"`
	Position    int      `json:"position"`
	Total       int      `json:"total_in_project"`
	XPAwarded   int      `json:"xp_awarded"`
	AreaLinks   []string `json:"area_links,omitempty"`
	LineText    string   `json:"line_text,omitempty"`
	CreatedAt   string   `json:"created_at"`
	CompletedAt string   `json:"completed_at,omitempty"`
}

type TaskAttrs struct {
	Position int
	Total    int
	LineText string
}

// Tracker is the id-keyed task registry. It is not safe for concurrent
// use on its own; the engine serializes access.
type Tracker struct {
	cfg       Config
	now       func() time.Time
	rng       *rand.Rand
	tasks     map[string]*Task
	byProject map[string]map[string]struct{}
}

func newTracker(cfg Config, now func() time.Time, rng *rand.Rand) *Tracker {
	return &Tracker{
		cfg:       cfg,
		now:       now,
		rng:       rng,
		tasks:     map[string]*Task{},
		byProject: map[string]map[string]struct{}{},
	}
}

// NewID draws ids until one misses the live registry. The retry budget is
// bounded; running out is fatal to the registration call.
func (t *Tracker) NewID() (string, error) {
	for attempt := 0; attempt < t.cfg.IDAttempts; attempt++ {
		id := generateID(t.now(), t.cfg.IDLength, t.rng)
		if _, taken := t.tasks[id]; !taken {
			return id, nil
		}
	}
	return "", ErrIDExhausted
}

// Register creates the record on first sighting and otherwise refreshes
// project, attributes, and area links without touching completion state.
func (t *Tracker) Register(id, project string, attrs TaskAttrs, areaLinks []string) (*Task, error) {
	if !validID(id, t.cfg.IDLength) {
		return nil, ErrInvalidTask
	}
	task, ok := t.tasks[id]
	if !ok {
		task = &Task{
			ID:        id,
			Project:   project,
			CreatedAt: t.now().UTC().Format(time.RFC3339),
		}
		t.tasks[id] = task
		t.indexProject(project, id)
	} else if task.Project != project {
		t.unindexProject(task.Project, id)
		task.Project = project
		t.indexProject(project, id)
	}
	task.Position = attrs.Position
	task.Total = attrs.Total
	if attrs.LineText != "" {
		task.LineText = attrs.LineText
	}
	task.AreaLinks = append([]string(nil), areaLinks...)
	return task, nil
}

// UpdateStatus refreshes position/total and flips completion. Checking a
// task awards TaskReward at the fresh position; unchecking returns exactly
// the stored award, negated. No change returns 0 even when position or
// total drifted, so past awards stay as granted.
func (t *Tracker) UpdateStatus(id string, completed bool, position, total int) (int, error) {
	reward := 0
	if completed {
		reward = t.cfg.TaskReward(position, total)
	}
	return t.UpdateStatusReward(id, completed, position, total, reward)
}

// UpdateStatusReward is UpdateStatus with a caller-computed award, used by
// the objective path where key-result flips pay curve increments instead
// of positional task rewards.
func (t *Tracker) UpdateStatusReward(id string, completed bool, position, total, reward int) (int, error) {
	task, ok := t.tasks[id]
	if !ok {
		return 0, ErrNotFound
	}
	task.Position = position
	task.Total = total
	switch {
	case completed && !task.Completed:
		task.Completed = true
		task.XPAwarded = reward
		task.CompletedAt = t.now().UTC().Format(time.RFC3339)
		return reward, nil
	case !completed && task.Completed:
		delta := -task.XPAwarded
		task.Completed = false
		task.XPAwarded = 0
		task.CompletedAt = ""
		return delta, nil
	default:
		return 0, nil
	}
}

// MoveProject retracts the stored award (the caller re-awards under the
// new project if it wants the XP back) and re-indexes the task.
func (t *Tracker) MoveProject(id, newProject string) (int, error) {
	task, ok := t.tasks[id]
	if !ok {
		return 0, ErrNotFound
	}
	if task.Project == newProject {
		return 0, nil
	}
	delta := 0
	if task.Completed && task.XPAwarded > 0 {
		delta = -task.XPAwarded
		task.XPAwarded = 0
	}
	t.unindexProject(task.Project, id)
	task.Project = newProject
	t.indexProject(newProject, id)
	return delta, nil
}

// Remove drops the record and its index entry. Ledger totals are left
// alone; reversal, if wanted, happens before removal.
func (t *Tracker) Remove(id string) error {
	task, ok := t.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.unindexProject(task.Project, id)
	delete(t.tasks, id)
	return nil
}

func (t *Tracker) Get(id string) (Task, bool) {
	task, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

func (t *Tracker) Has(id string) bool {
	_, ok := t.tasks[id]
	return ok
}

func (t *Tracker) Count() int {
	return len(t.tasks)
}

func (t *Tracker) CompletedCount() int {
	n := 0
	for _, task := range t.tasks {
		if task.Completed {
			n++
		}
	}
	return n
}

func (t *Tracker) ProjectTaskIDs(project string) []string {
	ids := make([]string, 0, len(t.byProject[project]))
	for id := range t.byProject[project] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (t *Tracker) indexProject(project, id string) {
	if project == "" {
		return
	}
	set, ok := t.byProject[project]
	if !ok {
		set = map[string]struct{}{}
		t.byProject[project] = set
	}
	set[id] = struct{}{}
}

func (t *Tracker) unindexProject(project, id string) {
	if set, ok := t.byProject[project]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(t.byProject, project)
		}
	}
}

func (t *Tracker) snapshot() map[string]Task {
	out := make(map[string]Task, len(t.tasks))
	for id, task := range t.tasks {
		out[id] = *task
	}
	return out
}

func (t *Tracker) restore(tasks map[string]Task) {
	t.tasks = make(map[string]*Task, len(tasks))
	t.byProject = map[string]map[string]struct{}{}
	for id, task := range tasks {
		clone := task
		clone.ID = id
		t.tasks[id] = &clone
		t.indexProject(clone.Project, id)
	}
}
