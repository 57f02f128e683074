package engine

import "sort"

// SeasonStatus is the API view of the active season: the stored fields
// plus the derived level and tier.
type SeasonStatus struct {
	Name              string `json:"name"`
	StartDate         string `json:"startDate,omitempty"`
	EndDate           string `json:"endDate,omitempty"`
	XP                int    `json:"xp"`
	Level             int    `json:"level"`
	Tier              string `json:"tier,omitempty"`
	ProjectsCompleted int    `json:"projectsCompleted"`
}

type Status struct {
	Tasks          int           `json:"tasks"`
	CompletedTasks int           `json:"completedTasks"`
	Projects       int           `json:"projects"`
	Areas          int           `json:"areas"`
	Objectives     int           `json:"objectives"`
	Season         *SeasonStatus `json:"season,omitempty"`
	PastSeasons    int           `json:"pastSeasons"`
	LastScanDoc    string        `json:"lastScanDoc,omitempty"`
	LastScanAt     string        `json:"lastScanAt,omitempty"`
	EventCursor    uint64        `json:"eventCursor"`
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Status{
		Tasks:          e.tracker.Count(),
		CompletedTasks: e.tracker.CompletedCount(),
		Projects:       e.projects.Len(),
		Areas:          e.areas.Len(),
		Objectives:     len(e.objectives),
		PastSeasons:    len(e.seasons.History()),
		LastScanDoc:    e.lastScanDoc,
		LastScanAt:     e.lastScanAt,
		EventCursor:    e.eventSeq,
	}
	if season, ok := e.seasonStatusLocked(); ok {
		st.Season = &season
	}
	return st
}

func (e *Engine) seasonStatusLocked() (SeasonStatus, bool) {
	state, ok := e.seasons.Current()
	if !ok {
		return SeasonStatus{}, false
	}
	return SeasonStatus{
		Name:              state.Name,
		StartDate:         state.StartDate,
		EndDate:           state.EndDate,
		XP:                state.XP,
		Level:             e.seasons.Level(),
		Tier:              e.seasons.Tier(),
		ProjectsCompleted: state.ProjectsCompleted,
	}, true
}

// Season reports the active season, false when none is running.
func (e *Engine) Season() (SeasonStatus, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.seasonStatusLocked()
}

func (e *Engine) SeasonHistory() []SeasonSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.seasons.History()
}

// AreaSummary is the API view of one tree node. TotalXP includes
// descendants and is computed on demand, never stored.
type AreaSummary struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	XP      int    `json:"xp"`
	TotalXP int    `json:"totalXp"`
	Level   int    `json:"level"`
}

func (e *Engine) Areas() []AreaSummary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	nodes := e.areas.Nodes()
	out := make([]AreaSummary, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, e.areaSummaryLocked(node))
	}
	return out
}

func (e *Engine) AreaByPath(path string) (AreaSummary, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	node, ok := e.areas.FindByPath(path)
	if !ok {
		return AreaSummary{}, false
	}
	return e.areaSummaryLocked(node), true
}

func (e *Engine) areaSummaryLocked(node *AreaNode) AreaSummary {
	return AreaSummary{
		Path:    node.Path,
		Name:    node.Name,
		XP:      node.XP,
		TotalXP: e.areas.TotalXP(node),
		Level:   e.areas.Level(node),
	}
}

func (e *Engine) Projects() []ProjectRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.projects.Records()
}

func (e *Engine) Project(name string) (ProjectRecord, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.projects.Get(name)
}

func (e *Engine) Objectives() []Objective {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Objective, 0, len(e.objectives))
	for _, obj := range e.objectives {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

func (e *Engine) Task(id string) (Task, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tracker.Get(id)
}
