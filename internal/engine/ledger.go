package engine

import (
	"sort"
	"strings"
	"time"
)

type ProjectRecord struct {
	Name           string   `json:"project"`
	XP             int      `json:"xp"`
	TaskCount      int      `json:"task_count"`
	CompletedTasks int      `json:"completed_tasks"`
	AreaLinks      []string `json:"area_links,omitempty"`
	TransferDone   bool     `json:"transfer_done,omitempty"`
	CompletedAt    string   `json:"completed_at,omitempty"`
}

// ProjectLedger aggregates per-project XP in lock-step with tracker
// deltas. Records are season-scoped and cleared when a season ends.
type ProjectLedger struct {
	records map[string]*ProjectRecord
}

func newProjectLedger() *ProjectLedger {
	return &ProjectLedger{records: map[string]*ProjectRecord{}}
}

/// Observe refreshes the scan-derived fields: task_count is the largest
// direct total ever seen, area links follow the document.
func (l *ProjectLedger) Observe(project string, total int, areaLinks []string) *ProjectRecord {
	record := l.record(project)
	if record == nil {
		return nil
	}
	if total > record.TaskCount {
		record.TaskCount = total
	}
	if areaLinks != nil {
		record.AreaLinks = normalizeAreaPaths(areaLinks)
	}
	return record
}

func (l *ProjectLedger) AddXP(project string, delta int) int {
	record := l.record(project)
	if record == nil {
		return 0
	}
	return applyClamped(&record.XP, delta)
}

func (l *ProjectLedger) AddCompleted(project string, delta int) {
	record := l.record(project)
	if record == nil {
		return
	}
	record.CompletedTasks += delta
	if record.CompletedTasks < 0 {
		record.CompletedTasks = 0
	}
}

func (l *ProjectLedger) Get(project string) (ProjectRecord, bool) {
	record, ok := l.records[project]
	if !ok {
		return ProjectRecord{}, false
	}
	return *record, true
}

// CompletionReady reports whether the project just reached full completion
// and has not yet fired its one-time area transfer.
func (l *ProjectLedger) CompletionReady(project string) bool {
	record, ok := l.records[project]
	if !ok {
		return false
	}
	return record.TaskCount > 0 && record.CompletedTasks == record.TaskCount && !record.TransferDone
}

func (l *ProjectLedger) MarkTransferred(project string, at time.Time) {
	record, ok := l.records[project]
	if !ok {
		return
	}
	record.TransferDone = true
	record.CompletedAt = at.UTC().Format(time.RFC3339)
}

func (l *ProjectLedger) Records() []ProjectRecord {
	out := make([]ProjectRecord, 0, len(l.records))
	for _, record := range l.records {
		out = append(out, *record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (l *ProjectLedger) Len() int {
	return len(l.records)
}

func (l *ProjectLedger) Reset() {
	l.records = map[string]*ProjectRecord{}
}

func (l *ProjectLedger) record(project string) *ProjectRecord {
	project = strings.TrimSpace(project)
	if project == "" {
		return nil
	}
	record, ok := l.records[project]
	if !ok {
		record = &ProjectRecord{Name: project}
		l.records[project] = record
	}
	return record
}

func (l *ProjectLedger) snapshot() map[string]ProjectRecord {
	out := make(map[string]ProjectRecord, len(l.records))
	for name, record := range l.records {
		out[name] = *record
	}
	return out
}

func (l *ProjectLedger) restore(records map[string]ProjectRecord) {
	l.records = make(map[string]*ProjectRecord, len(records))
	for name, record := range records {
		clone := record
		clone.Name = name
		l.records[name] = &clone
	}
}

type SeasonState struct {
	Name              string `json:"name"`
	StartDate         string `json:"start_date"`
	EndDate           string `json:"end_date"`
	XP                int    `json:"xp"`
	ProjectsCompleted int    `json:"projects_completed"`
}

type SeasonSummary struct {
	Name              string `json:"name"`
	FinalLevel        int    `json:"final_level"`
	FinalXP           int    `json:"final_xp"`
	FinalTier         string `json:"final_tier"`
	ProjectsCompleted int    `json:"projects_completed"`
	EndedAt           string `json:"ended_at,omitempty"`
}

// SeasonLedger holds the 0-or-1 active season and the archive of past
// summaries. Level and tier are always derived, never stored.
type SeasonLedger struct {
	cfg     Config
	current *SeasonState
	history []SeasonSummary
}

func newSeasonLedger(cfg Config) *SeasonLedger {
	return &SeasonLedger{cfg: cfg}
}

func (s *SeasonLedger) Start(name string, start, end time.Time) (*SeasonState, error) {
	if s.current != nil {
		return nil, ErrSeasonActive
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	if !end.IsZero() && !end.After(start) {
		return nil, ErrInvalidInput
	}
	s.current = &SeasonState{
		Name:      name,
		StartDate: start.UTC().Format(time.RFC3339),
	}
	if !end.IsZero() {
		s.current.EndDate = end.UTC().Format(time.RFC3339)
	}
	return s.current, nil
}

func (s *SeasonLedger) Active() bool {
	return s.current != nil
}

func (s *SeasonLedger) Current() (SeasonState, bool) {
	if s.current == nil {
		return SeasonState{}, false
	}
	return *s.current, true
}

// AddXP applies the delta only while a season is active; outside a season
// task deltas simply do not count toward any leaderboard.
func (s *SeasonLedger) AddXP(delta int) int {
	if s.current == nil {
		return 0
	}
	return applyClamped(&s.current.XP, delta)
}

func (s *SeasonLedger) BumpProjectsCompleted() {
	if s.current == nil {
		return
	}
	s.current.ProjectsCompleted++
}

func (s *SeasonLedger) Level() int {
	if s.current == nil {
		return 0
	}
	return LevelForXP(s.current.XP, s.cfg.SeasonCurve)
}

func (s *SeasonLedger) Tier() string {
	if s.current == nil {
		return ""
	}
	return s.cfg.TierForLevel(s.Level())
}

// End archives the summary and clears the current season. Clearing the
// project ledger is the engine's job, so both happen in one commit.
func (s *SeasonLedger) End(at time.Time) (*SeasonSummary, error) {
	if s.current == nil {
		return nil, ErrNoSeason
	}
	summary := SeasonSummary{
		Name:              s.current.Name,
		FinalLevel:        s.Level(),
		FinalXP:           s.current.XP,
		FinalTier:         s.Tier(),
		ProjectsCompleted: s.current.ProjectsCompleted,
		EndedAt:           at.UTC().Format(time.RFC3339),
	}
	s.history = append(s.history, summary)
	s.current = nil
	return &summary, nil
}

func (s *SeasonLedger) History() []SeasonSummary {
	return append([]SeasonSummary(nil), s.history...)
}

func (s *SeasonLedger) snapshot() (*SeasonState, []SeasonSummary) {
	var current *SeasonState
	if s.current != nil {
		clone := *s.current
		current = &clone
	}
	return current, append([]SeasonSummary(nil), s.history...)
}

func (s *SeasonLedger) restore(current *SeasonState, history []SeasonSummary) {
	if current != nil {
		clone := *current
		s.current = &clone
	} else {
		s.current = nil
	}
	s.history = append([]SeasonSummary(nil), history...)
}
