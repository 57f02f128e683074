package engine

import "time"

type EventKind string

const (
	EventXPEarned         EventKind = "xp_earned"
	EventXPReversed       EventKind = "xp_reversed"
	EventLevelUp          EventKind = "level_up"
	EventTierUp           EventKind = "tier_up"
	EventProjectCompleted EventKind = "project_completed"
	EventObjectiveDone    EventKind = "objective_completed"
	EventSeasonStarted    EventKind = "season_started"
	EventSeasonEnded      EventKind = "season_ended"
)

// Event is one entry of the engine's feed. Seq is the feed cursor:
// strictly increasing for the life of the process, never reused.
type Event struct {
	Seq           uint64      `json:"seq"`
	Kind          EventKind   `json:"kind"`
	At            string      `json:"at"`
	CorrelationID string      `json:"correlationId,omitempty"`
	Doc           string      `json:"doc,omitempty"`
	Project       string      `json:"project,omitempty"`
	Objective     string      `json:"objective,omitempty"`
	TaskID        string      `json:"taskId,omitempty"`
	Amount        int         `json:"amount,omitempty"`
	Level         int         `json:"level,omitempty"`
	Tier          string      `json:"tier,omitempty"`
	Season        string      `json:"season,omitempty"`
	AreaAwards    []AreaAward `json:"areaAwards,omitempty"`
}

const defaultEventRetention = 512

// publishLocked assigns cursor positions and timestamps to a batch of
// pending events and appends them to the feed. Caller holds the write
// lock; the returned slice is what hooks should see.
func (e *Engine) publishLocked(pending []Event, correlationID, doc string) []Event {
	if len(pending) == 0 {
		return nil
	}
	at := e.now().UTC().Format(time.RFC3339)
	out := make([]Event, 0, len(pending))
	for _, ev := range pending {
		e.eventSeq++
		ev.Seq = e.eventSeq
		ev.At = at
		ev.CorrelationID = correlationID
		ev.Doc = doc
		e.events = append(e.events, ev)
		out = append(out, ev)
	}
	if over := len(e.events) - e.retention; over > 0 {
		e.events = append([]Event(nil), e.events[over:]...)
	}
	return out
}

// EventsSince returns feed entries after the cursor, oldest first, and
// the cursor to pass next time. Entries older than the retention window
// are gone; callers see a gap in seq numbers, never stale data.
func (e *Engine) EventsSince(cursor uint64, limit int) ([]Event, uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if limit <= 0 {
		limit = len(e.events)
	}
	out := make([]Event, 0, limit)
	next := cursor
	for _, ev := range e.events {
		if ev.Seq <= cursor {
			continue
		}
		out = append(out, ev)
		next = ev.Seq
		if len(out) >= limit {
			break
		}
	}
	return out, next
}

// EventCursor is the seq of the newest feed entry, 0 when empty.
func (e *Engine) EventCursor() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.eventSeq
}
