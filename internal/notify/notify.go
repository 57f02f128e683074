package notify

import (
	"context"
	"fmt"

	"github.com/zortexlab/zortexd/internal/engine"
)

// Notification is one push message. Priority and Tags follow the ntfy
// conventions (min/low/default/high/urgent, emoji shortcode tags) but any
// sink may interpret them.
type Notification struct {
	Kind     string
	Title    string
	Body     string
	Priority string
	Tags     []string
}

// Sink delivers notifications. Implementations must be safe for
// concurrent use.
type Sink interface {
	Publish(ctx context.Context, n Notification) error
}

// NoopSink swallows notifications. It is the default when no topic is
// configured.
type NoopSink struct{}

func (NoopSink) Publish(ctx context.Context, n Notification) error {
	return nil
}

// FromEvent renders a feed event as a push notification. Routine XP
// movements report false: only milestone events are worth a ping.
func FromEvent(ev engine.Event) (Notification, bool) {
	switch ev.Kind {
	case engine.EventLevelUp:
		return Notification{
			Kind:     string(ev.Kind),
			Title:    fmt.Sprintf("Level %d reached", ev.Level),
			Body:     fmt.Sprintf("Season %s is now level %d.", ev.Season, ev.Level),
			Priority: "default",
			Tags:     []string{"arrow_up"},
		}, true
	case engine.EventTierUp:
		return Notification{
			Kind:     string(ev.Kind),
			Title:    fmt.Sprintf("%s tier unlocked", ev.Tier),
			Body:     fmt.Sprintf("Season %s climbed to %s at level %d.", ev.Season, ev.Tier, ev.Level),
			Priority: "high",
			Tags:     []string{"trophy"},
		}, true
	case engine.EventProjectCompleted:
		return Notification{
			Kind:     string(ev.Kind),
			Title:    fmt.Sprintf("Project %s completed", ev.Project),
			Body:     fmt.Sprintf("All tasks done; %d XP transferred to linked areas.", ev.Amount),
			Priority: "high",
			Tags:     []string{"tada"},
		}, true
	case engine.EventObjectiveDone:
		return Notification{
			Kind:     string(ev.Kind),
			Title:    fmt.Sprintf("Objective %s achieved", ev.Objective),
			Body:     fmt.Sprintf("Every key result landed, worth %d XP.", ev.Amount),
			Priority: "high",
			Tags:     []string{"dart"},
		}, true
	case engine.EventSeasonStarted:
		return Notification{
			Kind:     string(ev.Kind),
			Title:    fmt.Sprintf("Season %s started", ev.Season),
			Body:     "A fresh ledger. Good luck.",
			Priority: "default",
			Tags:     []string{"checkered_flag"},
		}, true
	case engine.EventSeasonEnded:
		return Notification{
			Kind:     string(ev.Kind),
			Title:    fmt.Sprintf("Season %s ended", ev.Season),
			Body:     fmt.Sprintf("Final: level %d %s with %d XP.", ev.Level, ev.Tier, ev.Amount),
			Priority: "default",
			Tags:     []string{"checkered_flag"},
		}, true
	}
	return Notification{}, false
}
