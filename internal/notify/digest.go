package notify

import (
	"fmt"
	"strings"

	"github.com/zortexlab/zortexd/internal/engine"
)

// BuildDigest renders the daily summary from an engine status snapshot.
func BuildDigest(status engine.Status) Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "Tasks %d/%d complete across %d projects.", status.CompletedTasks, status.Tasks, status.Projects)
	if status.Season != nil {
		s := status.Season
		fmt.Fprintf(&b, "\nSeason %s: level %d %s with %d XP, %d projects completed.",
			s.Name, s.Level, s.Tier, s.XP, s.ProjectsCompleted)
	} else {
		b.WriteString("\nNo active season.")
	}
	if status.Objectives > 0 {
		fmt.Fprintf(&b, "\n%d objectives in play.", status.Objectives)
	}
	return Notification{
		Kind:     "digest",
		Title:    "Daily digest",
		Body:     b.String(),
		Priority: "default",
		Tags:     []string{"bar_chart"},
	}
}
