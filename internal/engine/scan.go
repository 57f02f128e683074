package engine

import "time"

// ScanKind tells the engine how to interpret a scanned document.
type ScanKind string

const (
	ScanProject    ScanKind = "project"
	ScanObjectives ScanKind = "objectives"
	ScanAreas      ScanKind = "areas"
)

// HeadingRecord is one heading line of a scanned document. In a project
// document the heading names the project; in the objectives document it
// names the objective and carries span and creation date; in the areas
// document its level builds the tree and AreaLinks are cross-links.
type HeadingRecord struct {
	Level      int
	Text       string
	LineNumber int
	AreaLinks  []string
	Span       Span
	CreatedAt  string
}

// TaskRecord is one checklist line. ID is empty when the line has no id
// marker yet. HeadingIdx points into ScanResult.Headings, -1 for lines
// above the first heading. Position and Total count only direct tasks
// of that heading.
type TaskRecord struct {
	ID         string
	LineNumber int
	LineText   string
	Completed  bool
	HeadingIdx int
	Position   int
	Total      int
	AreaLinks  []string
}

// ScanResult is the parsed form of one document, produced by the vault
// scanner and consumed by Engine.ApplyScan.
type ScanResult struct {
	Doc       string
	Kind      ScanKind
	ScannedAt time.Time
	Headings  []HeadingRecord
	Tasks     []TaskRecord
}

// Annotation tells the annotator what progress to write back onto a
// heading line. StampedAt is set only when the section is fully done.
type Annotation struct {
	LineNumber int    `json:"lineNumber"`
	Completed  int    `json:"completed"`
	Total      int    `json:"total"`
	StampedAt  string `json:"stampedAt,omitempty"`
}

// Batch note kinds. Notes record per-line anomalies that were isolated
// rather than failing the batch.
const (
	NoteDuplicateID = "duplicate_id"
	NoteInvalidID   = "invalid_id"
	NoteMissingArea = "missing_area"
)

type BatchNote struct {
	LineNumber int    `json:"lineNumber,omitempty"`
	TaskID     string `json:"taskId,omitempty"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

// BatchResult reports everything one ApplyScan call did: the net XP
// movement, ids to stamp onto new task lines, heading annotations, the
// anomalies hit along the way, and the events the batch published.
type BatchResult struct {
	Doc           string         `json:"doc"`
	Kind          ScanKind       `json:"kind"`
	CorrelationID string         `json:"correlationId"`
	XPDelta       int            `json:"xpDelta"`
	NewIDs        map[int]string `json:"newIds,omitempty"`
	Annotations   []Annotation   `json:"annotations,omitempty"`
	Notes         []BatchNote    `json:"notes,omitempty"`
	Events        []Event        `json:"events,omitempty"`
}
