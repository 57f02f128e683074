package vault

import (
	"regexp"
	"strings"

	"github.com/zortexlab/zortexd/internal/engine"
)

// Vault line grammar. A document opens with an optional @@Title article
// header, sections are markdown headings, and attributes ride in
// @name(value) markers: on the tag line directly below a heading
// (@area, @span, @created) and on task lines themselves (@area, @id).
var (
	articleHeaderRe = regexp.MustCompile(`^@@\s*(.+?)\s*$`)
	headingLineRe   = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)
	taskLineRe      = regexp.MustCompile(`^\s*-\s+\[([ xX])\]\s*(.*)$`)
	attrMarkerRe    = regexp.MustCompile(`@([a-z][a-z-]*)\(([^)]*)\)`)
	idMarkerRe      = regexp.MustCompile(`\s*@id\(([^)]*)\)`)
	progressNoteRe  = regexp.MustCompile(`\s*\[\d+/\d+\](\s+@done\(\d{4}-\d{2}-\d{2}\))?\s*$`)
	fenceLineRe     = regexp.MustCompile("^\\s*```")
)

// ScanDocument parses one vault document into the records ApplyScan
// consumes. Heading text is stored without its progress annotation so
// project names stay stable across annotate/rescan cycles. Fenced code
// blocks are skipped. Position and total number the tasks of each heading
// in document order.
func ScanDocument(doc string, kind engine.ScanKind, content []byte) engine.ScanResult {
	res := engine.ScanResult{Doc: doc, Kind: kind}
	lines := strings.Split(string(content), "\n")
	inFence := false
	lastHeading := -1
	lastHeadingLine := -1

	for i, raw := range lines {
		lineNo := i + 1
		line := strings.TrimRight(raw, "\r")
		if fenceLineRe.MatchString(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}

		if m := taskLineRe.FindStringSubmatch(line); m != nil {
			id := ""
			if idm := idMarkerRe.FindStringSubmatch(line); idm != nil {
				id = strings.TrimSpace(idm[1])
			}
			res.Tasks = append(res.Tasks, engine.TaskRecord{
				ID:         id,
				LineNumber: lineNo,
				LineText:   line,
				Completed:  m[1] != " ",
				HeadingIdx: lastHeading,
				AreaLinks:  areaRefs(line),
			})
			continue
		}

		if m := articleHeaderRe.FindStringSubmatch(line); m != nil {
			text, _ := splitProgressNote(m[1])
			res.Headings = append(res.Headings, engine.HeadingRecord{
				Level:      0,
				Text:       text,
				LineNumber: lineNo,
			})
			lastHeading = len(res.Headings) - 1
			lastHeadingLine = lineNo
			continue
		}

		if m := headingLineRe.FindStringSubmatch(line); m != nil {
			text, _ := splitProgressNote(m[2])
			res.Headings = append(res.Headings, engine.HeadingRecord{
				Level:      len(m[1]),
				Text:       text,
				LineNumber: lineNo,
			})
			lastHeading = len(res.Headings) - 1
			lastHeadingLine = lineNo
			continue
		}

		if lastHeading >= 0 && lineNo == lastHeadingLine+1 && isTagLine(line) {
			applyHeadingAttrs(&res.Headings[lastHeading], line)
		}
	}

	totals := map[int]int{}
	for _, rec := range res.Tasks {
		totals[rec.HeadingIdx]++
	}
	seen := map[int]int{}
	for i := range res.Tasks {
		idx := res.Tasks[i].HeadingIdx
		seen[idx]++
		res.Tasks[i].Position = seen[idx]
		res.Tasks[i].Total = totals[idx]
	}
	return res
}

// splitProgressNote removes a trailing "[n/m]" annotation (and its @done
// stamp) from heading text, reporting whether one was present.
func splitProgressNote(text string) (string, bool) {
	loc := progressNoteRe.FindStringIndex(text)
	if loc == nil {
		return strings.TrimSpace(text), false
	}
	return strings.TrimSpace(text[:loc[0]]), true
}

// isTagLine matches the attribute line under a heading: starts with a
// single @ marker, not an @@ article header.
func isTagLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "@") && !strings.HasPrefix(trimmed, "@@")
}

func applyHeadingAttrs(h *engine.HeadingRecord, line string) {
	for _, m := range attrMarkerRe.FindAllStringSubmatch(line, -1) {
		value := strings.TrimSpace(m[2])
		switch m[1] {
		case "area":
			if value != "" {
				h.AreaLinks = append(h.AreaLinks, value)
			}
		case "span":
			h.Span = engine.Span(strings.ToLower(value))
		case "created":
			h.CreatedAt = value
		}
	}
}

func areaRefs(line string) []string {
	var refs []string
	for _, m := range attrMarkerRe.FindAllStringSubmatch(line, -1) {
		if m[1] != "area" {
			continue
		}
		if value := strings.TrimSpace(m[2]); value != "" {
			refs = append(refs, value)
		}
	}
	return refs
}
