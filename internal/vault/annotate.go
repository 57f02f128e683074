package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zortexlab/zortexd/internal/engine"
)

// ApplyAnnotations rewrites a document in place with the write-backs of one
// batch: progress notes on heading lines and freshly minted @id markers on
// task lines. All other lines are untouched and line numbers never shift.
// The write is atomic and skipped entirely when nothing changed.
func ApplyAnnotations(path string, bres *engine.BatchResult) (bool, error) {
	if bres == nil || (len(bres.Annotations) == 0 && len(bres.NewIDs) == 0) {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	lines := strings.Split(string(data), "\n")
	changed := false

	for _, a := range bres.Annotations {
		idx := a.LineNumber - 1
		if idx < 0 || idx >= len(lines) {
			continue
		}
		if next, ok := annotateHeadingLine(lines[idx], a); ok && next != lines[idx] {
			lines[idx] = next
			changed = true
		}
	}
	for lineNo, id := range bres.NewIDs {
		idx := lineNo - 1
		if idx < 0 || idx >= len(lines) {
			continue
		}
		if next, ok := stampIDMarker(lines[idx], id); ok && next != lines[idx] {
			lines[idx] = next
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
	}
	if err := writeFileAtomic(path, []byte(strings.Join(lines, "\n")), mode); err != nil {
		return false, err
	}
	return true, nil
}

// annotateHeadingLine rebuilds a heading line as marker + text + "[n/m]",
// plus a @done stamp when the section is fully complete. Any previous
// annotation is replaced.
func annotateHeadingLine(line string, a engine.Annotation) (string, bool) {
	var marker, text string
	if m := headingLineRe.FindStringSubmatch(line); m != nil {
		marker = m[1] + " "
		text = m[2]
	} else if m := articleHeaderRe.FindStringSubmatch(line); m != nil {
		marker = "@@"
		text = m[1]
	} else {
		return "", false
	}
	text, _ = splitProgressNote(text)
	note := fmt.Sprintf("[%d/%d]", a.Completed, a.Total)
	if a.StampedAt != "" {
		note += fmt.Sprintf(" @done(%s)", a.StampedAt)
	}
	return marker + text + " " + note, true
}

// stampIDMarker appends @id(...) to a task line, replacing an existing
// marker when the line already carried one the batch rejected.
func stampIDMarker(line, id string) (string, bool) {
	if strings.TrimSpace(id) == "" {
		return "", false
	}
	if !taskLineRe.MatchString(line) {
		return "", false
	}
	marker := fmt.Sprintf(" @id(%s)", id)
	if loc := idMarkerRe.FindStringIndex(line); loc != nil {
		return line[:loc[0]] + marker + line[loc[1]:], true
	}
	return strings.TrimRight(line, " \t") + marker, true
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
