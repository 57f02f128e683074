package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zortexlab/zortexd/internal/engine"
)

// ScanApplier is the engine surface the syncer drives.
type ScanApplier interface {
	ApplyScan(res engine.ScanResult) (*engine.BatchResult, error)
}

type SyncerOptions struct {
	VaultDir       string
	AreasFile      string // base name, default areas.md
	ObjectivesFile string // base name, default objectives.md
	StateFile      string
	Logger         *slog.Logger
}

// Syncer walks the vault and feeds changed documents through the engine,
// writing progress annotations and id stamps back afterwards. A state file
// of per-document content hashes lets unchanged project documents be
// skipped; the areas and objectives documents are always rescanned because
// the tree shape, cross-links, and objective records live only in memory.
// One mutex serializes full passes with watcher-driven single-doc rescans.
type Syncer struct {
	applier        ScanApplier
	vaultDir       string
	areasFile      string
	objectivesFile string
	stateFile      string
	logger         *slog.Logger

	mu     sync.Mutex
	state  syncState
	loaded bool
}

type syncState struct {
	Docs map[string]trackedDoc `json:"docs"`
}

type trackedDoc struct {
	Hash      string `json:"hash"`
	ScannedAt string `json:"scannedAt,omitempty"`
}

func NewSyncer(applier ScanApplier, opts SyncerOptions) (*Syncer, error) {
	if applier == nil {
		return nil, fmt.Errorf("scan applier is required")
	}
	vaultDir := strings.TrimSpace(opts.VaultDir)
	if vaultDir == "" {
		return nil, fmt.Errorf("vault dir is required")
	}
	vaultDir = filepath.Clean(vaultDir)
	areasFile := strings.TrimSpace(opts.AreasFile)
	if areasFile == "" {
		areasFile = "areas.md"
	}
	objectivesFile := strings.TrimSpace(opts.ObjectivesFile)
	if objectivesFile == "" {
		objectivesFile = "objectives.md"
	}
	stateFile := strings.TrimSpace(opts.StateFile)
	if stateFile == "" {
		stateFile = filepath.Join(vaultDir, ".zortexd-sync-state.json")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(vaultDir, 0o755); err != nil {
		return nil, err
	}
	return &Syncer{
		applier:        applier,
		vaultDir:       vaultDir,
		areasFile:      areasFile,
		objectivesFile: objectivesFile,
		stateFile:      stateFile,
		logger:         logger,
		state: syncState{
			Docs: map[string]trackedDoc{},
		},
	}, nil
}

func (s *Syncer) VaultDir() string {
	return s.vaultDir
}

// DocKind classifies a document by its base name.
func (s *Syncer) DocKind(path string) engine.ScanKind {
	switch filepath.Base(path) {
	case s.areasFile:
		return engine.ScanAreas
	case s.objectivesFile:
		return engine.ScanObjectives
	}
	return engine.ScanProject
}

// SyncOnce runs one full vault pass: areas first so the tree shape is in
// place, then objectives, then project documents in sorted order. State
// entries for documents that no longer exist are pruned.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadStateLocked(); err != nil {
		return err
	}
	docs, err := s.listDocuments()
	if err != nil {
		return err
	}
	for _, rel := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.syncDocLocked(rel); err != nil {
			return err
		}
	}

	present := map[string]struct{}{}
	for _, rel := range docs {
		present[rel] = struct{}{}
	}
	for rel := range s.state.Docs {
		if _, ok := present[rel]; !ok {
			delete(s.state.Docs, rel)
		}
	}
	return s.saveStateLocked()
}

// SyncDoc rescans a single document, as triggered by the watcher or the
// rescan endpoint. A document that no longer exists is pruned from the
// state; an unchanged project document is a no-op. The returned result is
// nil when nothing ran.
func (s *Syncer) SyncDoc(ctx context.Context, path string) (*engine.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadStateLocked(); err != nil {
		return nil, err
	}
	rel, err := s.relDocPath(path)
	if err != nil {
		return nil, err
	}
	bres, err := s.syncDocLocked(rel)
	if err != nil {
		return bres, err
	}
	if err := s.saveStateLocked(); err != nil {
		return nil, err
	}
	return bres, nil
}

// Run is the rescan worker loop: it drains the queue until the context
// ends. Failed documents stay dirty in the state file and are retried on
// the next pass.
func (s *Syncer) Run(ctx context.Context, queue *RescanQueue) {
	for {
		doc, ok := queue.Dequeue(ctx)
		if !ok {
			return
		}
		if _, err := s.SyncDoc(ctx, doc); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			s.logger.Error("rescan failed", "doc", doc, "error", err)
		}
	}
}

func (s *Syncer) syncDocLocked(rel string) (*engine.BatchResult, error) {
	abs := filepath.Join(s.vaultDir, filepath.FromSlash(rel))
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			delete(s.state.Docs, rel)
			return nil, nil
		}
		return nil, err
	}
	kind := s.DocKind(rel)
	hash := hashBytes(data)
	if kind == engine.ScanProject {
		if tracked, ok := s.state.Docs[rel]; ok && tracked.Hash == hash {
			return nil, nil
		}
	}

	res := ScanDocument(rel, kind, data)
	res.ScannedAt = time.Now().UTC()
	bres, applyErr := s.applier.ApplyScan(res)
	if bres == nil {
		return nil, applyErr
	}
	// A failed commit still gets its annotations; the rescan that
	// retries the save then sees the stamped ids instead of minting
	// more.
	changed, annErr := ApplyAnnotations(abs, bres)
	if annErr == nil && changed {
		annotated, readErr := os.ReadFile(abs)
		if readErr != nil {
			annErr = readErr
		} else {
			hash = hashBytes(annotated)
		}
	}
	if applyErr != nil {
		// Applied in memory, not persisted. The stale hash keeps the
		// doc on the rescan path until a save goes through.
		return bres, applyErr
	}
	if annErr != nil {
		return bres, annErr
	}
	s.state.Docs[rel] = trackedDoc{
		Hash:      hash,
		ScannedAt: res.ScannedAt.Format(time.RFC3339),
	}
	return bres, nil
}

// listDocuments returns vault-relative document paths, areas and
// objectives first, the rest sorted.
func (s *Syncer) listDocuments() ([]string, error) {
	var areas, objectives []string
	var projects []string
	err := filepath.WalkDir(s.vaultDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != s.vaultDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsVaultDocument(path) {
			return nil
		}
		rel, relErr := filepath.Rel(s.vaultDir, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		switch s.DocKind(rel) {
		case engine.ScanAreas:
			areas = append(areas, rel)
		case engine.ScanObjectives:
			objectives = append(objectives, rel)
		default:
			projects = append(projects, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(areas)
	sort.Strings(objectives)
	sort.Strings(projects)
	out := make([]string, 0, len(areas)+len(objectives)+len(projects))
	out = append(out, areas...)
	out = append(out, objectives...)
	out = append(out, projects...)
	return out, nil
}

// relDocPath maps watcher and caller paths onto the vault-relative state
// key. Paths under the vault dir are stripped of the prefix; bare names
// are taken as already vault-relative; absolute paths elsewhere are
// rejected.
func (s *Syncer) relDocPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%w: document path is required", engine.ErrInvalidInput)
	}
	cleaned := filepath.Clean(path)
	if strings.HasPrefix(cleaned, s.vaultDir+string(filepath.Separator)) {
		rel, err := filepath.Rel(s.vaultDir, cleaned)
		if err != nil {
			return "", err
		}
		return filepath.ToSlash(rel), nil
	}
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: document %s is outside the vault", engine.ErrInvalidInput, path)
	}
	return filepath.ToSlash(cleaned), nil
}

func (s *Syncer) loadStateLocked() error {
	if s.loaded {
		return nil
	}
	s.loaded = true
	data, err := os.ReadFile(s.stateFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.state.Docs = map[string]trackedDoc{}
			return nil
		}
		return err
	}
	var state syncState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	if state.Docs == nil {
		state.Docs = map[string]trackedDoc{}
	}
	s.state = state
	return nil
}

func (s *Syncer) saveStateLocked() error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.stateFile), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(s.stateFile, data, 0o644)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
