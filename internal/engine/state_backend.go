package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// StateBackend persists the engine's snapshot. Load returns (nil, nil)
// when nothing has been saved yet so callers can distinguish a fresh
// install from corrupt or unreadable state.
type StateBackend interface {
	Load() (*Snapshot, error)
	Save(snap *Snapshot) error
}

// MemoryStateBackend keeps the snapshot in process memory. The JSON
// round trip gives callers a clone, never a shared pointer.
type MemoryStateBackend struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryStateBackend() *MemoryStateBackend {
	return &MemoryStateBackend{}
}

func (b *MemoryStateBackend) Load() (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(b.data, &snap); err != nil {
		return nil, &PersistenceError{Op: "load", Key: "memory", Err: err}
	}
	return &snap, nil
}

func (b *MemoryStateBackend) Save(snap *Snapshot) error {
	if snap == nil {
		return &PersistenceError{Op: "save", Key: "memory", Err: errors.New("nil snapshot")}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return &PersistenceError{Op: "save", Key: "memory", Err: err}
	}
	b.mu.Lock()
	b.data = data
	b.mu.Unlock()
	return nil
}

// DirStateBackend stores the three documents as JSON files in one
// directory: registry.json, areas.json, season.json. Each write goes
// through a temp file and rename so a crash never leaves a torn file.
type DirStateBackend struct {
	dir string
}

func NewDirStateBackend(dir string) *DirStateBackend {
	return &DirStateBackend{dir: dir}
}

func (b *DirStateBackend) Dir() string {
	return b.dir
}

func (b *DirStateBackend) Load() (*Snapshot, error) {
	snap := emptySnapshot()
	found := false

	if raw, ok, err := b.readDocument(DocRegistry); err != nil {
		return nil, err
	} else if ok {
		found = true
		doc, err := decodeRegistryDoc(raw)
		if err != nil {
			return nil, err
		}
		snap.Registry = doc
	}

	if raw, ok, err := b.readDocument(DocAreas); err != nil {
		return nil, err
	} else if ok {
		found = true
		doc, err := decodeAreasDoc(raw)
		if err != nil {
			return nil, err
		}
		snap.Areas = doc
	}

	if raw, ok, err := b.readDocument(DocSeason); err != nil {
		return nil, err
	} else if ok {
		found = true
		doc, err := decodeSeasonDoc(raw)
		if err != nil {
			return nil, err
		}
		snap.Season = doc
	}

	if !found {
		return nil, nil
	}
	return snap, nil
}

func (b *DirStateBackend) Save(snap *Snapshot) error {
	if snap == nil {
		return &PersistenceError{Op: "save", Key: b.dir, Err: errors.New("nil snapshot")}
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return &PersistenceError{Op: "save", Key: b.dir, Err: err}
	}
	docs := []struct {
		key string
		val any
	}{
		{DocRegistry, snap.Registry},
		{DocAreas, snap.Areas},
		{DocSeason, snap.Season},
	}
	for _, doc := range docs {
		data, err := json.MarshalIndent(doc.val, "", "  ")
		if err != nil {
			return &PersistenceError{Op: "save", Key: doc.key, Err: err}
		}
		if err := b.writeDocument(doc.key, append(data, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func (b *DirStateBackend) docPath(key string) string {
	return filepath.Join(b.dir, key+".json")
}

func (b *DirStateBackend) readDocument(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.docPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, &PersistenceError{Op: "load", Key: b.docPath(key), Err: err}
	}
	return data, true, nil
}

func (b *DirStateBackend) writeDocument(key string, data []byte) error {
	path := b.docPath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &PersistenceError{Op: "save", Key: path, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &PersistenceError{Op: "save", Key: path, Err: err}
	}
	return nil
}

// BuildStateBackendFromDSN selects a backend from a DSN. Registered
// factories win over the built-in schemes so deployments can plug in
// their own storage without touching this switch.
func BuildStateBackendFromDSN(dsn string) (StateBackend, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return NewMemoryStateBackend(), nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse state backend DSN: %w", err)
	}
	scheme := normalizeBackendScheme(parsed.Scheme)
	if factory, ok := lookupStateBackendFactory(scheme); ok {
		return factory(trimmed)
	}
	switch scheme {
	case "", "file", "dir":
		return NewDirStateBackend(backendDirFromDSN(parsed)), nil
	case "memory", "mem", "inmem":
		return NewMemoryStateBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresStateBackend(trimmed), nil
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: state backend %q", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("%w: state backend %q", ErrUnsupportedBackend, scheme)
	}
}

func backendDirFromDSN(u *url.URL) string {
	if u.Opaque != "" {
		return u.Opaque
	}
	if u.Host != "" {
		return filepath.Join(u.Host, filepath.FromSlash(u.Path))
	}
	return filepath.FromSlash(u.Path)
}
