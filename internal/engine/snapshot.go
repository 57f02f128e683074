package engine

import (
	"encoding/json"
	"fmt"
)

// The engine persists three documents. Field names are load-bearing
// identity keys (task id, area path, project name) and must stay stable
// across versions.
const (
	DocRegistry = "registry"
	DocAreas    = "areas"
	DocSeason   = "season"
)

type RegistryDoc struct {
	Tasks    map[string]Task          `json:"tasks"`
	Projects map[string]ProjectRecord `json:"projects"`
}

type AreasDoc struct {
	XP map[string]int `json:"xp"`
}

type SeasonDoc struct {
	Current *SeasonState    `json:"current,omitempty"`
	History []SeasonSummary `json:"history,omitempty"`
}

type Snapshot struct {
	Registry RegistryDoc `json:"registry"`
	Areas    AreasDoc    `json:"areas"`
	Season   SeasonDoc   `json:"season"`
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Registry: RegistryDoc{Tasks: map[string]Task{}, Projects: map[string]ProjectRecord{}},
		Areas:    AreasDoc{XP: map[string]int{}},
	}
}

func decodeRegistryDoc(data []byte) (RegistryDoc, error) {
	doc := RegistryDoc{Tasks: map[string]Task{}, Projects: map[string]ProjectRecord{}}
	if len(data) == 0 {
		return doc, nil
	}
	if err := validateDocument(DocRegistry, data); err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: registry document: %v", ErrInvalidState, err)
	}
	if doc.Tasks == nil {
		doc.Tasks = map[string]Task{}
	}
	if doc.Projects == nil {
		doc.Projects = map[string]ProjectRecord{}
	}
	return doc, nil
}

func decodeAreasDoc(data []byte) (AreasDoc, error) {
	doc := AreasDoc{XP: map[string]int{}}
	if len(data) == 0 {
		return doc, nil
	}
	if err := validateDocument(DocAreas, data); err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: areas document: %v", ErrInvalidState, err)
	}
	if doc.XP == nil {
		doc.XP = map[string]int{}
	}
	return doc, nil
}

func decodeSeasonDoc(data []byte) (SeasonDoc, error) {
	doc := SeasonDoc{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := validateDocument(DocSeason, data); err != nil {
		return doc, err
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("%w: season document: %v", ErrInvalidState, err)
	}
	return doc, nil
}
