package engine

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidTask        = errors.New("invalid task")
	ErrInvalidState       = errors.New("invalid state")
	ErrIDExhausted        = errors.New("id space exhausted")
	ErrMissingArea        = errors.New("missing area path")
	ErrNoSeason           = errors.New("no active season")
	ErrSeasonActive       = errors.New("season already active")
	ErrNotImplemented     = errors.New("not implemented")
	ErrUnsupportedBackend = errors.New("unsupported backend")
)

type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence %s failed for %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type DuplicateIDError struct {
	ID         string
	LineNumber int
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate task id %s at line %d", e.ID, e.LineNumber)
}

func (e *DuplicateIDError) Is(target error) bool {
	return target == ErrInvalidTask
}
