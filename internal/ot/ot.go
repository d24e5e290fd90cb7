// Package ot implements the document-service boundary of the
// synchronization layer.
//
// Service tracks versioned documents keyed by opaque ids. Every mutation
// (create, submit, delete) is intercepted by a Hook before it is durably
// applied; a hook error rejects the operation with no side effects on the
// tracked state. Applied operations are delivered to subscribers, which is
// how peers observe remote edits.
//
// Conflict-aware transform composition belongs to the editing clients and
// is out of scope here: an edit submitted against a stale version is
// rejected with ErrVersionConflict instead of being transformed.
package ot

import (
	"errors"
	"fmt"
	"sync"
)

// Kind classifies a document.
type Kind string

const (
	KindText      Kind = "text"
	KindDirectory Kind = "directory"
	KindImage     Kind = "image"
)

// Record is the data held by a document.
type Record struct {
	Path    string `json:"path"`
	Kind    Kind   `json:"type"`
	Content string `json:"content,omitempty"`
}

// Snapshot is a document's data at a specific version.
type Snapshot struct {
	Record  Record `json:"record"`
	Version int    `json:"version"`
}

// TextOp is a single step of a text edit: a deletion and/or insertion at
// a rune-independent byte position.
type TextOp struct {
	Position int    `json:"position"`
	Insert   string `json:"inserted,omitempty"`
	Delete   string `json:"deleted,omitempty"`
}

// Op is a submitted edit against one field of a document. Field is
// "content" for text edits and "path" for renames, which are modeled as a
// full replace of the path field.
type Op struct {
	Field     string   `json:"field"`
	Edits     []TextOp `json:"edits"`
	AtVersion int      `json:"atVersion"`
}

// Event is delivered to subscribers after an operation is applied.
type Event struct {
	DocID   string
	Op      Op
	Version int
}

// Hook intercepts mutations before they are durably applied. Returning an
// error rejects the operation; the reason string surfaces to the submitter.
// OnCreate and OnEdit may rewrite their argument (e.g. canonicalize a path).
type Hook interface {
	OnCreate(id string, rec *Record) error
	OnDelete(id string) error
	OnEdit(id string, op *Op) error
}

var (
	// ErrNotFound reports an unknown document id.
	ErrNotFound = errors.New("document not found")

	// ErrVersionConflict reports an edit submitted against a stale version.
	ErrVersionConflict = errors.New("version conflict")
)

type doc struct {
	rec     Record
	version int
}

// Service is the in-memory document service. All exported methods are
// safe for concurrent use; the hook runs inside the mutation critical
// section so validation and persistence cannot interleave.
type Service struct {
	mu     sync.Mutex
	docs   map[string]*doc
	hook   Hook
	nextFn int
	subs   map[int]func(Event)
}

// NewService creates an empty document service.
func NewService() *Service {
	return &Service{
		docs: make(map[string]*doc),
		subs: make(map[int]func(Event)),
	}
}

// SetHook installs the validation hook. Mutations submitted before a hook
// is installed (the initial project load) are accepted as-is.
func (s *Service) SetHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// Subscribe registers fn to observe every applied operation. The returned
// function removes the subscription. Delivery is synchronous and
// fire-and-forget; subscribers must not call back into the service.
func (s *Service) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextFn
	s.nextFn++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Create registers a new document with the given initial data. The freshly
// created document is at version 1.
func (s *Service) Create(id string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; ok {
		return fmt.Errorf("document %s already exists", id)
	}
	if s.hook != nil {
		if err := s.hook.OnCreate(id, &rec); err != nil {
			return err
		}
	}
	s.docs[id] = &doc{rec: rec, version: 1}
	return nil
}

// Fetch returns the current snapshot of a document.
func (s *Service) Fetch(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("fetch %s: %w", id, ErrNotFound)
	}
	return Snapshot{Record: d.rec, Version: d.version}, nil
}

// IDs returns the ids of all tracked documents.
func (s *Service) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	return ids
}

// Submit applies an edit to a document. The edit must be submitted at the
// document's current version or it is rejected with ErrVersionConflict.
// On success the new version is returned and subscribers are notified.
func (s *Service) Submit(id string, op Op) (int, error) {
	s.mu.Lock()

	d, ok := s.docs[id]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("submit %s: %w", id, ErrNotFound)
	}
	if op.AtVersion != d.version {
		s.mu.Unlock()
		return 0, fmt.Errorf("submit %s at version %d, current %d: %w", id, op.AtVersion, d.version, ErrVersionConflict)
	}

	var field *string
	switch op.Field {
	case "content":
		field = &d.rec.Content
	case "path":
		field = &d.rec.Path
	default:
		s.mu.Unlock()
		return 0, fmt.Errorf("submit %s: unknown field %q", id, op.Field)
	}

	// Validate edit applicability before the hook runs so a malformed op
	// cannot leave the hook's side effects behind.
	next, err := applyEdits(*field, op.Edits)
	if err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("submit %s: %w", id, err)
	}

	if s.hook != nil {
		if err := s.hook.OnEdit(id, &op); err != nil {
			s.mu.Unlock()
			return 0, err
		}
		// The hook may rewrite the op (canonicalized rename target).
		next, err = applyEdits(*field, op.Edits)
		if err != nil {
			s.mu.Unlock()
			return 0, fmt.Errorf("submit %s: %w", id, err)
		}
	}

	*field = next
	d.version++
	version := d.version
	subs := s.snapshotSubs()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(Event{DocID: id, Op: op, Version: version})
	}
	return version, nil
}

// Delete removes a document from the service.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	if s.hook != nil {
		if err := s.hook.OnDelete(id); err != nil {
			return err
		}
	}
	delete(s.docs, id)
	return nil
}

func (s *Service) snapshotSubs() []func(Event) {
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	return fns
}

// applyEdits applies delete-then-insert steps to value. Each step first
// removes its Delete string at Position (which must match exactly), then
// inserts its Insert string at the same position.
func applyEdits(value string, edits []TextOp) (string, error) {
	for _, e := range edits {
		if e.Position < 0 || e.Position > len(value) {
			return "", fmt.Errorf("edit position %d out of range", e.Position)
		}
		if e.Delete != "" {
			end := e.Position + len(e.Delete)
			if end > len(value) || value[e.Position:end] != e.Delete {
				return "", fmt.Errorf("deleted text does not match document at position %d", e.Position)
			}
			value = value[:e.Position] + value[end:]
		}
		if e.Insert != "" {
			value = value[:e.Position] + e.Insert + value[e.Position:]
		}
	}
	return value, nil
}
