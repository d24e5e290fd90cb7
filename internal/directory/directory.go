// Package directory keeps the in-memory project index, the physical
// filesystem, and the document service mutually consistent.
//
// Every mutation of the project funnels through the validation hook this
// package installs on the document service: paths are canonicalized and
// checked against the project root, collisions are rejected, and the disk
// is updated before the operation is acknowledged. A rejected operation
// has no side effects on either substrate.
package directory

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/danieljhkim/coedit/internal/fsops"
	"github.com/danieljhkim/coedit/internal/ot"
)

var (
	// ErrIllegalPath reports a path that escapes the project root.
	ErrIllegalPath = errors.New("illegal path")

	// ErrDuplicatePath reports a create or rename colliding with an
	// existing document.
	ErrDuplicatePath = errors.New("path already exists")

	// ErrNotFound reports an unknown path.
	ErrNotFound = errors.New("path not found")
)

// textExtensions is the whitelist of file extensions loaded as text
// documents.
var textExtensions = map[string]bool{
	"html": true, "js": true, "json": true, "css": true,
	"php": true, "txt": true, "md": true,
}

// imageExtensions is the set of file extensions tracked as image
// documents. Their bytes stay on disk and are read on demand.
var imageExtensions = map[string]bool{
	"jpg": true, "png": true, "gif": true, "bmp": true, "ico": true,
}

// skipNames are version-control and OS metadata entries excluded from the
// project tree.
var skipNames = map[string]bool{
	".git":      true,
	".DS_Store": true,
}

// Broadcaster delivers an event to every connected client. The document
// directory uses it to announce history reordering and completed saves.
type Broadcaster interface {
	Broadcast(event string, args ...any)
}

// Directory owns the path<->id index of the project. It implements
// ot.Hook; the two index mappings are mutual inverses at all times.
type Directory struct {
	root   string
	fsys   fsops.FS
	svc    *ot.Service
	logger *zap.Logger
	bcast  Broadcaster

	mu         sync.Mutex
	pathsToIDs map[string]string
	idsToPaths map[string]string
	nextID     int
	// dirty maps a document id to the version of its newest unflushed
	// edit, so a flush only clears what it actually wrote.
	dirty    map[string]int
	flushing bool
	history  []string
}

// New creates a directory over the project root. Call Load before use.
func New(root string, fsys fsops.FS, svc *ot.Service, bcast Broadcaster, logger *zap.Logger) *Directory {
	return &Directory{
		root:       filepath.Clean(root),
		fsys:       fsys,
		svc:        svc,
		logger:     logger,
		bcast:      bcast,
		pathsToIDs: make(map[string]string),
		idsToPaths: make(map[string]string),
		dirty:      make(map[string]int),
	}
}

// Name returns the project name, the base name of the root directory.
func (d *Directory) Name() string {
	return filepath.Base(d.root)
}

// Root returns the absolute project root.
func (d *Directory) Root() string {
	return d.root
}

// Service exposes the underlying document service for subscribers.
func (d *Directory) Service() *ot.Service {
	return d.svc
}

// Load enumerates the project root and registers every document with the
// document service. Ids are assigned sequentially in traversal order and
// are stable for the process lifetime only. The validation hook is
// installed once the initial load is complete, so the load itself is not
// re-validated.
func (d *Directory) Load() error {
	err := d.fsys.WalkDir(d.root, func(absPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			d.logger.Error("failed to walk project tree", zap.String("path", absPath), zap.Error(err))
			return nil
		}
		if absPath == d.root {
			return nil
		}
		if skipNames[entry.Name()] {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, relErr := filepath.Rel(d.root, absPath)
		if relErr != nil {
			return relErr
		}
		relPath = filepath.ToSlash(relPath)

		rec, ok, recErr := d.recordFor(absPath, relPath, entry)
		if recErr != nil {
			return recErr
		}
		if !ok {
			return nil
		}

		d.mu.Lock()
		d.nextID++
		id := strconv.Itoa(d.nextID)
		d.pathsToIDs[relPath] = id
		d.idsToPaths[id] = relPath
		d.mu.Unlock()

		if createErr := d.svc.Create(id, rec); createErr != nil {
			return fmt.Errorf("failed to register %s: %w", relPath, createErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load project from %s: %w", d.root, err)
	}

	d.svc.SetHook(d)
	d.logger.Info("project loaded",
		zap.String("root", d.root),
		zap.Int("documents", d.nextID))
	return nil
}

// recordFor builds the document record for one tree entry. The second
// return value is false for entries outside the text/image whitelists.
func (d *Directory) recordFor(absPath, relPath string, entry fs.DirEntry) (ot.Record, bool, error) {
	if entry.IsDir() {
		return ot.Record{Path: relPath, Kind: ot.KindDirectory}, true, nil
	}
	ext := strings.TrimPrefix(path.Ext(relPath), ".")
	switch {
	case textExtensions[ext]:
		data, err := d.fsys.ReadFile(absPath)
		if err != nil {
			return ot.Record{}, false, fmt.Errorf("failed to read %s: %w", relPath, err)
		}
		return ot.Record{Path: relPath, Kind: ot.KindText, Content: normalize(string(data))}, true, nil
	case imageExtensions[ext]:
		return ot.Record{Path: relPath, Kind: ot.KindImage}, true, nil
	default:
		return ot.Record{}, false, nil
	}
}

// normalize converts Windows line endings to \n.
func normalize(content string) string {
	return strings.ReplaceAll(content, "\r\n", "\n")
}

// NewDocID allocates the next document id for a client-initiated create.
func (d *Directory) NewDocID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return strconv.Itoa(d.nextID)
}

// Resolve maps a project path to its document id.
func (d *Directory) Resolve(relPath string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.pathsToIDs[relPath]
	if !ok {
		return "", fmt.Errorf("%s: %w", relPath, ErrNotFound)
	}
	return id, nil
}

// PathOf maps a document id back to its project path.
func (d *Directory) PathOf(id string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	relPath, ok := d.idsToPaths[id]
	if !ok {
		return "", fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return relPath, nil
}

// IDs returns all document ids sorted in numeric creation order.
func (d *Directory) IDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.idsToPaths))
	for id := range d.idsToPaths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(ids[i])
		b, _ := strconv.Atoi(ids[j])
		return a < b
	})
	return ids
}

// Get returns the current snapshot of a document. A text document whose
// content was not preloaded is read from disk once and injected into the
// tracked document as a normal edit, so subscribers observe the load as an
// incoming change.
func (d *Directory) Get(id string) (ot.Snapshot, error) {
	snap, err := d.svc.Fetch(id)
	if err != nil {
		return ot.Snapshot{}, err
	}
	if snap.Record.Kind != ot.KindText || snap.Record.Content != "" {
		return snap, nil
	}

	data, err := d.fsys.ReadFile(d.abs(snap.Record.Path))
	if err != nil {
		return ot.Snapshot{}, fmt.Errorf("failed to read %s: %w", snap.Record.Path, err)
	}
	content := normalize(string(data))
	if content == "" {
		return snap, nil
	}

	_, err = d.svc.Submit(id, ot.Op{
		Field:     "content",
		AtVersion: snap.Version,
		Edits:     []ot.TextOp{{Position: 0, Insert: content}},
	})
	if err != nil && !errors.Is(err, ot.ErrVersionConflict) {
		return ot.Snapshot{}, fmt.Errorf("failed to inject content of %s: %w", snap.Record.Path, err)
	}
	// A conflict means someone else loaded or edited it first; either way
	// the current snapshot is populated.
	return d.svc.Fetch(id)
}

// Submit forwards an edit to the document service. The validation hook
// runs inside the service's critical section.
func (d *Directory) Submit(id string, op ot.Op) (int, error) {
	return d.svc.Submit(id, op)
}

// Create allocates a document id and registers a new record. The
// validation hook canonicalizes the path and materializes the entry on
// disk before the record is accepted.
func (d *Directory) Create(rec ot.Record) (string, ot.Snapshot, error) {
	id := d.NewDocID()
	if err := d.svc.Create(id, rec); err != nil {
		return "", ot.Snapshot{}, err
	}
	snap, err := d.svc.Fetch(id)
	if err != nil {
		return "", ot.Snapshot{}, err
	}
	return id, snap, nil
}

// Delete removes a document and its disk entry.
func (d *Directory) Delete(id string) error {
	return d.svc.Delete(id)
}

// Open resolves a path, lazily loads the document, and moves the path to
// the front of the navigation history.
func (d *Directory) Open(relPath string) (string, ot.Snapshot, error) {
	id, err := d.Resolve(relPath)
	if err != nil {
		return "", ot.Snapshot{}, err
	}
	snap, err := d.Get(id)
	if err != nil {
		return "", ot.Snapshot{}, err
	}
	d.TouchHistory(relPath)
	return id, snap, nil
}

// TouchHistory moves a path to the front of the most-recently-opened list
// and broadcasts the new order.
func (d *Directory) TouchHistory(relPath string) {
	d.mu.Lock()
	for i, p := range d.history {
		if p == relPath {
			d.history = append(d.history[:i], d.history[i+1:]...)
			break
		}
	}
	d.history = append([]string{relPath}, d.history...)
	d.mu.Unlock()

	d.bcast.Broadcast("history", relPath)
}

// History returns the most-recently-opened paths, newest first.
func (d *Directory) History() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.history))
	copy(out, d.history)
	return out
}

// ReadRaw reads a tracked document's bytes straight from disk. Used by the
// preview boundary for images.
func (d *Directory) ReadRaw(relPath string) ([]byte, error) {
	if _, err := d.Resolve(relPath); err != nil {
		return nil, err
	}
	return d.fsys.ReadFile(d.abs(relPath))
}

// Dirty reports whether any document has unflushed edits.
func (d *Directory) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dirty) > 0
}

// Flush writes every dirty document's current content to disk. A flush
// already in flight causes the request to be ignored and Flush returns
// false. A single file's write failure is logged and does not block the
// rest; the dirty set is cleared entry-by-entry as each write completes.
func (d *Directory) Flush() bool {
	d.mu.Lock()
	if d.flushing {
		d.mu.Unlock()
		return false
	}
	d.flushing = true
	ids := make([]string, 0, len(d.dirty))
	for id := range d.dirty {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		version, err := d.flushOne(id)
		if err != nil {
			d.logger.Error("failed to flush document", zap.String("id", id), zap.Error(err))
			continue
		}
		// An edit accepted while the write was in flight bumps the dirty
		// version past what was flushed; leave the entry for the next save.
		d.mu.Lock()
		if v, ok := d.dirty[id]; ok && v <= version {
			delete(d.dirty, id)
		}
		d.mu.Unlock()
	}

	d.mu.Lock()
	d.flushing = false
	d.mu.Unlock()
	return true
}

// flushOne writes a document's current content and returns the version
// that was written.
func (d *Directory) flushOne(id string) (int, error) {
	snap, err := d.svc.Fetch(id)
	if err != nil {
		return 0, err
	}
	if err := d.fsys.AtomicWrite(d.abs(snap.Record.Path), []byte(snap.Record.Content), 0644); err != nil {
		return 0, err
	}
	return snap.Version, nil
}

// abs maps a canonical project-relative path to its location on disk.
func (d *Directory) abs(relPath string) string {
	return filepath.Join(d.root, filepath.FromSlash(relPath))
}

// canonicalize cleans a client-provided POSIX path and rejects anything
// that resolves outside the project root.
func (d *Directory) canonicalize(relPath string) (string, error) {
	cleaned := path.Clean(relPath)
	if cleaned == "" || cleaned == "." || path.IsAbs(cleaned) {
		return "", fmt.Errorf("%q: %w", relPath, ErrIllegalPath)
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%q: %w", relPath, ErrIllegalPath)
	}
	return cleaned, nil
}
