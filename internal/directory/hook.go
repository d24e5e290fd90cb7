package directory

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/danieljhkim/coedit/internal/ot"
)

// The directory is the validation hook of the document service: every
// create, delete, rename, and content edit passes through here before the
// service durably accepts it. The disk is updated before acknowledgement,
// so a rejection leaves the index, the tracked documents, and the disk all
// unchanged.

// OnCreate validates a document create, mirrors it to disk, and registers
// both index mappings.
func (d *Directory) OnCreate(id string, rec *ot.Record) error {
	canon, err := d.canonicalize(rec.Path)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if _, taken := d.pathsToIDs[canon]; taken {
		d.mu.Unlock()
		return fmt.Errorf("the file %s already exists: %w", canon, ErrDuplicatePath)
	}
	d.mu.Unlock()

	abs := d.abs(canon)
	switch rec.Kind {
	case ot.KindText:
		if err := d.fsys.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return fmt.Errorf("failed to create parent of %s: %w", canon, err)
		}
		if err := d.fsys.AtomicWrite(abs, []byte(rec.Content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", canon, err)
		}
	case ot.KindDirectory:
		if err := d.fsys.MkdirAll(abs, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", canon, err)
		}
	}

	rec.Path = canon
	d.mu.Lock()
	d.pathsToIDs[canon] = id
	d.idsToPaths[id] = canon
	d.mu.Unlock()

	d.logger.Debug("document created", zap.String("id", id), zap.String("path", canon))
	return nil
}

// OnDelete removes the document from disk and deregisters it from both
// index mappings. File versus directory is decided by a disk stat.
func (d *Directory) OnDelete(id string) error {
	d.mu.Lock()
	relPath, ok := d.idsToPaths[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}

	abs := d.abs(relPath)
	if _, err := d.fsys.Stat(abs); err != nil {
		// Already gone from disk. Deregister anyway so the substrates
		// agree again.
		d.logger.Error("failed to stat document on delete", zap.String("path", relPath), zap.Error(err))
	} else if err := d.fsys.Remove(abs); err != nil {
		return fmt.Errorf("failed to remove %s: %w", relPath, err)
	}

	d.mu.Lock()
	delete(d.idsToPaths, id)
	delete(d.pathsToIDs, relPath)
	delete(d.dirty, id)
	d.mu.Unlock()

	d.logger.Debug("document deleted", zap.String("id", id), zap.String("path", relPath))
	return nil
}

// OnEdit intercepts submitted edits. A replace of the path field is a
// rename: it is validated exactly like a create, physically renamed on
// disk, and the index entries are swapped. A content edit only marks the
// document dirty for the next flush.
func (d *Directory) OnEdit(id string, op *ot.Op) error {
	switch op.Field {
	case "path":
		return d.onRename(id, op)
	case "content":
		// The edit commits at AtVersion+1 once the service accepts it.
		d.mu.Lock()
		d.dirty[id] = op.AtVersion + 1
		d.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("unsupported field %q", op.Field)
	}
}

func (d *Directory) onRename(id string, op *ot.Op) error {
	if len(op.Edits) != 1 {
		return fmt.Errorf("rename must be a single replace of the path field")
	}

	canon, err := d.canonicalize(op.Edits[0].Insert)
	if err != nil {
		return err
	}

	d.mu.Lock()
	oldPath, ok := d.idsToPaths[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if _, taken := d.pathsToIDs[canon]; taken {
		d.mu.Unlock()
		return fmt.Errorf("the file %s already exists: %w", canon, ErrDuplicatePath)
	}
	d.mu.Unlock()

	if err := d.fsys.Rename(d.abs(oldPath), d.abs(canon)); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", oldPath, canon, err)
	}

	op.Edits[0].Insert = canon
	d.mu.Lock()
	delete(d.pathsToIDs, oldPath)
	d.pathsToIDs[canon] = id
	d.idsToPaths[id] = canon
	d.mu.Unlock()

	d.logger.Debug("document renamed",
		zap.String("id", id),
		zap.String("from", oldPath),
		zap.String("to", canon))
	return nil
}
