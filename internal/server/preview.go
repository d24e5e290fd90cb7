package server

import (
	"errors"
	"mime"
	"net/http"
	"path"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/danieljhkim/coedit/internal/directory"
	"github.com/danieljhkim/coedit/internal/ot"
)

// handlePreview serves a document over plain HTTP. Text documents are
// served from the in-memory snapshot so unsaved edits are visible;
// images come straight from disk. Anything else is a 404.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	relPath := mux.Vars(r)["path"]
	id, err := s.dir.Resolve(relPath)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := s.dir.Get(id)
	if err != nil {
		s.logger.Error("preview fetch failed", zap.String("path", relPath), zap.Error(err))
		http.Error(w, "failed to load document", http.StatusInternalServerError)
		return
	}

	switch snap.Record.Kind {
	case ot.KindText:
		w.Header().Set("Content-Type", previewContentType(relPath))
		_, _ = w.Write([]byte(snap.Record.Content))
	case ot.KindImage:
		data, err := s.dir.ReadRaw(relPath)
		if err != nil {
			s.logger.Error("preview read failed", zap.String("path", relPath), zap.Error(err))
			http.Error(w, "failed to read image", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", previewContentType(relPath))
		_, _ = w.Write(data)
	default:
		http.NotFound(w, r)
	}
}

func previewContentType(relPath string) string {
	if t := mime.TypeByExtension(path.Ext(relPath)); t != "" {
		return t
	}
	return "text/plain; charset=utf-8"
}
