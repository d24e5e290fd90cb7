package search

import (
	"sort"

	"go.uber.org/zap"

	"github.com/danieljhkim/coedit/internal/ot"
)

// SelectedMatch is one match a client picked for replacement, carrying
// the address and offset recorded at search time along with the exact
// matched substring.
type SelectedMatch struct {
	Address string `json:"indexPath"`
	Offset  int    `json:"index"`
	Text    string `json:"text"`
}

// Selection is the set of matches selected within one document, keyed by
// path in the replace request.
type Selection struct {
	// Version is the document version the addresses are pinned to.
	Version int `json:"version"`
	Matches []SelectedMatch `json:"matches"`
}

// Outcome is the per-match replace result. Error is empty on success.
type Outcome struct {
	Address string `json:"indexPath"`
	Error   string `json:"error,omitempty"`
}

// ReplaceResult is the aggregate replace reply, emitted only once every
// match across every document has resolved.
type ReplaceResult struct {
	Query       string    `json:"search"`
	Replacement string    `json:"replace"`
	Results     []Outcome `json:"results,omitempty"`
}

// Replace applies the selected matches as versioned edits. Documents are
// processed concurrently; within a document, matches are applied in
// descending offset order so an earlier edit can never shift a later
// match's recorded offset. Each match becomes one atomic delete-then-
// insert edit and yields exactly one outcome; a stale or rejected match
// is recorded and its siblings continue.
func (e *Engine) Replace(selection map[string]Selection, query, replacement string) *ReplaceResult {
	result := &ReplaceResult{Query: query, Replacement: replacement}
	if len(selection) == 0 {
		return result
	}

	outcomes := make(chan []Outcome, len(selection))
	for path, sel := range selection {
		go func(path string, sel Selection) {
			outcomes <- e.replaceInDoc(path, sel, replacement)
		}(path, sel)
	}
	for range selection {
		result.Results = append(result.Results, <-outcomes...)
	}

	sort.Slice(result.Results, func(i, j int) bool {
		return result.Results[i].Address < result.Results[j].Address
	})
	return result
}

// replaceInDoc applies one document's matches. The document is re-acquired
// at whatever version it has reached; a match still applies if its
// recorded text sits untouched at its recorded offset, otherwise it is
// reported as conflicted.
func (e *Engine) replaceInDoc(path string, sel Selection, replacement string) []Outcome {
	outcomes := make([]Outcome, 0, len(sel.Matches))
	fail := func(err error) []Outcome {
		for _, m := range sel.Matches {
			outcomes = append(outcomes, Outcome{Address: m.Address, Error: err.Error()})
		}
		return outcomes
	}

	id, err := e.dir.Resolve(path)
	if err != nil {
		return fail(err)
	}
	snap, err := e.dir.Get(id)
	if err != nil {
		return fail(err)
	}
	content, version := snap.Record.Content, snap.Version

	matches := make([]SelectedMatch, len(sel.Matches))
	copy(matches, sel.Matches)
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Offset > matches[j].Offset
	})

	for _, m := range matches {
		end := m.Offset + len(m.Text)
		if m.Offset < 0 || end > len(content) || content[m.Offset:end] != m.Text {
			outcomes = append(outcomes, Outcome{
				Address: m.Address,
				Error:   "match is stale: the document changed since the search",
			})
			continue
		}

		newVersion, err := e.dir.Submit(id, ot.Op{
			Field:     "content",
			AtVersion: version,
			Edits:     []ot.TextOp{{Position: m.Offset, Delete: m.Text, Insert: replacement}},
		})
		if err != nil {
			e.logger.Warn("replace edit rejected",
				zap.String("path", path),
				zap.String("address", m.Address),
				zap.Error(err))
			outcomes = append(outcomes, Outcome{Address: m.Address, Error: err.Error()})
			// Re-acquire in case a concurrent edit advanced the document.
			if snap, ferr := e.dir.Get(id); ferr == nil {
				content, version = snap.Record.Content, snap.Version
			}
			continue
		}
		content = content[:m.Offset] + replacement + content[end:]
		version = newVersion
		outcomes = append(outcomes, Outcome{Address: m.Address})
	}
	return outcomes
}
