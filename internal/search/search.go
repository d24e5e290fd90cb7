// Package search scans the project for a query and applies selected
// matches as versioned edits.
//
// Matches are addressed by a composite "indexPath" of the form
// {position-in-results}/{document-version-at-search-time}/{position-in-
// document}, pinning each match to the document state observed at search
// time. The replace coordinator consumes those addresses later and must
// cope with documents that have advanced since.
package search

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/danieljhkim/coedit/internal/directory"
	"github.com/danieljhkim/coedit/internal/ot"
)

// Match is one found occurrence inside a document.
type Match struct {
	// Text is the full text of the containing line.
	Text string `json:"string"`
	// Line is the zero-based line number.
	Line int `json:"line"`
	// Column is the zero-based column within the line.
	Column int `json:"ch"`
	// Offset is the absolute byte offset in the document.
	Offset int `json:"index"`
	// Address pins the match: {resultIndex}/{version}/{matchIndex}.
	Address string `json:"indexPath,omitempty"`
}

// DocResult is the per-document portion of a search result.
type DocResult struct {
	Path string `json:"path"`
	// Version is the document version at search time.
	Version int `json:"version"`
	// PathIndex is the offset of the query within the path, if the path
	// itself matched.
	PathIndex *int `json:"index,omitempty"`
	// Matches are the content hits, one per matching line.
	Matches []Match `json:"matches,omitempty"`
}

// Result is the aggregate search reply.
type Result struct {
	Query      string      `json:"search"`
	Results    []DocResult `json:"results"`
	MatchCount int         `json:"matchCount"`
	// Replace carries a pending replacement string straight back to the
	// requesting client, when the search was issued from a replace panel.
	Replace *string `json:"replace,omitempty"`
}

// Engine runs project-wide searches against the document directory.
type Engine struct {
	dir    *directory.Directory
	logger *zap.Logger
}

// NewEngine creates a search engine over the directory.
func NewEngine(dir *directory.Directory, logger *zap.Logger) *Engine {
	return &Engine{dir: dir, logger: logger}
}

type fetchOutcome struct {
	doc DocResult
	ok  bool
}

// Search scans every document for the query, case-insensitively. An empty
// query yields an empty result, not an error. One fetch runs per document
// concurrently; the aggregate is assembled exactly once after every fetch
// has resolved, a failed fetch being logged and counted rather than
// retried.
func (e *Engine) Search(query string) *Result {
	result := &Result{Query: query, Results: []DocResult{}}
	if query == "" {
		return result
	}
	lowered := strings.ToLower(query)

	ids := e.dir.IDs()
	outcomes := make(chan fetchOutcome, len(ids))
	for _, id := range ids {
		go func(id string) {
			outcomes <- e.searchDoc(id, lowered)
		}(id)
	}

	// Fan in: every fetch reports exactly once, success or failure.
	for range ids {
		outcome := <-outcomes
		if outcome.ok {
			result.Results = append(result.Results, outcome.doc)
		}
	}

	sort.Slice(result.Results, func(i, j int) bool {
		return result.Results[i].Path < result.Results[j].Path
	})
	for i := range result.Results {
		doc := &result.Results[i]
		for j := range doc.Matches {
			doc.Matches[j].Address = fmt.Sprintf("%d/%d/%d", i, doc.Version, j)
			result.MatchCount++
		}
	}
	return result
}

// searchDoc fetches one document and scans it. Documents are included if
// the path contains the query or the content has at least one hit.
func (e *Engine) searchDoc(id, lowered string) fetchOutcome {
	snap, err := e.dir.Get(id)
	if err != nil {
		e.logger.Error("failed to fetch document for search", zap.String("id", id), zap.Error(err))
		return fetchOutcome{}
	}

	doc := DocResult{Path: snap.Record.Path, Version: snap.Version}
	if snap.Record.Kind == ot.KindText {
		doc.Matches = scanContent(snap.Record.Content, lowered)
	}
	if idx := strings.Index(strings.ToLower(snap.Record.Path), lowered); idx != -1 {
		doc.PathIndex = &idx
	}
	if doc.PathIndex == nil && len(doc.Matches) == 0 {
		return fetchOutcome{}
	}
	return fetchOutcome{doc: doc, ok: true}
}

// scanContent finds at most one hit per line: the first occurrence of the
// query, recorded with its containing line, zero-based line and column,
// and absolute offset.
func scanContent(content, lowered string) []Match {
	var matches []Match
	offset := 0
	for n, line := range strings.Split(content, "\n") {
		if col := strings.Index(strings.ToLower(line), lowered); col != -1 {
			matches = append(matches, Match{
				Text:   line,
				Line:   n,
				Column: col,
				Offset: offset + col,
			})
		}
		offset += len(line) + 1
	}
	return matches
}
