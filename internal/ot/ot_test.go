package ot

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_CreateFetch(t *testing.T) {
	svc := NewService()

	rec := Record{Path: "a.js", Kind: KindText, Content: "foo"}
	require.NoError(t, svc.Create("1", rec))

	snap, err := svc.Fetch("1")
	require.NoError(t, err)
	assert.Equal(t, rec, snap.Record)
	assert.Equal(t, 1, snap.Version)

	assert.Error(t, svc.Create("1", rec), "duplicate id must be rejected")
}

func TestService_Fetch_NotFound(t *testing.T) {
	svc := NewService()

	_, err := svc.Fetch("99")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_Submit_ContentEdit(t *testing.T) {
	svc := NewService()
	require.NoError(t, svc.Create("1", Record{Path: "a.js", Kind: KindText, Content: "hello world"}))

	version, err := svc.Submit("1", Op{
		Field:     "content",
		AtVersion: 1,
		Edits:     []TextOp{{Position: 6, Delete: "world", Insert: "there"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	snap, err := svc.Fetch("1")
	require.NoError(t, err)
	assert.Equal(t, "hello there", snap.Record.Content)
	assert.Equal(t, 2, snap.Version)
}

func TestService_Submit_StaleVersion(t *testing.T) {
	svc := NewService()
	require.NoError(t, svc.Create("1", Record{Path: "a.js", Kind: KindText, Content: "x"}))

	_, err := svc.Submit("1", Op{Field: "content", AtVersion: 1, Edits: []TextOp{{Position: 1, Insert: "y"}}})
	require.NoError(t, err)

	// A second edit pinned to the original version is not transformed.
	_, err = svc.Submit("1", Op{Field: "content", AtVersion: 1, Edits: []TextOp{{Position: 0, Insert: "z"}}})
	assert.ErrorIs(t, err, ErrVersionConflict)

	snap, err := svc.Fetch("1")
	require.NoError(t, err)
	assert.Equal(t, "xy", snap.Record.Content)
}

func TestService_Submit_MismatchedDelete(t *testing.T) {
	svc := NewService()
	require.NoError(t, svc.Create("1", Record{Path: "a.js", Kind: KindText, Content: "abc"}))

	_, err := svc.Submit("1", Op{Field: "content", AtVersion: 1, Edits: []TextOp{{Position: 0, Delete: "xyz"}}})
	assert.Error(t, err)

	snap, err := svc.Fetch("1")
	require.NoError(t, err)
	assert.Equal(t, "abc", snap.Record.Content)
	assert.Equal(t, 1, snap.Version)
}

func TestService_Submit_PathReplace(t *testing.T) {
	svc := NewService()
	require.NoError(t, svc.Create("1", Record{Path: "old.js", Kind: KindText}))

	_, err := svc.Submit("1", Op{
		Field:     "path",
		AtVersion: 1,
		Edits:     []TextOp{{Position: 0, Delete: "old.js", Insert: "new.js"}},
	})
	require.NoError(t, err)

	snap, err := svc.Fetch("1")
	require.NoError(t, err)
	assert.Equal(t, "new.js", snap.Record.Path)
}

type rejectingHook struct {
	reason error
}

func (h *rejectingHook) OnCreate(id string, rec *Record) error { return h.reason }
func (h *rejectingHook) OnDelete(id string) error              { return h.reason }
func (h *rejectingHook) OnEdit(id string, op *Op) error        { return h.reason }

func TestService_HookRejection(t *testing.T) {
	svc := NewService()
	require.NoError(t, svc.Create("1", Record{Path: "a.js", Kind: KindText, Content: "abc"}))

	reason := errors.New("the file b.js already exists")
	svc.SetHook(&rejectingHook{reason: reason})

	assert.ErrorIs(t, svc.Create("2", Record{Path: "b.js", Kind: KindText}), reason)
	_, err := svc.Fetch("2")
	assert.ErrorIs(t, err, ErrNotFound, "rejected create must not register the document")

	_, err = svc.Submit("1", Op{Field: "content", AtVersion: 1, Edits: []TextOp{{Position: 0, Insert: "x"}}})
	assert.ErrorIs(t, err, reason)
	snap, err := svc.Fetch("1")
	require.NoError(t, err)
	assert.Equal(t, "abc", snap.Record.Content)
	assert.Equal(t, 1, snap.Version, "rejected edit must not advance the version")

	assert.ErrorIs(t, svc.Delete("1"), reason)
	_, err = svc.Fetch("1")
	assert.NoError(t, err, "rejected delete must keep the document")
}

func TestService_Subscribe(t *testing.T) {
	svc := NewService()
	require.NoError(t, svc.Create("1", Record{Path: "a.js", Kind: KindText, Content: ""}))

	var events []Event
	unsubscribe := svc.Subscribe(func(e Event) {
		events = append(events, e)
	})

	_, err := svc.Submit("1", Op{Field: "content", AtVersion: 1, Edits: []TextOp{{Position: 0, Insert: "hi"}}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "1", events[0].DocID)
	assert.Equal(t, 2, events[0].Version)

	unsubscribe()
	_, err = svc.Submit("1", Op{Field: "content", AtVersion: 2, Edits: []TextOp{{Position: 0, Insert: "!"}}})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestApplyEdits(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		edits   []TextOp
		want    string
		wantErr bool
	}{
		{
			name:  "insert at start",
			value: "bc",
			edits: []TextOp{{Position: 0, Insert: "a"}},
			want:  "abc",
		},
		{
			name:  "insert at end",
			value: "ab",
			edits: []TextOp{{Position: 2, Insert: "c"}},
			want:  "abc",
		},
		{
			name:  "delete then insert at same position",
			value: "foo bar",
			edits: []TextOp{{Position: 4, Delete: "bar", Insert: "baz"}},
			want:  "foo baz",
		},
		{
			name:  "sequential steps",
			value: "abcdef",
			edits: []TextOp{{Position: 0, Delete: "abc"}, {Position: 0, Insert: "x"}},
			want:  "xdef",
		},
		{
			name:    "position past end",
			value:   "ab",
			edits:   []TextOp{{Position: 3, Insert: "c"}},
			wantErr: true,
		},
		{
			name:    "negative position",
			value:   "ab",
			edits:   []TextOp{{Position: -1, Insert: "c"}},
			wantErr: true,
		},
		{
			name:    "delete overruns value",
			value:   "ab",
			edits:   []TextOp{{Position: 1, Delete: "bc"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applyEdits(tt.value, tt.edits)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
