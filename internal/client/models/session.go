// Package models defines the records the field runner keeps on the device.
package models

import (
	"sort"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
)

// SessionStatus is the lifecycle state of a Runner Session.
type SessionStatus string

const (
	SessionOpen       SessionStatus = "open"
	SessionCompleting SessionStatus = "completing"
	SessionCompleted  SessionStatus = "completed"
)

// Session is the in-progress state of one inspection instance.
type Session struct {
	InspectionID string
	TemplateID   string
	VersionID    string
	JobID        string
	SiteID       string
	Status       SessionStatus

	// Answers maps row id to the latest draft for that row.
	Answers map[string]Draft

	// LastSequence is the highest sequence assigned to any draft.
	LastSequence int64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	// SyncedAt is set once the server acknowledged the completion.
	SyncedAt *time.Time
}

// Locked reports whether the session no longer accepts edits.
func (s *Session) Locked() bool {
	return s.Status == SessionCompleted
}

// Dirty returns the drafts that have not been assigned a sequence yet, in a
// deterministic order (by update time, then row id).
func (s *Session) Dirty() []Draft {
	var out []Draft
	for _, d := range s.Answers {
		if d.Sequence == 0 {
			out = append(out, d)
		}
	}
	sortDrafts(out)
	return out
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	c := *s
	c.Answers = make(map[string]Draft, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	return &c
}

// Draft is one captured answer. Sequence is 0 until the draft has been
// written to the capture queue.
type Draft struct {
	RowID     string      `json:"rowId"`
	Value     forms.Value `json:"value"`
	Notes     string      `json:"notes,omitempty"`
	Sequence  int64       `json:"sequence"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Wire converts the draft to its batch representation.
func (d Draft) Wire() api.Draft {
	return api.Draft{
		RowID:     d.RowID,
		Value:     d.Value,
		Notes:     d.Notes,
		Sequence:  d.Sequence,
		UpdatedAt: d.UpdatedAt,
	}
}

func sortDrafts(ds []Draft) {
	sort.Slice(ds, func(i, j int) bool {
		if !ds[i].UpdatedAt.Equal(ds[j].UpdatedAt) {
			return ds[i].UpdatedAt.Before(ds[j].UpdatedAt)
		}
		return ds[i].RowID < ds[j].RowID
	})
}
