// Package models defines the records the sync server keeps per inspection.
package models

import (
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/forms"
)

type InspectionStatus string

const (
	InspectionOpen      InspectionStatus = "open"
	InspectionCompleted InspectionStatus = "completed"
)

// Inspection is the server's view of one inspection: which version it is
// bound to and how far its response sequence has been acknowledged.
type Inspection struct {
	ID               string
	TechnicianID     string
	TemplateID       string
	VersionID        string
	JobID            string
	SiteID           string
	LastAcknowledged int64
	Status           InspectionStatus
	CompletedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (i *Inspection) Completed() bool {
	return i.Status == InspectionCompleted
}

// Response is one acknowledged draft. Sequences are unique per inspection.
type Response struct {
	InspectionID string
	Sequence     int64
	RowID        string
	Value        forms.Value
	Notes        string
	UpdatedAt    time.Time
}
