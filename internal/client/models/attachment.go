package models

import (
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/api"
)

// Attachment is binary evidence bound to (InspectionID, RowID). The bytes
// live in a content-addressed file under the data directory; Ref is set once
// the server stored them.
type Attachment struct {
	ID           string
	InspectionID string
	RowID        string
	ContentHash  string
	MimeType     string
	Filename     string
	Size         int64
	LocalPath    string
	CreatedAt    time.Time
	Ref          *api.AttachmentRef
}

func (a *Attachment) Uploaded() bool {
	return a.Ref != nil
}
