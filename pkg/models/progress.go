package models

import (
	"encoding/json"
	"slices"
)

// SourceRecord is one page read from the source database. Properties and
// children are kept as raw JSON so that any property type is copied as-is.
type SourceRecord struct {
	ID         string          `json:"id"`
	Properties json.RawMessage `json:"properties"`
	Children   json.RawMessage `json:"children,omitempty"`
}

// HasChildren reports whether the record carries a non-empty children array.
func (r SourceRecord) HasChildren() bool {
	var blocks []json.RawMessage
	if len(r.Children) == 0 || json.Unmarshal(r.Children, &blocks) != nil {
		return false
	}
	return len(blocks) > 0
}

// TransferProgress is the resumable state of one source database transfer.
type TransferProgress struct {
	TotalPages       int               `json:"total_pages" yaml:"total_pages" bson:"total_pages"`
	TransferredPages []string          `json:"transferred_pages" yaml:"transferred_pages" bson:"transferred_pages"`
	FailedPages      map[string]string `json:"failed_pages" yaml:"failed_pages" bson:"failed_pages"`
	CurrentCursor    *string           `json:"current_cursor" yaml:"current_cursor" bson:"current_cursor"`
}

// NewTransferProgress returns progress for a transfer that has not started.
func NewTransferProgress() *TransferProgress {
	return &TransferProgress{
		TransferredPages: []string{},
		FailedPages:      map[string]string{},
	}
}

// Normalize replaces nil collections with empty ones, as found in hand-edited
// or partially written state.
func (p *TransferProgress) Normalize() {
	if p.TransferredPages == nil {
		p.TransferredPages = []string{}
	}
	if p.FailedPages == nil {
		p.FailedPages = map[string]string{}
	}
}

// HasTransferred reports whether the source page was already re-created.
func (p *TransferProgress) HasTransferred(pageID string) bool {
	return slices.Contains(p.TransferredPages, pageID)
}

// AddTransferredPage marks a source page as transferred. A page that failed
// in an earlier run is moved out of FailedPages.
func (p *TransferProgress) AddTransferredPage(pageID string) {
	p.Normalize()
	delete(p.FailedPages, pageID)
	if !p.HasTransferred(pageID) {
		p.TransferredPages = append(p.TransferredPages, pageID)
	}
}

// AddFailedPage records the last error seen for a source page.
func (p *TransferProgress) AddFailedPage(pageID, message string) {
	p.Normalize()
	p.FailedPages[pageID] = message
}

// ProgressPercentage is derived from the counts and never stored.
func (p *TransferProgress) ProgressPercentage() float64 {
	if p.TotalPages == 0 {
		return 0
	}
	return float64(len(p.TransferredPages)) / float64(p.TotalPages) * 100
}

// Cursor returns the resume cursor or "" when starting from the beginning.
func (p *TransferProgress) Cursor() string {
	if p.CurrentCursor == nil {
		return ""
	}
	return *p.CurrentCursor
}

// SetCursor stores the resume cursor; "" resets to the start of the database.
func (p *TransferProgress) SetCursor(cursor string) {
	if cursor == "" {
		p.CurrentCursor = nil
		return
	}
	p.CurrentCursor = &cursor
}
