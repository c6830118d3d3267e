package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

// HistoryEntryID is a UUID-based identifier for HistoryEntry
type HistoryEntryID string

// NewHistoryEntryID generates a new UUID v4 HistoryEntryID
func NewHistoryEntryID() HistoryEntryID {
	return HistoryEntryID(uuid.New().String())
}

// HistoryEntry is an append-only audit record of a lifecycle event of a case or a batch
type HistoryEntry struct {
	ID         HistoryEntryID     `json:"id"`
	CaseID     CaseID             `json:"case_id,omitempty"`
	BatchID    BatchID            `json:"batch_id,omitempty"`
	Event      types.HistoryEvent `json:"event"`
	FromStatus string             `json:"from_status,omitempty"`
	ToStatus   string             `json:"to_status,omitempty"`
	Message    string             `json:"message,omitempty"`
	Details    map[string]string  `json:"details,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Clone returns a deep copy of the entry
func (h *HistoryEntry) Clone() *HistoryEntry {
	if h == nil {
		return nil
	}
	copied := *h
	if h.Details != nil {
		copied.Details = make(map[string]string, len(h.Details))
		for k, v := range h.Details {
			copied.Details[k] = v
		}
	}
	return &copied
}
