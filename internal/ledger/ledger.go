// Package ledger records which documents have been indexed, keyed by name
// and content hash.
package ledger

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("ledger record not found")

type Status string

const (
	StatusProcessed Status = "processed"
	// StatusNoContent marks documents that yielded no text. They are not
	// retried until their content changes or the ledger is reset.
	StatusNoContent Status = "no_content"
)

type Record struct {
	Name        string    `json:"name"`
	ContentHash string    `json:"content_hash"`
	Status      Status    `json:"status"`
	Passages    int       `json:"passages"`
	Error       string    `json:"error,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Settled reports whether a document with the given content hash needs no
// further work.
func (r *Record) Settled(hash string) bool {
	if r == nil || r.ContentHash != hash {
		return false
	}
	return r.Status == StatusProcessed || r.Status == StatusNoContent
}
