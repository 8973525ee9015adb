// Package store defines persistence of grounding sources.
//
// A [Source] is a document the user has added to ground the model's answers:
// an uploaded file, a pasted text, or a saved conversation transcript. The
// [SourceStore] interface abstracts where sources live; this package ships an
// in-memory implementation ([MemStore]) and store/postgres provides a
// PostgreSQL-backed one.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no source with the requested ID exists.
var ErrNotFound = errors.New("store: source not found")

// Source is one grounding document.
type Source struct {
	// ID uniquely identifies the source. Assigned by the store on Put when
	// empty.
	ID string

	// Title is the display name, e.g. "Live_Transcript_14-03-22.txt".
	Title string

	// MIMEType describes Content, e.g. "text/plain" or "application/pdf".
	MIMEType string

	// Content is the raw document content.
	Content []byte

	// ExtractedText is the plain-text rendition of Content for non-text
	// documents. Empty when Content is already plain text.
	ExtractedText string

	// CreatedAt is when the source was stored.
	CreatedAt time.Time
}

// Text returns the best textual rendition of the source: ExtractedText when
// present, otherwise Content interpreted as UTF-8.
func (s Source) Text() string {
	if s.ExtractedText != "" {
		return s.ExtractedText
	}
	return string(s.Content)
}

// SourceStore persists grounding sources.
//
// Implementations must be safe for concurrent use.
type SourceStore interface {
	// Put stores source, assigning an ID when source.ID is empty, and
	// returns the stored record.
	Put(ctx context.Context, source Source) (Source, error)

	// Get returns the source with the given ID, or [ErrNotFound].
	Get(ctx context.Context, id string) (Source, error)

	// List returns all sources ordered by creation time (oldest first).
	List(ctx context.Context) ([]Source, error)

	// Delete removes the source with the given ID, or returns [ErrNotFound].
	Delete(ctx context.Context, id string) error
}
