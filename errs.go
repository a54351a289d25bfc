package cogmem

import "fmt"

// NotFoundError is returned when a memory, link, or session ID doesn't exist.
type NotFoundError struct {
	Kind string // "memory", "link", "session"
	ID   any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %v", e.Kind, e.ID)
}

// PausedError is returned by write operations while the engine is paused.
type PausedError struct {
	Op string
}

func (e *PausedError) Error() string {
	return fmt.Sprintf("cogmem: paused, rejected %s", e.Op)
}

// BlockedError is returned when the database has exceeded the hard size cap.
type BlockedError struct {
	SizeBytes int64
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("cogmem: database at %d bytes exceeds hard limit, writes blocked until cleanup", e.SizeBytes)
}

// BulkDeleteSafetyError guards against accidental mass deletion.
type BulkDeleteSafetyError struct {
	Count int
	Max   int
}

func (e *BulkDeleteSafetyError) Error() string {
	return fmt.Sprintf("cogmem: refusing to delete %d memories in one call (max %d); pass a narrower filter", e.Count, e.Max)
}

// InvalidQueryError wraps a malformed search query.
type InvalidQueryError struct {
	Query  string
	Reason string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("cogmem: invalid query %q: %s", e.Query, e.Reason)
}

// ImportRejectedError is returned when an imported memory fails validation.
type ImportRejectedError struct {
	Index  int
	Reason string
}

func (e *ImportRejectedError) Error() string {
	return fmt.Sprintf("cogmem: rejected import record %d: %s", e.Index, e.Reason)
}
