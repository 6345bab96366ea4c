// Copyright 2024-2026 Aiku AI

package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrUnroutedSource means no routing entry matches the source chat. The
	// event is dropped; the engine never guesses a destination.
	ErrUnroutedSource = errors.New("no route configured for source chat")

	// ErrDuplicateSource means a live record already exists for the source
	// identity. Re-delivery of an already-mirrored message is a no-op.
	ErrDuplicateSource = errors.New("source message already mirrored")

	// ErrNotFound means the mapping store has no live record for the key.
	ErrNotFound = errors.New("backup record not found")

	// ErrUntrackedEdit means an edit referenced a message with no live
	// mapping (expired or never mirrored). There is nothing to update.
	ErrUntrackedEdit = errors.New("edit for untracked message")

	// ErrUntrackedRecall is the recall counterpart of ErrUntrackedEdit.
	ErrUntrackedRecall = errors.New("recall for untracked message")
)

// TransportError wraps a transport failure with a retryability verdict.
// Transient failures (rate limits, network blips) are retried with bounded
// backoff; permanent ones (destination deleted, forbidden) are surfaced and
// the event dropped.
type TransportError struct {
	Err       error
	Permanent bool
}

func (e *TransportError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("permanent transport error: %v", e.Err)
	}
	return fmt.Sprintf("transient transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TransientError marks err as retryable.
func TransientError(err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Err: err}
}

// PermanentError marks err as not worth retrying.
func PermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Err: err, Permanent: true}
}

// IsPermanent reports whether err carries a permanent transport verdict.
// Unclassified errors are treated as transient so the bounded retry loop
// still caps the damage of a wrong guess.
func IsPermanent(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Permanent
}
