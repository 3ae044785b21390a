package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	// ErrInvalidConfiguration marks bad chunking or pipeline parameters.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidQuery marks an empty or malformed retrieval query.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrStoreUnavailable marks a transport or backend failure of the vector store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDuplicateID marks a chunk id collision rejected by the store.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrSynthesisFailed marks a language-model call failure.
	ErrSynthesisFailed = errors.New("synthesis failed")
)

// Stage names the pipeline stage an error originated in.
type Stage string

const (
	StageConfiguration Stage = "configuration"
	StageIngestion     Stage = "ingestion"
	StageRetrieval     Stage = "retrieval"
	StageSynthesis     Stage = "synthesis"
)

// Error is a classified pipeline failure.
type Error struct {
	Stage Stage
	Kind  error
	Msg   string
	Err   error
}

// NewError builds a classified error. cause may be nil.
func NewError(stage Stage, kind error, msg string, cause error) *Error {
	return &Error{Stage: stage, Kind: kind, Msg: msg, Err: cause}
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the taxonomy kind of err, or nil when err is unclassified.
func KindOf(err error) error {
	for _, k := range []error{
		ErrInvalidConfiguration,
		ErrInvalidQuery,
		ErrDuplicateID,
		ErrStoreUnavailable,
		ErrSynthesisFailed,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// StageOf returns the stage recorded on err, or "" if none.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}
