package plan

import (
	"errors"
	"fmt"

	"plan_store/internal/schema"
)

var (
	// ErrNotFound is returned when no document is stored under the key.
	ErrNotFound = errors.New("plan: document not found")

	// ErrAlreadyExists is returned when creating a document whose key is taken.
	ErrAlreadyExists = errors.New("plan: document already exists")

	// ErrETagRequired is returned when a mutation carries no If-Match token.
	ErrETagRequired = errors.New("plan: etag not provided")

	// ErrInvalidBody is returned when the request body is absent or is not a
	// JSON object.
	ErrInvalidBody = errors.New("plan: invalid body")

	// ErrMissingIdentity is returned when a document lacks a string
	// objectType or objectId.
	ErrMissingIdentity = errors.New("plan: objectType and objectId must be non-empty strings")

	// ErrReservedField is returned when a document uses a field name the
	// encoding reserves.
	ErrReservedField = errors.New("plan: reserved field name")

	// ErrInvalidIdentity is returned when a root objectType or objectId
	// contains the key separator.
	ErrInvalidIdentity = errors.New("plan: objectType and objectId must not contain \"_\"")
)

// ValidationError carries the schema violations of a rejected document.
type ValidationError struct {
	Violations []schema.Violation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plan: document violates schema (%d violations)", len(e.Violations))
}

// PreconditionFailedError is returned when the conditional token does not
// match the stored ETag.
type PreconditionFailedError struct {
	ETag string
}

func (e *PreconditionFailedError) Error() string {
	return "plan: etag mismatch"
}

// IdentityMismatchError is returned when a body identifies a different
// document than the one addressed.
type IdentityMismatchError struct {
	Field    string
	Expected string
	Got      string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("plan: %s %q does not match %q", e.Field, e.Got, e.Expected)
}
