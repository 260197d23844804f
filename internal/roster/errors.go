package roster

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy rejects a commit while another is in flight. The caller must
	// wait for the first to finish; requests are never queued.
	ErrBusy = errors.New("commit already in flight")

	// ErrDuplicateIdentity rejects a record whose normalized identifier is
	// already taken by another record.
	ErrDuplicateIdentity = errors.New("duplicate identity")

	// ErrNoCredential rejects a commit without a write credential.
	ErrNoCredential = errors.New("write credential is required")
)

type DuplicateIdentityError struct {
	ID         string
	Normalized string
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("duplicate identity %q (normalized %q)", e.ID, e.Normalized)
}

func (e *DuplicateIdentityError) Is(target error) bool {
	return target == ErrDuplicateIdentity
}
