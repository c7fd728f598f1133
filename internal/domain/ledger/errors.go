package ledger

import (
	"errors"
	"fmt"
)

// Rejection kinds. Every failed command returns one of these (possibly
// wrapped) and leaves the ledger unchanged.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrWrongStage         = errors.New("wrong stage")
	ErrRolesNotConfigured = errors.New("roles not set up")
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateMedicine  = errors.New("medicine already exists")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrNotExpired         = errors.New("medicine not expired")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrNotFound           = errors.New("not found")
)

// Refinements of ErrInvalidInput raised by addMedicine.
var (
	ErrNameRequired        = fmt.Errorf("%w: name is required", ErrInvalidInput)
	ErrDescriptionRequired = fmt.Errorf("%w: description is required", ErrInvalidInput)
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrWrongStage, "WrongStage"},
	{ErrRolesNotConfigured, "RolesNotConfigured"},
	{ErrNameRequired, "NameRequired"},
	{ErrDescriptionRequired, "DescriptionRequired"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrDuplicateMedicine, "DuplicateMedicine"},
	{ErrInsufficientStock, "InsufficientStock"},
	{ErrNotExpired, "NotExpired"},
	{ErrInvalidQuantity, "InvalidQuantity"},
	{ErrNotFound, "NotFound"},
}

// Kind names the rejection kind of err, or "" for infrastructure errors.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// IsRejection reports whether err is a ledger precondition failure rather
// than a storage fault.
func IsRejection(err error) bool {
	return Kind(err) != ""
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
}

func wrongStage(id int64, have, want Stage) error {
	return fmt.Errorf("%w: medicine %d is %s, expected %s", ErrWrongStage, id, have, want)
}
