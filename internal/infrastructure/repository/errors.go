package repository

import "errors"

var (
	errWriteFailed = errors.New("write failed")
	errDuplicate   = errors.New("duplicate key")
)

// IsDuplicate reports whether an error came from inserting a record whose
// external key is already bound.
func IsDuplicate(err error) bool {
	return errors.Is(err, errDuplicate)
}
