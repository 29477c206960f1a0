package schema

import "errors"

var (
	// ErrValidation indicates a state failed strict validation and was
	// never transmitted.
	ErrValidation = errors.New("workspace state validation failed")

	// ErrMigration indicates a stored state is too old or malformed to be
	// upgraded automatically. It is deliberately never substituted with a
	// default state: silently discarding unmigratable user data is worse
	// than a visible failure.
	ErrMigration = errors.New("workspace state migration failed")
)
