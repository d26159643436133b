package pipeline

import "errors"

// Unrecoverable pipeline conditions. Everything else is a tagged outcome
// on the decision record, not an error.
var (
	// ErrEmptyQuery indicates nothing usable survived normalization.
	ErrEmptyQuery = errors.New("empty query")

	// ErrBudgetImpossible indicates the configured context budget cannot
	// hold even a truncated first passage.
	ErrBudgetImpossible = errors.New("token budget impossible")
)
