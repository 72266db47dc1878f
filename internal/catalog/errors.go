package catalog

import "errors"

// Catalog errors.
var (
	ErrSequenceNotFound = errors.New("sequence not found")
	ErrStepNotFound     = errors.New("sequence step not found")
	ErrContentNotFound  = errors.New("content item not found")
	ErrSlugTaken        = errors.New("sequence slug already exists")
	ErrContentKeyTaken  = errors.New("content key already exists")
	ErrInvalidSequence  = errors.New("invalid sequence definition")
)
