package manifest

import "fmt"

// ParseError reports a document that could not be decoded or is not a
// usable object. Index is the zero-based document position in Source.
type ParseError struct {
	Source string
	Index  int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s (document %d): %v", e.Source, e.Index, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DuplicateError reports two documents defining the same object.
type DuplicateError struct {
	ID     string
	First  string
	Second string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate definition of '%s' (in %s and %s)", e.ID, e.First, e.Second)
}
