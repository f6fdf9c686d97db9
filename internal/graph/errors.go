package graph

import "fmt"

// QueryErrorKind classifies why a graph query failed.
type QueryErrorKind string

const (
	// KindUnavailable means the graph tool could not be run at all.
	KindUnavailable QueryErrorKind = "unavailable"

	// KindTimeout means the query exceeded its deadline.
	KindTimeout QueryErrorKind = "timeout"

	// KindParse means the tool produced output we could not interpret.
	// A parse failure must never masquerade as an empty affected set.
	KindParse QueryErrorKind = "parse"
)

// QueryError is the typed failure returned by graph queries. Callers
// switch strategy to full-fallback on any QueryError rather than
// guessing at a partial scope.
type QueryError struct {
	Kind QueryErrorKind
	Tool string
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("graph query via %s failed (%s): %v", e.Tool, e.Kind, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
