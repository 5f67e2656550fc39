package tree

import "errors"

var (
	// ErrCircularDependency is returned when a move would place a node
	// under itself or under one of its own descendants.
	ErrCircularDependency = errors.New("tree: circular dependency")

	// ErrInvariantViolation marks a coordinate layout that no sequence of
	// committed operations should be able to produce. It aborts the
	// enclosing transaction and is never repaired in place.
	ErrInvariantViolation = errors.New("tree: invariant violation")

	// ErrConflict is returned when a node's forest changed between the
	// lock acquisition and the transaction too many times in a row.
	ErrConflict = errors.New("tree: concurrent forest change")
)
