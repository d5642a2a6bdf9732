package engine

import (
	"errors"

	"github.com/actiongraph/actiongraph/internal/uid"
)

var (
	// ErrCycle and ErrMissingDependency are shared with the uid package so
	// callers can match either with errors.Is.
	ErrCycle             = uid.ErrCycle
	ErrMissingDependency = uid.ErrMissingDependency

	// ErrDanglingResult is returned when a result uid names no node.
	ErrDanglingResult = errors.New("result uid not in graph")

	// ErrUnresolvableCollision is returned for a result node whose colliding
	// outputs cannot be given a distinct name.
	ErrUnresolvableCollision = errors.New("unresolvable output collision")
)
