package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrSelfLink        = errors.New("self-referencing link")
	ErrInvalidEdge     = errors.New("invalid edge")
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	ErrNotReady        = errors.New("not ready")
)
