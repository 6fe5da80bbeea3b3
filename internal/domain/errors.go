package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidContentType  = errors.New("invalid content type")
	ErrInvalidWorkItem     = errors.New("invalid work item")
	ErrUnsupportedCategory = errors.New("unsupported content category")
)
