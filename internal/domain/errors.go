// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification or duplicate-registration conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")
