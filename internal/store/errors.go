package store

import "errors"

// ErrNotFound indicates no agent exists for the given user and id.
var ErrNotFound = errors.New("store: agent not found")
