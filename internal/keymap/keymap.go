// Package keymap persists the mapping from external (change-log) event ids
// to the ids the remote calendar assigned.
package keymap

import "context"

// Map maps external event ids to remote event ids.
type Map map[string]string

// Store loads and saves the whole map. Implementations serialize their own
// Load and Save calls.
type Store interface {
	Load(ctx context.Context) (Map, error)
	Save(ctx context.Context, m Map) error
}
