package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/bobuk/gcalbridge/internal/remote"
)

// ErrNotMapped is returned by Forget for an id the key map does not hold.
var ErrNotMapped = errors.New("external id is not mapped")

// PurgeResult reports what Purge removed.
type PurgeResult struct {
	Deleted  int
	Missing  int
	Failures map[string]error
}

// Purge deletes every mapped remote event and drops the mappings that were
// removed. Events already gone count as removed; failed deletions keep
// their mapping so they can be retried.
func (e *Engine) Purge(ctx context.Context) (*PurgeResult, error) {
	keys, err := e.keys.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load key map: %w", err)
	}
	result := &PurgeResult{Failures: map[string]error{}}
	if len(keys) == 0 {
		return result, nil
	}
	client, err := e.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get calendar client: %w", err)
	}

	var runErr error
	for externalID, remoteID := range keys {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("%w: %w", ErrAborted, err)
			break
		}
		err := e.call(ctx, "delete "+externalID, func(ctx context.Context) error {
			return client.DeleteEvent(ctx, remoteID)
		})
		switch {
		case err == nil:
			result.Deleted++
			e.logger.Printf("Deleted event %s for %s", remoteID, externalID)
		case remote.IsNotFound(err):
			result.Missing++
			e.logger.Printf("Remote event %s for %s was already deleted", remoteID, externalID)
		case remote.IsAuth(err):
			result.Failures[externalID] = err
			runErr = fmt.Errorf("%w: %w", ErrAborted, err)
		default:
			result.Failures[externalID] = err
			e.logger.Printf("Failed to delete event %s for %s: %v", remoteID, externalID, err)
			continue
		}
		if runErr != nil {
			break
		}
		delete(keys, externalID)
	}

	if err := e.keys.Save(context.WithoutCancel(ctx), keys); err != nil {
		return result, errors.Join(runErr, fmt.Errorf("failed to save key map: %w", err))
	}
	return result, runErr
}

// Forget deletes the remote event mapped to externalID and drops the mapping.
func (e *Engine) Forget(ctx context.Context, externalID string) (string, error) {
	keys, err := e.keys.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load key map: %w", err)
	}
	remoteID, ok := keys[externalID]
	if !ok {
		return "", fmt.Errorf("%s: %w", externalID, ErrNotMapped)
	}
	client, err := e.client(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get calendar client: %w", err)
	}

	err = e.call(ctx, "delete "+externalID, func(ctx context.Context) error {
		return client.DeleteEvent(ctx, remoteID)
	})
	if err != nil && !remote.IsNotFound(err) {
		return remoteID, fmt.Errorf("failed to delete event %s: %w", remoteID, err)
	}

	delete(keys, externalID)
	if err := e.keys.Save(ctx, keys); err != nil {
		return remoteID, fmt.Errorf("failed to save key map: %w", err)
	}
	return remoteID, nil
}
