package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// FolderService finds and creates folders in a hierarchical file store.
type FolderService interface {
	// FindFolder looks up a child folder by name. found is false when none exists.
	FindFolder(ctx context.Context, parentID, name string) (id string, found bool, err error)
	CreateFolder(ctx context.Context, parentID, name string) (string, error)
}

// FolderCache memoizes folder ids per path prefix for the life of the process. Concurrent
// resolutions of the same prefix share one lookup, so a folder is created at most once.
type FolderCache struct {
	mu     sync.RWMutex
	ids    map[string]string
	flight singleflight.Group
}

// NewFolderCache returns an empty cache.
func NewFolderCache() *FolderCache {
	return &FolderCache{ids: make(map[string]string)}
}

// Resolve returns the id of the folder at path below rootID, creating missing segments.
// An empty path resolves to rootID.
func (c *FolderCache) Resolve(ctx context.Context, folders FolderService, rootID, path string) (string, error) {
	parentID := rootID
	prefix := rootID

	for _, segment := range splitPath(path) {
		prefix += "/" + segment

		id, err := c.resolveSegment(ctx, folders, prefix, parentID, segment)
		if err != nil {
			return "", err
		}

		parentID = id
	}

	return parentID, nil
}

func (c *FolderCache) resolveSegment(
	ctx context.Context,
	folders FolderService,
	key, parentID, name string,
) (string, error) {
	if id, ok := c.get(key); ok {
		return id, nil
	}

	result, err, _ := c.flight.Do(key, func() (any, error) {
		// A flight that finished just before this one began has already stored the id.
		if id, ok := c.get(key); ok {
			return id, nil
		}

		id, found, findErr := folders.FindFolder(ctx, parentID, name)
		if findErr != nil {
			return "", fmt.Errorf("failed to find folder %q: %w", name, findErr)
		}

		if !found {
			var createErr error

			id, createErr = folders.CreateFolder(ctx, parentID, name)
			if createErr != nil {
				return "", fmt.Errorf("failed to create folder %q: %w", name, createErr)
			}
		}

		c.put(key, id)

		return id, nil
	})
	if err != nil {
		return "", err
	}

	id, _ := result.(string)

	return id, nil
}

func (c *FolderCache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.ids[key]

	return id, ok
}

func (c *FolderCache) put(key, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ids[key] = id
}

func splitPath(path string) []string {
	raw := strings.Split(path, "/")
	segments := make([]string, 0, len(raw))

	for _, segment := range raw {
		segment = strings.TrimSpace(segment)
		if segment != "" {
			segments = append(segments, segment)
		}
	}

	return segments
}
