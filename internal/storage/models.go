package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrKeysUnsupported = errors.New("store cannot list keys")
)

// Store is the persistent local key/value store behind drafts, settings,
// chat history and the fetch cache. Values are opaque strings (JSON for
// structured data).
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// KeyLister is implemented by stores that can enumerate their keys.
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}
