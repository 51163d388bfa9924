package storage

import (
	"context"
	"fmt"

	"memoai/internal/crypto"
)

// SealedStore encrypts every value before handing it to the wrapped store.
// Entries written before sealing was enabled fail to open and read as
// corrupt, which callers already treat as absent.
type SealedStore struct {
	inner  Store
	crypto *crypto.Manager
}

var _ Store = (*SealedStore)(nil)

func NewSealedStore(inner Store, m *crypto.Manager) *SealedStore {
	return &SealedStore{inner: inner, crypto: m}
}

func (s *SealedStore) Get(ctx context.Context, key string) (string, error) {
	raw, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	plain, err := s.crypto.OpenString(raw)
	if err != nil {
		return "", fmt.Errorf("open sealed entry %q: %w", key, err)
	}
	return plain, nil
}

func (s *SealedStore) Set(ctx context.Context, key, value string) error {
	sealed, err := s.crypto.SealString(value)
	if err != nil {
		return fmt.Errorf("seal entry %q: %w", key, err)
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *SealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

// Keys lists keys of the wrapped store. Key names are never sealed.
func (s *SealedStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	l, ok := s.inner.(KeyLister)
	if !ok {
		return nil, ErrKeysUnsupported
	}
	return l.Keys(ctx, prefix)
}

// Rotate re-encrypts the listed keys under the current master key.
func (s *SealedStore) Rotate(ctx context.Context, keys []string) (int, error) {
	n := 0
	for _, k := range keys {
		raw, err := s.inner.Get(ctx, k)
		if err != nil {
			continue
		}
		fresh, err := s.crypto.Reseal(raw)
		if err != nil {
			return n, fmt.Errorf("re-encrypt %q: %w", k, err)
		}
		if err := s.inner.Set(ctx, k, fresh); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
