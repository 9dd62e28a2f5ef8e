package store

import (
	"context"
)

//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks . AddressStore

// AddressStore persists the single last-known address record.
type AddressStore interface {
	// Load returns found=false when no record has been written yet.
	Load(ctx context.Context) (addr string, found bool, err error)
	// Save overwrites the record with addr exactly as given.
	Save(ctx context.Context, addr string) error
	Close() error
}

// Backend names accepted by configuration.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)
