package registry

import (
	"context"
)

// Store persists catalog records. The registry keeps the catalog in memory
// and writes through to the store on every mutation; LoadAll rebuilds the
// in-memory view at startup.
type Store interface {
	SaveService(ctx context.Context, svc *Service) error
	DeleteService(ctx context.Context, name string) error
	LoadAll(ctx context.Context) ([]*Service, error)
	AppendHealth(ctx context.Context, name string, record HealthRecord) error
	HealthHistory(ctx context.Context, name string, limit int) ([]HealthRecord, error)
	Close() error
}
