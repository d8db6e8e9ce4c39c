package blob

import (
	"context"
	"fmt"
)

// Config selects and configures a media backend.
type Config struct {
	Driver        Driver
	S3            S3Config
	MemoryBaseURL string
}

// Open returns the Store named by cfg.Driver. An empty driver selects memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(cfg.MemoryBaseURL), nil
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
