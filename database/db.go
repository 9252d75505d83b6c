package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harsh7274v/confiido-sub003/config"
)

// ErrStorageUnavailable signals a transient storage fault. Callers retry
// with backoff; it is never treated as a business outcome.
var ErrStorageUnavailable = errors.New("storage unavailable")

var (
	mu     sync.Mutex
	client *mongo.Client
)

// Handle returns a ready MongoDB client, connecting on first use and
// transparently re-establishing the connection if the cached one no longer
// responds to a ping. Acquisition failures surface as ErrStorageUnavailable.
func Handle(ctx context.Context) (*mongo.Client, error) {
	mu.Lock()
	defer mu.Unlock()

	if client != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx, nil)
		cancel()
		if err == nil {
			return client, nil
		}
		// Stale handle; drop it and reconnect below.
		_ = client.Disconnect(ctx)
		client = nil
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := mongo.Connect(connCtx, options.Client().ApplyURI(config.AppConfig.DatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("%w: connect failed: %v", ErrStorageUnavailable, err)
	}
	if err := c.Ping(connCtx, nil); err != nil {
		_ = c.Disconnect(connCtx)
		return nil, fmt.Errorf("%w: ping failed: %v", ErrStorageUnavailable, err)
	}
	client = c
	return client, nil
}

// Database returns the application database from a warm handle.
func Database(ctx context.Context) (*mongo.Database, error) {
	h, err := Handle(ctx)
	if err != nil {
		return nil, err
	}
	return h.Database(config.AppConfig.DatabaseName), nil
}
