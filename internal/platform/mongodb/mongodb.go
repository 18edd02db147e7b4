// Package mongodb bootstraps the shared document-database connection,
// adapted from the teacher's Postgres service constructor (same
// connect-once-at-startup, wrap-in-a-service, expose-typed-handle shape).
package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/zachlagden/listworker/internal/platform/logger"
)

// Service wraps a connected Mongo client and the worker's database handle.
type Service struct {
	client *mongo.Client
	db     *mongo.Database
	log    *logger.Logger
}

// Connect dials MongoURI and pings the server before returning, so startup
// fails fast instead of lazily on the first repository call. The initial
// connect-and-ping is retried with exponential backoff (a worker started
// alongside a Mongo container that is still coming up should not die on
// the first attempt), bounded by maxElapsed.
func Connect(ctx context.Context, mongoURI, databaseName string, log *logger.Logger, baseBackoff, maxElapsed time.Duration) (*Service, error) {
	serviceLog := log.With("service", "MongoService")

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = baseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = 10 * time.Second
	exp.Reset()

	deadline := time.Now().Add(maxElapsed)
	var lastErr error

	for attempt := 1; ; attempt++ {
		client, err := tryConnect(ctx, mongoURI)
		if err == nil {
			serviceLog.Info("connected to Mongo", "database", databaseName, "attempts", attempt)
			return &Service{
				client: client,
				db:     client.Database(databaseName),
				log:    serviceLog,
			}, nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			break
		}

		wait := exp.NextBackOff()
		serviceLog.Warn("mongo connect attempt failed, retrying", "attempt", attempt, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("mongo connect cancelled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("failed to connect to Mongo after retrying for %s: %w", maxElapsed, lastErr)
}

func tryConnect(ctx context.Context, mongoURI string) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Mongo: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	defer cancelPing()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping Mongo: %w", err)
	}

	return client, nil
}

// DB returns the worker's database handle.
func (s *Service) DB() *mongo.Database { return s.db }

// Collection is a short hand for s.DB().Collection(name).
func (s *Service) Collection(name string) *mongo.Collection { return s.db.Collection(name) }

// GridFSBucket returns the bucket used for large-object cache content
// (§4.3, §9 "Cache content storage").
func (s *Service) GridFSBucket() (*gridfs.Bucket, error) {
	return gridfs.NewBucket(s.db)
}

// Close disconnects the client. Safe to call during shutdown.
func (s *Service) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
