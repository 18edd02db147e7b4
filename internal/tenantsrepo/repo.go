// Package tenantsrepo holds the tenant configuration and tenant build
// stats repositories (§3 Tenant configuration / Tenant build stats,
// §4.7 Steps 0, 3, 8). Both are thin Mongo wrappers following the same
// interface-plus-struct shape as jobsrepo and cacherepo.
package tenantsrepo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zachlagden/listworker/internal/domain"
	"github.com/zachlagden/listworker/internal/platform/dbctx"
	"github.com/zachlagden/listworker/internal/platform/logger"
)

func ctxOf(dbc dbctx.Context) context.Context {
	if dbc.Ctx != nil {
		return dbc.Ctx
	}
	return context.Background()
}

// ConfigRepo reads raw, unparsed tenant configuration (§3, §6.4, §6.5).
type ConfigRepo interface {
	// Get returns the config document for tenantID, mapping
	// domain.DefaultTenant to domain.SystemConfigID per §3.
	Get(dbc dbctx.Context, tenantID string) (*domain.TenantConfig, error)
}

type configRepo struct {
	coll *mongo.Collection
	log  *logger.Logger
}

// NewConfigRepo constructs a Mongo-backed ConfigRepo.
func NewConfigRepo(coll *mongo.Collection, baseLog *logger.Logger) ConfigRepo {
	return &configRepo{coll: coll, log: baseLog.With("repo", "TenantConfigRepo")}
}

func configDocID(tenantID string) string {
	if tenantID == domain.DefaultTenant {
		return domain.SystemConfigID
	}
	return tenantID
}

func (r *configRepo) Get(dbc dbctx.Context, tenantID string) (*domain.TenantConfig, error) {
	var cfg domain.TenantConfig
	err := r.coll.FindOne(ctxOf(dbc), bson.M{"_id": configDocID(tenantID)}).Decode(&cfg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StatsRepo tracks each tenant's most recent build (§3, §4.7 Steps 2, 3, 8).
type StatsRepo interface {
	Get(dbc dbctx.Context, tenantID string) (*domain.TenantBuildStats, error)

	// FindByFingerprint searches every enabled tenant other than
	// excludeTenantID for a matching config_fingerprint with at least one
	// output list, returning the most recently built match (§4.7 Step 3).
	FindByFingerprint(dbc dbctx.Context, fingerprint, excludeTenantID string) (*domain.TenantBuildStats, error)

	// Upsert writes the full stats document after a build (§4.7 Step 8).
	Upsert(dbc dbctx.Context, stats domain.TenantBuildStats) error
}

type statsRepo struct {
	coll *mongo.Collection
	log  *logger.Logger
}

// NewStatsRepo constructs a Mongo-backed StatsRepo.
func NewStatsRepo(coll *mongo.Collection, baseLog *logger.Logger) StatsRepo {
	return &statsRepo{coll: coll, log: baseLog.With("repo", "TenantStatsRepo")}
}

func (r *statsRepo) Get(dbc dbctx.Context, tenantID string) (*domain.TenantBuildStats, error) {
	var stats domain.TenantBuildStats
	err := r.coll.FindOne(ctxOf(dbc), bson.M{"_id": tenantID}).Decode(&stats)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *statsRepo) FindByFingerprint(dbc dbctx.Context, fingerprint, excludeTenantID string) (*domain.TenantBuildStats, error) {
	c := ctxOf(dbc)
	filter := bson.M{
		"_id":                bson.M{"$ne": excludeTenantID},
		"config_fingerprint": fingerprint,
		"enabled":            true,
		"lists.0":            bson.M{"$exists": true},
	}
	opts := options.Find().SetSort(bson.D{{Key: "last_build_at", Value: -1}}).SetLimit(1)

	cur, err := r.coll.Find(c, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(c)

	if !cur.Next(c) {
		return nil, cur.Err()
	}
	var stats domain.TenantBuildStats
	if err := cur.Decode(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *statsRepo) Upsert(dbc dbctx.Context, stats domain.TenantBuildStats) error {
	if stats.LastBuildAt == nil {
		now := time.Now().UTC()
		stats.LastBuildAt = &now
	}
	_, err := r.coll.ReplaceOne(ctxOf(dbc),
		bson.M{"_id": stats.TenantID},
		stats,
		options.Replace().SetUpsert(true),
	)
	return err
}
