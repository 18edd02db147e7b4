// Package jobsrepo is the job queue's repository layer: atomic claim,
// heartbeat, terminal writes, and release, against the shared document
// database. The interface/implementation split and the dbctx.Context
// threading are carried from the teacher's JobRunRepo; the claim
// operation itself is reimplemented as a single Mongo findOneAndUpdate,
// which is the one place the document model subsumes the teacher's
// two-step SELECT-FOR-UPDATE-then-UPDATE with a single atomic round
// trip.
package jobsrepo

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

// Repo is the job queue's data-access contract.
type Repo interface {
	// Claim atomically finds a queued job with no owner, sorted by
	// (priority asc, created_at asc), and transitions it to processing
	// under this worker. Returns (nil, nil) when no job matched.
	Claim(dbc dbctx.Context, workerID string) (*domain.Job, error)

	// Heartbeat refreshes heartbeat_at for a job this worker still owns.
	// Returns false (no error) if the worker has lost the job.
	Heartbeat(dbc dbctx.Context, jobID, workerID string) (bool, error)

	// UpdateProgress overwrites the job's progress document. Callers are
	// responsible for stage monotonicity.
	UpdateProgress(dbc dbctx.Context, jobID string, progress domain.Progress) error

	Complete(dbc dbctx.Context, jobID string, result domain.Result) error
	Fail(dbc dbctx.Context, jobID string, result domain.Result) error
	Skip(dbc dbctx.Context, jobID string, result domain.Result) error

	// Release reverts one job this worker owns back to queued, clearing
	// ownership and timestamps, for graceful shutdown mid-job.
	Release(dbc dbctx.Context, jobID, workerID string) error

	// ReleaseAll reverts every job currently held by this worker, used on
	// the shutdown sweep.
	ReleaseAll(dbc dbctx.Context, workerID string) (int64, error)

	// FindStaleSince returns jobs stuck in processing with a heartbeat
	// older than cutoff, for the external recovery sweep. Not called by
	// this worker itself.
	FindStaleSince(dbc dbctx.Context, cutoff time.Time) ([]*domain.Job, error)
}

type repo struct {
	coll *mongo.Collection
	log  *logger.Logger
}

// New constructs a Mongo-backed job Repo over the given collection.
func New(coll *mongo.Collection, baseLog *logger.Logger) Repo {
	return &repo{coll: coll, log: baseLog.With("repo", "JobRepo")}
}

func ctxOf(dbc dbctx.Context) context.Context {
	if dbc.Ctx != nil {
		return dbc.Ctx
	}
	return context.Background()
}

func (r *repo) Claim(dbc dbctx.Context, workerID string) (*domain.Job, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"status":    domain.StatusQueued,
		"worker_id": nil,
	}
	update := bson.M{
		"$set": bson.M{
			"status":       domain.StatusProcessing,
			"worker_id":    workerID,
			"claimed_at":   now,
			"started_at":   now,
			"heartbeat_at": now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "priority", Value: 1}, {Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	var job domain.Job
	err := r.coll.FindOneAndUpdate(ctxOf(dbc), filter, update, opts).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repo) Heartbeat(dbc dbctx.Context, jobID, workerID string) (bool, error) {
	filter := bson.M{
		"_id":       jobID,
		"worker_id": workerID,
		"status":    domain.StatusProcessing,
	}
	update := bson.M{"$set": bson.M{"heartbeat_at": time.Now().UTC()}}
	res, err := r.coll.UpdateOne(ctxOf(dbc), filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func (r *repo) UpdateProgress(dbc dbctx.Context, jobID string, progress domain.Progress) error {
	_, err := r.coll.UpdateOne(ctxOf(dbc),
		bson.M{"_id": jobID},
		bson.M{"$set": bson.M{"progress": progress}},
	)
	return err
}

func (r *repo) Complete(dbc dbctx.Context, jobID string, result domain.Result) error {
	return r.terminal(dbc, jobID, domain.StatusCompleted, result)
}

func (r *repo) Fail(dbc dbctx.Context, jobID string, result domain.Result) error {
	return r.terminal(dbc, jobID, domain.StatusFailed, result)
}

func (r *repo) Skip(dbc dbctx.Context, jobID string, result domain.Result) error {
	return r.terminal(dbc, jobID, domain.StatusSkipped, result)
}

func (r *repo) terminal(dbc dbctx.Context, jobID string, status domain.JobStatus, result domain.Result) error {
	_, err := r.coll.UpdateOne(ctxOf(dbc),
		bson.M{"_id": jobID},
		bson.M{"$set": bson.M{
			"status":       status,
			"completed_at": time.Now().UTC(),
			"result":       result,
		}},
	)
	return err
}

func (r *repo) Release(dbc dbctx.Context, jobID, workerID string) error {
	filter := bson.M{
		"_id":       jobID,
		"worker_id": workerID,
		"status":    domain.StatusProcessing,
	}
	update := bson.M{
		"$set": bson.M{"status": domain.StatusQueued},
		"$unset": bson.M{
			"worker_id":    "",
			"claimed_at":   "",
			"started_at":   "",
			"heartbeat_at": "",
		},
	}
	_, err := r.coll.UpdateOne(ctxOf(dbc), filter, update)
	return err
}

func (r *repo) ReleaseAll(dbc dbctx.Context, workerID string) (int64, error) {
	filter := bson.M{
		"worker_id": workerID,
		"status":    domain.StatusProcessing,
	}
	update := bson.M{
		"$set": bson.M{"status": domain.StatusQueued},
		"$unset": bson.M{
			"worker_id":    "",
			"claimed_at":   "",
			"started_at":   "",
			"heartbeat_at": "",
		},
	}
	res, err := r.coll.UpdateMany(ctxOf(dbc), filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *repo) FindStaleSince(dbc dbctx.Context, cutoff time.Time) ([]*domain.Job, error) {
	filter := bson.M{
		"status":       domain.StatusProcessing,
		"heartbeat_at": bson.M{"$lt": cutoff},
	}
	cur, err := r.coll.Find(ctxOf(dbc), filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctxOf(dbc))

	var jobs []*domain.Job
	for cur.Next(ctxOf(dbc)) {
		var j domain.Job
		if err := cur.Decode(&j); err != nil {
			return nil, err
		}
		jobs = append(jobs, &j)
	}
	return jobs, cur.Err()
}
