// Package cacherepo is the content-addressed cache of fetched blocklist
// source bodies: metadata plus either inlined bytes or a GridFS handle,
// TTL expiry, and access-count tracking (§4.3). The repository-interface
// shape follows the same pattern as jobsrepo, adapted from the teacher's
// repo layer.
package cacherepo

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/zachlagden/listworker/internal/domain"
	"github.com/zachlagden/listworker/internal/platform/dbctx"
	"github.com/zachlagden/listworker/internal/platform/logger"
)

// Repo is the cache's data-access contract (§4.3).
type Repo interface {
	// KeyFor returns the lowercase hex SHA-256 of url, the cache's
	// primary key.
	KeyFor(url string) string

	// Get returns the cached bytes for url and bumps access stats. Returns
	// (nil, false, nil) on a clean miss.
	Get(dbc dbctx.Context, url string) ([]byte, bool, error)

	// Store writes or replaces content and metadata for url.
	Store(dbc dbctx.Context, url string, content []byte, etag, lastModified string, domainCount int) error

	// HasValidCache reports whether url has content updated within TTL.
	HasValidCache(dbc dbctx.Context, url string, ttl time.Duration) (bool, error)

	// UpdateDomainCount narrowly updates domain_count, used by the
	// extractor stage after counting a cached body's domains.
	UpdateDomainCount(dbc dbctx.Context, url string, domainCount int) error

	// PreviousDomainCount returns the domain_count recorded before this
	// call, for the per-source delta the processor attaches to progress.
	PreviousDomainCount(dbc dbctx.Context, url string) (int, bool, error)

	// CleanupStale deletes every entry whose updated_at predates ttl,
	// removing large-object content before its metadata document.
	// Returns the number of deleted entries.
	CleanupStale(dbc dbctx.Context, ttl time.Duration) (int64, error)
}

type repo struct {
	coll      *mongo.Collection
	bucket    *gridfs.Bucket
	threshold int64
	log       *logger.Logger
}

// New constructs a Mongo-backed cache Repo. bucket is used for content
// bodies over thresholdBytes (§9 "Cache content storage").
func New(coll *mongo.Collection, bucket *gridfs.Bucket, thresholdBytes int64, baseLog *logger.Logger) Repo {
	return &repo{coll: coll, bucket: bucket, threshold: thresholdBytes, log: baseLog.With("repo", "CacheRepo")}
}

func ctxOf(dbc dbctx.Context) context.Context {
	if dbc.Ctx != nil {
		return dbc.Ctx
	}
	return context.Background()
}

func (r *repo) KeyFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (r *repo) Get(dbc dbctx.Context, url string) ([]byte, bool, error) {
	c := ctxOf(dbc)
	id := r.KeyFor(url)

	var entry domain.CacheEntry
	err := r.coll.FindOne(c, bson.M{"_id": id}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	content, err := r.resolveContent(c, &entry)
	if err != nil {
		return nil, false, err
	}
	if content == nil {
		return nil, false, nil
	}

	now := time.Now().UTC()
	_, _ = r.coll.UpdateOne(c, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"stats.last_accessed_at": now},
		"$inc": bson.M{"stats.access_count": 1},
	})

	return content, true, nil
}

func (r *repo) resolveContent(ctx context.Context, entry *domain.CacheEntry) ([]byte, error) {
	if len(entry.ContentInline) > 0 {
		return entry.ContentInline, nil
	}
	if entry.ContentHandle == "" {
		return nil, nil
	}
	if r.bucket == nil {
		return nil, errors.New("cacherepo: entry has a large-object handle but no GridFS bucket is configured")
	}
	var buf bytes.Buffer
	if _, err := r.bucket.DownloadToStreamByName(entry.ContentHandle, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (r *repo) Store(dbc dbctx.Context, url string, content []byte, etag, lastModified string, domainCount int) error {
	c := ctxOf(dbc)
	id := r.KeyFor(url)
	now := time.Now().UTC()

	sum := sha256.Sum256(content)
	contentHash := hex.EncodeToString(sum[:])

	var existing domain.CacheEntry
	hadExisting := true
	if err := r.coll.FindOne(c, bson.M{"_id": id}).Decode(&existing); errors.Is(err, mongo.ErrNoDocuments) {
		hadExisting = false
	} else if err != nil {
		return err
	}

	set := bson.M{
		"url":                url,
		"content_hash":       contentHash,
		"etag":               etag,
		"last_modified":      lastModified,
		"stats.size_bytes":   int64(len(content)),
		"stats.domain_count": domainCount,
		"stats.last_download_at": now,
		"updated_at":             now,
	}
	unset := bson.M{}

	if int64(len(content)) <= r.threshold || r.bucket == nil {
		set["content_inline"] = content
		unset["content_handle"] = ""
	} else {
		handle := id + "-" + now.Format("20060102150405.000000000")
		uploadStream, err := r.bucket.OpenUploadStream(handle)
		if err != nil {
			return err
		}
		if _, err := uploadStream.Write(content); err != nil {
			_ = uploadStream.Close()
			return err
		}
		if err := uploadStream.Close(); err != nil {
			return err
		}
		set["content_handle"] = handle
		unset["content_inline"] = ""
	}

	update := bson.M{
		"$set": set,
		"$inc": bson.M{"stats.download_count": 1},
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	if _, err := r.coll.UpdateOne(c, bson.M{"_id": id}, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return err
	}

	// Best-effort cleanup of the previous large object on replacement; a
	// leak here is swept later by CleanupStale (§4.3).
	if hadExisting && existing.ContentHandle != "" && existing.ContentHandle != set["content_handle"] && r.bucket != nil {
		if fileID, err := r.bucket.GetFilesCollection().FindOne(c, bson.M{"filename": existing.ContentHandle}); err == nil {
			var fdoc bson.M
			if decErr := fileID.Decode(&fdoc); decErr == nil {
				if oid, ok := fdoc["_id"]; ok {
					_ = r.bucket.Delete(oid)
				}
			}
		}
	}

	return nil
}

func (r *repo) HasValidCache(dbc dbctx.Context, url string, ttl time.Duration) (bool, error) {
	c := ctxOf(dbc)
	id := r.KeyFor(url)
	cutoff := time.Now().UTC().Add(-ttl)

	var entry domain.CacheEntry
	err := r.coll.FindOne(c, bson.M{"_id": id}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(entry.ContentInline) == 0 && entry.ContentHandle == "" {
		return false, nil
	}
	return !entry.UpdatedAt.Before(cutoff), nil
}

func (r *repo) UpdateDomainCount(dbc dbctx.Context, url string, domainCount int) error {
	id := r.KeyFor(url)
	_, err := r.coll.UpdateOne(ctxOf(dbc),
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"stats.domain_count": domainCount}},
	)
	return err
}

func (r *repo) PreviousDomainCount(dbc dbctx.Context, url string) (int, bool, error) {
	id := r.KeyFor(url)
	var entry domain.CacheEntry
	err := r.coll.FindOne(ctxOf(dbc), bson.M{"_id": id}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return entry.Stats.DomainCount, true, nil
}

func (r *repo) CleanupStale(dbc dbctx.Context, ttl time.Duration) (int64, error) {
	c := ctxOf(dbc)
	cutoff := time.Now().UTC().Add(-ttl)
	filter := bson.M{"updated_at": bson.M{"$lt": cutoff}}

	cur, err := r.coll.Find(c, filter)
	if err != nil {
		return 0, err
	}
	var handles []string
	for cur.Next(c) {
		var entry domain.CacheEntry
		if err := cur.Decode(&entry); err != nil {
			_ = cur.Close(c)
			return 0, err
		}
		if entry.ContentHandle != "" {
			handles = append(handles, entry.ContentHandle)
		}
	}
	if err := cur.Err(); err != nil {
		_ = cur.Close(c)
		return 0, err
	}
	_ = cur.Close(c)

	if r.bucket != nil {
		for _, h := range handles {
			res, err := r.bucket.GetFilesCollection().Find(c, bson.M{"filename": h})
			if err != nil {
				continue
			}
			for res.Next(c) {
				var fdoc bson.M
				if err := res.Decode(&fdoc); err != nil {
					continue
				}
				if oid, ok := fdoc["_id"]; ok {
					_ = r.bucket.Delete(oid)
				}
			}
			_ = res.Close(c)
		}
	}

	result, err := r.coll.DeleteMany(c, filter)
	if err != nil {
		return 0, err
	}
	return result.DeletedCount, nil
}
