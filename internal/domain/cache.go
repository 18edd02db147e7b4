package domain

import "time"

// CacheStats are the access/download counters attached to a cache entry.
// They are recorded on every Get/Store; CleanupStale evicts by the
// entry's updated_at age only and does not read these counters.
type CacheStats struct {
	SizeBytes      int64      `bson:"size_bytes"`
	DomainCount    int        `bson:"domain_count"`
	DownloadCount  int        `bson:"download_count"`
	AccessCount    int        `bson:"access_count"`
	LastDownloadAt *time.Time `bson:"last_download_at,omitempty"`
	LastAccessedAt *time.Time `bson:"last_accessed_at,omitempty"`
}

// CacheEntry is a content-addressed record of a fetched source body.
// Primary key is the lowercase hex SHA-256 of the source URL. Content may
// be embedded (ContentInline) or live in a GridFS object referenced by
// ContentHandle; which mode is in play does not change the repository's
// external contract (§4.3, §9 "Cache content storage").
type CacheEntry struct {
	ID             string     `bson:"_id"`
	URL            string     `bson:"url"`
	ContentInline  []byte     `bson:"content_inline,omitempty"`
	ContentHandle  string     `bson:"content_handle,omitempty"`
	ETag           string     `bson:"etag,omitempty"`
	LastModified   string     `bson:"last_modified,omitempty"`
	ContentHash    string     `bson:"content_hash,omitempty"`
	Stats          CacheStats `bson:"stats"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}
