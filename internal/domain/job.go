// Package domain holds the shared data-model types persisted to the
// document store: jobs, progress, results, cache entries, and tenant
// configuration/stats.
package domain

import "time"

// JobOrigin is the collaborator that enqueued a job.
type JobOrigin string

const (
	OriginManual    JobOrigin = "manual"
	OriginScheduled JobOrigin = "scheduled"
	OriginAdmin     JobOrigin = "admin"
)

// JobStatus is the lifecycle state of a job (§3 Lifecycle).
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusSkipped    JobStatus = "skipped"
)

// DefaultTenant is the reserved tenant id for the system-wide default build.
const DefaultTenant = "__default__"

// Job is the persisted unit of work claimed by exactly one worker at a time.
type Job struct {
	ID       string    `bson:"_id"`
	TenantID string    `bson:"tenant_id"`
	Origin   JobOrigin `bson:"origin"`
	Priority int       `bson:"priority"`
	Status   JobStatus `bson:"status"`

	CreatedAt    time.Time  `bson:"created_at"`
	ClaimedAt    *time.Time `bson:"claimed_at,omitempty"`
	StartedAt    *time.Time `bson:"started_at,omitempty"`
	HeartbeatAt  *time.Time `bson:"heartbeat_at,omitempty"`
	CompletedAt  *time.Time `bson:"completed_at,omitempty"`
	WorkerID     *string    `bson:"worker_id,omitempty"`

	Progress Progress `bson:"progress"`
	Result   *Result  `bson:"result,omitempty"`
}

// Stage is the pipeline's current step, monotonically increasing within a
// job's lifetime (§5 "monotone stage enum").
type Stage string

const (
	StageQueue       Stage = "queue"
	StageDownloading Stage = "downloading"
	StageWhitelist   Stage = "whitelist"
	StageGeneration  Stage = "generation"
	StageCompleted   Stage = "completed"
)

var stageRank = map[Stage]int{
	StageQueue:       0,
	StageDownloading: 1,
	StageWhitelist:   2,
	StageGeneration:  3,
	StageCompleted:   4,
}

// Rank returns the stage's position in the fixed pipeline order, or -1
// for an unknown stage. Progress writes do not check it; the processor
// assigns stages in pipeline order itself.
func (s Stage) Rank() int {
	if r, ok := stageRank[s]; ok {
		return r
	}
	return -1
}

// SourceStatus is the per-source download/processing state.
type SourceStatus string

const (
	SourcePending     SourceStatus = "pending"
	SourceDownloading SourceStatus = "downloading"
	SourceProcessing  SourceStatus = "processing"
	SourceCompleted   SourceStatus = "completed"
	SourceFailed      SourceStatus = "failed"
)

// SourceProgress tracks one blocklist source through download and extraction.
type SourceProgress struct {
	ID           string       `bson:"id"`
	Name         string       `bson:"name"`
	URL          string       `bson:"url"`
	Status       SourceStatus `bson:"status"`
	CacheHit     bool         `bson:"cache_hit"`
	BytesDown    int64        `bson:"bytes_downloaded"`
	DomainCount  int          `bson:"domain_count"`
	DomainDelta  *int         `bson:"domain_delta,omitempty"`
	Error        string       `bson:"error,omitempty"`
	Warnings     []string     `bson:"warnings,omitempty"`
	StartedAt    *time.Time   `bson:"started_at,omitempty"`
	EndedAt      *time.Time   `bson:"ended_at,omitempty"`
}

// PatternMatch is a whitelist pattern and how many domains it removed.
type PatternMatch struct {
	Pattern string `bson:"pattern"`
	Count   int    `bson:"count"`
}

// WhitelistProgress summarizes the whitelist stage's effect on the domain set.
type WhitelistProgress struct {
	DomainsBefore int            `bson:"domains_before"`
	DomainsAfter  int            `bson:"domains_after"`
	TotalRemoved  int            `bson:"total_removed"`
	TopPatterns   []PatternMatch `bson:"top_patterns,omitempty"`
}

// FormatProgress tracks one of the three emitted files for a list.
type FormatProgress struct {
	Format   string `bson:"format"`
	Written  int    `bson:"written"`
	Total    int    `bson:"total"`
	Bytes    int64  `bson:"bytes"`
}

// GenerationProgress tracks the output-writing stage.
type GenerationProgress struct {
	CurrentFormat string           `bson:"current_format,omitempty"`
	Formats       []FormatProgress `bson:"formats,omitempty"`
}

// Progress is the full machine-readable progress document consumed by a
// separate UI/API (§3, §6.6).
type Progress struct {
	Stage       Stage              `bson:"stage"`
	Total       int                `bson:"total"`
	Processed   int                `bson:"processed"`
	Sources     []SourceProgress   `bson:"sources,omitempty"`
	Whitelist   *WhitelistProgress `bson:"whitelist,omitempty"`
	Generation  *GenerationProgress `bson:"generation,omitempty"`
}

// OutputFile describes one emitted compressed list file (§3 Result).
type OutputFile struct {
	Name        string `bson:"name"`
	Format      string `bson:"format"`
	Bytes       int64  `bson:"bytes"`
	DomainCount int    `bson:"domain_count"`
}

// ResultKind is the tag of the Result sum type (§9 "Polymorphism over
// result status").
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultFailure ResultKind = "failure"
	ResultSkipped ResultKind = "skipped"
	ResultCopied  ResultKind = "copied"
)

// Result is the terminal outcome document for a job. It is a tagged union:
// callers should switch on Kind and only read the fields that kind defines.
// MarshalBSON/UnmarshalBSON (result_bson.go) flatten/inflate this at the
// database boundary so the persisted document stays a single flat shape.
type Result struct {
	Kind ResultKind

	// success / copied
	SourcesProcessed  int
	SourcesFailed     int
	TotalDomains      int
	UniqueDomains     int
	WhitelistRemoved  int
	Files             []OutputFile
	Categories        map[string]int
	Warnings          []string
	CopiedFromTenant  string // copied only

	// failure
	Error string

	// skipped
	SkipReason string
}
