package domain

import "go.mongodb.org/mongo-driver/bson"

// resultDoc is the flat on-disk shape for Result. Keeping the wire shape
// separate from the in-memory sum type means adding a new Result kind
// never touches every existing document already stored with the old shape.
type resultDoc struct {
	Kind             ResultKind     `bson:"kind"`
	SourcesProcessed int            `bson:"sources_processed,omitempty"`
	SourcesFailed    int            `bson:"sources_failed,omitempty"`
	TotalDomains     int            `bson:"total_domains,omitempty"`
	UniqueDomains    int            `bson:"unique_domains,omitempty"`
	WhitelistRemoved int            `bson:"whitelist_removed,omitempty"`
	Files            []OutputFile   `bson:"files,omitempty"`
	Categories       map[string]int `bson:"categories,omitempty"`
	Warnings         []string       `bson:"warnings,omitempty"`
	CopiedFromTenant string         `bson:"copied_from_tenant,omitempty"`
	Error            string         `bson:"error,omitempty"`
	SkipReason       string         `bson:"skip_reason,omitempty"`
}

// MarshalBSON implements bson.Marshaler so Result can be stored as a plain
// document field on Job despite being a Go sum type in memory.
func (r Result) MarshalBSON() ([]byte, error) {
	doc := resultDoc{
		Kind:             r.Kind,
		SourcesProcessed: r.SourcesProcessed,
		SourcesFailed:    r.SourcesFailed,
		TotalDomains:     r.TotalDomains,
		UniqueDomains:    r.UniqueDomains,
		WhitelistRemoved: r.WhitelistRemoved,
		Files:            r.Files,
		Categories:       r.Categories,
		Warnings:         r.Warnings,
		CopiedFromTenant: r.CopiedFromTenant,
		Error:            r.Error,
		SkipReason:       r.SkipReason,
	}
	return bson.Marshal(doc)
}

// UnmarshalBSON implements bson.Unmarshaler, inflating the flat on-disk
// document back into the tagged Result.
func (r *Result) UnmarshalBSON(data []byte) error {
	var doc resultDoc
	if err := bson.Unmarshal(data, &doc); err != nil {
		return err
	}
	*r = Result{
		Kind:             doc.Kind,
		SourcesProcessed: doc.SourcesProcessed,
		SourcesFailed:    doc.SourcesFailed,
		TotalDomains:     doc.TotalDomains,
		UniqueDomains:    doc.UniqueDomains,
		WhitelistRemoved: doc.WhitelistRemoved,
		Files:            doc.Files,
		Categories:       doc.Categories,
		Warnings:         doc.Warnings,
		CopiedFromTenant: doc.CopiedFromTenant,
		Error:            doc.Error,
		SkipReason:       doc.SkipReason,
	}
	return nil
}

// Success builds a completed-build Result.
func Success(sourcesProcessed, sourcesFailed, totalDomains, uniqueDomains, whitelistRemoved int, files []OutputFile, categories map[string]int, warnings []string) Result {
	return Result{
		Kind:             ResultSuccess,
		SourcesProcessed: sourcesProcessed,
		SourcesFailed:    sourcesFailed,
		TotalDomains:     totalDomains,
		UniqueDomains:    uniqueDomains,
		WhitelistRemoved: whitelistRemoved,
		Files:            files,
		Categories:       categories,
		Warnings:         warnings,
	}
}

// Failure builds a failed-build Result.
func Failure(err string) Result {
	return Result{Kind: ResultFailure, Error: err}
}

// Skipped builds a skip-optimization Result.
func Skipped(reason string) Result {
	return Result{Kind: ResultSkipped, SkipReason: reason}
}

// Copied builds a cross-tenant-reuse Result.
func Copied(fromTenant string, files []OutputFile, categories map[string]int, uniqueDomains int) Result {
	return Result{
		Kind:             ResultCopied,
		CopiedFromTenant: fromTenant,
		Files:            files,
		Categories:       categories,
		UniqueDomains:    uniqueDomains,
	}
}
