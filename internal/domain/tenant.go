package domain

import "time"

// TenantConfig holds the raw, unparsed config languages for one tenant
// (§3 Tenant configuration, §6.4, §6.5). For DefaultTenant both fields
// live on a system-config record keyed by domain.SystemConfigID.
type TenantConfig struct {
	ID         string `bson:"_id"`
	Blocklists string `bson:"blocklists"`
	Whitelist  string `bson:"whitelist"`
}

// SystemConfigID is the well-known document id for the __default__ tenant's
// configuration record.
const SystemConfigID = "__system_config__"

// ListStats is per-output-list metadata kept on TenantBuildStats (§3,
// SPEC_FULL "Supplemented Features" #3).
type ListStats struct {
	Name        string           `bson:"name"`
	Formats     []FormatSize     `bson:"formats"`
	DomainCount int              `bson:"domain_count"`
}

// FormatSize is one emitted format's byte size within a ListStats entry.
type FormatSize struct {
	Format string `bson:"format"`
	Bytes  int64  `bson:"bytes"`
}

// TenantBuildStats records the outcome of a tenant's most recent build,
// including the two fingerprints used by the processor's skip
// optimizations (§3 Tenant build stats, §4.7).
type TenantBuildStats struct {
	TenantID          string      `bson:"_id"`
	ConfigHash        string      `bson:"config_hash,omitempty"`
	ConfigFingerprint string      `bson:"config_fingerprint,omitempty"`
	TotalDomains      int         `bson:"total_domains"`
	TotalOutputBytes  int64       `bson:"total_output_size_bytes"`
	LastBuildAt       *time.Time  `bson:"last_build_at,omitempty"`
	Lists             []ListStats `bson:"lists,omitempty"`
	Enabled           bool        `bson:"enabled"`
}
