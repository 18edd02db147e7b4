// Package pipeline is the processor: the orchestrator that drives one
// job through config load, the two skip optimizations, download,
// extract, whitelist, generate, and commit (§4.7). It is the largest
// single component, matching the teacher's own heaviest modules in the
// way it threads a repo set and a logger through one long method that
// runs every stage in turn rather than a generic interpreter.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zachlagden/listworker/internal/cacherepo"
	"github.com/zachlagden/listworker/internal/domain"
	"github.com/zachlagden/listworker/internal/downloader"
	"github.com/zachlagden/listworker/internal/extractor"
	"github.com/zachlagden/listworker/internal/generator"
	"github.com/zachlagden/listworker/internal/jobsrepo"
	"github.com/zachlagden/listworker/internal/platform/dbctx"
	"github.com/zachlagden/listworker/internal/platform/logger"
	"github.com/zachlagden/listworker/internal/sourceconfig"
	"github.com/zachlagden/listworker/internal/tenantsrepo"
	"github.com/zachlagden/listworker/internal/whitelist"
)

const configSeparator = "\n---SEPARATOR---\n"
const fingerprintSeparator = "\n---\n"

// allDomainsCategory is the name of the combined output list that is
// the union of every category bucket except nsfw (§4.7 Step 7).
const allDomainsCategory = "all_domains"

// excludedFromAllDomains is the one category kept out of the combined
// list (§4.7 Step 7, "except a category literally named nsfw").
const excludedFromAllDomains = "nsfw"

// Processor orchestrates one job from claim to terminal status.
type Processor struct {
	Jobs        jobsrepo.Repo
	Cache       cacherepo.Repo
	Configs     tenantsrepo.ConfigRepo
	Stats       tenantsrepo.StatsRepo
	Downloader  *downloader.Downloader
	DataDir     string
	CacheTTL    time.Duration
	MaxDownload int
	Log         *logger.Logger
}

// ProcessJob runs the full pipeline for job (§4.7 entry point). Any
// error returned here is the processor's signal to the worker loop that
// the job must be marked failed with the error text (§4.7 "Failure
// policy", last sentence); every other failure path inside ProcessJob
// writes its own terminal status and returns nil.
func (p *Processor) ProcessJob(ctx context.Context, job *domain.Job) error {
	dbc := dbctx.Context{Ctx: ctx}
	log := p.Log.With("job_id", job.ID, "tenant_id", job.TenantID)

	// Step 0 — load config.
	cfg, err := p.Configs.Get(dbc, job.TenantID)
	if err != nil {
		return p.fail(dbc, job, fmt.Errorf("load config: %w", err))
	}
	if cfg == nil {
		return p.failResult(dbc, job, "tenant config not found")
	}

	sources, err := sourceconfig.Parse(cfg.Blocklists)
	if err != nil {
		return p.failResult(dbc, job, fmt.Sprintf("config-error: %s", err))
	}
	if len(sources) == 0 {
		return p.failResult(dbc, job, "No valid sources in config")
	}

	// Step 1 — compute fingerprints.
	configHash := computeConfigHash(cfg.Blocklists, cfg.Whitelist)
	wl := whitelist.Compile(cfg.Whitelist)
	configFingerprint := computeConfigFingerprint(sources, wl)

	// Step 2 — self-match skip.
	existingStats, err := p.Stats.Get(dbc, job.TenantID)
	if err != nil {
		log.Warn("tenant stats lookup failed, proceeding with full build", "error", err)
	}
	if existingStats != nil && existingStats.ConfigHash == configHash {
		allCached, err := p.Downloader.CheckAllCached(dbc, sources, p.CacheTTL)
		if err != nil {
			log.Warn("check-all-cached failed, proceeding with full build", "error", err)
		} else if allCached {
			return p.skip(dbc, job, "No changes detected since last build.")
		}
	}

	// Step 3 — cross-tenant copy skip.
	if copied := p.tryCrossTenantCopy(dbc, job, configFingerprint, log); copied {
		return nil
	}

	// Step 4 — download.
	progress := domain.Progress{
		Stage: domain.StageDownloading,
		Total: len(sources),
		Sources: make([]domain.SourceProgress, len(sources)),
	}
	for i, s := range sources {
		progress.Sources[i] = domain.SourceProgress{
			ID:     sourceID(s.URL),
			Name:   s.Name,
			URL:    s.URL,
			Status: domain.SourcePending,
		}
	}
	if err := p.Jobs.UpdateProgress(dbc, job.ID, progress); err != nil {
		log.Warn("progress write failed", "error", err)
	}

	results := p.Downloader.Batch(ctx, dbc, sources, p.MaxDownload, func(i int, res downloader.SourceResult) {
		sp := &progress.Sources[i]
		sp.CacheHit = res.CacheHit
		sp.BytesDown = res.BytesFetched
		if res.Error != nil {
			sp.Status = domain.SourceFailed
			sp.Error = res.Error.Error()
		} else {
			sp.Status = domain.SourceCompleted
		}
		progress.Processed++
		if err := p.Jobs.UpdateProgress(dbc, job.ID, progress); err != nil {
			log.Warn("progress write failed", "error", err)
		}
	})

	sourcesFailed := 0
	for _, r := range results {
		if r.Error != nil {
			sourcesFailed++
		}
	}
	if sourcesFailed == len(results) {
		return p.failResult(dbc, job, "All source downloads failed")
	}

	// Step 5 — extract and bucket by category.
	byCategory := make(map[string][]string)
	totalDomains := 0
	var warnings []string

	for i, r := range results {
		if r.Error != nil {
			continue
		}
		source := sources[i]

		extracted := extractor.Extract(r.Content)
		domainCount := len(extracted.Domains)
		totalDomains += domainCount

		if prev, had, err := p.Cache.PreviousDomainCount(dbc, source.URL); err == nil && had {
			delta := domainCount - prev
			progress.Sources[i].DomainDelta = &delta
		}
		progress.Sources[i].DomainCount = domainCount
		if err := p.Cache.UpdateDomainCount(dbc, source.URL, domainCount); err != nil {
			log.Warn("cache domain-count update failed", "url", source.URL, "error", err)
			warnings = append(warnings, "cache store failed, degraded to uncached")
		}

		byCategory[source.Category] = append(byCategory[source.Category], extracted.Domains...)
	}
	if err := p.Jobs.UpdateProgress(dbc, job.ID, progress); err != nil {
		log.Warn("progress write failed", "error", err)
	}

	if totalDomains == 0 || allBucketsEmpty(byCategory) {
		return p.failResult(dbc, job, "No domains extracted")
	}

	// Step 6 — whitelist.
	progress.Stage = domain.StageWhitelist
	allDomains := unionAll(byCategory)
	globalFilter := whitelist.Filter(wl, allDomains)

	for cat, domains := range byCategory {
		res := whitelist.Filter(wl, domains)
		if len(res.Kept) == 0 {
			delete(byCategory, cat)
			continue
		}
		byCategory[cat] = res.Kept
	}

	if len(wl.Dropped) > 0 {
		for _, d := range wl.Dropped {
			warnings = append(warnings, fmt.Sprintf("whitelist pattern dropped due to invalid regex: %q (%s)", d.Pattern, d.Err))
		}
	}

	progress.Whitelist = &domain.WhitelistProgress{
		DomainsBefore: len(allDomains),
		DomainsAfter:  len(allDomains) - globalFilter.RemovedCount,
		TotalRemoved:  globalFilter.RemovedCount,
	}
	for _, pc := range globalFilter.TopPatterns {
		progress.Whitelist.TopPatterns = append(progress.Whitelist.TopPatterns, domain.PatternMatch{Pattern: pc.Pattern, Count: pc.Count})
	}
	if err := p.Jobs.UpdateProgress(dbc, job.ID, progress); err != nil {
		log.Warn("progress write failed", "error", err)
	}

	// Step 7 — generate.
	progress.Stage = domain.StageGeneration
	outDir := outputDir(p.DataDir, job.TenantID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return p.fail(dbc, job, fmt.Errorf("generate-error: %w", err))
	}
	if err := clearGeneratedFiles(outDir); err != nil {
		return p.fail(dbc, job, fmt.Errorf("generate-error: %w", err))
	}

	var outputFiles []domain.OutputFile
	categoryCounts := make(map[string]int)

	for cat, domains := range byCategory {
		if cat == "" {
			continue
		}
		files, err := p.writeList(outDir, cat, domains, &progress)
		if err != nil {
			return p.fail(dbc, job, fmt.Errorf("generate-error: %w", err))
		}
		outputFiles = append(outputFiles, files...)
		categoryCounts[cat] = len(domains)
	}
	// A source with no category shares the empty-string ("None") bucket,
	// which is folded into the combined list only, per §4.7 Step 5.
	if untagged, ok := byCategory[""]; ok {
		categoryCounts["(uncategorized)"] = len(untagged)
	}

	combined := unionExcept(byCategory, excludedFromAllDomains)
	combinedFiles, err := p.writeList(outDir, allDomainsCategory, combined, &progress)
	if err != nil {
		return p.fail(dbc, job, fmt.Errorf("generate-error: %w", err))
	}
	outputFiles = append(outputFiles, combinedFiles...)

	// Step 8 — commit.
	uniqueDomains := 0
	for _, f := range combinedFiles {
		if f.Format == "hosts" {
			uniqueDomains = f.DomainCount
			break
		}
	}

	var totalOutputBytes int64
	for _, f := range outputFiles {
		totalOutputBytes += f.Bytes
	}

	result := domain.Success(len(results)-sourcesFailed, sourcesFailed, totalDomains, uniqueDomains, globalFilter.RemovedCount, outputFiles, categoryCounts, warnings)

	if err := p.Jobs.Complete(dbc, job.ID, result); err != nil {
		return err
	}

	lists := buildListStats(outputFiles)
	now := time.Now().UTC()
	newStats := domain.TenantBuildStats{
		TenantID:          job.TenantID,
		ConfigHash:        configHash,
		ConfigFingerprint: configFingerprint,
		TotalDomains:      totalDomains,
		TotalOutputBytes:  totalOutputBytes,
		LastBuildAt:       &now,
		Lists:             lists,
		Enabled:           true,
	}
	if err := p.Stats.Upsert(dbc, newStats); err != nil {
		log.Warn("tenant stats write failed", "error", err)
	}

	return nil
}

func (p *Processor) writeList(outDir, name string, domains []string, progress *domain.Progress) ([]domain.OutputFile, error) {
	sorted := dedupeSorted(domains)
	progress.Generation = &domain.GenerationProgress{CurrentFormat: name}

	written, err := generator.WriteList(outDir, name, sorted)
	if err != nil {
		return nil, err
	}

	var out []domain.OutputFile
	for _, format := range []string{"hosts", "plain", "adblock"} {
		w, ok := written[format]
		if !ok {
			continue
		}
		out = append(out, domain.OutputFile{
			Name:        filepath.Base(w.Path),
			Format:      format,
			Bytes:       w.Bytes,
			DomainCount: len(sorted),
		})
	}
	return out, nil
}

func (p *Processor) tryCrossTenantCopy(dbc dbctx.Context, job *domain.Job, fingerprint string, log *logger.Logger) bool {
	candidate, err := p.Stats.FindByFingerprint(dbc, fingerprint, job.TenantID)
	if err != nil {
		log.Warn("cross-tenant fingerprint lookup failed, falling back to full build", "error", err)
		return false
	}
	if job.TenantID != domain.DefaultTenant {
		if defaultStats, err := p.Stats.Get(dbc, domain.DefaultTenant); err == nil && defaultStats != nil &&
			defaultStats.ConfigFingerprint == fingerprint && defaultStats.Enabled && len(defaultStats.Lists) > 0 {
			if candidate == nil || (defaultStats.LastBuildAt != nil && (candidate.LastBuildAt == nil || defaultStats.LastBuildAt.After(*candidate.LastBuildAt))) {
				candidate = defaultStats
			}
		}
	}
	if candidate == nil {
		return false
	}

	srcDir := outputDir(p.DataDir, candidate.TenantID)
	dstDir := outputDir(p.DataDir, job.TenantID)

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		log.Warn("cross-tenant copy setup failed, falling back to full build", "error", err)
		return false
	}
	if err := clearGeneratedFiles(dstDir); err != nil {
		log.Warn("cross-tenant copy cleanup failed, falling back to full build", "error", err)
		return false
	}

	var copiedFiles []domain.OutputFile
	for _, list := range candidate.Lists {
		for _, f := range list.Formats {
			srcName := fmt.Sprintf("%s_%s.txt.gz", list.Name, f.Format)
			if err := copyFile(filepath.Join(srcDir, srcName), filepath.Join(dstDir, srcName)); err != nil {
				log.Warn("cross-tenant copy failed mid-way, falling back to full build", "error", err, "file", srcName)
				return false
			}
			copiedFiles = append(copiedFiles, domain.OutputFile{Name: srcName, Format: f.Format, Bytes: f.Bytes, DomainCount: list.DomainCount})
		}
	}

	categories := make(map[string]int, len(candidate.Lists))
	for _, l := range candidate.Lists {
		categories[l.Name] = l.DomainCount
	}

	result := domain.Copied(candidate.TenantID, copiedFiles, categories, firstHostsDomainCount(candidate.Lists))

	terminalProgress := domain.Progress{Stage: domain.StageCompleted, Total: 0, Processed: 0}
	if err := p.Jobs.UpdateProgress(dbc, job.ID, terminalProgress); err != nil {
		log.Warn("progress write failed", "error", err)
	}
	if err := p.Jobs.Complete(dbc, job.ID, result); err != nil {
		log.Warn("complete write failed after cross-tenant copy, falling back to full build", "error", err)
		return false
	}

	now := time.Now().UTC()
	newStats := *candidate
	newStats.TenantID = job.TenantID
	newStats.LastBuildAt = &now
	newStats.Enabled = true
	if err := p.Stats.Upsert(dbc, newStats); err != nil {
		log.Warn("tenant stats write failed after cross-tenant copy", "error", err)
	}

	return true
}

func firstHostsDomainCount(lists []domain.ListStats) int {
	for _, l := range lists {
		if l.Name == allDomainsCategory {
			return l.DomainCount
		}
	}
	return 0
}

// fail writes a failed terminal result for a processor-internal error and
// returns nil: the processor has already handled the failure, so the
// worker loop must not also try to mark the job failed (§4.7 "Failure
// policy" — only an error value returned from ProcessJob, meaning the
// terminal write itself could not be performed, triggers that path).
func (p *Processor) fail(dbc dbctx.Context, job *domain.Job, err error) error {
	if writeErr := p.Jobs.Fail(dbc, job.ID, domain.Failure(err.Error())); writeErr != nil {
		return writeErr
	}
	return nil
}

func (p *Processor) failResult(dbc dbctx.Context, job *domain.Job, reason string) error {
	return p.Jobs.Fail(dbc, job.ID, domain.Failure(reason))
}

func (p *Processor) skip(dbc dbctx.Context, job *domain.Job, reason string) error {
	return p.Jobs.Skip(dbc, job.ID, domain.Skipped(reason))
}

func computeConfigHash(blocklists, whitelistText string) string {
	sum := sha256.Sum256([]byte(blocklists + configSeparator + whitelistText))
	return hex.EncodeToString(sum[:])
}

func computeConfigFingerprint(sources []sourceconfig.Source, wl *whitelist.Spec) string {
	canonical := sourceconfig.Canonicalize(sources)
	patternLines := strings.Join(wl.Patterns(), "\n")
	sum := sha256.Sum256([]byte(canonical + fingerprintSeparator + patternLines))
	return hex.EncodeToString(sum[:])
}

func sourceID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func allBucketsEmpty(byCategory map[string][]string) bool {
	for _, v := range byCategory {
		if len(v) > 0 {
			return false
		}
	}
	return true
}

func unionAll(byCategory map[string][]string) []string {
	var out []string
	for _, v := range byCategory {
		out = append(out, v...)
	}
	return out
}

func unionExcept(byCategory map[string][]string, excluded string) []string {
	var out []string
	for cat, v := range byCategory {
		if cat == excluded {
			continue
		}
		out = append(out, v...)
	}
	return out
}

func dedupeSorted(domains []string) []string {
	seen := make(map[string]struct{}, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	extractor.Sort(out)
	return out
}

func buildListStats(files []domain.OutputFile) []domain.ListStats {
	byName := make(map[string]*domain.ListStats)
	order := make([]string, 0, len(files))
	for _, f := range files {
		name := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(f.Name, "_hosts.txt.gz"), "_plain.txt.gz"), "_adblock.txt.gz")
		ls, ok := byName[name]
		if !ok {
			ls = &domain.ListStats{Name: name, DomainCount: f.DomainCount}
			byName[name] = ls
			order = append(order, name)
		}
		ls.Formats = append(ls.Formats, domain.FormatSize{Format: f.Format, Bytes: f.Bytes})
	}
	out := make([]domain.ListStats, 0, len(order))
	sort.Strings(order)
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}

func outputDir(dataDir, tenantID string) string {
	if tenantID == domain.DefaultTenant {
		return filepath.Join(dataDir, "default", "output")
	}
	return filepath.Join(dataDir, "users", tenantID, "output")
}

func clearGeneratedFiles(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.gz"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, ".tmp-copy-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, dst)
}
