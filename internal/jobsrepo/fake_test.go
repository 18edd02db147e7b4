package jobsrepo

import (
	"sync"
	"testing"
	"time"

	"github.com/zachlagden/listworker/internal/domain"
	"github.com/zachlagden/listworker/internal/platform/dbctx"
)

// fakeRepo is an in-memory stand-in for Repo used to pin down the
// claim-race contract (§8 "two workers calling claim against the same
// queued job... at most one gets a job document") without a running
// Mongo instance, per the ambient test-tooling note on repository-layer
// coverage.
type fakeRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newFakeRepo(jobs ...*domain.Job) *fakeRepo {
	m := make(map[string]*domain.Job, len(jobs))
	for _, j := range jobs {
		m[j.ID] = j
	}
	return &fakeRepo{jobs: m}
}

func (f *fakeRepo) Claim(dbc dbctx.Context, workerID string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *domain.Job
	for _, j := range f.jobs {
		if j.Status != domain.StatusQueued || j.WorkerID != nil {
			continue
		}
		if best == nil || j.Priority < best.Priority || (j.Priority == best.Priority && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	best.Status = domain.StatusProcessing
	best.WorkerID = &workerID
	best.ClaimedAt = &now
	best.StartedAt = &now
	best.HeartbeatAt = &now

	copyJob := *best
	return &copyJob, nil
}

func (f *fakeRepo) Heartbeat(dbctx.Context, string, string) (bool, error) { return true, nil }
func (f *fakeRepo) UpdateProgress(dbctx.Context, string, domain.Progress) error { return nil }
func (f *fakeRepo) Complete(dbctx.Context, string, domain.Result) error { return nil }
func (f *fakeRepo) Fail(dbctx.Context, string, domain.Result) error { return nil }
func (f *fakeRepo) Skip(dbctx.Context, string, domain.Result) error { return nil }
func (f *fakeRepo) Release(dbctx.Context, string, string) error { return nil }
func (f *fakeRepo) ReleaseAll(dbctx.Context, string) (int64, error) { return 0, nil }
func (f *fakeRepo) FindStaleSince(dbctx.Context, time.Time) ([]*domain.Job, error) { return nil, nil }

var _ Repo = (*fakeRepo)(nil)

func TestClaimRaceExactlyOneWinner(t *testing.T) {
	job := &domain.Job{ID: "job-1", TenantID: "alice", Status: domain.StatusQueued, CreatedAt: time.Now()}
	repo := newFakeRepo(job)

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan *domain.Job, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			claimed, err := repo.Claim(dbctx.Background(), "worker-"+string(rune('a'+n)))
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if claimed != nil {
				wins <- claimed
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one winner, got %d", count)
	}
}

func TestClaimOrdersByPriorityThenCreatedAt(t *testing.T) {
	now := time.Now()
	low := &domain.Job{ID: "low", Status: domain.StatusQueued, Priority: 5, CreatedAt: now}
	high := &domain.Job{ID: "high", Status: domain.StatusQueued, Priority: 1, CreatedAt: now.Add(time.Second)}
	lowOlder := &domain.Job{ID: "low-older", Status: domain.StatusQueued, Priority: 5, CreatedAt: now.Add(-time.Second)}
	repo := newFakeRepo(low, high, lowOlder)

	claimed, err := repo.Claim(dbctx.Background(), "worker-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed == nil || claimed.ID != "high" {
		t.Fatalf("expected to claim the higher-priority job, got %+v", claimed)
	}

	claimed, err = repo.Claim(dbctx.Background(), "worker-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed == nil || claimed.ID != "low-older" {
		t.Fatalf("expected equal priority to fall back to the older job, got %+v", claimed)
	}
}

func TestClaimReturnsNoJobWhenQueueEmpty(t *testing.T) {
	repo := newFakeRepo()
	claimed, err := repo.Claim(dbctx.Background(), "worker-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected no job, got %+v", claimed)
	}
}
