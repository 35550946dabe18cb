package model

import "sort"

// Registry is the in-memory set of tracked pull requests for one
// repository, plus that repository's configuration (§4.2). Access is
// single-threaded: only the owning supervisor goroutine ever touches a
// Registry.
type Registry struct {
	Config *RepoConfig
	pulls  map[int]*PullRequest
	builds map[Key][]*BuildResult
}

func NewRegistry(cfg *RepoConfig) *Registry {
	return &Registry{
		Config: cfg,
		pulls:  make(map[int]*PullRequest),
		builds: make(map[Key][]*BuildResult),
	}
}

// RecordBuild appends or replaces the tracked result for res.Builder
// against the pull request res belongs to. Results whose SHA no longer
// matches the pull request's current integration SHA are kept (the
// caller decides relevance via BuildResult.IsCurrent) rather than
// discarded here, so a late-arriving status for a superseded SHA never
// silently vanishes from an audit trail.
func (r *Registry) RecordBuild(key Key, res *BuildResult) {
	existing := r.builds[key]
	for i, b := range existing {
		if b.Builder == res.Builder {
			existing[i] = res
			return
		}
	}
	r.builds[key] = append(existing, res)
}

// BuildsFor returns the tracked build results for key.
func (r *Registry) BuildsFor(key Key) []*BuildResult {
	return r.builds[key]
}

// ClearBuilds drops all tracked build results for key, used when a pull
// request starts a fresh Testing run.
func (r *Registry) ClearBuilds(key Key) {
	delete(r.builds, key)
}

func (r *Registry) Get(number int) (*PullRequest, bool) {
	pr, ok := r.pulls[number]
	return pr, ok
}

// GetOrCreate returns the tracked pull request for number, creating a
// fresh Pending record if this is the first time it has been seen.
func (r *Registry) GetOrCreate(number int) (*PullRequest, bool) {
	pr, ok := r.pulls[number]
	if ok {
		return pr, false
	}
	pr = &PullRequest{
		Repo:   r.Config.Label(),
		Number: number,
		State:  StatePending,
	}
	r.pulls[number] = pr
	return pr, true
}

func (r *Registry) Put(pr *PullRequest) {
	r.pulls[pr.Number] = pr
}

func (r *Registry) Remove(number int) {
	delete(r.pulls, number)
	delete(r.builds, Key{Repo: r.Config.Label(), Number: number})
}

func (r *Registry) Len() int {
	return len(r.pulls)
}

// Testing returns the pull request that represents the in-flight Testing
// build, if any. The invariant of §3.2 (at most one Testing pull request
// per repository) is enforced by the Scheduler, never by the Registry
// itself; what the Registry does guarantee is that when a rollup is
// Testing, every constituent shares the same State and MergeSHA but only
// the lead candidate carries a non-empty RollupOf (set once, in
// Scheduler.startIntegration). Iterating r.pulls in map order would let
// this return an arbitrary constituent instead of the lead, so a rollup
// lead is always preferred over a bare constituent when both are present.
func (r *Registry) Testing() *PullRequest {
	var testing *PullRequest
	for _, pr := range r.pulls {
		if pr.State != StateTesting {
			continue
		}
		if len(pr.RollupOf) > 0 {
			return pr // the lead is the canonical tracking record for its rollup
		}
		testing = pr
	}
	return testing
}

// Ordered returns every tracked pull request sorted per §4.2: try first,
// then higher priority, then non-rollup before rollup within the same
// priority (so a solo merge candidate wins over an available rollup
// prefix, per §8 scenario 3), then lower pull-request id. The result is
// a fresh slice; callers may filter it freely without touching the
// Registry.
func (r *Registry) Ordered() []*PullRequest {
	out := make([]*PullRequest, 0, len(r.pulls))
	for _, pr := range r.pulls {
		out = append(out, pr)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i], out[j])
	})
	return out
}

func less(a, b *PullRequest) bool {
	if a.Try != b.Try {
		return a.Try // try == true sorts first
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority // higher priority first
	}
	if a.Rollup != b.Rollup {
		return !a.Rollup // non-rollup sorts first within the same priority
	}
	return a.Number < b.Number // lower id first
}
