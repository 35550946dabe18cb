package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/homu-project/homu/internal/ciprovider"
	"github.com/homu-project/homu/internal/hostclient"
	"github.com/homu-project/homu/internal/metrics"
	"github.com/homu-project/homu/internal/model"
)

// fakeHost is a hand-written stand-in for hostclient.Host, in the
// teacher's fake-over-generated-mock style (hostclient/github_test.go).
type fakeHost struct {
	mergeSHA  string
	mergeErr  error
	pushErr   error
	ffErr     error
	comments  []string
	mergeCall int
	ffCall    int
}

func (f *fakeHost) GetPullRequest(ctx context.Context, owner, repo string, number int) (*hostclient.PullRequestInfo, error) {
	return nil, nil
}
func (f *fakeHost) ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*hostclient.PullRequestInfo, error) {
	return nil, nil
}
func (f *fakeHost) ListComments(ctx context.Context, owner, repo string, number int, since time.Time) ([]hostclient.Comment, error) {
	return nil, nil
}
func (f *fakeHost) PostComment(ctx context.Context, owner, repo string, number int, body string) error {
	f.comments = append(f.comments, body)
	return nil
}
func (f *fakeHost) CreateMergeCommit(ctx context.Context, owner, repo, baseRef, headSHA, message string) (*hostclient.MergeCommit, error) {
	f.mergeCall++
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	sha := f.mergeSHA
	if sha == "" {
		sha = "merged-" + headSHA
	}
	return &hostclient.MergeCommit{SHA: sha}, nil
}
func (f *fakeHost) PushBranch(ctx context.Context, owner, repo, branch, sha string) error {
	return f.pushErr
}
func (f *fakeHost) FastForward(ctx context.Context, owner, repo, branch, sha string) error {
	f.ffCall++
	return f.ffErr
}
func (f *fakeHost) SetStatus(ctx context.Context, owner, repo, sha, statusContext, state, targetURL, description string) error {
	return nil
}
func (f *fakeHost) ValidateWebhookSignature(signatureHeader string, body []byte, secret []byte) error {
	return nil
}

// fakeStore is an in-memory stand-in for store.Store.
type fakeStore struct {
	pulls    map[model.Key]*model.PullRequest
	builds   []*model.BuildResult
	triggers []*model.BuildTrigger
	deleted  []model.Key
}

func newFakeStore() *fakeStore {
	return &fakeStore{pulls: make(map[model.Key]*model.PullRequest)}
}

func (s *fakeStore) UpsertPull(ctx context.Context, pr *model.PullRequest) error {
	cp := *pr
	s.pulls[pr.Key()] = &cp
	return nil
}
func (s *fakeStore) DeletePull(ctx context.Context, repo string, number int) error {
	s.deleted = append(s.deleted, model.Key{Repo: repo, Number: number})
	delete(s.pulls, model.Key{Repo: repo, Number: number})
	return nil
}
func (s *fakeStore) RecordBuild(ctx context.Context, b *model.BuildResult) error {
	s.builds = append(s.builds, b)
	return nil
}
func (s *fakeStore) LoadAll(ctx context.Context) (map[string][]*model.PullRequest, error) {
	return nil, nil
}
func (s *fakeStore) LoadBuildResults(ctx context.Context, repo string, number int) ([]*model.BuildResult, error) {
	return nil, nil
}
func (s *fakeStore) SetMergeable(ctx context.Context, repo string, number int, m model.Mergeable) error {
	return nil
}
func (s *fakeStore) RecordTrigger(ctx context.Context, t *model.BuildTrigger) error {
	s.triggers = append(s.triggers, t)
	return nil
}
func (s *fakeStore) IncrementTriggerCount(ctx context.Context, branch, triggerSHA string) error {
	return nil
}
func (s *fakeStore) Close() error { return nil }

type noopMetrics struct{ metrics.Provider }

func (noopMetrics) ObserveHTTPRequestDuration(handler, method, statusCode string, elapsed float64) {}
func (noopMetrics) IncreaseWebhookRequest(repo, kind string)                                       {}
func (noopMetrics) IncreaseWebhookAuthFailure(repo, kind string)                                   {}
func (noopMetrics) ObserveHostRequestDuration(handler, method, statusCode string, elapsed float64) {}
func (noopMetrics) IncreaseHostCacheHits(method, handler string)                                   {}
func (noopMetrics) IncreaseHostCacheMisses(method, handler string)                                 {}
func (noopMetrics) ObserveCronTaskDuration(name string, elapsed float64)                           {}
func (noopMetrics) IncreaseCronTaskErrors(name string)                                              {}
func (noopMetrics) ObserveSchedulerRunDuration(repo string, elapsed float64)                        {}
func (noopMetrics) SetQueueDepth(repo string, depth int)                                            {}

func testConfig() *model.RepoConfig {
	return &model.RepoConfig{
		Owner:             "acme",
		Name:              "widget",
		ProtectedBranch:   "main",
		IntegrationBranch: "homu-tmp",
		RequiredBuilders:  []string{"ci/build"},
		RollupCap:         3,
	}
}

func newScheduler(host *fakeHost, st *fakeStore) *Scheduler {
	return New(host, st, noopMetrics{}, zap.NewNop())
}

func approvedPR(reg *model.Registry, number int, headSHA string) *model.PullRequest {
	pr, _ := reg.GetOrCreate(number)
	pr.State = model.StateApproved
	pr.HeadSHA = headSHA
	pr.ApprovedBy = "reviewer1"
	pr.Title = "some change"
	reg.Put(pr)
	return pr
}

func TestRunStartsIntegrationForSingleCandidate(t *testing.T) {
	cfg := testConfig()
	reg := model.NewRegistry(cfg)
	approvedPR(reg, 1, "headsha1")

	host := &fakeHost{}
	st := newFakeStore()
	sched := newScheduler(host, st)

	err := sched.Run(context.Background(), reg)
	require.NoError(t, err)

	pr, ok := reg.Get(1)
	require.True(t, ok)
	require.Equal(t, model.StateTesting, pr.State)
	require.NotEmpty(t, pr.MergeSHA)
	require.Equal(t, 1, host.mergeCall)
	require.Len(t, st.triggers, 1)
}

func TestRunNoOpWhileTesting(t *testing.T) {
	cfg := testConfig()
	reg := model.NewRegistry(cfg)
	testing1, _ := reg.GetOrCreate(1)
	testing1.State = model.StateTesting
	testing1.MergeSHA = "already-building"
	reg.Put(testing1)
	approvedPR(reg, 2, "headsha2")

	host := &fakeHost{}
	st := newFakeStore()
	sched := newScheduler(host, st)

	require.NoError(t, sched.Run(context.Background(), reg))
	require.Equal(t, 0, host.mergeCall)
}

func TestRunPrefersTrySetOverMergeSet(t *testing.T) {
	cfg := testConfig()
	reg := model.NewRegistry(cfg)
	approvedPR(reg, 1, "headsha1")
	try, _ := reg.GetOrCreate(2)
	try.State = model.StateApproved
	try.Try = true
	try.HeadSHA = "headsha2"
	try.ApprovedBy = "reviewer1"
	reg.Put(try)

	host := &fakeHost{}
	st := newFakeStore()
	sched := newScheduler(host, st)

	require.NoError(t, sched.Run(context.Background(), reg))

	tried, _ := reg.Get(2)
	require.Equal(t, model.StateTesting, tried.State)
	plain, _ := reg.Get(1)
	require.Equal(t, model.StateApproved, plain.State)
}

// TestRunPicksNonRollupBeforeRollupPrefix covers §8 scenario 3: at equal
// priority, a plain merge candidate wins over an available rollup
// prefix, so rollupPrefix never applies until the non-rollup candidate
// is out of the way.
func TestRunPicksNonRollupBeforeRollupPrefix(t *testing.T) {
	cfg := testConfig()
	reg := model.NewRegistry(cfg)
	for _, n := range []int{1, 2} {
		pr := approvedPR(reg, n, "head"+string(rune('0'+n)))
		pr.Rollup = true
		reg.Put(pr)
	}
	solo := approvedPR(reg, 3, "head3")
	solo.Rollup = false
	reg.Put(solo)

	host := &fakeHost{}
	st := newFakeStore()
	sched := newScheduler(host, st)

	require.NoError(t, sched.Run(context.Background(), reg))

	require.Equal(t, 1, host.mergeCall)
	third, _ := reg.Get(3)
	require.Equal(t, model.StateTesting, third.State)
	require.Empty(t, third.RollupOf)

	first, _ := reg.Get(1)
	second, _ := reg.Get(2)
	require.Equal(t, model.StateApproved, first.State)
	require.Equal(t, model.StateApproved, second.State)
}

// TestRunBuildsRollupOnceNonRollupCandidateClears continues scenario 3's
// two-round sequence: once the solo non-rollup candidate fast-forwards
// and drops out of the registry, the next Run builds the remaining
// rollup-flagged pull requests together.
func TestRunBuildsRollupOnceNonRollupCandidateClears(t *testing.T) {
	cfg := testConfig()
	reg := model.NewRegistry(cfg)
	for _, n := range []int{1, 2} {
		pr := approvedPR(reg, n, "head"+string(rune('0'+n)))
		pr.Rollup = true
		reg.Put(pr)
	}
	solo := approvedPR(reg, 3, "head3")
	solo.Rollup = false
	reg.Put(solo)

	host := &fakeHost{}
	st := newFakeStore()
	sched := newScheduler(host, st)

	require.NoError(t, sched.Run(context.Background(), reg))
	third, _ := reg.Get(3)
	require.Equal(t, model.StateTesting, third.State)

	require.NoError(t, sched.RecordBuildResult(context.Background(), reg, third, &ciprovider.Result{
		Builder: "ci/build", SHA: third.MergeSHA, Verdict: model.VerdictSuccess,
	}))
	_, stillTracked := reg.Get(3)
	require.False(t, stillTracked, "the fast-forwarded non-rollup candidate is removed from the registry")

	// One merge commit for #3, then one per rollup constituent (#1, #2).
	require.Equal(t, 3, host.mergeCall)
	first, _ := reg.Get(1)
	second, _ := reg.Get(2)
	require.Equal(t, model.StateTesting, first.State)
	require.Equal(t, model.StateTesting, second.State)
	require.ElementsMatch(t, []int{1, 2}, first.RollupOf)
}

func TestStartIntegrationFailureMarksError(t *testing.T) {
	cfg := testConfig()
	reg := model.NewRegistry(cfg)
	approvedPR(reg, 1, "headsha1")

	host := &fakeHost{mergeErr: hostclient.ErrConflict}
	st := newFakeStore()
	sched := newScheduler(host, st)

	err := sched.Run(context.Background(), reg)
	require.Error(t, err)

	pr, _ := reg.Get(1)
	require.Equal(t, model.StateError, pr.State)
	require.Len(t, host.comments, 1)
}

func TestRecordBuildResultIgnoresStaleSHA(t *testing.T) {
	cfg := testConfig()
	reg := model.NewRegistry(cfg)
	pr := approvedPR(reg, 1, "headsha1")
	pr.State = model.StateTesting
	pr.MergeSHA = "current-sha"
	reg.Put(pr)

	host := &fakeHost{}
	st := newFakeStore()
	sched := newScheduler(host, st)

	err := sched.RecordBuildResult(context.Background(), reg, pr, &ciprovider.Result{
		Builder: "ci/build", SHA: "stale-sha", Verdict: model.VerdictFailure,
	})
	require.NoError(t, err)
	require.Equal(t, model.StateTesting, pr.State)
	require.Empty(t, st.builds)
}

func TestRecordBuildResultFastForwardsOnAllGreen(t *testing.T) {
	cfg := testConfig()
	reg := model.NewRegistry(cfg)
	pr := approvedPR(reg, 1, "headsha1")
	pr.State = model.StateTesting
	pr.MergeSHA = "current-sha"
	reg.Put(pr)

	host := &fakeHost{}
	st := newFakeStore()
	sched := newScheduler(host, st)

	err := sched.RecordBuildResult(context.Background(), reg, pr, &ciprovider.Result{
		Builder: "ci/build", SHA: "current-sha", Verdict: model.VerdictSuccess,
	})
	require.NoError(t, err)
	require.Equal(t, 1, host.ffCall)

	_, stillTracked := reg.Get(1)
	require.False(t, stillTracked)
}

func TestFastForwardConflictReturnsToApproved(t *testing.T) {
	cfg := testConfig()
	reg := model.NewRegistry(cfg)
	pr := approvedPR(reg, 1, "headsha1")
	pr.State = model.StateTesting
	pr.MergeSHA = "current-sha"
	reg.Put(pr)

	host := &fakeHost{ffErr: hostclient.ErrConflict}
	st := newFakeStore()
	sched := newScheduler(host, st)

	err := sched.RecordBuildResult(context.Background(), reg, pr, &ciprovider.Result{
		Builder: "ci/build", SHA: "current-sha", Verdict: model.VerdictSuccess,
	})
	require.NoError(t, err)
	require.Equal(t, 1, host.ffCall)

	// The scheduler re-run that follows a fast-forward conflict finds
	// the same pull request still the top candidate and starts a fresh
	// integration build for it immediately.
	after, ok := reg.Get(1)
	require.True(t, ok)
	require.Equal(t, model.StateTesting, after.State)
	require.Equal(t, 1, host.mergeCall)
}

func TestRecordBuildResultFailureWithoutBisectFailsWholeRollup(t *testing.T) {
	cfg := testConfig()
	cfg.BisectOnRollup = false
	reg := model.NewRegistry(cfg)
	first := approvedPR(reg, 1, "head1")
	second := approvedPR(reg, 2, "head2")
	lead := &model.PullRequest{Repo: cfg.Label(), Number: 1, State: model.StateTesting, MergeSHA: "rollup-sha", RollupOf: []int{1, 2}}
	first.State = model.StateTesting
	first.MergeSHA = "rollup-sha"
	second.State = model.StateTesting
	second.MergeSHA = "rollup-sha"
	reg.Put(first)
	reg.Put(second)

	host := &fakeHost{}
	st := newFakeStore()
	sched := newScheduler(host, st)

	err := sched.RecordBuildResult(context.Background(), reg, lead, &ciprovider.Result{
		Builder: "ci/build", SHA: "rollup-sha", Verdict: model.VerdictFailure,
	})
	require.NoError(t, err)

	p1, _ := reg.Get(1)
	p2, _ := reg.Get(2)
	require.Equal(t, model.StateFailure, p1.State)
	require.Equal(t, model.StateFailure, p2.State)
}

func TestRecordBuildResultFailureWithBisectBlamesFirst(t *testing.T) {
	cfg := testConfig()
	cfg.BisectOnRollup = true
	reg := model.NewRegistry(cfg)
	first := approvedPR(reg, 1, "head1")
	second := approvedPR(reg, 2, "head2")
	lead := &model.PullRequest{Repo: cfg.Label(), Number: 1, State: model.StateTesting, MergeSHA: "rollup-sha", RollupOf: []int{1, 2}}
	first.State = model.StateTesting
	first.MergeSHA = "rollup-sha"
	second.State = model.StateTesting
	second.MergeSHA = "rollup-sha"
	reg.Put(first)
	reg.Put(second)

	host := &fakeHost{}
	st := newFakeStore()
	sched := newScheduler(host, st)

	err := sched.RecordBuildResult(context.Background(), reg, lead, &ciprovider.Result{
		Builder: "ci/build", SHA: "rollup-sha", Verdict: model.VerdictFailure,
	})
	require.NoError(t, err)

	// The blamed candidate stays Failure; the cleared one is returned to
	// Approved and, since it is now the only candidate left, immediately
	// picked up again by the scheduler re-run for a solo retry.
	p1, _ := reg.Get(1)
	p2, _ := reg.Get(2)
	require.Equal(t, model.StateFailure, p1.State)
	require.Equal(t, model.StateTesting, p2.State)
	require.Equal(t, 1, host.mergeCall)
}

func TestRecordBuildResultTrySuccessReportsAndDoesNotFastForward(t *testing.T) {
	cfg := testConfig()
	reg := model.NewRegistry(cfg)
	pr := approvedPR(reg, 1, "headsha1")
	pr.Try = true
	pr.State = model.StateTesting
	pr.MergeSHA = "current-sha"
	reg.Put(pr)

	host := &fakeHost{}
	st := newFakeStore()
	sched := newScheduler(host, st)

	err := sched.RecordBuildResult(context.Background(), reg, pr, &ciprovider.Result{
		Builder: "ci/build", SHA: "current-sha", Verdict: model.VerdictSuccess, URL: "http://ci/1",
	})
	require.NoError(t, err)

	// A try build never fast-forwards the protected branch; it only
	// reports the outcome. Since the pull request stays Approved with
	// its try flag cleared, it is still a genuine merge candidate and
	// the scheduler re-run immediately starts a real integration build
	// for it (§4.3: it "returns to its pre-try state").
	require.Equal(t, 0, host.ffCall)
	require.Len(t, host.comments, 1)
	require.Equal(t, 1, host.mergeCall)

	after, ok := reg.Get(1)
	require.True(t, ok)
	require.Equal(t, model.StateTesting, after.State)
	require.False(t, after.Try)
}

func TestRecordBuildResultTryFailureReportsAndDoesNotFastForward(t *testing.T) {
	cfg := testConfig()
	reg := model.NewRegistry(cfg)
	pr := approvedPR(reg, 1, "headsha1")
	pr.Try = true
	pr.State = model.StateTesting
	pr.MergeSHA = "current-sha"
	reg.Put(pr)

	host := &fakeHost{}
	st := newFakeStore()
	sched := newScheduler(host, st)

	err := sched.RecordBuildResult(context.Background(), reg, pr, &ciprovider.Result{
		Builder: "ci/build", SHA: "current-sha", Verdict: model.VerdictFailure,
	})
	require.NoError(t, err)
	require.Equal(t, 0, host.ffCall)
	require.Len(t, host.comments, 1)
	require.Equal(t, 1, host.mergeCall)

	after, ok := reg.Get(1)
	require.True(t, ok)
	require.Equal(t, model.StateTesting, after.State)
	require.False(t, after.Try)
}
