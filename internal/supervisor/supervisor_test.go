package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/homu-project/homu/internal/ciprovider"
	"github.com/homu-project/homu/internal/hostclient"
	"github.com/homu-project/homu/internal/intake"
	"github.com/homu-project/homu/internal/metrics"
	"github.com/homu-project/homu/internal/model"
	"github.com/homu-project/homu/internal/scheduler"
)

type fakeHost struct {
	mergeErr error
	comments []string
	pr       *hostclient.PullRequestInfo
}

func (f *fakeHost) GetPullRequest(ctx context.Context, owner, repo string, number int) (*hostclient.PullRequestInfo, error) {
	return f.pr, nil
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
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	return &hostclient.MergeCommit{SHA: "merged-" + headSHA}, nil
}
func (f *fakeHost) PushBranch(ctx context.Context, owner, repo, branch, sha string) error { return nil }
func (f *fakeHost) FastForward(ctx context.Context, owner, repo, branch, sha string) error {
	return nil
}
func (f *fakeHost) SetStatus(ctx context.Context, owner, repo, sha, statusContext, state, targetURL, description string) error {
	return nil
}
func (f *fakeHost) ValidateWebhookSignature(signatureHeader string, body []byte, secret []byte) error {
	return nil
}

type fakeStore struct {
	pulls    map[model.Key]*model.PullRequest
	deleted  []model.Key
	mergeable map[model.Key]model.Mergeable
}

func newFakeStore() *fakeStore {
	return &fakeStore{pulls: make(map[model.Key]*model.PullRequest), mergeable: make(map[model.Key]model.Mergeable)}
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
func (s *fakeStore) RecordBuild(ctx context.Context, b *model.BuildResult) error { return nil }
func (s *fakeStore) LoadAll(ctx context.Context) (map[string][]*model.PullRequest, error) {
	return nil, nil
}
func (s *fakeStore) LoadBuildResults(ctx context.Context, repo string, number int) ([]*model.BuildResult, error) {
	return nil, nil
}
func (s *fakeStore) SetMergeable(ctx context.Context, repo string, number int, m model.Mergeable) error {
	s.mergeable[model.Key{Repo: repo, Number: number}] = m
	return nil
}
func (s *fakeStore) RecordTrigger(ctx context.Context, t *model.BuildTrigger) error { return nil }
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
func (noopMetrics) IncreaseCronTaskErrors(name string)                                             {}
func (noopMetrics) ObserveSchedulerRunDuration(repo string, elapsed float64)                       {}
func (noopMetrics) SetQueueDepth(repo string, depth int)                                           {}

func testConfig() *model.RepoConfig {
	return &model.RepoConfig{
		Owner:             "acme",
		Name:              "widget",
		Host:              model.HostGitHub,
		ProtectedBranch:   "main",
		IntegrationBranch: "homu-tmp",
		RequiredBuilders:  []string{"ci/build"},
		Reviewers:         []string{"reviewer1"},
		Admins:            []string{"admin1"},
		TriggerToken:      "@homu",
	}
}

func newSupervisor(cfg *model.RepoConfig, host *fakeHost, st *fakeStore) *Supervisor {
	sched := scheduler.New(host, st, noopMetrics{}, zap.NewNop())
	return New(cfg, host, sched, st, zap.NewNop(), 16)
}

func TestApplyPullRequestOpenedTracksPull(t *testing.T) {
	cfg := testConfig()
	host := &fakeHost{}
	st := newFakeStore()
	sup := newSupervisor(cfg, host, st)

	evt := intake.Event{
		RepoLabel: cfg.Label(),
		Kind:      intake.KindPROpened,
		PullRequest: &intake.PullRequestPayload{
			Number: 1, Title: "add feature", Author: "contributor1", HeadSHA: "sha1", HeadRef: "feature", BaseRef: "main",
		},
	}
	require.NoError(t, sup.Enqueue(context.Background(), evt))
	require.NoError(t, sup.apply(context.Background(), evt))

	pr, ok := sup.Registry.Get(1)
	require.True(t, ok)
	require.Equal(t, "add feature", pr.Title)
	require.Equal(t, model.StatePending, pr.State)
	require.Contains(t, st.pulls, pr.Key())
}

func TestApplyPullRequestSynchronizedInvalidatesApproval(t *testing.T) {
	cfg := testConfig()
	host := &fakeHost{}
	st := newFakeStore()
	sup := newSupervisor(cfg, host, st)

	pr, _ := sup.Registry.GetOrCreate(1)
	pr.State = model.StateApproved
	pr.ApprovedBy = "reviewer1"
	pr.HeadSHA = "sha1"
	sup.Registry.Put(pr)

	evt := intake.Event{Kind: intake.KindPRSynchronized, PullRequest: &intake.PullRequestPayload{Number: 1, HeadSHA: "sha2"}}
	require.NoError(t, sup.apply(context.Background(), evt))

	after, _ := sup.Registry.Get(1)
	require.Equal(t, model.StatePending, after.State)
	require.Empty(t, after.ApprovedBy)
}

func TestApplyCommentApprovalByReviewer(t *testing.T) {
	cfg := testConfig()
	host := &fakeHost{}
	st := newFakeStore()
	sup := newSupervisor(cfg, host, st)

	pr, _ := sup.Registry.GetOrCreate(1)
	pr.HeadSHA = "abc123"
	sup.Registry.Put(pr)

	evt := intake.Event{Kind: intake.KindPRComment, Comment: &intake.CommentPayload{Number: 1, Commenter: "reviewer1", Body: "@homu r+"}}
	require.NoError(t, sup.apply(context.Background(), evt))

	after, _ := sup.Registry.Get(1)
	require.Equal(t, model.StateApproved, after.State)
	require.Equal(t, "reviewer1", after.ApprovedBy)
}

func TestApplyCommentRejectsUnauthorizedApproval(t *testing.T) {
	cfg := testConfig()
	host := &fakeHost{}
	st := newFakeStore()
	sup := newSupervisor(cfg, host, st)

	pr, _ := sup.Registry.GetOrCreate(1)
	pr.HeadSHA = "abc123"
	sup.Registry.Put(pr)

	evt := intake.Event{Kind: intake.KindPRComment, Comment: &intake.CommentPayload{Number: 1, Commenter: "randomuser", Body: "@homu r+"}}
	require.NoError(t, sup.apply(context.Background(), evt))

	after, _ := sup.Registry.Get(1)
	require.Equal(t, model.StatePending, after.State)
	require.Len(t, host.comments, 1)
}

func TestApplyCommentForceClearsTesting(t *testing.T) {
	cfg := testConfig()
	host := &fakeHost{}
	st := newFakeStore()
	sup := newSupervisor(cfg, host, st)

	pr, _ := sup.Registry.GetOrCreate(1)
	pr.State = model.StateTesting
	pr.MergeSHA = "current"
	sup.Registry.Put(pr)

	evt := intake.Event{Kind: intake.KindPRComment, Comment: &intake.CommentPayload{Number: 1, Commenter: "admin1", Body: "@homu force"}}
	require.NoError(t, sup.apply(context.Background(), evt))

	after, _ := sup.Registry.Get(1)
	require.Equal(t, model.StateApproved, after.State)
}

func TestApplyMutationTryAndRollupAreMutuallyExclusive(t *testing.T) {
	cfg := testConfig()
	host := &fakeHost{}
	st := newFakeStore()
	sup := newSupervisor(cfg, host, st)

	pr, _ := sup.Registry.GetOrCreate(1)
	pr.HeadSHA = "abc123"
	sup.Registry.Put(pr)

	require.NoError(t, sup.apply(context.Background(), intake.Event{Kind: intake.KindPRComment, Comment: &intake.CommentPayload{Number: 1, Commenter: "reviewer1", Body: "@homu rollup"}}))
	afterRollup, _ := sup.Registry.Get(1)
	require.True(t, afterRollup.Rollup)
	require.False(t, afterRollup.Try)

	require.NoError(t, sup.apply(context.Background(), intake.Event{Kind: intake.KindPRComment, Comment: &intake.CommentPayload{Number: 1, Commenter: "reviewer1", Body: "@homu try"}}))
	afterTry, _ := sup.Registry.Get(1)
	require.True(t, afterTry.Try)
	require.False(t, afterTry.Rollup, "setting try must clear a previously set rollup flag")

	require.NoError(t, sup.apply(context.Background(), intake.Event{Kind: intake.KindPRComment, Comment: &intake.CommentPayload{Number: 1, Commenter: "reviewer1", Body: "@homu rollup"}}))
	afterRollupAgain, _ := sup.Registry.Get(1)
	require.True(t, afterRollupAgain.Rollup)
	require.False(t, afterRollupAgain.Try, "setting rollup must clear a previously set try flag")
}

func TestApplyPullRequestClosedRemovesFromRegistry(t *testing.T) {
	cfg := testConfig()
	host := &fakeHost{}
	st := newFakeStore()
	sup := newSupervisor(cfg, host, st)

	sup.Registry.GetOrCreate(1)
	evt := intake.Event{Kind: intake.KindPRClosed, PullRequest: &intake.PullRequestPayload{Number: 1}}
	require.NoError(t, sup.apply(context.Background(), evt))

	_, ok := sup.Registry.Get(1)
	require.False(t, ok)
}

func TestApplyBuildStatusRoutesToTestingPull(t *testing.T) {
	cfg := testConfig()
	host := &fakeHost{}
	st := newFakeStore()
	sup := newSupervisor(cfg, host, st)

	pr, _ := sup.Registry.GetOrCreate(1)
	pr.State = model.StateTesting
	pr.MergeSHA = "sha-current"
	sup.Registry.Put(pr)

	evt := intake.Event{Kind: intake.KindBuildStatus, Build: &ciprovider.Result{Builder: "ci/build", SHA: "sha-current", Verdict: model.VerdictFailure}}
	require.NoError(t, sup.apply(context.Background(), evt))

	after, _ := sup.Registry.Get(1)
	require.Equal(t, model.StateFailure, after.State)
}

// TestApplyBuildStatusResolvesRollupThroughRealCorrelationPath drives a
// rollup all the way through the production path: Scheduler.Run builds
// the integration commit and marks every constituent Testing, then a
// build_status webhook is delivered through the same sup.apply(...) entry
// point production traffic uses. Earlier scheduler-level tests passed a
// hand-built lead straight to RecordBuildResult, which never exercised
// Registry.Testing()'s selection among several Testing pull requests that
// share a MergeSHA — this is the path that must resolve to the rollup
// lead rather than an arbitrary constituent.
func TestApplyBuildStatusResolvesRollupThroughRealCorrelationPath(t *testing.T) {
	cfg := testConfig()
	cfg.RollupCap = 3
	host := &fakeHost{}
	st := newFakeStore()
	sup := newSupervisor(cfg, host, st)

	for _, n := range []int{1, 2} {
		pr, _ := sup.Registry.GetOrCreate(n)
		pr.State = model.StateApproved
		pr.HeadSHA = "head" + string(rune('0'+n))
		pr.ApprovedBy = "reviewer1"
		pr.Rollup = true
		sup.Registry.Put(pr)
	}

	require.NoError(t, sup.Scheduler.Run(context.Background(), sup.Registry))

	lead, _ := sup.Registry.Get(1)
	other, _ := sup.Registry.Get(2)
	require.Equal(t, model.StateTesting, lead.State)
	require.Equal(t, model.StateTesting, other.State)
	require.ElementsMatch(t, []int{1, 2}, lead.RollupOf)
	require.Empty(t, other.RollupOf, "only the lead carries RollupOf; #2 looks like a bare Testing pull request")

	evt := intake.Event{Kind: intake.KindBuildStatus, Build: &ciprovider.Result{
		Builder: "ci/build", SHA: lead.MergeSHA, Verdict: model.VerdictSuccess,
	}}
	require.NoError(t, sup.apply(context.Background(), evt))

	_, leadTracked := sup.Registry.Get(1)
	_, otherTracked := sup.Registry.Get(2)
	require.False(t, leadTracked, "the whole rollup fast-forwards and clears together once correlated through the lead")
	require.False(t, otherTracked, "a build_status callback correlated to a non-lead constituent would strand this pull request in Testing forever")
}

func TestApplyPushToIntegrationBranchRevertsStaleTesting(t *testing.T) {
	cfg := testConfig()
	host := &fakeHost{}
	st := newFakeStore()
	sup := newSupervisor(cfg, host, st)

	pr, _ := sup.Registry.GetOrCreate(1)
	pr.State = model.StateTesting
	pr.MergeSHA = "expected-sha"
	sup.Registry.Put(pr)

	evt := intake.Event{Kind: intake.KindPushToBranch, Push: &intake.PushPayload{Branch: cfg.IntegrationBranch, SHA: "someone-elses-sha"}}
	require.NoError(t, sup.apply(context.Background(), evt))

	after, _ := sup.Registry.Get(1)
	require.Equal(t, model.StateApproved, after.State)
}

func TestRehydratePopulatesRegistryFromStore(t *testing.T) {
	cfg := testConfig()
	host := &fakeHost{}
	st := newFakeStore()
	sup := newSupervisor(cfg, host, st)

	all := map[string][]*model.PullRequest{
		cfg.Label(): {{Repo: cfg.Label(), Number: 5, State: model.StateApproved}},
	}
	require.NoError(t, sup.Rehydrate(context.Background(), all))

	pr, ok := sup.Registry.Get(5)
	require.True(t, ok)
	require.Equal(t, model.StateApproved, pr.State)
}
