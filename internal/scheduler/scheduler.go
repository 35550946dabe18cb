package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/homu-project/homu/internal/ciprovider"
	"github.com/homu-project/homu/internal/hostclient"
	"github.com/homu-project/homu/internal/metrics"
	"github.com/homu-project/homu/internal/model"
	"github.com/homu-project/homu/internal/store"
)

// Scheduler runs the algorithm of §4.6 against one repository's
// Registry. It is invoked by the supervisor after every event and
// timer tick; nothing about it is safe for concurrent use across
// repositories sharing one Registry, matching the single-supervisor
// ownership rule of §4.7.
type Scheduler struct {
	Host    hostclient.Host
	Store   store.Store
	Metrics metrics.Provider
	Logger  *zap.Logger
	Retryer *Retryer
}

func New(host hostclient.Host, st store.Store, m metrics.Provider, logger *zap.Logger) *Scheduler {
	return &Scheduler{Host: host, Store: st, Metrics: m, Logger: logger, Retryer: NewRetryer(logger)}
}

// Run selects the next candidate (or rollup) and starts an integration
// build for it, per §4.6 steps 1-8. It is a no-op if a build is already
// in flight or nothing is ready to build.
func (s *Scheduler) Run(ctx context.Context, reg *model.Registry) error {
	start := time.Now()
	defer func() { s.Metrics.ObserveSchedulerRunDuration(reg.Config.Label(), time.Since(start).Seconds()) }()

	if reg.Testing() != nil {
		return nil // step 1: at most one Testing pull request at a time
	}

	ordered := reg.Ordered()
	var trySet, mergeSet []*model.PullRequest
	for _, pr := range ordered {
		switch {
		case pr.IsTryCandidate():
			trySet = append(trySet, pr)
		case pr.IsMergeCandidate():
			mergeSet = append(mergeSet, pr)
		}
	}

	var candidates []*model.PullRequest
	switch {
	case len(trySet) > 0:
		candidates = trySet[:1] // step 3: try set wins, highest priority first (already ordered)
	default:
		if rollup := rollupPrefix(mergeSet, reg.Config.RollupCap); len(rollup) > 1 {
			candidates = rollup // step 4
		} else if len(mergeSet) > 0 {
			candidates = mergeSet[:1] // step 5
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	return s.startIntegration(ctx, reg, candidates)
}

// startIntegration asks the host to build an integration commit for
// candidates and transitions them to Testing (§4.6 steps 6-7).
func (s *Scheduler) startIntegration(ctx context.Context, reg *model.Registry, candidates []*model.PullRequest) error {
	owner, repoName := reg.Config.Owner, reg.Config.Name

	var sha string
	err := s.Retryer.Do(ctx, func(ctx context.Context) error {
		built, buildErr := s.buildIntegration(ctx, owner, repoName, reg.Config, candidates)
		if buildErr != nil {
			return buildErr
		}
		sha = built
		return nil
	})
	if err != nil {
		return s.failIntegration(ctx, reg, candidates, err)
	}

	lead := candidates[0]
	for _, pr := range candidates {
		pr.MergeSHA = sha
		pr.Revision++
		pr.State = model.StateTesting
		pr.StateRaw = pr.State.String()
		reg.ClearBuilds(pr.Key())
		if err := s.Store.UpsertPull(ctx, pr); err != nil {
			s.Logger.Error("persist testing transition", zap.String("repo", reg.Config.Label()), zap.Int("pr", pr.Number), zap.Error(err))
		}
	}
	lead.RollupOf = nil
	if len(candidates) > 1 {
		lead.RollupOf = numbersOf(candidates)
	}

	trigger := &model.BuildTrigger{
		Branch:      reg.Config.IntegrationBranch,
		RequestSHA:  lead.HeadSHA,
		ProducedSHA: sha,
	}
	if err := s.Store.RecordTrigger(ctx, trigger); err != nil {
		s.Logger.Error("record build trigger", zap.String("repo", reg.Config.Label()), zap.Error(err))
	}

	return nil
}

// buildIntegration merges each candidate's head in order onto the
// protected branch, chaining subsequent merges through the integration
// branch since the host can only merge onto a branch tip, not an
// arbitrary commit (§4.6 step 6).
func (s *Scheduler) buildIntegration(ctx context.Context, owner, repoName string, cfg *model.RepoConfig, candidates []*model.PullRequest) (string, error) {
	base := cfg.ProtectedBranch
	var sha string

	for i, pr := range candidates {
		commit, err := s.Host.CreateMergeCommit(ctx, owner, repoName, base, pr.HeadSHA, integrationMessage(candidates[:i+1]))
		if err != nil {
			return "", err
		}
		sha = commit.SHA

		if i < len(candidates)-1 {
			if err := s.Host.PushBranch(ctx, owner, repoName, cfg.IntegrationBranch, sha); err != nil {
				return "", err
			}
			base = cfg.IntegrationBranch
		}
	}

	if err := s.Host.PushBranch(ctx, owner, repoName, cfg.IntegrationBranch, sha); err != nil {
		return "", err
	}
	return sha, nil
}

func (s *Scheduler) failIntegration(ctx context.Context, reg *model.Registry, candidates []*model.PullRequest, err error) error {
	kind := Classify(err)
	for _, pr := range candidates {
		pr.State = model.StateError
		pr.StateRaw = pr.State.String()
		if serr := s.Store.UpsertPull(ctx, pr); serr != nil {
			s.Logger.Error("persist error transition", zap.Error(serr))
		}
		_ = s.Host.PostComment(ctx, reg.Config.Owner, reg.Config.Name, pr.Number, "integration build failed: "+err.Error())
	}
	s.Logger.Error("integration build failed", zap.String("kind", kind.String()), zap.Error(err))
	return err
}

// RecordBuildResult applies an incoming build_status event: it tracks
// the verdict, ignores callbacks for a superseded integration SHA
// (§3.2), and either fails the pull request, waits for more builders, or
// fast-forwards the protected branch once every required builder is
// green (§4.6 "Fast-forward on success").
func (s *Scheduler) RecordBuildResult(ctx context.Context, reg *model.Registry, pr *model.PullRequest, result *ciprovider.Result) error {
	if pr.State != model.StateTesting || result.SHA != pr.MergeSHA {
		return nil // stale callback, §3.2
	}

	br := &model.BuildResult{Repo: pr.Repo, Number: pr.Number, Builder: result.Builder, Verdict: result.Verdict, Result: result.Verdict.String(), URL: result.URL, SHA: result.SHA}
	reg.RecordBuild(pr.Key(), br)
	if err := s.Store.RecordBuild(ctx, br); err != nil {
		s.Logger.Warn("persist build result", zap.String("repo", reg.Config.Label()), zap.Int("pr", pr.Number), zap.Error(err))
	}

	if pr.Try {
		if result.Verdict == model.VerdictFailure {
			return s.finishTry(ctx, reg, pr, false, result.URL)
		}
		if !s.allRequiredGreen(reg, pr) {
			return nil
		}
		return s.finishTry(ctx, reg, pr, true, result.URL)
	}

	if result.Verdict == model.VerdictFailure {
		return s.failCandidates(ctx, reg, pr)
	}
	if !s.allRequiredGreen(reg, pr) {
		return nil
	}
	return s.fastForward(ctx, reg, pr)
}

// finishTry closes out a try build (§4.3's last bullet): it never
// touches the protected branch, it only reports the outcome and returns
// the pull request to its pre-try state: Approved if it carries an
// approver, Pending otherwise (a try on a Pending pull request moves it
// to Approved only for the build). The try flag is cleared so the same
// build result cannot be picked back into the try set on the next Run;
// a fresh "try" command starts another one-shot attempt.
func (s *Scheduler) finishTry(ctx context.Context, reg *model.Registry, pr *model.PullRequest, success bool, buildURL string) error {
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	msg := "try build " + outcome + " at " + pr.MergeSHA
	if buildURL != "" {
		msg += "\n" + buildURL
	}
	_ = s.Host.PostComment(ctx, reg.Config.Owner, reg.Config.Name, pr.Number, msg)

	pr.State = model.StateApproved
	if pr.ApprovedBy == "" {
		pr.State = model.StatePending
	}
	pr.StateRaw = pr.State.String()
	pr.Try = false
	pr.BuildURL = buildURL
	if err := s.Store.UpsertPull(ctx, pr); err != nil {
		s.Logger.Error("persist try completion", zap.Error(err))
	}
	return s.Run(ctx, reg)
}

func (s *Scheduler) allRequiredGreen(reg *model.Registry, pr *model.PullRequest) bool {
	required := reg.Config.RequiredBuilders
	if len(required) == 0 {
		return false // nothing configured to certify success against
	}
	results := reg.BuildsFor(pr.Key())
	for _, builder := range required {
		ok := false
		for _, b := range results {
			if b.Builder == builder && b.IsCurrent(pr) && b.Verdict == model.VerdictSuccess {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// failCandidates marks a Testing pull request (or rollup) as Failure per
// §4.6: with bisect-on-rollup enabled, blame is attributed to the first
// constituent and the rest return to Approved for a fresh attempt;
// otherwise every constituent is marked Failure. Homu never actually
// bisects a rollup to find the true culprit (Non-goal).
func (s *Scheduler) failCandidates(ctx context.Context, reg *model.Registry, lead *model.PullRequest) error {
	nums := candidateNumbers(lead)
	if len(nums) == 1 || !reg.Config.BisectOnRollup {
		for _, num := range nums {
			if pr, ok := reg.Get(num); ok {
				pr.State = model.StateFailure
				pr.StateRaw = pr.State.String()
				_ = s.Store.UpsertPull(ctx, pr)
			}
		}
		return s.Run(ctx, reg)
	}

	for i, num := range nums {
		pr, ok := reg.Get(num)
		if !ok {
			continue
		}
		if i == 0 {
			pr.State = model.StateFailure
		} else {
			pr.State = model.StateApproved
		}
		pr.StateRaw = pr.State.String()
		_ = s.Store.UpsertPull(ctx, pr)
	}
	return s.Run(ctx, reg)
}

func (s *Scheduler) fastForward(ctx context.Context, reg *model.Registry, lead *model.PullRequest) error {
	owner, repoName := reg.Config.Owner, reg.Config.Name

	err := s.Host.FastForward(ctx, owner, repoName, reg.Config.ProtectedBranch, lead.MergeSHA)
	if errors.Is(err, hostclient.ErrConflict) {
		for _, num := range candidateNumbers(lead) {
			if pr, ok := reg.Get(num); ok {
				pr.State = model.StateApproved
				pr.StateRaw = pr.State.String()
				_ = s.Store.UpsertPull(ctx, pr)
			}
		}
		return s.Run(ctx, reg)
	}
	if err != nil {
		return s.failIntegration(ctx, reg, []*model.PullRequest{lead}, err)
	}

	for _, num := range candidateNumbers(lead) {
		pr, ok := reg.Get(num)
		if !ok {
			continue
		}
		pr.State = model.StateSuccess
		pr.StateRaw = pr.State.String()
		if serr := s.Store.UpsertPull(ctx, pr); serr != nil {
			s.Logger.Error("persist success transition", zap.Error(serr))
		}
		reg.Remove(pr.Number) // §3.3: removed from the Model once merged, Store row kept for audit
	}
	return s.Run(ctx, reg)
}
