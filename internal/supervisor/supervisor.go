// Package supervisor owns one repository's Model and applies every
// normalized intake.Event against it, re-running the Scheduler after
// each one (§4.7). No two events for the same repository are ever
// processed concurrently: a Supervisor drains its own FIFO channel on a
// single goroutine, generalized from the teacher's single Tick-loop
// server (mattermod.go) into one such loop per repository.
package supervisor

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/homu-project/homu/internal/ciprovider"
	"github.com/homu-project/homu/internal/command"
	"github.com/homu-project/homu/internal/hostclient"
	"github.com/homu-project/homu/internal/intake"
	"github.com/homu-project/homu/internal/model"
	"github.com/homu-project/homu/internal/scheduler"
	"github.com/homu-project/homu/internal/store"
)

// Supervisor is the per-repository owner of a model.Registry. It
// implements intake.Enqueuer so the webhook router can hand it events
// directly.
type Supervisor struct {
	Config    *model.RepoConfig
	Registry  *model.Registry
	Host      hostclient.Host
	Scheduler *scheduler.Scheduler
	Store     store.Store
	Logger    *zap.Logger

	events chan intake.Event
}

func New(cfg *model.RepoConfig, host hostclient.Host, sched *scheduler.Scheduler, st store.Store, logger *zap.Logger, queueDepth int) *Supervisor {
	return &Supervisor{
		Config:    cfg,
		Registry:  model.NewRegistry(cfg),
		Host:      host,
		Scheduler: sched,
		Store:     st,
		Logger:    logger.With(zap.String("repo", cfg.Label())),
		events:    make(chan intake.Event, queueDepth),
	}
}

// Enqueue implements intake.Enqueuer. It never blocks: a full queue
// applies the backpressure of §5 by returning ErrQueueFull, which the
// router turns into an HTTP 503 so the host retries the webhook.
func (s *Supervisor) Enqueue(ctx context.Context, evt intake.Event) error {
	select {
	case s.events <- evt:
		return nil
	default:
		return intake.ErrQueueFull
	}
}

// Rehydrate loads this repository's persisted pull requests and build
// results into the Registry, run once at startup before Run begins
// draining events (§4.7.a startup resync).
func (s *Supervisor) Rehydrate(ctx context.Context, all map[string][]*model.PullRequest) error {
	for _, pr := range all[s.Config.Label()] {
		s.Registry.Put(pr)
		results, err := s.Store.LoadBuildResults(ctx, pr.Repo, pr.Number)
		if err != nil {
			return errors.Wrapf(err, "supervisor: load build results for %s#%d", pr.Repo, pr.Number)
		}
		for _, res := range results {
			s.Registry.RecordBuild(pr.Key(), res)
		}
	}
	return nil
}

// Run drains the event queue until ctx is cancelled, applying each event
// and re-running the Scheduler afterward (§4.7). Run returns as soon as
// ctx is cancelled; events still in the queue at that point are not
// applied.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-s.events:
			if err := s.apply(ctx, evt); err != nil {
				s.Logger.Error("apply event", zap.String("kind", string(evt.Kind)), zap.Error(err))
			}
			if err := s.Scheduler.Run(ctx, s.Registry); err != nil {
				s.Logger.Warn("scheduler run", zap.Error(err))
			}
		}
	}
}

func (s *Supervisor) apply(ctx context.Context, evt intake.Event) error {
	switch evt.Kind {
	case intake.KindPROpened, intake.KindPRSynchronized:
		return s.applyPullRequest(ctx, evt.PullRequest)
	case intake.KindPRClosed:
		s.Registry.Remove(evt.PullRequest.Number)
		return nil
	case intake.KindPRComment:
		return s.applyComment(ctx, evt.Comment)
	case intake.KindPushToBranch:
		return s.applyPush(ctx, evt.Push)
	case intake.KindBuildStatus:
		return s.applyBuildStatus(ctx, evt.Build)
	default:
		return errors.Errorf("supervisor: unknown event kind %q", evt.Kind)
	}
}

// applyPullRequest seeds or refreshes the tracked pull request. A head
// SHA change on an already-tracked pull request invalidates its
// approval (§4.3: "Approved → Pending on push to head ref that changes
// head SHA"), generalized here to any non-Pending state since a stale
// integration build or try report is equally invalid once the head
// moves.
func (s *Supervisor) applyPullRequest(ctx context.Context, payload *intake.PullRequestPayload) error {
	pr, created := s.Registry.GetOrCreate(payload.Number)
	headChanged := !created && pr.HeadSHA != "" && pr.HeadSHA != payload.HeadSHA

	pr.Title = payload.Title
	pr.Body = payload.Body
	pr.Assignee = payload.Author
	pr.HeadSHA = payload.HeadSHA
	pr.HeadRef = payload.HeadRef
	pr.BaseRef = payload.BaseRef

	if headChanged && pr.State != model.StatePending {
		pr.State = model.StatePending
		pr.ApprovedBy = ""
		pr.Try = false
		pr.Rollup = false
		pr.MergeSHA = ""
		s.Registry.ClearBuilds(pr.Key())
	}

	pr.StateRaw = pr.State.String()
	s.Registry.Put(pr)
	return s.Store.UpsertPull(ctx, pr)
}

func (s *Supervisor) applyComment(ctx context.Context, payload *intake.CommentPayload) error {
	pr, ok := s.Registry.Get(payload.Number)
	if !ok {
		return nil // comment on a pull request Homu has not seen yet
	}

	muts, rejects := command.Parse(payload.Body, payload.Commenter, s.Config.TriggerToken, pr.HeadSHA)
	allowed, authRejects := command.Authorize(muts, s.Config, payload.Commenter)
	rejects = append(rejects, authRejects...)

	for _, r := range rejects {
		_ = s.Host.PostComment(ctx, s.Config.Owner, s.Config.Name, pr.Number, r.Reason)
	}

	for _, m := range allowed {
		s.applyMutation(pr, m, payload.Commenter)
	}

	pr.StateRaw = pr.State.String()
	s.Registry.Put(pr)
	return s.Store.UpsertPull(ctx, pr)
}

// applyMutation folds one authorized command.Mutation into pr. It never
// performs I/O; the caller persists the result.
func (s *Supervisor) applyMutation(pr *model.PullRequest, m command.Mutation, commenter string) {
	switch m.Kind {
	case command.KindApprove:
		pr.State = model.StateApproved
		pr.ApprovedBy = m.Approver
	case command.KindUnapprove:
		pr.State = model.StatePending
		pr.ApprovedBy = ""
	case command.KindSetPriority:
		pr.Priority = m.Priority
	case command.KindTrySet:
		if pr.State == model.StatePending {
			pr.State = model.StateApproved // try does not require r+ first
		}
		pr.Try = true
		pr.Rollup = false // §3.2: rollup and try are never both true
	case command.KindTryClear:
		pr.Try = false
	case command.KindRollupSet:
		pr.Rollup = true
		pr.Try = false // §3.2: rollup and try are never both true
	case command.KindRollupClear:
		pr.Rollup = false
	case command.KindRetry:
		if pr.State == model.StateFailure || pr.State == model.StateError {
			pr.State = model.StateApproved
		}
	case command.KindForce:
		if pr.State == model.StateTesting {
			pr.State = model.StateApproved
			s.Registry.ClearBuilds(pr.Key())
		}
	case command.KindClean:
		pr.Mergeable = model.MergeableUnknown
	case command.KindDelegateSet:
		if s.Config.Delegates == nil {
			s.Config.Delegates = make(map[string]string)
		}
		s.Config.Delegates[m.DelegateUser] = commenter
	case command.KindDelegateClear:
		for user, grantedBy := range s.Config.Delegates {
			if grantedBy == commenter {
				delete(s.Config.Delegates, user)
			}
		}
	case command.KindDelegateAuthor:
		if pr.Assignee == "" {
			return
		}
		if s.Config.Delegates == nil {
			s.Config.Delegates = make(map[string]string)
		}
		s.Config.Delegates[pr.Assignee] = commenter
	}
}

// applyPush reacts to a raw push notification, its only use being to
// detect that the integration branch moved out from under an in-flight
// build (someone force-pushed it directly, bypassing the Scheduler).
func (s *Supervisor) applyPush(ctx context.Context, payload *intake.PushPayload) error {
	if payload.Branch != s.Config.IntegrationBranch {
		return nil
	}
	testing := s.Registry.Testing()
	if testing == nil || payload.SHA == testing.MergeSHA {
		return nil
	}

	s.Logger.Warn("integration branch moved unexpectedly", zap.Int("pr", testing.Number), zap.String("sha", payload.SHA))
	testing.State = model.StateApproved
	testing.StateRaw = testing.State.String()
	s.Registry.ClearBuilds(testing.Key())
	return s.Store.UpsertPull(ctx, testing)
}

func (s *Supervisor) applyBuildStatus(ctx context.Context, result *ciprovider.Result) error {
	testing := s.Registry.Testing()
	if testing == nil {
		return nil // nothing in flight to correlate this callback with
	}
	return s.Scheduler.RecordBuildResult(ctx, s.Registry, testing, result)
}
