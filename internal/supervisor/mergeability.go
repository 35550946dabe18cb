package supervisor

import (
	"context"

	"go.uber.org/zap"

	"github.com/homu-project/homu/internal/model"
)

// RefreshMergeability re-queries the host's cached mergeability hint for
// every open pull request Homu tracks, driven by a periodic cron task
// rather than a webhook (§4.7.a; the teacher's mattermod.go schedules an
// equivalent AutoMergePR/CheckPRActivity tick the same way). A pull
// request whose integration build is in flight and whose mergeability
// flips to "no" moves to Error per §4.3's state table; the Scheduler is
// re-run afterward so a newly-freed slot gets picked up.
func (s *Supervisor) RefreshMergeability(ctx context.Context) error {
	for _, pr := range s.Registry.Ordered() {
		info, err := s.Host.GetPullRequest(ctx, s.Config.Owner, s.Config.Name, pr.Number)
		if err != nil {
			s.Logger.Warn("refresh mergeability", zap.Int("pr", pr.Number), zap.Error(err))
			continue
		}
		if info == nil || info.Mergeable == nil {
			continue
		}

		mergeable := model.MergeableYes
		if !*info.Mergeable {
			mergeable = model.MergeableNo
		}
		if pr.Mergeable == mergeable {
			continue
		}
		pr.Mergeable = mergeable

		if err := s.Store.SetMergeable(ctx, pr.Repo, pr.Number, mergeable); err != nil {
			s.Logger.Warn("persist mergeability", zap.Int("pr", pr.Number), zap.Error(err))
		}

		if mergeable == model.MergeableNo && pr.State == model.StateTesting {
			pr.State = model.StateError
			pr.StateRaw = pr.State.String()
			if err := s.Store.UpsertPull(ctx, pr); err != nil {
				s.Logger.Warn("persist mergeability error transition", zap.Int("pr", pr.Number), zap.Error(err))
			}
		}
	}
	return s.Scheduler.Run(ctx, s.Registry)
}

// PruneClosedPulls deletes Store rows for pull requests no longer
// tracked in the Registry, implementing the lazy deletion §3.3
// describes: a merged or closed pull request's Store row survives for
// audit until the next sweep rather than being removed synchronously at
// close time.
func (s *Supervisor) PruneClosedPulls(ctx context.Context, allForRepo []*model.PullRequest) error {
	for _, row := range allForRepo {
		if _, tracked := s.Registry.Get(row.Number); tracked {
			continue
		}
		if err := s.Store.DeletePull(ctx, row.Repo, row.Number); err != nil {
			s.Logger.Warn("prune closed pull", zap.Int("pr", row.Number), zap.Error(err))
		}
	}
	return nil
}
