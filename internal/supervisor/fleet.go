package supervisor

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/homu-project/homu/internal/intake"
	"github.com/homu-project/homu/internal/model"
)

// Fleet owns one Supervisor per configured repository and implements
// intake.Enqueuer by routing each Event to the Supervisor named by its
// RepoLabel, so the Router needs only a single Enqueuer regardless of how
// many repositories Homu tracks.
type Fleet struct {
	supervisors map[string]*Supervisor
}

func NewFleet() *Fleet {
	return &Fleet{supervisors: make(map[string]*Supervisor)}
}

func (f *Fleet) Add(sup *Supervisor) {
	f.supervisors[sup.Config.Label()] = sup
}

func (f *Fleet) Get(label string) (*Supervisor, bool) {
	sup, ok := f.supervisors[label]
	return sup, ok
}

// Enqueue implements intake.Enqueuer.
func (f *Fleet) Enqueue(ctx context.Context, evt intake.Event) error {
	sup, ok := f.supervisors[evt.RepoLabel]
	if !ok {
		return errors.Errorf("supervisor: no fleet member for repository %q", evt.RepoLabel)
	}
	return sup.Enqueue(ctx, evt)
}

// Rehydrate loads every supervisor's persisted state before Run starts.
func (f *Fleet) Rehydrate(ctx context.Context, all map[string][]*model.PullRequest) error {
	for _, sup := range f.supervisors {
		if err := sup.Rehydrate(ctx, all); err != nil {
			return err
		}
	}
	return nil
}

// Run starts every supervisor's event loop on its own goroutine and
// blocks until ctx is cancelled and every loop has returned, giving the
// caller a single point to wait on for clean shutdown (§5).
func (f *Fleet) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sup := range f.supervisors {
		wg.Add(1)
		go func(s *Supervisor) {
			defer wg.Done()
			_ = s.Run(ctx)
		}(sup)
	}
	wg.Wait()
}

// RefreshMergeability runs the periodic mergeability sweep across every
// tracked repository.
func (f *Fleet) RefreshMergeability(ctx context.Context) {
	for _, sup := range f.supervisors {
		if err := sup.RefreshMergeability(ctx); err != nil {
			sup.Logger.Warn("refresh mergeability", zap.Error(err))
		}
	}
}

// PruneClosedPulls runs the periodic Store-row pruning sweep across every
// tracked repository, using all as the authoritative persisted set.
func (f *Fleet) PruneClosedPulls(ctx context.Context, all map[string][]*model.PullRequest) {
	for label, sup := range f.supervisors {
		if err := sup.PruneClosedPulls(ctx, all[label]); err != nil {
			sup.Logger.Warn("prune closed pulls", zap.Error(err))
		}
	}
}
