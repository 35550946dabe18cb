package model

// BuildResult is one builder's verdict for one pull request at one
// integration SHA. Keyed by (Repo, Number, Builder).
type BuildResult struct {
	Repo    string  `db:"repo"`
	Number  int     `db:"num"`
	Builder string  `db:"builder"`
	Verdict Verdict `db:"-"`
	Result  string  `db:"res"`
	URL     string  `db:"url"`
	SHA     string  `db:"merge_sha"`
}

// IsCurrent reports whether the build result still refers to the pull
// request's current integration SHA. Stale results (§3.2) must never
// influence scheduling.
func (b *BuildResult) IsCurrent(pr *PullRequest) bool {
	return b.SHA != "" && b.SHA == pr.MergeSHA
}

// MergeabilityRow is the persisted mergeability cache row.
type MergeabilityRow struct {
	Repo      string    `db:"repo"`
	Number    int       `db:"num"`
	Mergeable Mergeable `db:"mergeable"`
}

// BuildTrigger records provenance for one push to an integration branch:
// what Homu asked the host to produce, and what the host actually
// produced. Used to correlate incoming CI status callbacks and to detect
// a push racing a build start.
type BuildTrigger struct {
	Branch      string `db:"branch"`
	RequestSHA  string `db:"trigger_sha"`
	ProducedSHA string `db:"target_sha"`
	BuildCount  int    `db:"build_count"`
}
