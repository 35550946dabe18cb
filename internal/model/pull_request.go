package model

// PullRequest is the tracked unit of work for one repository. It carries
// both the durable fields mirrored to the Store and the transient
// scheduling fields that only ever live in the Model (Revision, RollupOf).
type PullRequest struct {
	Repo   string `db:"repo"`
	Number int    `db:"num"`

	Title    string `db:"title"`
	Body     string `db:"body"`
	HeadSHA  string `db:"head_sha"`
	HeadRef  string `db:"head_ref"`
	BaseRef  string `db:"base_ref"`
	Assignee string `db:"assignee"`

	ApprovedBy string    `db:"approved_by"`
	Priority   int       `db:"priority"`
	Rollup     bool      `db:"rollup"`
	Try        bool      `db:"try"`
	Mergeable  Mergeable `db:"-"`
	State      State     `db:"-"`
	StateRaw   string    `db:"status"`

	MergeSHA string `db:"merge_sha"`
	BuildURL string `db:"-"`

	// Revision is bumped each time the pull request enters Testing
	// (Scheduler.startIntegration). Nothing compares it against incoming
	// callbacks: a stale build status is recognized by its SHA not
	// matching MergeSHA (Scheduler.RecordBuildResult).
	Revision int `db:"-"`

	// RollupOf lists the constituent pull-request numbers when this
	// record is a synthetic rollup tracking entry (empty otherwise).
	RollupOf []int `db:"-"`
}

// Key identifies a pull request within the Model and Store.
type Key struct {
	Repo   string
	Number int
}

func (pr *PullRequest) Key() Key {
	return Key{Repo: pr.Repo, Number: pr.Number}
}

// IsRollupCandidate reports whether pr is a plain (non-try) approved
// pull request that has opted into rollup batching.
func (pr *PullRequest) IsRollupCandidate() bool {
	return pr.State == StateApproved && !pr.Try && pr.Rollup
}

// IsTryCandidate reports whether pr is eligible for the try set.
func (pr *PullRequest) IsTryCandidate() bool {
	return pr.State == StateApproved && pr.Try
}

// IsMergeCandidate reports whether pr is eligible for the merge set
// (approved, not a try build).
func (pr *PullRequest) IsMergeCandidate() bool {
	return pr.State == StateApproved && !pr.Try
}
