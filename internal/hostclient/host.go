// Package hostclient defines the narrow capability interface the merge
// queue uses to talk to whatever code-hosting platform a repository is
// bound to, plus concrete GitHub and GitLab backends. Generalized from
// the teacher's github_client.go pattern of wrapping a handful of
// go-github service interfaces instead of exposing the whole SDK client
// (§9: "abstract it behind a narrow capability interface").
package hostclient

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by GetPullRequest when the host reports the
// pull request no longer exists.
var ErrNotFound = errors.New("hostclient: pull request not found")

// ErrConflict is returned by FastForward when the protected branch moved
// since the integration SHA was computed.
var ErrConflict = errors.New("hostclient: fast-forward conflict")

// PullRequestInfo is the subset of a host pull request Homu's core cares
// about.
type PullRequestInfo struct {
	Number    int
	Title     string
	Body      string
	Author    string
	HeadSHA   string
	HeadRef   string
	BaseRef   string
	Open      bool
	Mergeable *bool // nil when the host hasn't computed it yet
}

// Comment is one comment on a pull request's conversation.
type Comment struct {
	Author string
	Body   string
}

// MergeCommit is the result of asking the host to compute a speculative
// merge of one or more heads onto a base.
type MergeCommit struct {
	SHA string
}

// Host is the capability interface the Scheduler and Supervisor use
// instead of a concrete SDK client (§9). Every method takes a deadline
// through ctx per §5 ("outbound HTTP calls... must be performed with a
// deadline").
type Host interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequestInfo, error)
	ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*PullRequestInfo, error)
	ListComments(ctx context.Context, owner, repo string, number int, since time.Time) ([]Comment, error)
	PostComment(ctx context.Context, owner, repo string, number int, body string) error

	// CreateMergeCommit merges headSHA onto the tip of baseRef and
	// returns the resulting commit, without moving any branch pointer.
	CreateMergeCommit(ctx context.Context, owner, repo, baseRef, headSHA, message string) (*MergeCommit, error)

	// PushBranch force-updates branch to point at sha (used to place a
	// freshly built integration commit on the integration branch).
	PushBranch(ctx context.Context, owner, repo, branch, sha string) error

	// FastForward advances branch to sha, failing with ErrConflict if
	// branch's current tip is not an ancestor of sha.
	FastForward(ctx context.Context, owner, repo, branch, sha string) error

	SetStatus(ctx context.Context, owner, repo, sha, statusContext, state, targetURL, description string) error

	// ValidateWebhookSignature checks a raw webhook payload against the
	// per-repository secret using the host's signing scheme.
	ValidateWebhookSignature(signatureHeader string, body []byte, secret []byte) error
}
