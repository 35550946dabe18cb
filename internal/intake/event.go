// Package intake serves the webhook endpoints of §6, authenticates each
// payload against its repository's configured secret, converts it to a
// normalized Event, and hands it to the target repository's supervisor
// queue (§4.5). Intake itself holds no Model state and may run on any
// number of concurrent handler goroutines.
package intake

import "github.com/homu-project/homu/internal/ciprovider"

// Kind is one of the event kinds enumerated in §4.5.
type Kind string

const (
	KindPROpened       Kind = "pr_opened"
	KindPRClosed       Kind = "pr_closed"
	KindPRSynchronized Kind = "pr_synchronized"
	KindPRComment      Kind = "pr_comment"
	KindPushToBranch   Kind = "push_to_branch"
	KindBuildStatus    Kind = "build_status"
)

// PullRequestPayload carries the subset of a host pull request the
// Supervisor needs to seed or refresh a Model entry.
type PullRequestPayload struct {
	Number  int
	Title   string
	Body    string
	Author  string
	HeadSHA string
	HeadRef string
	BaseRef string
}

// CommentPayload carries a single issue/pull-request comment.
type CommentPayload struct {
	Number    int
	Commenter string
	Body      string
}

// PushPayload carries a raw push notification against a branch, used to
// detect that someone force-pushed over the protected or integration
// branch out from under Homu.
type PushPayload struct {
	Branch string
	SHA    string
}

// Event is the normalized record enqueued on a repository's supervisor
// queue, regardless of which webhook endpoint produced it.
type Event struct {
	RepoLabel string // "owner/name", the Model/Store key
	Kind      Kind

	PullRequest *PullRequestPayload
	Comment     *CommentPayload
	Push        *PushPayload
	Build       *ciprovider.Result

	// DeliveryID identifies the webhook delivery for dedupe (§8:
	// redelivering the same webhook must not double-apply an event).
	// Empty when the source doesn't provide one (form-encoded CI
	// callbacks), in which case dedupe is skipped for that event.
	DeliveryID string
}
