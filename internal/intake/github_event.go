package intake

import (
	"encoding/json"

	"github.com/google/go-github/v39/github"
)

// peekGitHubRepo extracts the owner/name pair from a webhook body before
// signature verification, so the handler can look up which secret to
// verify against. GitHub's own payloads always carry a "repository"
// object at top level regardless of event type.
func peekGitHubRepo(body []byte) (owner, repo string, ok bool) {
	var env struct {
		Repository struct {
			Name  string `json:"name"`
			Owner struct {
				Login string `json:"login"`
			} `json:"owner"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return "", "", false
	}
	if env.Repository.Name == "" || env.Repository.Owner.Login == "" {
		return "", "", false
	}
	return env.Repository.Owner.Login, env.Repository.Name, true
}

// normalizeGitHubEvent converts a parsed go-github webhook event into an
// Event, per the pr_opened/pr_closed/pr_synchronized/pr_comment/
// push_to_branch kinds of §4.5. Event types Homu doesn't act on report
// ok=false.
func normalizeGitHubEvent(repoLabel, deliveryID string, raw interface{}) (Event, bool) {
	switch e := raw.(type) {
	case *github.PullRequestEvent:
		return normalizePullRequestEvent(repoLabel, deliveryID, e)
	case *github.IssueCommentEvent:
		return normalizeIssueCommentEvent(repoLabel, deliveryID, e)
	case *github.PushEvent:
		return normalizePushEvent(repoLabel, deliveryID, e)
	default:
		return Event{}, false
	}
}

func normalizePullRequestEvent(repoLabel, deliveryID string, e *github.PullRequestEvent) (Event, bool) {
	pr := e.GetPullRequest()
	if pr == nil {
		return Event{}, false
	}
	payload := &PullRequestPayload{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		Author:  pr.GetUser().GetLogin(),
		HeadSHA: pr.GetHead().GetSHA(),
		HeadRef: pr.GetHead().GetRef(),
		BaseRef: pr.GetBase().GetRef(),
	}

	var kind Kind
	switch e.GetAction() {
	case "opened", "reopened":
		kind = KindPROpened
	case "closed":
		kind = KindPRClosed
	case "synchronize":
		kind = KindPRSynchronized
	default:
		return Event{}, false
	}

	return Event{RepoLabel: repoLabel, Kind: kind, PullRequest: payload, DeliveryID: deliveryID}, true
}

func normalizeIssueCommentEvent(repoLabel, deliveryID string, e *github.IssueCommentEvent) (Event, bool) {
	if e.GetAction() != "created" || e.GetIssue() == nil || e.GetIssue().PullRequestLinks == nil {
		return Event{}, false
	}
	return Event{
		RepoLabel: repoLabel,
		Kind:      KindPRComment,
		Comment: &CommentPayload{
			Number:    e.GetIssue().GetNumber(),
			Commenter: e.GetComment().GetUser().GetLogin(),
			Body:      e.GetComment().GetBody(),
		},
		DeliveryID: deliveryID,
	}, true
}

func normalizePushEvent(repoLabel, deliveryID string, e *github.PushEvent) (Event, bool) {
	ref := e.GetRef()
	if ref == "" {
		return Event{}, false
	}
	return Event{
		RepoLabel: repoLabel,
		Kind:      KindPushToBranch,
		Push: &PushPayload{
			Branch: branchFromRef(ref),
			SHA:    e.GetAfter(),
		},
		DeliveryID: deliveryID,
	}, true
}

func branchFromRef(ref string) string {
	const prefix = "refs/heads/"
	if len(ref) > len(prefix) && ref[:len(prefix)] == prefix {
		return ref[len(prefix):]
	}
	return ref
}
