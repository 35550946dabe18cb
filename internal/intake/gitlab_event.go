package intake

import "encoding/json"

// gitlabEnvelope is the subset of GitLab's system hook / project hook
// payloads Homu needs to route and normalize an event, shared across
// merge request, note, and push hooks.
type gitlabEnvelope struct {
	ObjectKind string `json:"object_kind"`
	Project    struct {
		Namespace string `json:"namespace"`
		Name      string `json:"name"`
	} `json:"project"`
	ObjectAttributes struct {
		IID          int    `json:"iid"`
		Title        string `json:"title"`
		Description  string `json:"description"`
		Action       string `json:"action"`
		Note         string `json:"note"`
		NoteableType string `json:"noteable_type"`
		SourceBranch string `json:"source_branch"`
		TargetBranch string `json:"target_branch"`
	} `json:"object_attributes"`
	User struct {
		Username string `json:"username"`
	} `json:"user"`
	Ref         string `json:"ref"`
	CheckoutSHA string `json:"checkout_sha"`
}

func peekGitLabRepo(body []byte) (owner, repo string, ok bool) {
	var env gitlabEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", "", false
	}
	if env.Project.Namespace == "" || env.Project.Name == "" {
		return "", "", false
	}
	return env.Project.Namespace, env.Project.Name, true
}

// normalizeGitLabEvent mirrors normalizeGitHubEvent for GitLab's merge
// request, note, and push hooks. Redelivery dedupe happens in the router,
// keyed on GitLab's X-Gitlab-Event-UUID header (§8).
func normalizeGitLabEvent(repoLabel string, body []byte) (Event, bool) {
	var env gitlabEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Event{}, false
	}

	switch env.ObjectKind {
	case "merge_request":
		payload := &PullRequestPayload{
			Number:  env.ObjectAttributes.IID,
			Title:   env.ObjectAttributes.Title,
			Body:    env.ObjectAttributes.Description,
			Author:  env.User.Username,
			HeadRef: env.ObjectAttributes.SourceBranch,
			BaseRef: env.ObjectAttributes.TargetBranch,
		}
		var kind Kind
		switch env.ObjectAttributes.Action {
		case "open", "reopen":
			kind = KindPROpened
		case "close", "merge":
			kind = KindPRClosed
		case "update":
			kind = KindPRSynchronized
		default:
			return Event{}, false
		}
		return Event{RepoLabel: repoLabel, Kind: kind, PullRequest: payload}, true

	case "note":
		if env.ObjectAttributes.NoteableType != "MergeRequest" {
			return Event{}, false
		}
		return Event{
			RepoLabel: repoLabel,
			Kind:      KindPRComment,
			Comment: &CommentPayload{
				Number:    env.ObjectAttributes.IID,
				Commenter: env.User.Username,
				Body:      env.ObjectAttributes.Note,
			},
		}, true

	case "push":
		return Event{
			RepoLabel: repoLabel,
			Kind:      KindPushToBranch,
			Push:      &PushPayload{Branch: branchFromRef(env.Ref), SHA: env.CheckoutSHA},
		}, true

	default:
		return Event{}, false
	}
}
