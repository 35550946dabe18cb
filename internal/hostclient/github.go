package hostclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v39/github"
	"golang.org/x/oauth2"
)

// githubIssuesService, githubPullRequestsService, githubRepositoriesService
// and githubGitService are the slivers of go-github's client this package
// depends on, mirroring the teacher's github_client.go ChecksService /
// IssuesService / PullRequestsService / RepositoriesService split so that
// tests can supply hand-written fakes instead of hitting the network.
type githubIssuesService interface {
	CreateComment(ctx context.Context, owner, repo string, number int, comment *github.IssueComment) (*github.IssueComment, *github.Response, error)
	ListComments(ctx context.Context, owner, repo string, number int, opts *github.IssueListCommentsOptions) ([]*github.IssueComment, *github.Response, error)
}

type githubPullRequestsService interface {
	Get(ctx context.Context, owner, repo string, number int) (*github.PullRequest, *github.Response, error)
	List(ctx context.Context, owner, repo string, opts *github.PullRequestListOptions) ([]*github.PullRequest, *github.Response, error)
}

type githubRepositoriesService interface {
	CreateStatus(ctx context.Context, owner, repo, ref string, status *github.RepoStatus) (*github.RepoStatus, *github.Response, error)
	Merge(ctx context.Context, owner, repo string, request *github.RepositoryMergeRequest) (*github.RepositoryCommit, *github.Response, error)
}

type githubGitService interface {
	GetRef(ctx context.Context, owner, repo, ref string) (*github.Reference, *github.Response, error)
	CreateRef(ctx context.Context, owner, repo string, ref *github.Reference) (*github.Reference, *github.Response, error)
	UpdateRef(ctx context.Context, owner, repo string, ref *github.Reference, force bool) (*github.Reference, *github.Response, error)
}

// GitHub implements Host against the real GitHub REST API. The four
// service slivers are exported so tests can substitute hand-written
// fakes for them individually, matching the teacher's GithubClient shape.
type GitHub struct {
	Issues       githubIssuesService
	PullRequests githubPullRequestsService
	Repositories githubRepositoriesService
	Git          githubGitService
}

// NewGitHubClient builds a GitHub host client authenticated with
// accessToken. transport, if non-nil, replaces the default HTTP
// transport underneath the OAuth2 client — callers pass the
// rate-limit/cache/metrics chain built in internal/ratelimit and
// internal/metrics (§4.5.a).
func NewGitHubClient(ctx context.Context, accessToken string, transport http.RoundTripper) *GitHub {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	base := &http.Client{}
	if transport != nil {
		base.Transport = &oauth2.Transport{Source: ts, Base: transport}
	} else {
		base = oauth2.NewClient(ctx, ts)
	}

	client := github.NewClient(base)
	return &GitHub{
		Issues:       client.Issues,
		PullRequests: client.PullRequests,
		Repositories: client.Repositories,
		Git:          client.Git,
	}
}

func (g *GitHub) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequestInfo, error) {
	pr, resp, err := g.PullRequests.Get(ctx, owner, repo, number)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hostclient: get pull request %s/%s#%d: %w", owner, repo, number, err)
	}
	return fromGitHubPullRequest(pr), nil
}

func (g *GitHub) ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*PullRequestInfo, error) {
	var out []*PullRequestInfo
	opts := &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		prs, resp, err := g.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("hostclient: list pull requests %s/%s: %w", owner, repo, err)
		}
		for _, pr := range prs {
			out = append(out, fromGitHubPullRequest(pr))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func fromGitHubPullRequest(pr *github.PullRequest) *PullRequestInfo {
	info := &PullRequestInfo{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		Author:  pr.GetUser().GetLogin(),
		HeadSHA: pr.GetHead().GetSHA(),
		HeadRef: pr.GetHead().GetRef(),
		BaseRef: pr.GetBase().GetRef(),
		Open:    pr.GetState() == "open",
	}
	if pr.Mergeable != nil {
		m := pr.GetMergeable()
		info.Mergeable = &m
	}
	return info
}

func (g *GitHub) ListComments(ctx context.Context, owner, repo string, number int, since time.Time) ([]Comment, error) {
	opts := &github.IssueListCommentsOptions{
		Since:       &since,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []Comment
	for {
		comments, resp, err := g.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("hostclient: list comments %s/%s#%d: %w", owner, repo, number, err)
		}
		for _, c := range comments {
			out = append(out, Comment{Author: c.GetUser().GetLogin(), Body: c.GetBody()})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (g *GitHub) PostComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := g.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: &body})
	if err != nil {
		return fmt.Errorf("hostclient: post comment %s/%s#%d: %w", owner, repo, number, err)
	}
	return nil
}

func (g *GitHub) CreateMergeCommit(ctx context.Context, owner, repo, baseRef, headSHA, message string) (*MergeCommit, error) {
	commit, resp, err := g.Repositories.Merge(ctx, owner, repo, &github.RepositoryMergeRequest{
		Base:          &baseRef,
		Head:          &headSHA,
		CommitMessage: &message,
	})
	if resp != nil && resp.StatusCode == http.StatusConflict {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("hostclient: create merge commit %s/%s onto %s: %w", owner, repo, baseRef, err)
	}
	return &MergeCommit{SHA: commit.GetSHA()}, nil
}

func (g *GitHub) PushBranch(ctx context.Context, owner, repo, branch, sha string) error {
	ref := "refs/heads/" + branch
	_, _, err := g.Git.GetRef(ctx, owner, repo, ref)
	if err != nil {
		_, _, createErr := g.Git.CreateRef(ctx, owner, repo, &github.Reference{
			Ref:    &ref,
			Object: &github.GitObject{SHA: &sha},
		})
		if createErr != nil {
			return fmt.Errorf("hostclient: create integration branch %s/%s:%s: %w", owner, repo, branch, createErr)
		}
		return nil
	}

	_, resp, err := g.Git.UpdateRef(ctx, owner, repo, &github.Reference{
		Ref:    &ref,
		Object: &github.GitObject{SHA: &sha},
	}, true)
	if resp != nil && resp.StatusCode == http.StatusConflict {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("hostclient: push integration branch %s/%s:%s: %w", owner, repo, branch, err)
	}
	return nil
}

func (g *GitHub) FastForward(ctx context.Context, owner, repo, branch, sha string) error {
	ref := "refs/heads/" + branch
	_, resp, err := g.Git.UpdateRef(ctx, owner, repo, &github.Reference{
		Ref:    &ref,
		Object: &github.GitObject{SHA: &sha},
	}, false)
	if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("hostclient: fast-forward %s/%s:%s to %s: %w", owner, repo, branch, sha, err)
	}
	return nil
}

func (g *GitHub) SetStatus(ctx context.Context, owner, repo, sha, statusContext, state, targetURL, description string) error {
	_, _, err := g.Repositories.CreateStatus(ctx, owner, repo, sha, &github.RepoStatus{
		Context:     &statusContext,
		State:       &state,
		TargetURL:   &targetURL,
		Description: &description,
	})
	if err != nil {
		return fmt.Errorf("hostclient: set status %s/%s@%s: %w", owner, repo, sha, err)
	}
	return nil
}

// ValidateWebhookSignature verifies a GitHub HMAC-SHA1 webhook signature
// (the X-Hub-Signature header, per §6) using go-github's own validator —
// the same library the rest of this file is built from.
func (g *GitHub) ValidateWebhookSignature(signatureHeader string, body []byte, secret []byte) error {
	return github.ValidateSignature(signatureHeader, body, secret)
}
