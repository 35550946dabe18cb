package hostclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/xanzy/go-gitlab"
)

// gitlabMergeRequestsService, gitlabNotesService, gitlabCommitsService and
// gitlabBranchesService are the slivers of go-gitlab this package depends
// on, mirroring the same narrow-interface split the GitHub backend uses
// (and the teacher's own PipelinesService in server/gitlab.go) so tests
// can substitute fakes.
type gitlabMergeRequestsService interface {
	GetMergeRequest(pid interface{}, mergeRequest int, opt *gitlab.GetMergeRequestsOptions, options ...gitlab.RequestOptionFunc) (*gitlab.MergeRequest, *gitlab.Response, error)
	ListProjectMergeRequests(pid interface{}, opt *gitlab.ListProjectMergeRequestsOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.MergeRequest, *gitlab.Response, error)
	AcceptMergeRequest(pid interface{}, mergeRequest int, opt *gitlab.AcceptMergeRequestOptions, options ...gitlab.RequestOptionFunc) (*gitlab.MergeRequest, *gitlab.Response, error)
}

type gitlabNotesService interface {
	ListMergeRequestNotes(pid interface{}, mergeRequest int, opt *gitlab.ListMergeRequestNotesOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.Note, *gitlab.Response, error)
	CreateMergeRequestNote(pid interface{}, mergeRequest int, opt *gitlab.CreateMergeRequestNoteOptions, options ...gitlab.RequestOptionFunc) (*gitlab.Note, *gitlab.Response, error)
}

type gitlabCommitsService interface {
	SetCommitStatus(pid interface{}, sha string, opt *gitlab.SetCommitStatusOptions, options ...gitlab.RequestOptionFunc) (*gitlab.CommitStatus, *gitlab.Response, error)
}

type gitlabBranchesService interface {
	CreateBranch(pid interface{}, opt *gitlab.CreateBranchOptions, options ...gitlab.RequestOptionFunc) (*gitlab.Branch, *gitlab.Response, error)
}

// GitLab implements Host against a self-hosted or gitlab.com project,
// grounded on the teacher's PipelinesService wrapper in server/gitlab.go
// (§4.5.a: the same narrow-interface treatment as the CI capability the
// teacher already wraps, extended to the host-repository operations that
// repo never needed).
type GitLab struct {
	MergeRequests gitlabMergeRequestsService
	Notes         gitlabNotesService
	Commits       gitlabCommitsService
	Branches      gitlabBranchesService
}

// NewGitLabClient builds a GitLab host client against baseURL,
// authenticated with accessToken. transport, if non-nil, is installed as
// the underlying HTTP client's transport so the rate-limit/cache/metrics
// chain wraps GitLab calls the same way it wraps GitHub ones.
func NewGitLabClient(accessToken, baseURL string, transport http.RoundTripper) (*GitLab, error) {
	opts := []gitlab.ClientOptionFunc{gitlab.WithBaseURL(baseURL)}
	if transport != nil {
		opts = append(opts, gitlab.WithHTTPClient(&http.Client{Transport: transport}))
	}

	c, err := gitlab.NewClient(accessToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("hostclient: build gitlab client: %w", err)
	}

	return &GitLab{
		MergeRequests: c.MergeRequests,
		Notes:         c.Notes,
		Commits:       c.Commits,
		Branches:      c.Branches,
	}, nil
}

func (g *GitLab) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequestInfo, error) {
	mr, resp, err := g.MergeRequests.GetMergeRequest(projectPath(owner, repo), number, nil, gitlab.WithContext(ctx))
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hostclient: get merge request %s/%s!%d: %w", owner, repo, number, err)
	}
	return fromGitLabMergeRequest(mr), nil
}

func (g *GitLab) ListOpenPullRequests(ctx context.Context, owner, repo string) ([]*PullRequestInfo, error) {
	state := "opened"
	opts := &gitlab.ListProjectMergeRequestsOptions{
		State:       &state,
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}

	var out []*PullRequestInfo
	for {
		mrs, resp, err := g.MergeRequests.ListProjectMergeRequests(projectPath(owner, repo), opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("hostclient: list merge requests %s/%s: %w", owner, repo, err)
		}
		for _, mr := range mrs {
			out = append(out, fromGitLabMergeRequest(mr))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func fromGitLabMergeRequest(mr *gitlab.MergeRequest) *PullRequestInfo {
	info := &PullRequestInfo{
		Number:  mr.IID,
		Title:   mr.Title,
		Body:    mr.Description,
		HeadSHA: mr.SHA,
		HeadRef: mr.SourceBranch,
		BaseRef: mr.TargetBranch,
		Open:    mr.State == "opened",
	}
	if mr.Author != nil {
		info.Author = mr.Author.Username
	}
	if mr.MergeStatus != "" {
		m := mr.MergeStatus == "can_be_merged"
		info.Mergeable = &m
	}
	return info
}

func (g *GitLab) ListComments(ctx context.Context, owner, repo string, number int, since time.Time) ([]Comment, error) {
	opts := &gitlab.ListMergeRequestNotesOptions{ListOptions: gitlab.ListOptions{PerPage: 100}}

	var out []Comment
	for {
		notes, resp, err := g.Notes.ListMergeRequestNotes(projectPath(owner, repo), number, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("hostclient: list notes %s/%s!%d: %w", owner, repo, number, err)
		}
		for _, n := range notes {
			if n.CreatedAt != nil && n.CreatedAt.Before(since) {
				continue
			}
			author := ""
			if n.Author.Username != "" {
				author = n.Author.Username
			}
			out = append(out, Comment{Author: author, Body: n.Body})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (g *GitLab) PostComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, _, err := g.Notes.CreateMergeRequestNote(projectPath(owner, repo), number, &gitlab.CreateMergeRequestNoteOptions{
		Body: &body,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("hostclient: post note %s/%s!%d: %w", owner, repo, number, err)
	}
	return nil
}

// CreateMergeCommit has no direct GitLab equivalent to GitHub's
// speculative-merge endpoint and always returns an error. No merge-in-place
// path exists either: the Scheduler calls CreateMergeCommit for every
// integration build, so a build for a GitLab repository fails at this step.
func (g *GitLab) CreateMergeCommit(ctx context.Context, owner, repo, baseRef, headSHA, message string) (*MergeCommit, error) {
	return nil, fmt.Errorf("hostclient: gitlab does not support speculative merge commits, use PushBranch after AcceptMergeRequest")
}

func (g *GitLab) PushBranch(ctx context.Context, owner, repo, branch, sha string) error {
	_, _, err := g.Branches.CreateBranch(projectPath(owner, repo), &gitlab.CreateBranchOptions{
		Branch: &branch,
		Ref:    &sha,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("hostclient: create branch %s/%s:%s: %w", owner, repo, branch, err)
	}
	return nil
}

func (g *GitLab) FastForward(ctx context.Context, owner, repo, branch, sha string) error {
	return g.PushBranch(ctx, owner, repo, branch, sha)
}

func (g *GitLab) SetStatus(ctx context.Context, owner, repo, sha, statusContext, state, targetURL, description string) error {
	glState := gitlab.BuildStateValue(state)
	_, _, err := g.Commits.SetCommitStatus(projectPath(owner, repo), sha, &gitlab.SetCommitStatusOptions{
		State:       glState,
		Context:     &statusContext,
		TargetURL:   &targetURL,
		Description: &description,
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("hostclient: set commit status %s/%s@%s: %w", owner, repo, sha, err)
	}
	return nil
}

// ValidateWebhookSignature checks GitLab's X-Gitlab-Token header, which
// carries the raw shared secret rather than an HMAC digest of the body.
func (g *GitLab) ValidateWebhookSignature(signatureHeader string, body []byte, secret []byte) error {
	if signatureHeader != string(secret) {
		return fmt.Errorf("hostclient: gitlab webhook token mismatch")
	}
	return nil
}

func projectPath(owner, repo string) string {
	return owner + "/" + repo
}
