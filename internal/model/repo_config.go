package model

// HostKind selects which host-capability backend a repository is served
// through.
type HostKind string

const (
	HostGitHub HostKind = "github"
	HostGitLab HostKind = "gitlab"
)

// CIBinding maps a CI provider name to the auth mode Homu expects on its
// webhook endpoint for this repository (§6).
type CIBinding struct {
	Provider string `json:"provider"`
	Secret   string `json:"secret"`
}

// RepoConfig is the per-repository configuration the Model holds
// alongside its pull requests (§3.1.a). It is populated by internal/config
// from the JSON configuration file.
type RepoConfig struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`

	Host HostKind `json:"host"`

	Reviewers []string `json:"reviewers"`
	Admins    []string `json:"admins"`

	RequiredBuilders []string `json:"required_builders"`

	IntegrationBranch string `json:"integration_branch"`
	ProtectedBranch   string `json:"protected_branch"`

	RollupCap        int  `json:"rollup_cap"`
	BisectOnRollup   bool `json:"bisect_on_rollup"`

	CIBindings []CIBinding `json:"ci_bindings"`

	WebhookSecret string `json:"webhook_secret"`

	TriggerToken string `json:"trigger_token"`

	// Delegates maps a user login granted approval authority to the
	// reviewer login that granted it (§4.4 delegate= / delegate+).
	Delegates map[string]string `json:"-"`
}

// Label returns the "owner/name" identity used as the Model/Store key.
func (c *RepoConfig) Label() string {
	return c.Owner + "/" + c.Name
}

// IsReviewer reports whether login is on the reviewer list for this
// repository.
func (c *RepoConfig) IsReviewer(login string) bool {
	for _, r := range c.Reviewers {
		if r == login {
			return true
		}
	}
	return false
}

// IsAdmin reports whether login is on the admin list for this repository.
func (c *RepoConfig) IsAdmin(login string) bool {
	for _, a := range c.Admins {
		if a == login {
			return true
		}
	}
	return false
}

// CanApprove reports whether login is authorized to approve, unapprove,
// or set priority: a reviewer, an admin, or a delegate.
func (c *RepoConfig) CanApprove(login string) bool {
	if c.IsReviewer(login) || c.IsAdmin(login) {
		return true
	}
	_, delegated := c.Delegates[login]
	return delegated
}
