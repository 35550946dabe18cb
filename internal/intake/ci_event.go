package intake

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// sniffCIRepo extracts the owner/name pair a CI callback refers to,
// before authentication, so the handler knows which repository's secret
// to authenticate against. Each provider's Authenticate re-derives the
// same fields once the secret is known to be correct; this only reads
// enough of the payload to route the request.
func sniffCIRepo(providerName string, r *http.Request, body []byte) (owner, repo string, ok bool) {
	switch providerName {
	case "circleci":
		var p struct {
			Payload struct {
				Reponame string `json:"reponame"`
				Username string `json:"username"`
			} `json:"payload"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return "", "", false
		}
		if p.Payload.Username == "" || p.Payload.Reponame == "" {
			return "", "", false
		}
		return p.Payload.Username, p.Payload.Reponame, true

	case "buildbot":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return "", "", false
		}
		return splitSlug(values.Get("repo"))

	case "travis":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return "", "", false
		}
		var p struct {
			Repository struct {
				Slug string `json:"slug"`
			} `json:"repository"`
		}
		if err := json.Unmarshal([]byte(values.Get("payload")), &p); err != nil {
			return "", "", false
		}
		return splitSlug(p.Repository.Slug)

	case "jenkins", "solano":
		var p struct {
			Repo string `json:"repo"`
		}
		if err := json.Unmarshal(body, &p); err != nil {
			return "", "", false
		}
		return splitSlug(p.Repo)

	default:
		return "", "", false
	}
}

func splitSlug(slug string) (owner, repo string, ok bool) {
	parts := strings.SplitN(slug, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
