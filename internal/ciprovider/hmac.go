package ciprovider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// hmacPayload is the shape both Jenkins and Solano notifications carry:
// a JSON body with the HMAC-SHA256 digest of the remaining fields
// embedded as a sibling field, rather than a header (§6: "HMAC in body").
type hmacPayload struct {
	Signature string          `json:"signature"`
	Repo      string          `json:"repo"`
	SHA       string          `json:"sha"`
	Builder   string          `json:"builder"`
	Status    string          `json:"status"`
	URL       string          `json:"url"`
	Raw       json.RawMessage `json:"-"`
}

func decodeHMACPayload(body []byte, secret string) (*hmacPayload, error) {
	var p hmacPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("ciprovider: decode payload: %w", err)
	}

	signed := struct {
		Repo    string `json:"repo"`
		SHA     string `json:"sha"`
		Builder string `json:"builder"`
		Status  string `json:"status"`
		URL     string `json:"url"`
	}{p.Repo, p.SHA, p.Builder, p.Status, p.URL}
	signedBody, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("ciprovider: re-encode payload for verification: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(signedBody)
	want := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(want), []byte(p.Signature)) {
		return nil, ErrAuthFailure
	}
	return &p, nil
}
