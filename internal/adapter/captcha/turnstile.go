package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TurnstileVerifier checks registration challenge tokens against the
// Cloudflare Turnstile siteverify endpoint.
type TurnstileVerifier struct {
	secret     string
	verifyURL  string
	httpClient *http.Client
}

// NewTurnstileVerifier constructs a verifier. An empty secret disables
// verification entirely; Verify then accepts every request.
func NewTurnstileVerifier(secret, verifyURL string, client *http.Client) *TurnstileVerifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TurnstileVerifier{secret: secret, verifyURL: verifyURL, httpClient: client}
}

// Enabled reports whether a secret is configured.
func (v *TurnstileVerifier) Enabled() bool {
	return strings.TrimSpace(v.secret) != ""
}

// Verify submits the challenge response and the client IP to siteverify.
func (v *TurnstileVerifier) Verify(ctx context.Context, response, remoteIP string) (bool, error) {
	if !v.Enabled() {
		return true, nil
	}
	data := url.Values{}
	data.Set("secret", v.secret)
	data.Set("response", response)
	if strings.TrimSpace(remoteIP) != "" {
		data.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(data.Encode()))
	if err != nil {
		return false, fmt.Errorf("build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("siteverify request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("read siteverify response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("siteverify failed: status=%d", resp.StatusCode)
	}

	var out struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return false, fmt.Errorf("decode siteverify response: %w", err)
	}
	return out.Success, nil
}
