package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/marketsync/internal/client/backoff"
	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/transport"
)

// Refresher exchanges a refresh token for a new credential pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.Credentials, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (domain.Credentials, error)

func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (domain.Credentials, error) {
	return f(ctx, refreshToken)
}

// TokenResponse is the OAuth2 token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// TokenError is a rejected token request.
type TokenError struct {
	Status      int
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *TokenError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("token request failed with status %d", e.Status)
	}
	return fmt.Sprintf("token request failed with status %d: %s: %s", e.Status, e.Code, e.Description)
}

// HTTPRefresher runs the OAuth2 refresh_token grant against the API. It calls
// the transport directly: the refresh endpoint is never retried and never
// goes through the auth-retry path.
type HTTPRefresher struct {
	Transport transport.Transport
	ClientID  string

	// Path of the token endpoint, backoff.PathRefresh when empty.
	Path string
	// RevokePath of the revocation endpoint, backoff.PathRevoke when empty.
	RevokePath string
}

func (r *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (domain.Credentials, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {r.ClientID},
	}

	resp, err := r.postForm(ctx, orDefault(r.Path, backoff.PathRefresh), data)
	if err != nil {
		return domain.Credentials{}, err
	}
	if resp.Status != http.StatusOK {
		return domain.Credentials{}, tokenError(resp)
	}

	var token TokenResponse
	if err := json.Unmarshal(resp.Body, &token); err != nil {
		return domain.Credentials{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if !strings.EqualFold(token.TokenType, "bearer") && token.TokenType != "" {
		return domain.Credentials{}, fmt.Errorf("unsupported token type %q", token.TokenType)
	}

	return domain.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}, nil
}

// Revoke asks the server to invalidate a refresh token. Used on sign-out;
// the local pair is cleared whether or not this succeeds.
func (r *HTTPRefresher) Revoke(ctx context.Context, refreshToken string) error {
	data := url.Values{
		"token":     {refreshToken},
		"client_id": {r.ClientID},
	}

	resp, err := r.postForm(ctx, orDefault(r.RevokePath, backoff.PathRevoke), data)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return tokenError(resp)
	}
	return nil
}

func (r *HTTPRefresher) postForm(ctx context.Context, path string, data url.Values) (*transport.Response, error) {
	req := &transport.Request{
		Method: http.MethodPost,
		Path:   path,
		Header: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
		Body:   []byte(data.Encode()),
	}

	resp, err := r.Transport.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func tokenError(resp *transport.Response) error {
	tokenErr := &TokenError{Status: resp.Status}
	_ = json.Unmarshal(resp.Body, tokenErr)
	return tokenErr
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
