package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

const (
	defaultTokenURL = "https://accounts.spotify.com/api/token"
	defaultAPIURL   = "https://api.spotify.com/v1"

	searchLimit = 10
)

// Client searches the Spotify catalog using the client-credentials flow.
// The held token's expiry is checked opportunistically before each search;
// an expired token kicks off a single background refresh while the current
// request proceeds (and likely fails) with the stale credential. A future
// call succeeds once the refresh lands.
type Client struct {
	logger   *zap.Logger
	http     *http.Client
	clientID string
	secret   string
	tokenURL string
	apiURL   string

	mu         sync.Mutex
	token      string
	expiry     time.Time
	refreshing bool
}

// New creates a Spotify client with the given application credentials
func New(logger *zap.Logger, clientID, secret string) *Client {
	return &Client{
		logger:   logger,
		clientID: clientID,
		secret:   secret,
		tokenURL: defaultTokenURL,
		apiURL:   defaultAPIURL,
		http: &http.Client{
			Timeout: 10 * time.Second, // Essential to prevent blocking the daemon
		},
	}
}

type searchResponse struct {
	Tracks struct {
		Items []struct {
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
			ExternalURLs struct {
				Spotify string `json:"spotify"`
			} `json:"external_urls"`
		} `json:"items"`
	} `json:"tracks"`
}

// SearchTrack queries the catalog favoring an exact track and artist match.
// An empty artist widens the query to the title alone.
func (c *Client) SearchTrack(ctx context.Context, title, artist string) ([]domain.TrackCandidate, error) {
	// The very first search waits for the grant; with no token at all the
	// request would 401 and poison the caller's result cache.
	if err := c.ensureToken(ctx); err != nil {
		return nil, fmt.Errorf("initial credential grant failed: %w", err)
	}
	c.maybeRefresh()

	query := ""
	if title != "" {
		query += "track:" + title
	}
	if artist != "" {
		query += " artist:" + artist
	}

	endpoint := fmt.Sprintf("%s/search?type=track&limit=%d&q=%s",
		c.apiURL, searchLimit, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.currentToken())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// One-shot refresh; this request still fails and the caller's
		// resolution is cached as empty. The next lookup gets a fresh
		// token.
		c.mu.Lock()
		c.expiry = time.Time{}
		c.mu.Unlock()
		c.maybeRefresh()
		return nil, fmt.Errorf("search unauthorized (credential expired)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	candidates := make([]domain.TrackCandidate, 0, len(parsed.Tracks.Items))
	for _, item := range parsed.Tracks.Items {
		cand := domain.TrackCandidate{
			Title:       item.Name,
			ExternalURL: item.ExternalURLs.Spotify,
		}
		if len(item.Artists) > 0 {
			cand.Artist = item.Artists[0].Name
		}
		candidates = append(candidates, cand)
	}

	c.logger.Debug("Track search completed",
		zap.String("query", query),
		zap.Int("candidates", len(candidates)))

	return candidates, nil
}

// RefreshCredential performs a client-credentials grant and stores the new
// token with its expiry
func (c *Client) RefreshCredential(ctx context.Context) error {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if grant.AccessToken == "" {
		return fmt.Errorf("token response missing access_token")
	}

	c.mu.Lock()
	c.token = grant.AccessToken
	c.expiry = time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	c.mu.Unlock()

	c.logger.Info("Spotify credential refreshed",
		zap.Int("expiresInSeconds", grant.ExpiresIn))

	return nil
}

// ensureToken performs a synchronous grant when no credential has been
// obtained yet. Refreshes of an existing credential happen in the background.
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	empty := c.token == ""
	c.mu.Unlock()
	if !empty {
		return nil
	}
	return c.RefreshCredential(ctx)
}

// maybeRefresh starts a background refresh when the credential has expired
// and none is already in flight
func (c *Client) maybeRefresh() {
	c.mu.Lock()
	expired := time.Now().After(c.expiry)
	start := expired && !c.refreshing
	if start {
		c.refreshing = true
	}
	c.mu.Unlock()

	if !start {
		return
	}

	go func() {
		if err := c.RefreshCredential(context.Background()); err != nil {
			c.logger.Error("Something went wrong when retrieving an access token",
				zap.Error(err))
		}
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}
