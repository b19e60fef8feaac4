package spotify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(tokenURL, apiURL string) *Client {
	c := New(zap.NewNop(), "client-id", "client-secret")
	c.tokenURL = tokenURL
	c.apiURL = apiURL
	// A valid far-future credential keeps the opportunistic background
	// refresh out of tests that don't exercise it
	c.token = "test-token"
	c.expiry = time.Now().Add(time.Hour)
	return c
}

func TestClient_SearchTrack(t *testing.T) {
	var gotQuery, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "track", r.URL.Query().Get("type"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tracks":{"items":[
			{"name":"My Song","artists":[{"name":"My Artist"},{"name":"Feature"}],
			 "external_urls":{"spotify":"https://open.spotify.com/track/x"}},
			{"name":"My Song (Live)","artists":[],
			 "external_urls":{"spotify":""}}
		]}}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL)

	candidates, err := c.SearchTrack(context.Background(), "My Song", "My Artist")
	require.NoError(t, err)

	assert.Equal(t, "track:My Song artist:My Artist", gotQuery)
	assert.Equal(t, "Bearer test-token", gotAuth)

	require.Len(t, candidates, 2)
	assert.Equal(t, "My Song", candidates[0].Title)
	assert.Equal(t, "My Artist", candidates[0].Artist)
	assert.Equal(t, "https://open.spotify.com/track/x", candidates[0].ExternalURL)
	assert.Equal(t, "", candidates[1].Artist)
	assert.Equal(t, "", candidates[1].ExternalURL)
}

func TestClient_SearchTrackWithoutArtist(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tracks":{"items":[]}}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL)

	candidates, err := c.SearchTrack(context.Background(), "My Song", "")
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Equal(t, "track:My Song", gotQuery)
}

func TestClient_FirstSearchGrantsCredentialBeforeQuerying(t *testing.T) {
	var grants atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, _ *http.Request) {
		grants.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"first-token","expires_in":3600}`))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		// A search without the freshly granted token would be the bug
		if r.Header.Get("Authorization") != "Bearer first-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tracks":{"items":[
			{"name":"My Song","artists":[{"name":"My Artist"}],
			 "external_urls":{"spotify":"https://open.spotify.com/track/x"}}
		]}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := New(zap.NewNop(), "client-id", "client-secret")
	c.tokenURL = server.URL + "/token"
	c.apiURL = server.URL

	candidates, err := c.SearchTrack(context.Background(), "My Song", "My Artist")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "https://open.spotify.com/track/x", candidates[0].ExternalURL)
	assert.Equal(t, int32(1), grants.Load())

	// The granted credential is reused, not re-granted per search
	_, err = c.SearchTrack(context.Background(), "My Song", "My Artist")
	require.NoError(t, err)
	assert.Equal(t, int32(1), grants.Load())
}

func TestClient_FirstSearchFailsWhenGrantFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := New(zap.NewNop(), "client-id", "client-secret")
	c.tokenURL = server.URL
	c.apiURL = server.URL

	_, err := c.SearchTrack(context.Background(), "Song", "Artist")
	assert.ErrorContains(t, err, "credential grant")
}

func TestClient_SearchUnauthorizedTriggersRefresh(t *testing.T) {
	var refreshes atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client-id", user)
		assert.Equal(t, "client-secret", pass)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh-token","expires_in":3600}`))
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tracks":{"items":[]}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestClient(server.URL+"/token", server.URL)
	c.token = "stale-token"

	// The stale credential fails this call but kicks off a refresh
	_, err := c.SearchTrack(context.Background(), "Song", "Artist")
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return c.currentToken() == "fresh-token"
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), refreshes.Load())

	// The next call succeeds on the refreshed credential
	_, err = c.SearchTrack(context.Background(), "Song", "Artist")
	require.NoError(t, err)
}

func TestClient_RefreshCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"granted","expires_in":3600}`))
	}))
	defer server.Close()

	c := New(zap.NewNop(), "client-id", "client-secret")
	c.tokenURL = server.URL

	require.NoError(t, c.RefreshCredential(context.Background()))
	assert.Equal(t, "granted", c.currentToken())
	assert.True(t, c.expiry.After(time.Now().Add(time.Hour/2)))
}

func TestClient_RefreshCredentialRejectsEmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"expires_in":3600}`))
	}))
	defer server.Close()

	c := New(zap.NewNop(), "client-id", "client-secret")
	c.tokenURL = server.URL

	assert.Error(t, c.RefreshCredential(context.Background()))
}

func TestClient_SearchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(server.URL, server.URL)

	_, err := c.SearchTrack(context.Background(), "Song", "Artist")
	assert.Error(t, err)
}
