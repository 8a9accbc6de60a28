package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagen/releasecal/internal/auth"
	"github.com/voyagen/releasecal/internal/cache"
	"github.com/voyagen/releasecal/internal/config"
	"github.com/voyagen/releasecal/internal/metrics"
	"github.com/voyagen/releasecal/internal/models"
	"github.com/voyagen/releasecal/internal/service"
	"github.com/voyagen/releasecal/internal/store"
	"github.com/voyagen/releasecal/internal/tmdb"
)

func strPtr(s string) *string { return &s }

// stubProvider serves show 42 with one season of two episodes.
type stubProvider struct {
	mu  sync.Mutex
	err error
}

func (p *stubProvider) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *stubProvider) FetchShow(_ context.Context, showID int) (tmdb.Validated[tmdb.Show], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return tmdb.Validated[tmdb.Show]{}, p.err
	}
	if showID != 42 {
		return tmdb.Validated[tmdb.Show]{}, tmdb.ErrNotFound
	}
	return tmdb.Validated[tmdb.Show]{Value: tmdb.Show{
		ID:      42,
		Name:    "Slow Horses",
		Seasons: []tmdb.SeasonSummary{{ID: 1, SeasonNumber: 1, EpisodeCount: 2}},
	}}, nil
}

func (p *stubProvider) FetchSeason(_ context.Context, _, seasonNumber int) (tmdb.Validated[tmdb.Season], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return tmdb.Validated[tmdb.Season]{}, p.err
	}
	return tmdb.Validated[tmdb.Season]{Value: tmdb.Season{
		ID:           1,
		SeasonNumber: seasonNumber,
		Episodes: []tmdb.Episode{
			{ID: 11, Name: "Failure's Contagious", SeasonNumber: 1, EpisodeNumber: 1, AirDate: strPtr("2025-04-01")},
			{ID: 12, Name: "Work Drinks", SeasonNumber: 1, EpisodeNumber: 2, AirDate: strPtr("2025-05-01")},
		},
	}}, nil
}

func (p *stubProvider) SearchShows(_ context.Context, query string, page int) (tmdb.Validated[tmdb.SearchResults], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return tmdb.Validated[tmdb.SearchResults]{}, p.err
	}
	return tmdb.Validated[tmdb.SearchResults]{Value: tmdb.SearchResults{
		Page:         page,
		Results:      []tmdb.SearchResult{{ID: 42, Name: "Slow Horses"}},
		TotalPages:   1,
		TotalResults: 1,
	}}, nil
}

// headerAuth trusts "Bearer <user id>".
type headerAuth struct{}

func (headerAuth) UserID(r *http.Request) (string, error) {
	id := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if id == "" {
		return "", auth.ErrNotAuthenticated
	}
	return id, nil
}

type recordingQueue struct {
	jobs []cache.RefreshJob
}

func (q *recordingQueue) Enqueue(_ context.Context, job cache.RefreshJob) error {
	q.jobs = append(q.jobs, job)
	return nil
}

type testServer struct {
	handler  http.Handler
	store    *store.Memory
	provider *stubProvider
}

func newTestServer(t *testing.T, mutate func(*Deps)) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mem := store.NewMemory()
	provider := &stubProvider{}
	syncer := service.NewSynchronizer(mem, provider, zerolog.Nop(), service.SyncOptions{Metrics: m})
	deps := Deps{
		Store:    mem,
		Channels: syncer,
		Groups:   service.NewGroupManager(mem, syncer, service.DefaultStaleAfter, zerolog.Nop()),
		Search:   provider,
		Auth:     headerAuth{},
		Gatherer: reg,
		Log:      zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv := New(&config.Config{ServerPort: "0", SyncTimeout: time.Second}, deps)
	return &testServer{handler: srv.Handler(), store: mem, provider: provider}
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflight(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodOptions, "/api/me/subscriptions", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUserRoutesRequireAuth(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/me/subscriptions"},
		{http.MethodPost, "/api/me/subscriptions"},
		{http.MethodDelete, "/api/me/subscriptions"},
		{http.MethodDelete, "/api/me/subscriptions/abc"},
		{http.MethodGet, "/api/me/events"},
		{http.MethodPost, "/api/channels/abc/refresh"},
	} {
		rec := ts.do(t, tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
		apiErr := decodeBody[APIError](t, rec)
		assert.False(t, apiErr.Retryable)
	}
}

func TestNilAuthRejects(t *testing.T) {
	ts := newTestServer(t, func(d *Deps) { d.Auth = nil })
	rec := ts.do(t, http.MethodGet, "/api/me/subscriptions", "user-1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubscribeFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/me/subscriptions", "user-1", map[string]int{"tmdbId": 42})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sub := decodeBody[service.Subscription](t, rec)
	assert.Equal(t, "user-1", sub.SubscriptionGroupID)
	require.NotEmpty(t, sub.ChannelID)

	rec = ts.do(t, http.MethodGet, "/api/me/subscriptions", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	channels := decodeBody[[]models.Channel](t, rec)
	require.Len(t, channels, 1)
	assert.Equal(t, "Slow Horses", channels[0].Name)
	assert.Equal(t, models.SourceTypeTMDB, channels[0].Data.Kind)

	rec = ts.do(t, http.MethodGet, "/api/me/events?startDay=2025-04-01&endDay=2025-04-30", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decodeBody[[]models.Event](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, "Failure's Contagious", events[0].EventTitle)

	rec = ts.do(t, http.MethodGet, "/api/channels/"+sub.ChannelID+"/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.Event](t, rec), 2)

	rec = ts.do(t, http.MethodGet, "/api/me/subscriptions", "user-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(t, http.MethodDelete, "/api/me/subscriptions/"+sub.ChannelID, "user-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/api/me/subscriptions/"+sub.ChannelID, "user-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.do(t, http.MethodPost, "/api/me/subscriptions", "user-1", map[string]int{"tmdbId": 42})
	rec = ts.do(t, http.MethodDelete, "/api/me/subscriptions", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":1}`, rec.Body.String())
}

func TestSubscribeValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/api/me/subscriptions", "user-1", map[string]int{"tmdbId": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/me/subscriptions", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer user-1")
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rec = ts.do(t, http.MethodPost, "/api/me/subscriptions", "user-1", map[string]int{"tmdbId": 7})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscribeUpstreamFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.provider.setErr(&tmdb.UpstreamError{Endpoint: tmdb.EndpointShow, StatusCode: 503, Err: errors.New("down")})

	rec := ts.do(t, http.MethodPost, "/api/me/subscriptions", "user-1", map[string]int{"tmdbId": 42})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	apiErr := decodeBody[APIError](t, rec)
	assert.True(t, apiErr.Retryable)
	assert.Equal(t, "Bad Gateway", apiErr.Error)
}

func TestEventsRejectsBadRange(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/api/me/events?startDay=2025-13-01", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/channels/x/events?startDay=2025-02-01&endDay=2025-01-01", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetChannel(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/api/channels/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/me/subscriptions", "user-1", map[string]int{"tmdbId": 42})
	sub := decodeBody[service.Subscription](t, rec)

	rec = ts.do(t, http.MethodGet, "/api/channels/"+sub.ChannelID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ch := decodeBody[models.Channel](t, rec)
	assert.Equal(t, "42", ch.SourceID)
}

func TestRefreshInline(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodPost, "/api/me/subscriptions", "user-1", map[string]int{"tmdbId": 42})
	sub := decodeBody[service.Subscription](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/channels/"+sub.ChannelID+"/refresh", "user-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"channelId":"`+sub.ChannelID+`","refreshed":true}`, rec.Body.String())
}

func TestRefreshQueued(t *testing.T) {
	q := &recordingQueue{}
	ts := newTestServer(t, func(d *Deps) { d.Queue = q })
	rec := ts.do(t, http.MethodPost, "/api/me/subscriptions", "user-1", map[string]int{"tmdbId": 42})
	sub := decodeBody[service.Subscription](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/channels/"+sub.ChannelID+"/refresh", "user-1", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, q.jobs, 1)
	assert.Equal(t, sub.ChannelID, q.jobs[0].ChannelID)
	assert.Equal(t, 42, q.jobs[0].ExternalID)
	assert.Equal(t, "user-1", q.jobs[0].RequestedBy)
}

func TestRefreshCustomChannel(t *testing.T) {
	ts := newTestServer(t, nil)
	custom := &models.Channel{
		ID:         "custom-1",
		Name:       "Mine",
		Type:       models.ChannelTypeCustomCollection,
		SourceType: models.SourceTypeCustom,
		SourceID:   "custom-1",
		Data:       models.NewCustomData(models.CustomData{}),
	}
	require.NoError(t, ts.store.CreateChannelWithEvents(context.Background(), custom, nil))

	rec := ts.do(t, http.MethodPost, "/api/channels/custom-1/refresh", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchShows(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/shows/search?q=slow&page=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[searchResponse](t, rec)
	assert.Equal(t, 2, res.Page)
	require.Len(t, res.Results, 1)
	assert.Equal(t, 42, res.Results[0].ID)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/shows/search", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/shows/search?q=x&page=0", "", nil).Code)
}

func TestMetricsAndDocs(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, http.MethodPost, "/api/me/subscriptions", "user-1", map[string]int{"tmdbId": 42})

	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "releasecal_channel_sync_total")

	rec = ts.do(t, http.MethodGet, "/api/docs/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/me/subscriptions")

	rec = ts.do(t, http.MethodGet, "/api/docs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "swagger-ui")
}

func TestWithJWTVerifier(t *testing.T) {
	secret := []byte("s3cret")
	v, err := auth.NewVerifier(secret)
	require.NoError(t, err)
	ts := newTestServer(t, func(d *Deps) { d.Auth = v })

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-jwt",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/api/me/subscriptions", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/me/subscriptions", "user-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		retryable bool
	}{
		{service.ErrSyncInProgress, http.StatusServiceUnavailable, true},
		{&tmdb.UpstreamError{Endpoint: "show", Err: errors.New("x")}, http.StatusBadGateway, true},
		{tmdb.ErrNotFound, http.StatusNotFound, false},
		{store.ErrNotFound, http.StatusNotFound, false},
		{auth.ErrNotAuthenticated, http.StatusUnauthorized, false},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, true},
		{errBadRequest("nope"), http.StatusBadRequest, false},
		{errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		status, retryable := classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.retryable, retryable, tt.err.Error())
	}
}
