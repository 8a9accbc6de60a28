package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/voyagen/releasecal/internal/auth"
	"github.com/voyagen/releasecal/internal/cache"
	"github.com/voyagen/releasecal/internal/models"
	"github.com/voyagen/releasecal/internal/service"
	"github.com/voyagen/releasecal/internal/store"
	"github.com/voyagen/releasecal/internal/tmdb"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- provider ---

type searchResponse struct {
	Results      []tmdb.SearchResult `json:"results"`
	Page         int                 `json:"page"`
	TotalPages   int                 `json:"totalPages"`
	TotalResults int                 `json:"totalResults"`
}

func (s *Server) handleSearchShows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		s.writeErr(w, errBadRequest("q parameter is required"))
		return
	}
	page := 1
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeErr(w, errBadRequest(fmt.Sprintf("invalid page: %s", v)))
			return
		}
		page = n
	}

	res, err := s.Search.SearchShows(r.Context(), query, page)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	results := res.Value.Results
	if results == nil {
		results = []tmdb.SearchResult{}
	}
	s.writeJSON(w, http.StatusOK, searchResponse{
		Results:      results,
		Page:         res.Value.Page,
		TotalPages:   res.Value.TotalPages,
		TotalResults: res.Value.TotalResults,
	})
}

// --- current user ---

// userGroup resolves the caller's subscription group, creating it on first use.
func (s *Server) userGroup(w http.ResponseWriter, r *http.Request) (*models.SubscriptionGroup, bool) {
	userID, _ := auth.UserIDFrom(r.Context())
	grp, err := s.Groups.GetOrCreateGroup(r.Context(), userID)
	if err != nil {
		s.writeErr(w, err)
		return nil, false
	}
	return grp, true
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	grp, ok := s.userGroup(w, r)
	if !ok {
		return
	}
	channels, err := s.Groups.ListChannels(r.Context(), grp.ID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	s.writeJSON(w, http.StatusOK, channels)
}

type subscribeRequest struct {
	TMDBID int `json:"tmdbId"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErr(w, errBadRequest(fmt.Sprintf("invalid JSON: %v", err)))
		return
	}
	if req.TMDBID <= 0 {
		s.writeErr(w, errBadRequest("tmdbId must be a positive integer"))
		return
	}

	userID, _ := auth.UserIDFrom(r.Context())
	sub, err := s.Groups.Subscribe(r.Context(), userID, req.TMDBID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sub)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	grp, ok := s.userGroup(w, r)
	if !ok {
		return
	}
	channelID := r.PathValue("channelId")
	if err := s.Groups.RemoveChannel(r.Context(), grp.ID, channelID); err != nil {
		s.writeErr(w, err)
		return
	}
	writeNoContent(w)
}

func (s *Server) handleClearSubscriptions(w http.ResponseWriter, r *http.Request) {
	grp, ok := s.userGroup(w, r)
	if !ok {
		return
	}
	n, err := s.Groups.RemoveAllChannels(r.Context(), grp.ID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

func (s *Server) handleListMyEvents(w http.ResponseWriter, r *http.Request) {
	days, err := parseDayRange(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	grp, ok := s.userGroup(w, r)
	if !ok {
		return
	}
	events, err := s.Groups.ListEvents(r.Context(), grp.ID, days)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

// --- channels ---

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.Store.GetChannelByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleListChannelEvents(w http.ResponseWriter, r *http.Request) {
	days, err := parseDayRange(r)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	channelID := r.PathValue("id")
	if _, err := s.Store.GetChannelByID(r.Context(), channelID); err != nil {
		s.writeErr(w, err)
		return
	}
	events, err := s.Store.ListChannelEvents(r.Context(), channelID, days)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleRefreshChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.Store.GetChannelByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	externalID, err := service.ExternalIDOf(ch)
	if err != nil {
		s.writeErr(w, errBadRequest(err.Error()))
		return
	}

	if s.Queue != nil {
		userID, _ := auth.UserIDFrom(r.Context())
		job := cache.RefreshJob{ChannelID: ch.ID, ExternalID: externalID, RequestedBy: userID}
		if err := s.Queue.Enqueue(r.Context(), job); err != nil {
			s.writeErr(w, fmt.Errorf("enqueue refresh: %w", err))
			return
		}
		s.writeJSON(w, http.StatusAccepted, map[string]any{"channelId": ch.ID, "queued": true})
		return
	}

	id, err := s.Channels.EnsureChannel(r.Context(), externalID, 0)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"channelId": id, "refreshed": true})
}

// --- helpers ---

// parseDayRange reads the startDay and endDay query parameters.
func parseDayRange(r *http.Request) (store.DayRange, error) {
	q := r.URL.Query()
	days := store.DayRange{Start: q.Get("startDay"), End: q.Get("endDay")}
	if err := days.Validate(); err != nil {
		return store.DayRange{}, errBadRequest(err.Error())
	}
	return days, nil
}
