package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/voyagen/releasecal/internal/models"
	"github.com/voyagen/releasecal/internal/tmdb"
)

const episodeLinkFormat = "https://www.themoviedb.org/tv/%d/season/%d/episode/%d"

// BuildEvents turns a show's seasons into the channel's event set, one event per
// episode with a usable air date. Episodes without one are skipped and logged.
func BuildEvents(channelID string, show tmdb.Show, seasons []tmdb.Season, log zerolog.Logger, newID func() string) []models.Event {
	var events []models.Event
	for _, season := range seasons {
		for _, ep := range season.Episodes {
			seasonNumber := ep.SeasonNumber
			if seasonNumber == 0 {
				seasonNumber = season.SeasonNumber
			}
			episodeNumber := ep.EpisodeNumber

			day, ok := parseAirDate(ep.AirDate)
			if !ok {
				ev := log.Warn().
					Int("tmdb_id", show.ID).
					Int("season", seasonNumber).
					Int("episode", episodeNumber)
				if ep.AirDate != nil {
					ev = ev.Str("air_date", *ep.AirDate)
				}
				ev.Msg("skipping episode without a usable air date")
				continue
			}

			title := strings.TrimSpace(ep.Name)
			if title == "" {
				title = fmt.Sprintf("S%02dE%02d", seasonNumber, episodeNumber)
			}
			events = append(events, models.Event{
				ID:            newID(),
				ChannelID:     channelID,
				EventTitle:    title,
				Day:           day,
				Description:   ep.Overview,
				SeasonNumber:  &seasonNumber,
				EpisodeNumber: &episodeNumber,
				Link:          fmt.Sprintf(episodeLinkFormat, show.ID, seasonNumber, episodeNumber),
			})
		}
	}
	return events
}

// parseAirDate returns the normalized day of a provider air date.
func parseAirDate(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	raw := strings.TrimSpace(*s)
	if raw == "" {
		return "", false
	}
	t, err := time.Parse(models.DayLayout, raw)
	if err != nil {
		return "", false
	}
	return t.Format(models.DayLayout), true
}

// applyShow copies show metadata onto ch. Identity fields are left alone.
func applyShow(ch *models.Channel, show tmdb.Show) {
	ch.Name = show.Name
	if ch.Name == "" {
		ch.Name = show.OriginalName
	}
	ch.Description = show.Overview
	ch.Type = models.ChannelTypeTVShow
	ch.Data = models.NewTMDBData(models.TMDBData{
		TMDBID:          show.ID,
		FirstAirDate:    deref(show.FirstAirDate),
		LastAirDate:     deref(show.LastAirDate),
		Status:          show.Status,
		NumberOfSeasons: show.NumberOfSeasons,
		Homepage:        deref(show.Homepage),
		PosterPath:      deref(show.PosterPath),
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
