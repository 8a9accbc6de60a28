package models

import "time"

// Event is a dated occurrence (e.g. an episode air date) owned by one channel.
// Events are derived data: a channel refresh replaces all of them with new ids.
type Event struct {
	ID            string     `json:"id"`
	ChannelID     string     `json:"channelId"`
	EventTitle    string     `json:"eventTitle"`
	Day           string     `json:"day"` // YYYY-MM-DD, no timezone
	HasTime       bool       `json:"hasTime"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	Description   string     `json:"description,omitempty"`
	SeasonNumber  *int       `json:"seasonNumber,omitempty"`
	EpisodeNumber *int       `json:"episodeNumber,omitempty"`
	Link          string     `json:"link,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}
