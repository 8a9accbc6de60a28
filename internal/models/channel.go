package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channel is a subscribable source of events (a show, a movie or a custom collection).
// Provider-backed channels are unique per (SourceType, SourceID).
type Channel struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Type          ChannelType `json:"type"`
	SourceType    SourceType  `json:"sourceType"`
	SourceID      string      `json:"sourceId"`
	LastIndexedAt *time.Time  `json:"lastIndexedAt,omitempty"`
	Data          ChannelData `json:"data"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// IsFresh reports whether the channel was indexed less than staleAfter before now.
// A channel that was never indexed, or a non-positive staleAfter, is never fresh.
func (c *Channel) IsFresh(now time.Time, staleAfter time.Duration) bool {
	if c.LastIndexedAt == nil || staleAfter <= 0 {
		return false
	}
	return now.Sub(*c.LastIndexedAt) < staleAfter
}

// ChannelData holds source specific channel metadata. Exactly one variant is set and
// it must match Kind.
type ChannelData struct {
	Kind   SourceType  `json:"kind"`
	TMDB   *TMDBData   `json:"tmdb,omitempty"`
	Custom *CustomData `json:"custom,omitempty"`
}

// TMDBData is the metadata kept for channels indexed from TMDB.
type TMDBData struct {
	TMDBID          int    `json:"tmdbId"`
	FirstAirDate    string `json:"firstAirDate,omitempty"`
	LastAirDate     string `json:"lastAirDate,omitempty"`
	Status          string `json:"status,omitempty"`
	NumberOfSeasons int    `json:"numberOfSeasons,omitempty"`
	Homepage        string `json:"homepage,omitempty"`
	PosterPath      string `json:"posterPath,omitempty"`
}

// CustomData is the metadata kept for user maintained collections.
type CustomData struct {
	DefaultLink string `json:"defaultLink,omitempty"`
}

// NewTMDBData wraps d as channel data.
func NewTMDBData(d TMDBData) ChannelData {
	return ChannelData{Kind: SourceTypeTMDB, TMDB: &d}
}

// NewCustomData wraps d as channel data.
func NewCustomData(d CustomData) ChannelData {
	return ChannelData{Kind: SourceTypeCustom, Custom: &d}
}

// Validate checks that the variant matches Kind.
func (d ChannelData) Validate() error {
	switch d.Kind {
	case SourceTypeTMDB:
		if d.TMDB == nil || d.Custom != nil {
			return fmt.Errorf("channel data: kind %q requires only the tmdb variant", d.Kind)
		}
	case SourceTypeCustom:
		if d.Custom == nil || d.TMDB != nil {
			return fmt.Errorf("channel data: kind %q requires only the custom variant", d.Kind)
		}
	default:
		return fmt.Errorf("channel data: unknown kind %q", d.Kind)
	}
	return nil
}

// UnmarshalJSON decodes and validates the tagged union.
func (d *ChannelData) UnmarshalJSON(b []byte) error {
	type plain ChannelData
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	if err := ChannelData(p).Validate(); err != nil {
		return err
	}
	*d = ChannelData(p)
	return nil
}
