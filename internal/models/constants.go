package models

// ChannelType is what kind of release schedule a channel tracks.
type ChannelType string

const (
	ChannelTypeTVShow           ChannelType = "tv-show"
	ChannelTypeMovie            ChannelType = "movie"
	ChannelTypeCustomCollection ChannelType = "custom-collection"
)

// Valid reports whether t is a known channel type.
func (t ChannelType) Valid() bool {
	switch t {
	case ChannelTypeTVShow, ChannelTypeMovie, ChannelTypeCustomCollection:
		return true
	}
	return false
}

// SourceType identifies where a channel's events come from.
type SourceType string

const (
	// SourceTypeTMDB channels are backed by The Movie Database; source_id is the TMDB id.
	SourceTypeTMDB SourceType = "tmdb"
	// SourceTypeCustom channels are maintained by users; source_id is the channel id.
	SourceTypeCustom SourceType = "custom"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	return t == SourceTypeTMDB || t == SourceTypeCustom
}

// DayLayout is the layout of Event.Day and of day range query parameters.
const DayLayout = "2006-01-02"
