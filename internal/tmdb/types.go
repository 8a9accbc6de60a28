package tmdb

// Show is the subset of GET /tv/{id} the synchronizer relies on. Fields tagged
// required must be present for the payload to count as valid.
type Show struct {
	ID               int             `json:"id" validate:"required"`
	Name             string          `json:"name" validate:"required"`
	OriginalName     string          `json:"original_name"`
	Overview         string          `json:"overview"`
	FirstAirDate     *string         `json:"first_air_date"`
	LastAirDate      *string         `json:"last_air_date"`
	Status           string          `json:"status"`
	Homepage         *string         `json:"homepage"`
	PosterPath       *string         `json:"poster_path"`
	InProduction     bool            `json:"in_production"`
	NumberOfSeasons  int             `json:"number_of_seasons" validate:"gte=0"`
	NumberOfEpisodes int             `json:"number_of_episodes" validate:"gte=0"`
	Seasons          []SeasonSummary `json:"seasons" validate:"required,dive"`
}

// SeasonSummary is an entry of Show.Seasons.
type SeasonSummary struct {
	ID           int     `json:"id" validate:"required"`
	Name         string  `json:"name"`
	AirDate      *string `json:"air_date"`
	EpisodeCount int     `json:"episode_count" validate:"gte=0"`
	SeasonNumber int     `json:"season_number" validate:"gte=0"`
}

// Season is GET /tv/{id}/season/{n}.
type Season struct {
	ID           int       `json:"id" validate:"required"`
	Name         string    `json:"name"`
	Overview     string    `json:"overview"`
	AirDate      *string   `json:"air_date"`
	SeasonNumber int       `json:"season_number" validate:"gte=0"`
	Episodes     []Episode `json:"episodes" validate:"required,dive"`
}

// Episode is an entry of Season.Episodes. AirDate is null for unscheduled episodes.
type Episode struct {
	ID            int     `json:"id" validate:"required"`
	Name          string  `json:"name"`
	Overview      string  `json:"overview"`
	AirDate       *string `json:"air_date"`
	EpisodeNumber int     `json:"episode_number" validate:"gte=0"`
	SeasonNumber  int     `json:"season_number" validate:"gte=0"`
	EpisodeType   string  `json:"episode_type"`
	Runtime       *int    `json:"runtime"`
}

// SearchResults is GET /search/tv.
type SearchResults struct {
	Page         int            `json:"page" validate:"gte=0"`
	Results      []SearchResult `json:"results" validate:"required,dive"`
	TotalPages   int            `json:"total_pages"`
	TotalResults int            `json:"total_results"`
}

// SearchResult is one show in SearchResults.
type SearchResult struct {
	ID           int     `json:"id" validate:"required"`
	Name         string  `json:"name" validate:"required"`
	OriginalName string  `json:"original_name"`
	Overview     string  `json:"overview"`
	FirstAirDate string  `json:"first_air_date"`
	PosterPath   *string `json:"poster_path"`
	Popularity   float64 `json:"popularity"`
}

// errorResponse is the body TMDB sends with non-2xx statuses.
type errorResponse struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}
