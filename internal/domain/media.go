package domain

import "time"

// SearchResult is a candidate returned by the indexing service.
type SearchResult struct {
	Title   string `json:"title"`
	Size    string `json:"size"`
	Seeds   int    `json:"seeds"`
	Leeches int    `json:"leeches"`
	Magnet  string `json:"magnet"`
}

// ResolvedFile is a directly fetchable file produced by resolution.
type ResolvedFile struct {
	Filename  string `json:"filename"`
	DirectURL string `json:"link"`
}

// ResolutionStatus distinguishes the non-error outcomes of resolving a magnet.
type ResolutionStatus string

const (
	ResolutionReady        ResolutionStatus = "ready"
	ResolutionStillCaching ResolutionStatus = "still-caching"
	ResolutionNoFiles      ResolutionStatus = "no-files"
)

// Resolution is the outcome of a successful resolve call.
type Resolution struct {
	Status   ResolutionStatus
	Hash     string
	RemoteID string
	Files    []ResolvedFile
}

// Message returns the user facing description of the outcome.
func (r Resolution) Message() string {
	switch r.Status {
	case ResolutionReady:
		return "Ready to play."
	case ResolutionStillCaching:
		return "Torrent is still caching. Please try again in a moment."
	default:
		return "No files found."
	}
}

// WatchHistoryEntry groups playback records for one magnet.
type WatchHistoryEntry struct {
	ID            string        `json:"id"`
	MagnetHash    string        `json:"magnetHash"`
	MagnetTitle   string        `json:"magnetTitle"`
	Files         []WatchedFile `json:"files"`
	FirstPlayedAt time.Time     `json:"firstPlayedAt"`
	LastPlayedAt  time.Time     `json:"lastPlayedAt"`
}

// WatchedFile is a single played file inside a watch history entry.
type WatchedFile struct {
	Filename  string    `json:"filename"`
	StreamURL string    `json:"streamUrl"`
	PlayedAt  time.Time `json:"playedAt"`
	PlayCount int       `json:"playCount"`
}

// SavedSearch is a search query kept in the library.
type SavedSearch struct {
	ID      string    `json:"id"`
	Query   string    `json:"query"`
	SavedAt time.Time `json:"savedAt"`
}

// SavedMagnet is a search result kept in the library. ImdbID and
// CanonicalTitle are set when the result was matched to a catalog entry.
type SavedMagnet struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Magnet         string    `json:"magnet"`
	Size           string    `json:"size"`
	Seeds          int       `json:"seeds"`
	Leeches        int       `json:"leeches"`
	SavedAt        time.Time `json:"savedAt"`
	ImdbID         *string   `json:"imdbId"`
	CanonicalTitle *string   `json:"canonicalTitle"`
}
