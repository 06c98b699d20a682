package domain

import "time"

type RoomCode string

// TrackState is the host-authored playback state shared with a room.
// Nil until the host first sets a track.
type TrackState struct {
	VideoID   string    `json:"videoId"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist,omitempty"`
	Playing   bool      `json:"playing"`
	Position  float64   `json:"position"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTrackState clamps the untrusted fields and stamps the update time.
func NewTrackState(videoID, title, artist string, playing bool, position float64, now time.Time) *TrackState {
	return &TrackState{
		VideoID:   Clamp(videoID, MaxVideoIDLen),
		Title:     Clamp(title, MaxTitleLen),
		Artist:    Clamp(artist, MaxTitleLen),
		Playing:   playing,
		Position:  position,
		UpdatedAt: now,
	}
}
