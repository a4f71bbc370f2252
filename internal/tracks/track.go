// Package tracks holds the station's track library and the
// now-playing feed. Neither influences session state: they only feed
// the display layer.
package tracks

import (
	"time"

	"gorm.io/gorm"
)

// Track is one entry in the station library.
type Track struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	CoverURL  string    `json:"cover_url,omitempty"`
	MediaURL  string    `json:"mp3_url"`
	CreatedAt time.Time `json:"created_at"`
}

// NowPlaying is the current on-air track metadata.
type NowPlaying struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	CoverURL string `json:"cover_url,omitempty"`
}

// TrackModel is the GORM model for the tracks table.
type TrackModel struct {
	ID        string         `gorm:"type:varchar(36);primaryKey"`
	Title     string         `gorm:"type:varchar(200);uniqueIndex;not null"`
	Artist    string         `gorm:"type:varchar(200);not null"`
	CoverURL  string         `gorm:"type:text"`
	MediaURL  string         `gorm:"type:text;not null"`
	CreatedAt time.Time      `gorm:"autoCreateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// TableName specifies the table name for TrackModel.
func (TrackModel) TableName() string {
	return "tracks"
}

// ToDomain converts TrackModel to a domain Track.
func (m *TrackModel) ToDomain() *Track {
	return &Track{
		ID:        m.ID,
		Title:     m.Title,
		Artist:    m.Artist,
		CoverURL:  m.CoverURL,
		MediaURL:  m.MediaURL,
		CreatedAt: m.CreatedAt,
	}
}

// TrackToModel converts a domain Track to its GORM model.
func TrackToModel(t *Track) *TrackModel {
	return &TrackModel{
		ID:        t.ID,
		Title:     t.Title,
		Artist:    t.Artist,
		CoverURL:  t.CoverURL,
		MediaURL:  t.MediaURL,
		CreatedAt: t.CreatedAt,
	}
}
