package handler

import (
	"errors"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/EvinKlif/radio/internal/tracks"
	"github.com/EvinKlif/radio/pkg/response"
)

const sseHeartbeat = 15 * time.Second

// TrackHandler serves the track library and the now-playing feed.
type TrackHandler struct {
	service *tracks.Service
}

// NewTrackHandler creates a track handler.
func NewTrackHandler(service *tracks.Service) *TrackHandler {
	return &TrackHandler{service: service}
}

// RegisterRoutes registers the track API routes.
func (h *TrackHandler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	{
		api.GET("/track-info", h.GetTrackInfo)
		api.GET("/track-updates", h.TrackUpdates)
		api.POST("/now-playing", h.SetNowPlaying)

		api.GET("/tracks", h.ListTracks)
		api.GET("/tracks/:title", h.GetTrack)
		api.POST("/tracks", h.CreateTrack)
		api.DELETE("/tracks/:title", h.DeleteTrack)
	}
}

// GetTrackInfo returns the current on-air track metadata.
func (h *TrackHandler) GetTrackInfo(c *gin.Context) {
	np, err := h.service.NowPlaying(c.Request.Context())
	if err != nil {
		if errors.Is(err, tracks.ErrNothingPlaying) {
			response.NotFound(c, "nothing playing")
			return
		}
		response.InternalError(c, "failed to read now playing")
		return
	}
	response.Success(c, np)
}

// TrackUpdates streams now-playing changes as server-sent events.
func (h *TrackHandler) TrackUpdates(c *gin.Context) {
	ctx := c.Request.Context()

	updates, err := h.service.NowPlayingUpdates(ctx)
	if err != nil {
		response.InternalError(c, "failed to subscribe to track updates")
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case np, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("message", np)
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", "")
			return true
		}
	})
}

// SetNowPlaying records a track change from the playout process.
func (h *TrackHandler) SetNowPlaying(c *gin.Context) {
	var np tracks.NowPlaying
	if err := c.ShouldBindJSON(&np); err != nil {
		response.BadRequest(c, "invalid now-playing payload")
		return
	}
	if err := h.service.SetNowPlaying(c.Request.Context(), np); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, np)
}

// ListTracks returns the whole library.
func (h *TrackHandler) ListTracks(c *gin.Context) {
	list, err := h.service.ListTracks(c.Request.Context())
	if err != nil {
		response.InternalError(c, "failed to list tracks")
		return
	}
	response.Success(c, list)
}

// GetTrack returns one library entry.
func (h *TrackHandler) GetTrack(c *gin.Context) {
	track, err := h.service.GetTrack(c.Request.Context(), c.Param("title"))
	if err != nil {
		if errors.Is(err, tracks.ErrTrackNotFound) {
			response.NotFound(c, "track not found")
			return
		}
		response.InternalError(c, "failed to get track")
		return
	}
	response.Success(c, track)
}

// CreateTrack uploads a track (multipart: mp3_file, optional
// cover_file or cover_url) and registers it.
func (h *TrackHandler) CreateTrack(c *gin.Context) {
	title := c.PostForm("title")
	artist := c.PostForm("artist")
	coverURL := c.PostForm("cover_url")

	media, err := c.FormFile("mp3_file")
	if err != nil {
		response.BadRequest(c, "mp3_file is required")
		return
	}
	cover, _ := c.FormFile("cover_file")

	track, err := h.service.CreateTrack(c.Request.Context(), title, artist, media, cover, coverURL)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Created(c, track)
}

// DeleteTrack removes a track and its stored objects.
func (h *TrackHandler) DeleteTrack(c *gin.Context) {
	title := c.Param("title")
	if err := h.service.DeleteTrack(c.Request.Context(), title); err != nil {
		if errors.Is(err, tracks.ErrTrackNotFound) {
			response.NotFound(c, "track not found")
			return
		}
		response.InternalError(c, "failed to delete track")
		return
	}
	response.Success(c, gin.H{"deleted_title": title})
}
