package tracks

import (
	"context"
	"fmt"
	"mime/multipart"
	"path"
	"strings"
	"time"

	pkglog "github.com/EvinKlif/radio/pkg/log"
	"github.com/EvinKlif/radio/pkg/storage"
)

// Object key prefixes, matching the playout bucket layout.
const (
	mediaPrefix = "media/"
	coverPrefix = "image/"
)

const urlTTL = 24 * time.Hour

// Service ties the track library to object storage and the
// now-playing feed.
type Service struct {
	repo    Repository
	store   storage.Storage
	playing NowPlayingStore
}

// NewService creates a track service.
func NewService(repo Repository, store storage.Storage, playing NowPlayingStore) *Service {
	return &Service{
		repo:    repo,
		store:   store,
		playing: playing,
	}
}

// CreateTrack uploads the media file (and optional cover) to storage
// and registers the track in the library. coverURL is used as an
// external cover reference when no cover file is supplied.
func (s *Service) CreateTrack(ctx context.Context, title, artist string, media *multipart.FileHeader, cover *multipart.FileHeader, coverURL string) (*Track, error) {
	if title == "" || artist == "" {
		return nil, fmt.Errorf("title and artist are required")
	}
	if media == nil {
		return nil, fmt.Errorf("media file is required")
	}

	if err := s.upload(ctx, mediaPrefix+media.Filename, media); err != nil {
		return nil, err
	}

	finalCover := coverURL
	if cover != nil {
		if err := s.upload(ctx, coverPrefix+cover.Filename, cover); err != nil {
			return nil, err
		}
		finalCover = cover.Filename
	}

	track := &Track{
		Title:    title,
		Artist:   artist,
		CoverURL: finalCover,
		MediaURL: media.Filename,
	}
	if err := s.repo.Create(ctx, track); err != nil {
		return nil, err
	}
	return track, nil
}

// GetTrack returns one library entry with resolved cover URL.
func (s *Service) GetTrack(ctx context.Context, title string) (*Track, error) {
	track, err := s.repo.GetByTitle(ctx, title)
	if err != nil {
		return nil, err
	}
	s.resolveCover(ctx, track)
	return track, nil
}

// ListTracks returns the whole library.
func (s *Service) ListTracks(ctx context.Context) ([]Track, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		s.resolveCover(ctx, &list[i])
	}
	return list, nil
}

// DeleteTrack removes a track and its stored objects. Object removal
// is best effort: a dangling object must not keep the row alive.
func (s *Service) DeleteTrack(ctx context.Context, title string) error {
	track, err := s.repo.GetByTitle(ctx, title)
	if err != nil {
		return err
	}

	l := pkglog.Ctx(ctx)
	if err := s.store.Delete(ctx, mediaPrefix+track.MediaURL); err != nil {
		l.Warn().Err(err).Str("title", title).Msg("failed to delete media object")
	}
	if track.CoverURL != "" && !isExternalURL(track.CoverURL) {
		if err := s.store.Delete(ctx, coverPrefix+track.CoverURL); err != nil {
			l.Warn().Err(err).Str("title", title).Msg("failed to delete cover object")
		}
	}

	return s.repo.Delete(ctx, title)
}

// NowPlaying returns the current on-air track metadata.
func (s *Service) NowPlaying(ctx context.Context) (*NowPlaying, error) {
	np, err := s.playing.Current(ctx)
	if err != nil {
		return nil, err
	}
	if np.CoverURL != "" && !isExternalURL(np.CoverURL) {
		if u, err := s.store.GetURL(ctx, coverPrefix+np.CoverURL, urlTTL); err == nil {
			np.CoverURL = u
		}
	}
	return np, nil
}

// SetNowPlaying records a track change from the playout process.
func (s *Service) SetNowPlaying(ctx context.Context, np NowPlaying) error {
	if np.Title == "" {
		return fmt.Errorf("title is required")
	}
	return s.playing.Set(ctx, np)
}

// NowPlayingUpdates exposes the change feed for the SSE handler.
func (s *Service) NowPlayingUpdates(ctx context.Context) (<-chan NowPlaying, error) {
	return s.playing.Updates(ctx)
}

func (s *Service) upload(ctx context.Context, key string, fh *multipart.FileHeader) error {
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = guessContentType(fh.Filename)
	}
	if err := s.store.Write(ctx, key, f, fh.Size, contentType); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (s *Service) resolveCover(ctx context.Context, t *Track) {
	if t.CoverURL == "" || isExternalURL(t.CoverURL) {
		return
	}
	if u, err := s.store.GetURL(ctx, coverPrefix+t.CoverURL, urlTTL); err == nil {
		t.CoverURL = u
	}
}

func isExternalURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func guessContentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".mp3":
		return "audio/mpeg"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
