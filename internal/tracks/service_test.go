package tracks

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EvinKlif/radio/pkg/storage"
)

func newTestService(t *testing.T) (*Service, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir(), "http://cdn.test")
	require.NoError(t, err)
	return NewService(NewMemoryRepository(), store, NewMemoryNowPlayingStore()), store
}

// fileHeader builds a real multipart.FileHeader with the given
// content, the only way to get an openable one.
func fileHeader(t *testing.T, field, filename, content string) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	files := form.File[field]
	require.Len(t, files, 1)
	return files[0]
}

func TestCreateTrackUploadsAndRegisters(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	media := fileHeader(t, "mp3_file", "song.mp3", "mp3-bytes")
	cover := fileHeader(t, "img_file", "cover.jpg", "jpg-bytes")

	track, err := svc.CreateTrack(ctx, "Song", "Artist", media, cover, "")
	require.NoError(t, err)
	assert.NotEmpty(t, track.ID)
	assert.Equal(t, "song.mp3", track.MediaURL)
	assert.Equal(t, "cover.jpg", track.CoverURL)

	for _, key := range []string{"media/song.mp3", "image/cover.jpg"} {
		ok, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}
}

func TestCreateTrackValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	media := fileHeader(t, "mp3_file", "song.mp3", "x")

	_, err := svc.CreateTrack(ctx, "", "Artist", media, nil, "")
	assert.Error(t, err)
	_, err = svc.CreateTrack(ctx, "Song", "Artist", nil, nil, "")
	assert.Error(t, err)
}

func TestGetTrackResolvesCover(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	media := fileHeader(t, "mp3_file", "song.mp3", "x")
	cover := fileHeader(t, "img_file", "cover.jpg", "x")
	_, err := svc.CreateTrack(ctx, "Song", "Artist", media, cover, "")
	require.NoError(t, err)

	track, err := svc.GetTrack(ctx, "Song")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.test/image/cover.jpg", track.CoverURL)
}

func TestGetTrackExternalCoverUntouched(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	media := fileHeader(t, "mp3_file", "song.mp3", "x")
	_, err := svc.CreateTrack(ctx, "Song", "Artist", media, nil, "https://img.example.com/a.jpg")
	require.NoError(t, err)

	track, err := svc.GetTrack(ctx, "Song")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/a.jpg", track.CoverURL)
}

func TestGetTrackNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.GetTrack(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTrackNotFound)
}

func TestListTracksNewestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		media := fileHeader(t, "mp3_file", fmt.Sprintf("s%d.mp3", i), "x")
		_, err := svc.CreateTrack(ctx, fmt.Sprintf("Song %d", i), "Artist", media, nil, "")
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	list, err := svc.ListTracks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Song 3", list[0].Title)
	assert.Equal(t, "Song 1", list[2].Title)
}

func TestDeleteTrackRemovesObjects(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	media := fileHeader(t, "mp3_file", "song.mp3", "x")
	cover := fileHeader(t, "img_file", "cover.jpg", "x")
	_, err := svc.CreateTrack(ctx, "Song", "Artist", media, cover, "")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteTrack(ctx, "Song"))

	_, err = svc.GetTrack(ctx, "Song")
	assert.ErrorIs(t, err, ErrTrackNotFound)
	for _, key := range []string{"media/song.mp3", "image/cover.jpg"} {
		ok, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
}

func TestNowPlayingRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.NowPlaying(ctx)
	assert.ErrorIs(t, err, ErrNothingPlaying)

	require.NoError(t, svc.SetNowPlaying(ctx, NowPlaying{Title: "Song", Artist: "Artist", CoverURL: "cover.jpg"}))

	np, err := svc.NowPlaying(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Song", np.Title)
	assert.Equal(t, "http://cdn.test/image/cover.jpg", np.CoverURL, "stored cover key resolves to a URL")
}

func TestSetNowPlayingRequiresTitle(t *testing.T) {
	svc, _ := newTestService(t)
	assert.Error(t, svc.SetNowPlaying(context.Background(), NowPlaying{Artist: "Artist"}))
}

func TestNowPlayingUpdatesFeed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	updates, err := svc.NowPlayingUpdates(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.SetNowPlaying(ctx, NowPlaying{Title: "Song A", Artist: "Artist"}))
	require.NoError(t, svc.SetNowPlaying(ctx, NowPlaying{Title: "Song B", Artist: "Artist"}))

	assert.Equal(t, "Song A", (<-updates).Title)
	assert.Equal(t, "Song B", (<-updates).Title)
}
