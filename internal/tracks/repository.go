package tracks

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkglog "github.com/EvinKlif/radio/pkg/log"
)

// ErrTrackNotFound is returned when no track matches the query.
var ErrTrackNotFound = errors.New("track not found")

// Repository defines track library persistence.
type Repository interface {
	Create(ctx context.Context, track *Track) error
	GetByTitle(ctx context.Context, title string) (*Track, error)
	List(ctx context.Context) ([]Track, error)
	Delete(ctx context.Context, title string) error
}

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a GORM-based track repository and runs the
// schema migration.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&TrackModel{}); err != nil {
		return nil, err
	}
	return &GormRepository{db: db}, nil
}

// Create inserts a new track.
func (r *GormRepository) Create(ctx context.Context, track *Track) error {
	l := pkglog.Ctx(ctx)

	if track.ID == "" {
		track.ID = uuid.New().String()
	}

	model := TrackToModel(track)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		l.Error().Err(err).Str("title", track.Title).Msg("failed to create track in db")
		return err
	}

	track.CreatedAt = model.CreatedAt
	l.Debug().Str("title", track.Title).Msg("track created in db")
	return nil
}

// GetByTitle retrieves a track by its unique title.
func (r *GormRepository) GetByTitle(ctx context.Context, title string) (*Track, error) {
	var model TrackModel
	result := r.db.WithContext(ctx).First(&model, "title = ?", title)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTrackNotFound
		}
		pkglog.Ctx(ctx).Error().Err(result.Error).Str("title", title).Msg("failed to get track")
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// List retrieves all tracks, newest first.
func (r *GormRepository) List(ctx context.Context) ([]Track, error) {
	var models []TrackModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&models).Error; err != nil {
		pkglog.Ctx(ctx).Error().Err(err).Msg("failed to list tracks")
		return nil, err
	}

	out := make([]Track, 0, len(models))
	for i := range models {
		out = append(out, *models[i].ToDomain())
	}
	return out, nil
}

// Delete removes a track by title.
func (r *GormRepository) Delete(ctx context.Context, title string) error {
	result := r.db.WithContext(ctx).Where("title = ?", title).Delete(&TrackModel{})
	if result.Error != nil {
		pkglog.Ctx(ctx).Error().Err(result.Error).Str("title", title).Msg("failed to delete track")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTrackNotFound
	}
	return nil
}
