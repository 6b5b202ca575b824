package repository

import (
	"context"
	"fmt"

	"marketplace/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileField names a searchable profile attribute.
type ProfileField string

// Searchable profile fields.
const (
	ProfileLoginID   ProfileField = "id"
	ProfileNickname  ProfileField = "nickname"
	ProfileEmail     ProfileField = "email"
	ProfileAuthEmail ProfileField = "authEmail"
)

var profileColumns = map[ProfileField]string{
	ProfileLoginID:   "login_id",
	ProfileNickname:  "nickname",
	ProfileEmail:     "email",
	ProfileAuthEmail: "auth_email",
}

// ProfileRepository defines the interface for profile data operations
type ProfileRepository interface {
	FindByField(ctx context.Context, field ProfileField, value string) (*models.Profile, error)
	Upsert(ctx context.Context, uid string, fields models.ProfileFields) error
	Get(ctx context.Context, uid string) (*models.Profile, error)
	GetMany(ctx context.Context, uids []string) (map[string]*models.Profile, error)
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

// FindByField returns the first profile whose field equals value, or nil.
func (r *profileRepository) FindByField(ctx context.Context, field ProfileField, value string) (*models.Profile, error) {
	column, ok := profileColumns[field]
	if !ok {
		return nil, models.NewValidationError(fmt.Sprintf("unknown profile field %q", field))
	}

	var profile models.Profile
	err := r.db.WithContext(ctx).Where(column+" = ?", value).Take(&profile).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *profileRepository) Upsert(ctx context.Context, uid string, fields models.ProfileFields) error {
	profile := models.Profile{
		UID:       uid,
		LoginID:   fields.LoginID,
		Nickname:  fields.Nickname,
		Email:     fields.Email,
		AuthEmail: fields.AuthEmail,
		CreatedAt: fields.CreatedAt,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{"login_id", "nickname", "email", "auth_email"}),
	}).Create(&profile).Error
	if isUniqueViolation(err) {
		return models.NewConflictError("profile id, nickname or email already in use", err)
	}
	return err
}

func (r *profileRepository) Get(ctx context.Context, uid string) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.WithContext(ctx).Where("uid = ?", uid).Take(&profile).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *profileRepository) GetMany(ctx context.Context, uids []string) (map[string]*models.Profile, error) {
	out := make(map[string]*models.Profile, len(uids))
	if len(uids) == 0 {
		return out, nil
	}
	var profiles []*models.Profile
	if err := r.db.WithContext(ctx).Where("uid IN ?", uids).Find(&profiles).Error; err != nil {
		return nil, err
	}
	for _, p := range profiles {
		out[p.UID] = p
	}
	return out, nil
}
