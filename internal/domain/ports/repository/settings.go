package repository

import "image-studio/internal/domain/model"

// Settings is the persisted user configuration: credentials and the model list.
type Settings struct {
	APIKeys model.APIKeys
	Models  []model.ModelDefinition
}

// SettingsRepository loads and stores the single settings record. Load on a
// fresh install returns defaults, never domain.ErrNotFound.
type SettingsRepository interface {
	Load() (*Settings, error)
	Save(s *Settings) error
}
