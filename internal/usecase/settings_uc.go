// File: internal/usecase/settings_uc.go
package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"image-studio/internal/config"
	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/adapter"
	"image-studio/internal/domain/ports/repository"
	"image-studio/internal/infra/logging"
)

// ModelRegistry answers which models exist and which can run right now.
type ModelRegistry interface {
	Lookup(modelID string) (model.ModelDefinition, bool)
	// ListEnabled returns enabled models whose provider has a credential in keys.
	ListEnabled(keys model.APIKeys) []model.ModelDefinition
}

// SettingsUseCase manages API keys and the user-editable model list.
type SettingsUseCase interface {
	ModelRegistry

	APIKeys() model.APIKeys
	SetAPIKey(p model.Provider, key string) error
	ClearAPIKey(p model.Provider) error

	Models() []model.ModelDefinition
	SetModelEnabled(id string, enabled bool) error
	AddCustomModel(def model.ModelDefinition) error
	// AddReplicateModel registers "owner/name" (or "replicate/owner/name")
	// after reading its schema from Replicate.
	AddReplicateModel(ctx context.Context, id string) (model.ModelDefinition, error)
	RemoveCustomModel(id string) error
	UpdateModelCapabilities(id string, caps model.ModelCapabilities) error
	// RefreshModelSchema re-reads a replicate model's schema and stores the
	// inferred capabilities.
	RefreshModelSchema(ctx context.Context, id string) (model.ModelDefinition, error)
}

var _ SettingsUseCase = (*settingsUC)(nil)

type settingsUC struct {
	repo    repository.SettingsRepository
	fetcher adapter.ModelSchemaFetcher // nil disables replicate schema lookups
	log     *zerolog.Logger
	devMode bool

	mu   sync.RWMutex
	keys model.APIKeys
	defs []model.ModelDefinition
}

// NewSettingsUseCase loads the stored settings. Credentials from the
// environment fill providers that have no stored key and are persisted.
func NewSettingsUseCase(repo repository.SettingsRepository, fetcher adapter.ModelSchemaFetcher, env config.EnvCredentials, logger *zerolog.Logger, devMode bool) (*settingsUC, error) {
	st, err := repo.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	l := logger.With().Str("component", "settings_uc").Logger()
	uc := &settingsUC{
		repo:    repo,
		fetcher: fetcher,
		log:     &l,
		devMode: devMode,
		keys:    st.APIKeys,
		defs:    st.Models,
	}

	seeded := false
	for p, v := range map[model.Provider]string{
		model.ProviderGoogle:    env.GoogleKey,
		model.ProviderReplicate: env.ReplicateKey,
		model.ProviderOpenAI:    env.OpenAIKey,
	} {
		if v != "" && uc.keys.Key(p) == "" {
			uc.keys = uc.keys.With(p, v)
			uc.log.Info().Str("provider", string(p)).Str("key", logging.Redact(v, devMode)).Msg("api key seeded from environment")
			seeded = true
		}
	}
	if seeded {
		if err := repo.Save(&repository.Settings{APIKeys: uc.keys, Models: uc.defs}); err != nil {
			return nil, fmt.Errorf("save seeded settings: %w", err)
		}
	}
	return uc, nil
}

func (s *settingsUC) Lookup(modelID string) (model.ModelDefinition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(modelID); i >= 0 {
		return s.defs[i], true
	}
	return model.ModelDefinition{}, false
}

func (s *settingsUC) ListEnabled(keys model.APIKeys) []model.ModelDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ModelDefinition
	for _, d := range s.defs {
		if d.Enabled && keys.Key(d.Provider) != "" {
			out = append(out, d)
		}
	}
	return out
}

func (s *settingsUC) APIKeys() model.APIKeys {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys
}

func (s *settingsUC) SetAPIKey(p model.Provider, key string) error {
	if !knownProvider(p) {
		return fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidArgument, p)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return s.ClearAPIKey(p)
	}
	err := s.update(func(keys *model.APIKeys, _ *[]model.ModelDefinition) error {
		*keys = keys.With(p, key)
		return nil
	})
	if err == nil {
		s.log.Info().Str("provider", string(p)).Str("key", logging.Redact(key, s.devMode)).Msg("api key updated")
	}
	return err
}

func (s *settingsUC) ClearAPIKey(p model.Provider) error {
	if !knownProvider(p) {
		return fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidArgument, p)
	}
	return s.update(func(keys *model.APIKeys, _ *[]model.ModelDefinition) error {
		*keys = keys.With(p, "")
		return nil
	})
}

func (s *settingsUC) Models() []model.ModelDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ModelDefinition, len(s.defs))
	copy(out, s.defs)
	return out
}

func (s *settingsUC) SetModelEnabled(id string, enabled bool) error {
	return s.update(func(_ *model.APIKeys, defs *[]model.ModelDefinition) error {
		i := indexOf(*defs, id)
		if i < 0 {
			return fmt.Errorf("%s: %w", id, domain.ErrUnknownModel)
		}
		(*defs)[i].Enabled = enabled
		return nil
	})
}

func (s *settingsUC) AddCustomModel(def model.ModelDefinition) error {
	def.ID = strings.TrimSpace(def.ID)
	if def.ID == "" {
		return fmt.Errorf("%w: model id is required", domain.ErrInvalidArgument)
	}
	if !knownProvider(def.Provider) {
		return fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidArgument, def.Provider)
	}
	if def.Name == "" {
		def.Name = def.ID
	}
	def.IsCustom = true
	return s.update(func(_ *model.APIKeys, defs *[]model.ModelDefinition) error {
		if indexOf(*defs, def.ID) >= 0 {
			return fmt.Errorf("%s: %w", def.ID, domain.ErrAlreadyExists)
		}
		*defs = append(*defs, def)
		return nil
	})
}

func (s *settingsUC) AddReplicateModel(ctx context.Context, id string) (model.ModelDefinition, error) {
	slug := model.ReplicateSlug(strings.TrimSpace(id))
	if !strings.Contains(slug, "/") {
		return model.ModelDefinition{}, fmt.Errorf("%w: expected owner/model-name", domain.ErrInvalidArgument)
	}
	fullID := "replicate/" + slug
	if _, ok := s.Lookup(fullID); ok {
		return model.ModelDefinition{}, fmt.Errorf("%s: %w", fullID, domain.ErrAlreadyExists)
	}
	if s.fetcher == nil {
		return model.ModelDefinition{}, fmt.Errorf("replicate: %w", domain.ErrUnknownProvider)
	}

	name, caps, err := s.fetcher.FetchModelInfo(ctx, slug, s.APIKeys().Replicate)
	if err != nil {
		return model.ModelDefinition{}, fmt.Errorf("fetch replicate model %s: %w", slug, err)
	}
	def := model.ModelDefinition{
		ID:            fullID,
		Name:          name,
		Provider:      model.ProviderReplicate,
		Enabled:       true,
		IsCustom:      true,
		SchemaFetched: true,
		Capabilities:  caps,
	}
	if err := s.AddCustomModel(def); err != nil {
		return model.ModelDefinition{}, err
	}
	s.log.Info().Str("model_id", fullID).Interface("capabilities", caps).Msg("replicate model added")
	return def, nil
}

// RemoveCustomModel deletes a user-added model. Built-in models can only be disabled.
func (s *settingsUC) RemoveCustomModel(id string) error {
	return s.update(func(_ *model.APIKeys, defs *[]model.ModelDefinition) error {
		i := indexOf(*defs, id)
		if i < 0 {
			return fmt.Errorf("%s: %w", id, domain.ErrUnknownModel)
		}
		if !(*defs)[i].IsCustom {
			return fmt.Errorf("%w: %s is a built-in model", domain.ErrInvalidArgument, id)
		}
		*defs = append((*defs)[:i:i], (*defs)[i+1:]...)
		return nil
	})
}

func (s *settingsUC) UpdateModelCapabilities(id string, caps model.ModelCapabilities) error {
	return s.setCapabilities(id, caps, false)
}

func (s *settingsUC) RefreshModelSchema(ctx context.Context, id string) (model.ModelDefinition, error) {
	def, ok := s.Lookup(id)
	if !ok {
		return model.ModelDefinition{}, fmt.Errorf("%s: %w", id, domain.ErrUnknownModel)
	}
	if def.Provider != model.ProviderReplicate || s.fetcher == nil {
		return model.ModelDefinition{}, fmt.Errorf("%w: %s has no fetchable schema", domain.ErrInvalidArgument, id)
	}
	_, caps, err := s.fetcher.FetchModelInfo(ctx, def.ID, s.APIKeys().Replicate)
	if err != nil {
		return model.ModelDefinition{}, fmt.Errorf("fetch replicate model %s: %w", def.ID, err)
	}
	if err := s.setCapabilities(id, caps, true); err != nil {
		return model.ModelDefinition{}, err
	}
	def.Capabilities = caps
	def.SchemaFetched = true
	return def, nil
}

func (s *settingsUC) setCapabilities(id string, caps model.ModelCapabilities, fetched bool) error {
	if caps.MaxReferenceImages < 0 {
		return fmt.Errorf("%w: max reference images must not be negative", domain.ErrInvalidArgument)
	}
	return s.update(func(_ *model.APIKeys, defs *[]model.ModelDefinition) error {
		i := indexOf(*defs, id)
		if i < 0 {
			return fmt.Errorf("%s: %w", id, domain.ErrUnknownModel)
		}
		(*defs)[i].Capabilities = caps
		if fetched {
			(*defs)[i].SchemaFetched = true
		}
		return nil
	})
}

// update applies fn to a copy and only swaps it in once the copy is saved.
func (s *settingsUC) update(fn func(keys *model.APIKeys, defs *[]model.ModelDefinition) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.keys
	defs := make([]model.ModelDefinition, len(s.defs))
	copy(defs, s.defs)
	if err := fn(&keys, &defs); err != nil {
		return err
	}
	if err := s.repo.Save(&repository.Settings{APIKeys: keys, Models: defs}); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.keys, s.defs = keys, defs
	return nil
}

func (s *settingsUC) indexOf(id string) int { return indexOf(s.defs, id) }

func indexOf(defs []model.ModelDefinition, id string) int {
	for i := range defs {
		if defs[i].ID == id {
			return i
		}
	}
	return -1
}

func knownProvider(p model.Provider) bool {
	for _, known := range model.Providers {
		if p == known {
			return true
		}
	}
	return false
}
