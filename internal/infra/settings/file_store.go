// Package settings persists the user's credentials and model list as a small
// versioned YAML document.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"image-studio/internal/domain/model"
	"image-studio/internal/domain/ports/repository"
	"image-studio/internal/infra/security"
)

// CurrentVersion is the schema version written by Save.
//
//	v1: api_keys{google, replicate}
//	v2: + models
//	v3: + api_keys.openai, keys may be sealed at rest
const CurrentVersion = 3

var _ repository.SettingsRepository = (*FileStore)(nil)

var ErrSealedWithoutKey = errors.New("settings: api keys are encrypted but no encryption key is configured")

type fileKeys struct {
	Google    string `yaml:"google,omitempty"`
	Replicate string `yaml:"replicate,omitempty"`
	OpenAI    string `yaml:"openai,omitempty"`
}

type fileRecord struct {
	Version int                     `yaml:"version"`
	APIKeys fileKeys                `yaml:"api_keys"`
	Models  []model.ModelDefinition `yaml:"models,omitempty"`
}

type FileStore struct {
	path string
	enc  *security.EncryptionService // nil stores keys in plaintext
	log  zerolog.Logger
	mu   sync.Mutex
}

func NewFileStore(path string, enc *security.EncryptionService, logger *zerolog.Logger) *FileStore {
	return &FileStore{
		path: path,
		enc:  enc,
		log:  logger.With().Str("component", "settings_store").Logger(),
	}
}

// Load reads and migrates the settings file. A missing file yields defaults.
// Migrated documents are written back at the current version.
func (s *FileStore) Load() (*repository.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &repository.Settings{Models: model.DefaultModels()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var rec fileRecord
	if err := yaml.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	from := rec.Version
	migrated := migrate(&rec)

	keys, err := s.openKeys(rec.APIKeys)
	if err != nil {
		return nil, err
	}
	out := &repository.Settings{APIKeys: keys, Models: rec.Models}

	if migrated {
		s.log.Info().Int("from", from).Int("to", CurrentVersion).Msg("settings migrated")
		if err := s.write(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *FileStore) Save(st *repository.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(st)
}

func (s *FileStore) write(st *repository.Settings) error {
	keys, err := s.sealKeys(st.APIKeys)
	if err != nil {
		return err
	}
	rec := fileRecord{Version: CurrentVersion, APIKeys: keys, Models: st.Models}
	b, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create settings dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// migrate upgrades rec in place and reports whether anything changed.
// Fields added by a version default; nothing older is dropped.
func migrate(rec *fileRecord) bool {
	if rec.Version >= CurrentVersion {
		return false
	}
	if rec.Version < 1 {
		rec.Version = 1
	}
	for rec.Version < CurrentVersion {
		switch rec.Version {
		case 1:
			migrateV1toV2(rec)
		case 2:
			migrateV2toV3(rec)
		}
		rec.Version++
	}
	return true
}

func migrateV1toV2(rec *fileRecord) {
	if rec.Models != nil {
		return
	}
	for _, m := range model.DefaultModels() {
		if m.Provider != model.ProviderOpenAI {
			rec.Models = append(rec.Models, m)
		}
	}
}

func migrateV2toV3(rec *fileRecord) {
	def := model.OpenAIDefaultModel()
	for _, m := range rec.Models {
		if m.ID == def.ID {
			return
		}
	}
	rec.Models = append(rec.Models, def)
}

func (s *FileStore) sealKeys(k model.APIKeys) (fileKeys, error) {
	if s.enc == nil {
		return fileKeys{Google: k.Google, Replicate: k.Replicate, OpenAI: k.OpenAI}, nil
	}
	var out fileKeys
	var err error
	if out.Google, err = s.enc.Seal(k.Google); err != nil {
		return fileKeys{}, fmt.Errorf("seal google key: %w", err)
	}
	if out.Replicate, err = s.enc.Seal(k.Replicate); err != nil {
		return fileKeys{}, fmt.Errorf("seal replicate key: %w", err)
	}
	if out.OpenAI, err = s.enc.Seal(k.OpenAI); err != nil {
		return fileKeys{}, fmt.Errorf("seal openai key: %w", err)
	}
	return out, nil
}

func (s *FileStore) openKeys(k fileKeys) (model.APIKeys, error) {
	vals := []string{k.Google, k.Replicate, k.OpenAI}
	for i, v := range vals {
		if !security.IsSealed(v) {
			continue
		}
		if s.enc == nil {
			return model.APIKeys{}, ErrSealedWithoutKey
		}
		pt, err := s.enc.Open(v)
		if err != nil {
			return model.APIKeys{}, fmt.Errorf("open api key: %w", err)
		}
		vals[i] = pt
	}
	return model.APIKeys{Google: vals[0], Replicate: vals[1], OpenAI: vals[2]}, nil
}
