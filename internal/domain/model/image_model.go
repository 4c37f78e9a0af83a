package model

import "strings"

// ModelCapabilities are the feature flags of a generation model.
type ModelCapabilities struct {
	SupportsAspectRatios    bool `yaml:"supports_aspect_ratios" json:"supportsAspectRatios"`
	SupportsResolution      bool `yaml:"supports_resolution" json:"supportsResolution"`
	SupportsReferenceImages bool `yaml:"supports_reference_images" json:"supportsReferenceImages"`
	MaxReferenceImages      int  `yaml:"max_reference_images" json:"maxReferenceImages"`
}

// ReferenceLimit is the number of reference images a task for this model may carry.
func (c ModelCapabilities) ReferenceLimit() int {
	if !c.SupportsReferenceImages || c.MaxReferenceImages < 0 {
		return 0
	}
	return c.MaxReferenceImages
}

// ModelDefinition is one entry of the user-editable model list.
type ModelDefinition struct {
	ID            string            `yaml:"id" json:"id"`
	Name          string            `yaml:"name" json:"name"`
	Provider      Provider          `yaml:"provider" json:"provider"`
	Enabled       bool              `yaml:"enabled" json:"enabled"`
	IsCustom      bool              `yaml:"is_custom,omitempty" json:"isCustom,omitempty"`
	SchemaFetched bool              `yaml:"schema_fetched,omitempty" json:"schemaFetched,omitempty"`
	Capabilities  ModelCapabilities `yaml:"capabilities" json:"capabilities"`
}

// ReplicateSlug strips the "replicate/" prefix used for relayed model ids.
func ReplicateSlug(modelID string) string {
	return strings.TrimPrefix(modelID, "replicate/")
}

// APIKeys holds the user's credential per provider.
type APIKeys struct {
	Google    string `yaml:"google,omitempty" json:"google,omitempty"`
	Replicate string `yaml:"replicate,omitempty" json:"replicate,omitempty"`
	OpenAI    string `yaml:"openai,omitempty" json:"openai,omitempty"`
}

// Key returns the credential for p, or "" when none is configured.
func (k APIKeys) Key(p Provider) string {
	switch p {
	case ProviderGoogle:
		return k.Google
	case ProviderReplicate:
		return k.Replicate
	case ProviderOpenAI:
		return k.OpenAI
	}
	return ""
}

// With returns a copy of k with the credential for p replaced.
func (k APIKeys) With(p Provider, key string) APIKeys {
	switch p {
	case ProviderGoogle:
		k.Google = key
	case ProviderReplicate:
		k.Replicate = key
	case ProviderOpenAI:
		k.OpenAI = key
	}
	return k
}
