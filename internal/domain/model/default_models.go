package model

// DefaultModels is the model list a fresh install starts with. Replicate
// entries are marked custom so the user may remove them.
func DefaultModels() []ModelDefinition {
	return []ModelDefinition{
		{
			ID: "gemini-2.5-flash-image", Name: "Gemini 2.5 Flash", Provider: ProviderGoogle, Enabled: true,
			Capabilities: ModelCapabilities{SupportsAspectRatios: true, SupportsReferenceImages: true, MaxReferenceImages: 10},
		},
		{
			ID: "gemini-3-pro-image-preview", Name: "Gemini 3.0 Pro", Provider: ProviderGoogle, Enabled: true,
			Capabilities: ModelCapabilities{SupportsAspectRatios: true, SupportsResolution: true, SupportsReferenceImages: true, MaxReferenceImages: 10},
		},
		{
			ID: "replicate/google/nano-banana", Name: "Nano Banana", Provider: ProviderReplicate, Enabled: true, IsCustom: true,
			Capabilities: ModelCapabilities{SupportsAspectRatios: true, SupportsReferenceImages: true, MaxReferenceImages: 10},
		},
		{
			ID: "replicate/google/nano-banana-pro", Name: "Nano Banana Pro", Provider: ProviderReplicate, Enabled: true, IsCustom: true,
			Capabilities: ModelCapabilities{SupportsAspectRatios: true, SupportsResolution: true, SupportsReferenceImages: true, MaxReferenceImages: 14},
		},
		{
			ID: "replicate/openai/gpt-image-1.5", Name: "GPT Image 1.5", Provider: ProviderReplicate, Enabled: true, IsCustom: true,
			Capabilities: ModelCapabilities{SupportsAspectRatios: true, SupportsReferenceImages: true, MaxReferenceImages: 1},
		},
		{
			ID: "replicate/black-forest-labs/flux-2-flex", Name: "Flux 2 Flex", Provider: ProviderReplicate, Enabled: true, IsCustom: true,
			Capabilities: ModelCapabilities{SupportsAspectRatios: true, SupportsReferenceImages: true, MaxReferenceImages: 1},
		},
		{
			ID: "replicate/bytedance/seedream-4.5", Name: "SeeDream 4.5", Provider: ProviderReplicate, Enabled: true, IsCustom: true,
			Capabilities: ModelCapabilities{SupportsAspectRatios: true},
		},
		OpenAIDefaultModel(),
	}
}

// OpenAIDefaultModel is the direct OpenAI entry, off until the user enables it.
func OpenAIDefaultModel() ModelDefinition {
	return ModelDefinition{
		ID: "openai/gpt-image-1", Name: "GPT Image 1", Provider: ProviderOpenAI, Enabled: false,
		Capabilities: ModelCapabilities{SupportsAspectRatios: true},
	}
}
