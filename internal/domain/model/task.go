package model

// Provider identifies an external image-generation API.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderReplicate Provider = "replicate"
	ProviderOpenAI    Provider = "openai"
)

// Providers lists every provider the studio can hold a credential for.
var Providers = []Provider{ProviderGoogle, ProviderReplicate, ProviderOpenAI}

type AspectRatio string

const (
	AspectRatio1x1  AspectRatio = "1:1"
	AspectRatio16x9 AspectRatio = "16:9"
	AspectRatio9x16 AspectRatio = "9:16"
	AspectRatio4x3  AspectRatio = "4:3"
	AspectRatio3x4  AspectRatio = "3:4"
	AspectRatio21x9 AspectRatio = "21:9"
)

// Valid reports whether r is one of the supported ratios.
func (r AspectRatio) Valid() bool {
	switch r {
	case AspectRatio1x1, AspectRatio16x9, AspectRatio9x16, AspectRatio4x3, AspectRatio3x4, AspectRatio21x9:
		return true
	}
	return false
}

// Resolution is the requested output size class. The zero value means "unset".
type Resolution string

const (
	ResolutionUnset Resolution = ""
	Resolution1K    Resolution = "1K"
	Resolution2K    Resolution = "2K"
	Resolution4K    Resolution = "4K"
)

func (r Resolution) Valid() bool {
	switch r {
	case ResolutionUnset, Resolution1K, Resolution2K, Resolution4K:
		return true
	}
	return false
}

// ReferenceImage is an image attached to a submission draft.
type ReferenceImage struct {
	ID       string
	Name     string
	MIMEType string
	Data     []byte
}

// GenerationTask is one request to generate a single image from one model.
// It lives only for the duration of its retry sequence.
type GenerationTask struct {
	ID                string
	ModelID           string
	ModelName         string
	Provider          Provider
	Prompt            string
	AspectRatio       AspectRatio
	Resolution        Resolution
	ReferenceImages   []ReferenceImage
	ReferenceImageIDs []string
}

// ImageResult is what a provider adapter hands back for a successful task.
type ImageResult struct {
	Image    []byte
	MIMEType string
	Width    int
	Height   int
	Metadata map[string]any
}
