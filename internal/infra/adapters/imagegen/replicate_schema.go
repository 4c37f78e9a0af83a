package imagegen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"image-studio/internal/domain"
	"image-studio/internal/domain/model"
)

type schemaProperty struct {
	Type string `json:"type"`
}

type replicateModelResponse struct {
	Name          string `json:"name"`
	LatestVersion *struct {
		OpenAPISchema struct {
			Components struct {
				Schemas struct {
					Input struct {
						Properties map[string]schemaProperty `json:"properties"`
					} `json:"Input"`
				} `json:"schemas"`
			} `json:"components"`
		} `json:"openapi_schema"`
	} `json:"latest_version"`
}

// FetchModelInfo reads a Replicate model's input schema to infer what it supports.
func (r *ReplicateAdapter) FetchModelInfo(ctx context.Context, modelID, apiKey string) (string, model.ModelCapabilities, error) {
	if apiKey == "" {
		return "", model.ModelCapabilities{}, fmt.Errorf("replicate: %w", domain.ErrMissingCredential)
	}
	slug, _, _ := strings.Cut(model.ReplicateSlug(modelID), ":")

	var data replicateModelResponse
	if err := r.doJSON(ctx, http.MethodGet, r.base+"/v1/models/"+slug, apiKey, nil, &data); err != nil {
		var se *statusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return "", model.ModelCapabilities{}, fmt.Errorf("model not found: %s: %w", slug, domain.ErrNotFound)
		}
		return "", model.ModelCapabilities{}, err
	}

	var props map[string]schemaProperty
	if data.LatestVersion != nil {
		props = data.LatestVersion.OpenAPISchema.Components.Schemas.Input.Properties
	}

	name := data.Name
	if name == "" {
		name = slug[strings.LastIndex(slug, "/")+1:]
	}
	return name, parseCapabilities(props), nil
}

var referenceImageProps = []string{
	"image",
	"image_input",
	"input_image",
	"reference_image",
	"init_image",
	"control_image",
}

func parseCapabilities(props map[string]schemaProperty) model.ModelCapabilities {
	has := func(keys ...string) bool {
		for _, k := range keys {
			if _, ok := props[k]; ok {
				return true
			}
		}
		return false
	}

	caps := model.ModelCapabilities{
		SupportsAspectRatios: has("aspect_ratio", "aspectRatio", "output_aspect_ratio"),
		SupportsResolution:   has("resolution", "megapixels", "output_resolution"),
		MaxReferenceImages:   1,
	}
	for _, k := range referenceImageProps {
		p, ok := props[k]
		if !ok {
			continue
		}
		caps.SupportsReferenceImages = true
		if p.Type == "array" {
			caps.MaxReferenceImages = 10
		}
		break
	}
	return caps
}
