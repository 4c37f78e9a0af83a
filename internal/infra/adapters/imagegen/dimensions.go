package imagegen

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	_ "golang.org/x/image/webp"
)

// FallbackDimension is reported when image bytes cannot be decoded.
const FallbackDimension = 1024

// Dimensions decodes only the image header. Undecodable data yields 1024x1024.
func Dimensions(data []byte) (width, height int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return FallbackDimension, FallbackDimension
	}
	return cfg.Width, cfg.Height
}

// sniffMIME prefers the declared type and falls back to content sniffing.
func sniffMIME(data []byte, declared string) string {
	declared = strings.TrimSpace(strings.Split(declared, ";")[0])
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}

// DataURI encodes data as an RFC 2397 base64 data URI.
func DataURI(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = sniffMIME(data, "")
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

var errBadDataURI = errors.New("malformed data uri")

// decodeDataURI reverses DataURI. Only base64 payloads are accepted.
func decodeDataURI(uri string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", errBadDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, "", errBadDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", errBadDataURI, err)
	}
	return data, strings.TrimSuffix(meta, ";base64"), nil
}
