package validate

import (
	"encoding/base64"
	"fmt"
	"strings"

	"ollama2api/internal/core"
)

// ImageValidator provides image validation functionality
type ImageValidator struct{}

// NewImageValidator creates a new image validator
func NewImageValidator() *ImageValidator {
	return &ImageValidator{}
}

// ValidateImageData validates base64 encoded image data
func (v *ImageValidator) ValidateImageData(mediaType, data string) error {
	if !v.isFormatSupported(mediaType) {
		return fmt.Errorf("unsupported image format: %s. Supported formats: %v",
			mediaType, core.SupportedImageFormats)
	}

	// Pre-check base64 string length to avoid OOM from decoding huge data
	estimatedSize := int64(len(data)) * 3 / 4
	if estimatedSize > core.MaxImageSizeBytes {
		return fmt.Errorf("image data too large: estimated %d bytes exceeds %d limit", estimatedSize, core.MaxImageSizeBytes)
	}

	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("invalid base64 data: %v", err)
	}

	if len(decoded) == 0 {
		return fmt.Errorf("empty image data")
	}

	if int64(len(decoded)) > core.MaxImageSizeBytes {
		return fmt.Errorf("image size %d bytes exceeds maximum allowed size %d bytes",
			len(decoded), core.MaxImageSizeBytes)
	}

	return nil
}

func (v *ImageValidator) isFormatSupported(mediaType string) bool {
	for _, format := range core.SupportedImageFormats {
		if strings.EqualFold(format, mediaType) {
			return true
		}
	}
	return false
}

// ImagePart is one image found in an OpenAI content array.
// Data is raw base64 without the data: prefix; URL is set when the part is not a data URL.
type ImagePart struct {
	MediaType string
	Data      string
	URL       string
}

// ParseDataURL splits data:<media>;base64,<payload>.
func ParseDataURL(url string) (mediaType, data string, ok bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", "", false
	}
	header, payload, found := strings.Cut(url, ",")
	if !found {
		return "", "", false
	}
	headerParts := strings.Split(strings.TrimPrefix(header, "data:"), ";")
	return headerParts[0], payload, true
}

// ExtractImagesFromContent returns every image_url part in order.
func ExtractImagesFromContent(content any) []ImagePart {
	contentArray, ok := content.([]any)
	if !ok {
		return nil
	}

	var images []ImagePart
	for _, item := range contentArray {
		itemMap, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if itemType, _ := itemMap["type"].(string); itemType != core.ContentBlockTypeImageURL {
			continue
		}

		var url string
		switch imageURL := itemMap["image_url"].(type) {
		case map[string]any:
			url, _ = imageURL["url"].(string)
		case string:
			url = imageURL
		}
		if url == "" {
			continue
		}

		if mediaType, data, ok := ParseDataURL(url); ok {
			images = append(images, ImagePart{MediaType: mediaType, Data: data})
			continue
		}
		images = append(images, ImagePart{URL: url})
	}
	return images
}
