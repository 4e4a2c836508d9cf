package convert

import (
	"strings"
	"sync"

	"ollama2api/internal/core"
	"ollama2api/internal/util"
	"ollama2api/internal/validate"
)

// MessageConverter handles OpenAI → Ollama message conversion
type MessageConverter struct {
	validator *validate.ImageValidator
	logger    core.Logger
}

var converterPool = sync.Pool{
	New: func() any {
		return &MessageConverter{
			validator: validate.NewImageValidator(),
			logger:    &core.NopLogger{},
		}
	},
}

// OpenAIToOllamaMessages converts OpenAI chat messages to the backend format
func OpenAIToOllamaMessages(messages []core.ChatMessage, logger core.Logger) []core.OllamaMessage {
	converter := converterPool.Get().(*MessageConverter)
	if logger != nil {
		converter.logger = logger
	}
	defer func() {
		converter.logger = &core.NopLogger{}
		converterPool.Put(converter)
	}()
	return converter.Convert(messages)
}

// Convert executes message conversion. Output has one entry per input, in order.
func (c *MessageConverter) Convert(messages []core.ChatMessage) []core.OllamaMessage {
	result := make([]core.OllamaMessage, 0, len(messages))
	for _, msg := range messages {
		result = append(result, c.convertMessage(msg))
	}
	return result
}

func (c *MessageConverter) convertMessage(msg core.ChatMessage) core.OllamaMessage {
	role := strings.ToLower(strings.TrimSpace(msg.Role))
	if role == "" {
		role = core.RoleUser
	}

	converted := core.OllamaMessage{
		Role:    role,
		Content: util.ExtractTextContent(msg.Content),
	}
	if role == core.RoleUser {
		converted.Images = c.convertImages(msg.Content)
	}
	return converted
}

// convertImages keeps valid data-URL images as raw base64. Invalid or remote images are dropped.
func (c *MessageConverter) convertImages(content any) []string {
	parts := validate.ExtractImagesFromContent(content)
	if len(parts) == 0 {
		return nil
	}

	images := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.URL != "" {
			c.logger.Warn("Dropping remote image %s: only data URLs are supported", util.TruncateString(part.URL, 40, 10, "..."))
			continue
		}
		if err := c.validator.ValidateImageData(part.MediaType, part.Data); err != nil {
			c.logger.Warn("Image validation failed: %v", err)
			continue
		}
		images = append(images, part.Data)
	}
	if len(images) == 0 {
		return nil
	}
	return images
}

// CollectImages flattens the images of all messages, used by the generate endpoint.
func CollectImages(messages []core.OllamaMessage) []string {
	var images []string
	for _, msg := range messages {
		images = append(images, msg.Images...)
	}
	return images
}
