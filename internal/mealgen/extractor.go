package mealgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/go-groceries/backend/internal/groceries"
	"go.uber.org/zap"
)

const defaultModel = string(anthropic.ModelClaudeSonnet4_5)

// Completer produces one completion for a prompt. Satisfied by
// AnthropicCompleter; tests substitute a canned implementation.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

// AnthropicCompleter backs Completer with the Anthropic Messages API.
type AnthropicCompleter struct {
	client anthropic.Client
	model  string
}

// NewAnthropicCompleter returns a Completer for the given API key. An empty
// model selects the default.
func NewAnthropicCompleter(apiKey, model string) (*AnthropicCompleter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("mealgen: Anthropic API key is required")
	}
	if model == "" {
		model = defaultModel
	}
	return &AnthropicCompleter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// Complete sends one user message and returns the concatenated text blocks.
func (c *AnthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 2048,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("mealgen: completion failed: %w", err)
	}
	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// ModelName reports the model identifier for response metadata.
func (c *AnthropicCompleter) ModelName() string {
	return c.model
}

// RecipeImage is a reference to a recipe illustration.
type RecipeImage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// RecipeData is the extracted recipe attachment.
type RecipeData struct {
	URL    string        `json:"url"`
	Notes  string        `json:"notes"`
	Images []RecipeImage `json:"images"`
}

// MealData is the structured extraction result for one video.
type MealData struct {
	Name        string                 `json:"name"`
	Ingredients []groceries.Ingredient `json:"ingredients"`
	Tags        []string               `json:"tags"`
	Recipe      RecipeData             `json:"recipe"`
}

// Extractor turns video metadata into structured meal data.
type Extractor struct {
	youtube   *YouTubeClient
	completer Completer
	log       *zap.Logger
}

// NewExtractor wires a YouTube client and a completer into an Extractor.
func NewExtractor(youtube *YouTubeClient, completer Completer, logger *zap.Logger) (*Extractor, error) {
	if youtube == nil {
		return nil, errors.New("mealgen: YouTube client is required")
	}
	if completer == nil {
		return nil, errors.New("mealgen: completer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{youtube: youtube, completer: completer, log: logger}, nil
}

// GenerateMealData fetches the video's metadata and asks the model for a
// strict-JSON meal record. The second return value names the model used.
func (e *Extractor) GenerateMealData(ctx context.Context, videoURL string, availableTags []string, additionalInput string) (*MealData, string, error) {
	details, err := e.youtube.FetchVideo(ctx, videoURL)
	if err != nil {
		return nil, "", err
	}
	if details.ChannelID == "" {
		return nil, "", &StatusError{Code: http.StatusBadRequest, Message: "no channel ID provided for video"}
	}
	if details.Description == "" && len(details.ChannelComments) == 0 {
		return nil, "", &StatusError{Code: http.StatusBadRequest, Message: "no description or comments provided for video"}
	}

	prompt := BuildPrompt(details, availableTags, additionalInput)
	raw, err := e.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, "", err
	}

	data, err := ParseModelOutput(raw)
	if err != nil {
		return nil, "", err
	}
	data.Recipe.URL = videoURL
	if details.ThumbnailURL != "" {
		data.Recipe.Images = append(data.Recipe.Images, RecipeImage{Type: "url", URL: details.ThumbnailURL})
	}

	e.log.Info("meal data extracted",
		zap.String("video_id", details.VideoID),
		zap.String("meal", data.Name),
		zap.Int("ingredients", len(data.Ingredients)))
	return data, e.completer.ModelName(), nil
}

// BuildPrompt renders the extraction instruction for one video. Additional
// input supplied by the user is appended as extra context for the model.
func BuildPrompt(details *VideoDetails, availableTags []string, additionalInput string) string {
	var sb strings.Builder
	sb.WriteString("Extract the meal described by this cooking video into JSON with the shape ")
	sb.WriteString(`{"mealName": string, "ingredients": [{"name": string, "quantity": number}], "tags": [string], "recipe": string}.`)
	sb.WriteString(" The recipe field holds the preparation steps as plain text.")
	if len(availableTags) > 0 {
		sb.WriteString(" Choose tags only from: ")
		sb.WriteString(strings.Join(availableTags, ", "))
		sb.WriteString(".")
	}
	sb.WriteString(" Respond with the JSON object only.\n\n")
	sb.WriteString("Title: " + details.Title + "\n")
	if len(details.Tags) > 0 {
		sb.WriteString("Video tags: " + strings.Join(details.Tags, ", ") + "\n")
	}
	sb.WriteString("Description:\n" + details.Description + "\n")
	for i, comment := range details.ChannelComments {
		sb.WriteString(fmt.Sprintf("Uploader comment %d:\n%s\n", i+1, comment))
	}
	if trimmed := strings.TrimSpace(additionalInput); trimmed != "" {
		sb.WriteString("Additional context from the user:\n" + trimmed + "\n")
	}
	return sb.String()
}

type modelOutput struct {
	MealName    string                 `json:"mealName"`
	Ingredients []groceries.Ingredient `json:"ingredients"`
	Tags        []string               `json:"tags"`
	Recipe      string                 `json:"recipe"`
}

// ParseModelOutput locates the JSON object in a completion (models tend to
// wrap it in prose or code fences) and decodes it.
func ParseModelOutput(raw string) (*MealData, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, &StatusError{Code: http.StatusBadGateway, Message: "model response carried no JSON object"}
	}

	var output modelOutput
	if err := json.Unmarshal([]byte(raw[start:end+1]), &output); err != nil {
		return nil, &StatusError{Code: http.StatusBadGateway,
			Message: fmt.Sprintf("model response was not valid JSON: %v", err)}
	}
	if strings.TrimSpace(output.MealName) == "" {
		return nil, &StatusError{Code: http.StatusBadGateway, Message: "model response carried no meal name"}
	}

	return &MealData{
		Name:        output.MealName,
		Ingredients: output.Ingredients,
		Tags:        output.Tags,
		Recipe:      RecipeData{Notes: output.Recipe},
	}, nil
}
