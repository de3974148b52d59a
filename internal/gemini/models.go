package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// ModelInfo is one entry from the provider's model listing.
type ModelInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
}

// ListModels queries the provider's live model catalog with one API key.
// Used by the CLI so operators can see what names are valid for the tier
// priority list.
func ListModels(ctx context.Context, apiKey string) ([]ModelInfo, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	var out []ModelInfo
	for model, err := range client.Models.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("gemini: list models: %w", err)
		}
		out = append(out, ModelInfo{Name: model.Name, DisplayName: model.DisplayName})
	}
	return out, nil
}
