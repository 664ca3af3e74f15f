package faceverify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const verifyPrompt = `Analyze the two images. The first is a student's reference photo, the second is a live photo. Verify if it's the same person.
First, assess the live photo's quality. Is it clear, well-lit, and suitable for verification? Quality must be "GOOD" or "POOR".
Second, determine if the faces match.
Respond in JSON with three fields:
1. "quality": (string) "GOOD" or "POOR".
2. "isMatch": (boolean) True for a match, false otherwise.
3. "reason": (string) If quality is POOR, explain why (e.g., "Blurry photo"). If no match, state "Faces do not match". If it is a match, state "OK".
Example: { "quality": "GOOD", "isMatch": true, "reason": "OK" }`

// GeminiOracle verifies faces with a Gemini vision model, constrained to a
// JSON response schema so the answer always parses.
type GeminiOracle struct {
	client    *genai.Client
	modelName string
	logger    zerolog.Logger
}

// NewGeminiOracle builds an oracle bound to the given model.
func NewGeminiOracle(ctx context.Context, apiKey, modelName string, logger zerolog.Logger) (*GeminiOracle, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiOracle{client: client, modelName: modelName, logger: logger}, nil
}

// Verify sends reference and live photos to the model and parses its verdict.
func (g *GeminiOracle) Verify(ctx context.Context, reference, live Image) (Outcome, error) {
	model := g.client.GenerativeModel(g.modelName)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"quality": {Type: genai.TypeString, Enum: []string{"GOOD", "POOR"}},
			"isMatch": {Type: genai.TypeBoolean},
			"reason":  {Type: genai.TypeString},
		},
		Required: []string{"quality", "isMatch", "reason"},
	}

	res, err := model.GenerateContent(ctx,
		genai.Text(verifyPrompt),
		genai.Blob{MIMEType: reference.MIME, Data: reference.Data},
		genai.Blob{MIMEType: live.MIME, Data: live.Data},
	)
	if err != nil {
		return Outcome{}, fmt.Errorf("gemini generate: %w", err)
	}

	if len(res.Candidates) == 0 || len(res.Candidates[0].Content.Parts) == 0 {
		return Outcome{}, errors.New("no response from Gemini API")
	}
	text, ok := res.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return Outcome{}, errors.New("unexpected response format from Gemini API")
	}

	outcome, err := parseOutcome(string(text))
	if err != nil {
		g.logger.Error().Err(err).Str("raw", string(text)).Msg("unparseable verification response")
		return Outcome{}, err
	}
	return outcome, nil
}

// Close releases the underlying client.
func (g *GeminiOracle) Close() error { return g.client.Close() }

func parseOutcome(raw string) (Outcome, error) {
	var out Outcome
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return Outcome{}, fmt.Errorf("decode verification response: %w", err)
	}
	if out.Quality != QualityGood && out.Quality != QualityPoor {
		return Outcome{}, fmt.Errorf("unknown quality %q in verification response", out.Quality)
	}
	return out, nil
}
