package race

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider supplies trivia content for stops along the route. The session
// treats it as an external collaborator: a fetch failure forfeits the active
// turn instead of wedging the game.
type Provider interface {
	// FetchQuestions returns up to count multiple-choice questions about a
	// location, each with exactly four options including the correct answer.
	FetchQuestions(ctx context.Context, location string, count int) ([]Question, error)
	// FetchFact returns a short explanatory fact for a question/answer pair.
	FetchFact(ctx context.Context, question, answer string) (string, error)
}

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com"
	geminiModel   = "gemini-2.5-flash"
)

// GeminiProvider fetches trivia content from the Gemini REST API.
type GeminiProvider struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

func NewGeminiProvider(apiKey string) *GeminiProvider {
	return &GeminiProvider{
		baseURL: geminiBaseURL,
		model:   geminiModel,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// questionArraySchema constrains the model to a JSON array of well-formed
// questions.
var questionArraySchema = json.RawMessage(`{
	"type": "ARRAY",
	"items": {
		"type": "OBJECT",
		"properties": {
			"question": {"type": "STRING"},
			"options": {"type": "ARRAY", "items": {"type": "STRING"}},
			"correctAnswer": {"type": "STRING"}
		},
		"required": ["question", "options", "correctAnswer"]
	}
}`)

func (g *GeminiProvider) FetchQuestions(ctx context.Context, location string, count int) ([]Question, error) {
	// Questions are about the country, taken from "City, Country" names.
	topic := location
	if _, country, found := strings.Cut(location, ","); found {
		topic = strings.TrimSpace(country)
	}

	prompt := fmt.Sprintf("You are a trivia game master. Generate an array of %d unique, challenging, "+
		"multiple-choice trivia questions about the history, geography, or culture of %s. "+
		"Each question must have exactly 4 possible answers, with only one being correct. "+
		"Provide your response in the specified JSON format. Ensure the correct answer for each "+
		"question is one of its provided options. Do not repeat questions.", count, topic)

	text, err := g.generate(ctx, geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   questionArraySchema,
		},
	})
	if err != nil {
		return nil, err
	}

	var parsed []Question
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("invalid question payload: %w", err)
	}

	// Drop malformed items instead of failing the whole batch.
	valid := parsed[:0]
	for _, q := range parsed {
		if q.Question == "" || len(q.Options) != 4 {
			continue
		}
		correct := false
		for _, opt := range q.Options {
			if opt == q.CorrectAnswer {
				correct = true
				break
			}
		}
		if correct {
			valid = append(valid, q)
		}
	}

	return valid, nil
}

func (g *GeminiProvider) FetchFact(ctx context.Context, question, answer string) (string, error) {
	prompt := fmt.Sprintf("In a concise and engaging way (2-3 sentences), explain why %q is the correct "+
		"answer to the following trivia question. Focus on an interesting fact related to the answer. "+
		"Question: %q", answer, question)

	text, err := g.generate(ctx, geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(text), nil
}

// generate posts a generateContent request and returns the first candidate's
// text.
func (g *GeminiProvider) generate(ctx context.Context, payload geminiRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API returned status code: %d, response: %s", resp.StatusCode, string(responseBody))
	}

	var decoded geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}

	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from model")
	}

	return strings.TrimSpace(decoded.Candidates[0].Content.Parts[0].Text), nil
}
