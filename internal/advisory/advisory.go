// Package advisory asks a generative model for ideal growing parameters for
// a named plant. The model is asked for strict JSON; the reply feeds the
// setpoint form, it is never applied to the node without operator review.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/verdant-data/greenhouse.report/internal/command"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ErrNoAPIKey is returned when no API key is configured. The advisor is an
// optional feature; the bridge runs fine without it.
var ErrNoAPIKey = errors.New("advisory API key not configured")

// Suggestion is the model's recommendation for one plant.
type Suggestion struct {
	Plant       string            `json:"plant"`
	Setpoints   command.Setpoints `json:"setpoints"`
	Description string            `json:"description"`
}

// Client calls the Gemini generateContent REST endpoint directly. The
// official SDK pulls in a large dependency tree for what is a single POST,
// so we speak the wire format ourselves.
type Client struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClientFromEnv builds a client with the API key from GEMINI_API_KEY.
// Returns ErrNoAPIKey if the variable is unset or empty.
func NewClientFromEnv(model string) (*Client, error) {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		return nil, ErrNoAPIKey
	}
	return &Client{APIKey: key, Model: model}, nil
}

// Request/response shapes for the generateContent endpoint. Only the fields
// we use are declared.
type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// modelReply is the strict JSON schema the prompt demands from the model.
type modelReply struct {
	IdealHumidityPercent float64 `json:"ideal_humidity_percent"`
	IdealTemperatureC    float64 `json:"ideal_temperature_celsius"`
	PhotoperiodHours     float64 `json:"photoperiod_hours"`
	Description          string  `json:"description"`
}

// Suggest asks the model for ideal setpoints for the named plant.
func (c *Client) Suggest(ctx context.Context, plant string) (*Suggestion, error) {
	plant = strings.TrimSpace(plant)
	if plant == "" {
		return nil, errors.New("plant name must not be empty")
	}
	if c.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	prompt := fmt.Sprintf(`Growing data for %s: reply with exactly one JSON object, no prose: `+
		`{ "ideal_humidity_percent": float, "ideal_temperature_celsius": float, `+
		`"photoperiod_hours": float, "description": string }`, plant)

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return nil, err
	}

	baseURL := c.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", baseURL, c.Model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.APIKey)

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("advisory request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var gr generateResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, fmt.Errorf("failed to parse advisory response: %w", err)
	}
	if gr.Error != nil {
		return nil, fmt.Errorf("advisory API error %d: %s", gr.Error.Code, gr.Error.Message)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("advisory response contained no candidates")
	}

	reply, err := parseModelReply(gr.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return nil, err
	}

	suggestion := &Suggestion{
		Plant: plant,
		Setpoints: command.Setpoints{
			HumidityPercent:  reply.IdealHumidityPercent,
			TemperatureC:     reply.IdealTemperatureC,
			PhotoperiodHours: reply.PhotoperiodHours,
		},
		Description: reply.Description,
	}
	if err := suggestion.Setpoints.Validate(); err != nil {
		return nil, fmt.Errorf("model suggested out-of-range setpoints: %w", err)
	}
	return suggestion, nil
}

// parseModelReply extracts the JSON object from the model's text, tolerating
// the markdown code fences the model likes to wrap replies in.
func parseModelReply(text string) (*modelReply, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var reply modelReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, fmt.Errorf("model reply was not the requested JSON: %w", err)
	}
	return &reply, nil
}
