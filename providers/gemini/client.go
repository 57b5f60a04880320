package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"drift-benchmark/core/models"
	"drift-benchmark/core/retrypolicy"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	DefaultTextModel  = "gemini-2.0-flash"
	DefaultImageModel = "imagen-3.0-generate-002"
)

// Client calls the Gemini API for both transformation directions: image
// descriptions via generateContent and image synthesis via the Imagen
// predict endpoint. Errors carry a retry classification so callers can
// apply their policy uniformly.
type Client struct {
	BaseURL    string
	APIKey     string
	TextModel  string
	ImageModel string
	HTTPClient *http.Client
}

// NewClient creates a Gemini client with default models and timeouts
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		TextModel:  DefaultTextModel,
		ImageModel: DefaultImageModel,
		HTTPClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type generatePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generateRequest struct {
	Contents         []generateContent `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
	Temperature      float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	SampleCount int `json:"sampleCount"`
}

type predictResponse struct {
	Predictions []struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"predictions"`
}

// Transform converts payload to the target modality. Image input is sent
// inline with the description prompt; text input becomes the subject of
// an image synthesis prompt.
func (c *Client) Transform(ctx context.Context, input models.Artifact, payload []byte, target models.Modality, prompt string) ([]byte, error) {
	switch target {
	case models.ModalityText:
		return c.describeImage(ctx, payload, prompt)
	case models.ModalityImage:
		return c.renderImage(ctx, payload, prompt)
	default:
		return nil, retrypolicy.Permanent(fmt.Errorf("unsupported target modality %q", target))
	}
}

// describeImage asks the text model for a description of the inline image
func (c *Client) describeImage(ctx context.Context, image []byte, prompt string) ([]byte, error) {
	reqBody := generateRequest{
		Contents: []generateContent{{
			Parts: []generatePart{
				{InlineData: &inlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(image)}},
				{Text: prompt},
			},
		}},
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.BaseURL, c.TextModel)
	body, err := c.postJSON(ctx, url, reqBody)
	if err != nil {
		return nil, err
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, retrypolicy.Transient(fmt.Errorf("failed to parse generateContent response: %w", err))
	}
	text, err := extractText(resp)
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

// renderImage synthesizes an image from the text payload via Imagen
func (c *Client) renderImage(ctx context.Context, text []byte, prompt string) ([]byte, error) {
	subject := string(text)
	if prompt != "" {
		subject = prompt + "\n\n" + subject
	}
	reqBody := predictRequest{
		Instances:  []predictInstance{{Prompt: subject}},
		Parameters: predictParameters{SampleCount: 1},
	}

	url := fmt.Sprintf("%s/models/%s:predict", c.BaseURL, c.ImageModel)
	body, err := c.postJSON(ctx, url, reqBody)
	if err != nil {
		return nil, err
	}

	var resp predictResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, retrypolicy.Transient(fmt.Errorf("failed to parse predict response: %w", err))
	}
	if len(resp.Predictions) == 0 {
		return nil, retrypolicy.Permanent(fmt.Errorf("image synthesis returned no predictions"))
	}
	image, err := base64.StdEncoding.DecodeString(resp.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return nil, retrypolicy.Transient(fmt.Errorf("failed to decode image payload: %w", err))
	}
	return image, nil
}

// postJSON sends a JSON request and returns the raw response body.
// Non-2xx statuses come back as classified capability errors.
func (c *Client) postJSON(ctx context.Context, url string, reqBody interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, retrypolicy.Permanent(fmt.Errorf("failed to serialize request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, retrypolicy.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retrypolicy.Transient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retrypolicy.Transient(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode, body)
	}
	return body, nil
}

// classifyStatus maps an API error status to a retry classification.
// Rate limits, timeouts and server faults are transient; the remaining
// client errors (bad request, auth, content policy) are permanent.
func classifyStatus(status int, body []byte) error {
	msg := apiErrorMessage(body)
	err := fmt.Errorf("API error %d: %s", status, msg)

	switch {
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		return retrypolicy.Transient(err)
	case status >= 500:
		return retrypolicy.Transient(err)
	default:
		return retrypolicy.Permanent(err)
	}
}

// apiErrorMessage digs the human-readable message out of an error body,
// falling back to a truncated raw body
func apiErrorMessage(body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	bodyStr := string(body)
	if len(bodyStr) > 500 {
		bodyStr = bodyStr[:500] + "..."
	}
	return bodyStr
}

// extractText pulls the first candidate's text, treating safety blocks
// and empty candidates as permanent failures
func extractText(resp generateResponse) (string, error) {
	if resp.PromptFeedback.BlockReason != "" {
		return "", retrypolicy.Permanent(fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason))
	}
	if len(resp.Candidates) == 0 {
		return "", retrypolicy.Permanent(fmt.Errorf("model returned no candidates"))
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == "SAFETY" || cand.FinishReason == "PROHIBITED_CONTENT" {
		return "", retrypolicy.Permanent(fmt.Errorf("response blocked: %s", cand.FinishReason))
	}

	var out string
	for _, part := range cand.Content.Parts {
		out += part.Text
	}
	if out == "" {
		return "", retrypolicy.Transient(fmt.Errorf("model returned an empty response"))
	}
	return out, nil
}
