package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"drift-benchmark/core/models"
	"drift-benchmark/core/retrypolicy"
)

// Evaluator scores a comparison pair with the text model. Both artifacts
// go into a single generateContent request together with the rubric
// instructions, and the model replies with a JSON scorecard.
type Evaluator struct {
	client  *Client
	rubrics map[string]string
}

// NewEvaluator creates an evaluator backed by the given client. Unknown
// rubric ids fall back to the built-in prompts.
func NewEvaluator(client *Client) *Evaluator {
	return &Evaluator{
		client:  client,
		rubrics: builtinRubrics(),
	}
}

// RegisterRubric adds or overrides a rubric prompt
func (e *Evaluator) RegisterRubric(id, prompt string) {
	e.rubrics[id] = prompt
}

// Evaluate scores one artifact pair against the five-dimension rubric
func (e *Evaluator) Evaluate(ctx context.Context, left, right models.Artifact, leftPayload, rightPayload []byte, rubricID string) (map[string]models.Score, error) {
	instructions, ok := e.rubrics[rubricID]
	if !ok {
		instructions = e.rubrics["cross-modal-default"]
	}

	parts := []generatePart{{Text: instructions + "\n\n" + scoringContract()}}
	parts = append(parts, artifactPart("FIRST ARTIFACT", left.Modality, leftPayload)...)
	parts = append(parts, artifactPart("SECOND ARTIFACT", right.Modality, rightPayload)...)

	reqBody := generateRequest{
		Contents:         []generateContent{{Parts: parts}},
		GenerationConfig: &generationConfig{ResponseMimeType: "application/json", Temperature: 0},
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", e.client.BaseURL, e.client.TextModel)
	body, err := e.client.postJSON(ctx, url, reqBody)
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
	return parseScorecard(text)
}

// artifactPart renders an artifact as labeled request parts: inline data
// for images, plain text otherwise
func artifactPart(label string, modality models.Modality, payload []byte) []generatePart {
	if modality == models.ModalityImage {
		return []generatePart{
			{Text: label + " (image):"},
			{InlineData: &inlineData{MimeType: "image/png", Data: base64.StdEncoding.EncodeToString(payload)}},
		}
	}
	return []generatePart{{Text: label + " (text):\n" + string(payload)}}
}

// parseScorecard decodes the model's JSON scorecard. Malformed output is
// transient: a retry with the same prompt usually yields valid JSON.
func parseScorecard(text string) (map[string]models.Score, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var scores map[string]models.Score
	if err := json.Unmarshal([]byte(trimmed), &scores); err != nil {
		return nil, retrypolicy.Transient(fmt.Errorf("failed to parse scorecard: %w", err))
	}
	return scores, nil
}

// scoringContract is appended to every rubric so the model returns the
// exact shape the validation layer expects
func scoringContract() string {
	dims := strings.Join(models.ScoreDimensions, `", "`)
	return fmt.Sprintf(`Score the pair on each dimension from %.1f (complete divergence) to %.1f (perfect preservation), using one decimal of precision.

Respond with a single JSON object whose keys are exactly: "%s".
Each value is an object {"value": <number>, "justification": "<one or two sentences>"}.
Do not include any other keys or commentary.`, models.ScoreMin, models.ScoreMax, dims)
}

func builtinRubrics() map[string]string {
	return map[string]string{
		"cross-modal-default": `You are judging how faithfully a transformation step carried meaning across modalities. The first artifact is the input to the step and the second is its output in the other modality.

Dimensions:
- content_correspondence: do the same subjects, objects and events appear in both?
- compositional_alignment: are spatial layout and structural relationships preserved?
- fidelity_completeness: how much salient detail survived, without inventions?
- stylistic_congruence: does mood, style and tone carry over?
- semantic_intent: is the core message or purpose intact?`,

		"intra-text-default": `You are judging semantic drift between two text descriptions produced at different points of a recursive transformation chain. The first text is the earlier reference and the second is the later derivative.

Dimensions:
- content_correspondence: do both texts describe the same subjects and events?
- compositional_alignment: do they agree on arrangement and relationships?
- fidelity_completeness: does the later text keep the earlier one's salient details?
- stylistic_congruence: are register, mood and style consistent?
- semantic_intent: does the later text still convey the same core message?`,

		"intra-image-default": `You are judging semantic drift between two images produced at different points of a recursive transformation chain. The first image is the earlier reference and the second is the later derivative.

Dimensions:
- content_correspondence: do both images show the same subjects and objects?
- compositional_alignment: do layout, framing and spatial relationships match?
- fidelity_completeness: are the reference's salient details present, without additions?
- stylistic_congruence: are palette, style and mood consistent?
- semantic_intent: does the later image convey the same scene and purpose?`,
	}
}
