package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/applyflow/autofill-service/internal/registry"
)

const maxContentChars = 20000

// LLMService implements the pipeline capabilities on a Gemini model via
// langchaingo. The client is held on the struct so it is created once.
type LLMService struct {
	Client llms.Model
}

// NewLLMService initializes the Gemini client.
func NewLLMService(ctx context.Context, apiKey, model string) (*LLMService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("llm: API key is empty")
	}
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("llm: create client: %w", err)
	}
	return &LLMService{Client: llm}, nil
}

const classifyPrompt = `
You are a Form Field Classification Agent. Given a single job-application form field, classify it.

### FIELD:
Label: %s
Declared type: %s
Context: %s

### INSTRUCTIONS:
1. Decide the input shape: one of "free_text", "choice", "date", "number", "email", "phone".
2. Name the semantic role in snake_case (e.g. "years_of_experience", "work_authorization", "notice_period", "role_fit").
3. Set "role_based" to true only for open questions about the candidate's fit or motivation for the role.
4. Output valid JSON only. Do not wrap the output in markdown code blocks.

### OUTPUT SCHEMA:
{"kind": "...", "semantic_role": "...", "role_based": false}
`

// Classify determines the field's semantic type from its identity alone.
func (s *LLMService) Classify(ctx context.Context, field registry.FieldIdentity) (FieldClass, error) {
	prompt := fmt.Sprintf(classifyPrompt, field.Label, field.Type, field.Context)
	resp, err := llms.GenerateFromSinglePrompt(ctx, s.Client, prompt)
	if err != nil {
		return FieldClass{}, fmt.Errorf("llm: classify field %q: %w", field.Label, err)
	}
	var class FieldClass
	if err := json.Unmarshal([]byte(stripCodeFences(resp)), &class); err != nil {
		return FieldClass{}, fmt.Errorf("llm: parse classification for field %q: %w", field.Label, err)
	}
	return class, nil
}

const inferPrompt = `
You are an Application Form Answering Agent. Using only the candidate background below, answer one form field.

### FIELD:
Label: %s
Input shape: %s
Semantic role: %s

### RULES:
1. Every claim must be traceable to the background text. Never invent skills, employers, dates or experience that are not stated.
2. Write in the candidate's first-person voice. Never refer to source documents: do not write "the CV", "the job description" or similar.
3. Use plain hyphens only; never use a long dash.
4. For questions about fit for a role you may combine facts from several positions. Emphasize the most relevant ones; mention secondary items briefly, not with equal weight. Order chronologically only if the question explicitly asks for it.
5. Match the answer to the input shape: a date for date fields, a number for number fields, a short option for choice fields.
6. Output the answer text only, with no preamble and no markdown.

### CANDIDATE BACKGROUND:
%s
`

// Infer produces a candidate value for the field from the CV content. The
// aggregation rules for role-based questions are part of the prompt; the
// hyphen and source-reference rules are additionally enforced in code by
// SanitizeAnswer, since prompts are not guarantees.
func (s *LLMService) Infer(ctx context.Context, cvContent string, field registry.FieldIdentity, class FieldClass) (string, error) {
	cvContent = truncate(cvContent, maxContentChars)
	prompt := fmt.Sprintf(inferPrompt, field.Label, class.Kind, class.SemanticRole, cvContent)
	resp, err := llms.GenerateFromSinglePrompt(ctx, s.Client, prompt)
	if err != nil {
		return "", fmt.Errorf("llm: infer value for field %q: %w", field.Label, err)
	}
	return strings.TrimSpace(resp), nil
}

const matchPrompt = `
You are a Consistency Checking Agent. Compare a proposed form answer against the role posting below.

### FIELD:
Label: %s

### PROPOSED ANSWER:
%s

### INSTRUCTIONS:
1. Report whether the answer is consistent with the facts stated in the posting.
2. If inconsistent, add a one-sentence note naming the discrepancy.
3. Output valid JSON only. Do not wrap the output in markdown code blocks.

### OUTPUT SCHEMA:
{"consistent": true, "note": null}

### ROLE POSTING:
%s
`

// Match checks the inferred value against the job description. The result is
// advisory and surfaced to the caller untouched.
func (s *LLMService) Match(ctx context.Context, jdContent string, field registry.FieldIdentity, value string) (MatchResult, error) {
	jdContent = truncate(jdContent, maxContentChars)
	prompt := fmt.Sprintf(matchPrompt, field.Label, value, jdContent)
	resp, err := llms.GenerateFromSinglePrompt(ctx, s.Client, prompt)
	if err != nil {
		return MatchResult{}, fmt.Errorf("llm: match value for field %q: %w", field.Label, err)
	}
	var result MatchResult
	if err := json.Unmarshal([]byte(stripCodeFences(resp)), &result); err != nil {
		return MatchResult{}, fmt.Errorf("llm: parse match result for field %q: %w", field.Label, err)
	}
	return result, nil
}

// stripCodeFences removes a markdown code fence if the model ignored the
// no-markdown instruction.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
