package services

import (
	"context"

	"github.com/applyflow/autofill-service/internal/registry"
)

// The autofill pipeline runs classify -> infer -> match for each field the
// registry has not seen before. Each stage is a pluggable capability so the
// orchestrator can be tested without a model in the loop.

// FieldClass is the outcome of the classification stage.
type FieldClass struct {
	// Kind is the input shape: free_text, choice, date, number, email or phone.
	Kind string `json:"kind"`
	// SemanticRole names what the field asks about (years_of_experience,
	// work_authorization, role_fit, ...).
	SemanticRole string `json:"semantic_role"`
	// RoleBased marks open questions about fit for the role, which are
	// allowed to synthesize an answer across several CV entries.
	RoleBased bool `json:"role_based"`
}

// MatchResult reconciles an inferred value against job-description facts.
// It is advisory: a mismatch is flagged to the caller, never a hard gate.
type MatchResult struct {
	Consistent bool   `json:"consistent"`
	Note       string `json:"note,omitempty"`
}

type Classifier interface {
	Classify(ctx context.Context, field registry.FieldIdentity) (FieldClass, error)
}

type Inferencer interface {
	Infer(ctx context.Context, cvContent string, field registry.FieldIdentity, class FieldClass) (string, error)
}

type Matcher interface {
	Match(ctx context.Context, jdContent string, field registry.FieldIdentity, value string) (MatchResult, error)
}
