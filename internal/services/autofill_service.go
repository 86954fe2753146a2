package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/applyflow/autofill-service/internal/dtos"
	"github.com/applyflow/autofill-service/internal/models"
	"github.com/applyflow/autofill-service/internal/registry"
	"github.com/applyflow/autofill-service/internal/storage"
)

// KindAutofillCompleted is the outbox payload kind enqueued for every
// committed autofill.
const KindAutofillCompleted = "autofill.completed"

// AutofillCompletedEvent is the outbox payload describing a committed
// autofill. MessageID carries the transport's message identifier when the
// request arrived over an at-least-once transport, so downstream consumers
// can deduplicate redeliveries on it.
type AutofillCompletedEvent struct {
	MessageID      string   `json:"message_id,omitempty"`
	UserID         uint     `json:"user_id"`
	ChargedCredits int64    `json:"charged_credits"`
	FieldCount     int      `json:"field_count"`
	InferredCount  int      `json:"inferred_count"`
	FieldHashes    []string `json:"field_hashes"`
	CompletedAt    string   `json:"completed_at"`
}

// FilledField is one answered form field.
type FilledField struct {
	Label        string       `json:"label"`
	FieldHash    string       `json:"field_hash"`
	Value        string       `json:"value"`
	SemanticRole string       `json:"semantic_role,omitempty"`
	Source       string       `json:"source"` // "cache" or "inferred"
	Match        *MatchResult `json:"match,omitempty"`
}

// FilledForm is the autofill result returned to the caller.
type FilledForm struct {
	Fields         []FilledField `json:"fields"`
	ChargedCredits int64         `json:"charged_credits"`
	CreditBalance  int64         `json:"credit_balance"`
	LogID          string        `json:"log_id"`
}

// AutofillConfig carries the orchestrator's tunables.
type AutofillConfig struct {
	// CostCredits is debited from the user's ledger per autofill.
	CostCredits int64
	// PipelineTimeout bounds the whole classify/infer/match run. On expiry
	// the request fails before anything is billed or recorded.
	PipelineTimeout time.Duration
}

// AutofillService drives the field pipeline and commits its outcome. The
// registry writes, the ledger debit and the outbox enqueue of one request
// go through a single atomic unit: a failed debit leaves nothing behind.
type AutofillService struct {
	atomic     storage.Atomic
	fields     registry.Store
	classifier Classifier
	inferencer Inferencer
	matcher    Matcher
	cfg        AutofillConfig
	logger     zerolog.Logger
}

func NewAutofillService(
	atomic storage.Atomic,
	fields registry.Store,
	classifier Classifier,
	inferencer Inferencer,
	matcher Matcher,
	cfg AutofillConfig,
	logger zerolog.Logger,
) *AutofillService {
	return &AutofillService{
		atomic:     atomic,
		fields:     fields,
		classifier: classifier,
		inferencer: inferencer,
		matcher:    matcher,
		cfg:        cfg,
		logger:     logger.With().Str("component", "autofill").Logger(),
	}
}

// Autofill fills the form for one user. Cached fields are answered from the
// registry; unseen fields run through the pipeline. The mutations commit as
// one unit, so the caller is only ever billed for a fully recorded autofill.
func (s *AutofillService) Autofill(ctx context.Context, req *dtos.AutofillRequest) (*FilledForm, error) {
	identities := make([]registry.FieldIdentity, len(req.Fields))
	hashes := make([]string, len(req.Fields))
	for i, f := range req.Fields {
		identities[i] = registry.FieldIdentity{Label: f.Label, Type: f.Type, Context: f.Context}
		hashes[i] = registry.Hash(identities[i])
	}

	found, missing, err := s.fields.LookupMany(ctx, hashes)
	if err != nil {
		return nil, err
	}

	newRecords, matches, err := s.runPipeline(ctx, req, identities, hashes, missing)
	if err != nil {
		return nil, err
	}

	event := AutofillCompletedEvent{
		MessageID:      req.MessageID,
		UserID:         req.UserID,
		ChargedCredits: s.cfg.CostCredits,
		FieldCount:     len(req.Fields),
		InferredCount:  len(missing),
		FieldHashes:    hashes,
		CompletedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("autofill: marshal completion event: %w", err)
	}

	var logID string
	var balance int64
	err = s.atomic.InTx(ctx, func(st storage.Stores) error {
		for _, h := range missing {
			if err := st.Fields.Store(ctx, newRecords[h]); err != nil {
				return err
			}
		}
		b, err := st.Ledger.UpdateBalance(ctx, req.UserID, -s.cfg.CostCredits)
		if err != nil {
			return err
		}
		balance = b
		id, err := st.Outbox.Enqueue(ctx, KindAutofillCompleted, payload)
		if err != nil {
			return err
		}
		logID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Uint("user_id", req.UserID).
		Int("fields", len(req.Fields)).
		Int("inferred", len(missing)).
		Str("log_id", logID).
		Msg("autofill committed")

	form := &FilledForm{
		Fields:         make([]FilledField, len(req.Fields)),
		ChargedCredits: s.cfg.CostCredits,
		CreditBalance:  balance,
		LogID:          logID,
	}
	for i, h := range hashes {
		if rec, ok := found[h]; ok {
			form.Fields[i] = FilledField{
				Label:        req.Fields[i].Label,
				FieldHash:    h,
				Value:        rec.AnswerTemplate,
				SemanticRole: rec.SemanticRole,
				Source:       "cache",
			}
			continue
		}
		rec := newRecords[h]
		form.Fields[i] = FilledField{
			Label:        req.Fields[i].Label,
			FieldHash:    h,
			Value:        rec.AnswerTemplate,
			SemanticRole: rec.SemanticRole,
			Source:       "inferred",
			Match:        matches[h],
		}
	}
	return form, nil
}

// runPipeline classifies and infers every missing field in input order, under
// one deadline. Pipeline calls are the only long-latency work in a request;
// nothing has been written yet when they fail, so a timeout aborts cleanly.
func (s *AutofillService) runPipeline(
	ctx context.Context,
	req *dtos.AutofillRequest,
	identities []registry.FieldIdentity,
	hashes []string,
	missing []string,
) (map[string]models.FieldRecord, map[string]*MatchResult, error) {
	newRecords := make(map[string]models.FieldRecord, len(missing))
	matches := make(map[string]*MatchResult, len(missing))
	if len(missing) == 0 {
		return newRecords, matches, nil
	}

	pctx := ctx
	if s.cfg.PipelineTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, s.cfg.PipelineTimeout)
		defer cancel()
	}

	identityByHash := make(map[string]registry.FieldIdentity, len(hashes))
	for i, h := range hashes {
		if _, ok := identityByHash[h]; !ok {
			identityByHash[h] = identities[i]
		}
	}

	for _, h := range missing {
		id := identityByHash[h]
		class, err := s.classifier.Classify(pctx, id)
		if err != nil {
			return nil, nil, err
		}
		value, err := s.inferencer.Infer(pctx, req.CVContent, id, class)
		if err != nil {
			return nil, nil, err
		}
		value = SanitizeAnswer(value)

		if req.JDContent != "" {
			match, err := s.matcher.Match(pctx, req.JDContent, id, value)
			if err != nil {
				return nil, nil, err
			}
			matches[h] = &match
		}

		newRecords[h] = models.FieldRecord{
			FieldHash:      h,
			Label:          id.Label,
			FieldType:      id.Type,
			Context:        id.Context,
			Kind:           class.Kind,
			SemanticRole:   class.SemanticRole,
			RoleBased:      class.RoleBased,
			AnswerTemplate: value,
		}
	}
	return newRecords, matches, nil
}
