package dtos

// FormField is one field of the form to fill, identified by its label,
// declared input type and structural context.
type FormField struct {
	Label   string `json:"label" binding:"required"`
	Type    string `json:"type" binding:"required"`
	Context string `json:"context"`
}

type AutofillRequest struct {
	UserID    uint        `json:"user_id" binding:"required"`
	CVContent string      `json:"cv_content" binding:"required"`
	Fields    []FormField `json:"fields" binding:"required,min=1,dive"`

	// Optional Fields
	JDContent string `json:"jd_content"`
	// MessageID is the upstream transport's message identifier, when the
	// request was relayed from an at-least-once queue. It is threaded into
	// the completion event as its natural dedup key.
	MessageID string `json:"message_id"`
}

type ProvisionUserRequest struct {
	Email          string `json:"email" binding:"required,email"`
	InitialCredits int64  `json:"initial_credits" binding:"gte=0"`
}

type BalanceUpdateRequest struct {
	Delta int64 `json:"delta" binding:"required"`
}

type FieldLookupRequest struct {
	Hashes []string `json:"hashes" binding:"required,min=1"`
}
