package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category classifies what kind of knowledge a learning captures.
type Category string

const (
	// CategoryRule is an imperative constraint ("always X", "never Y").
	CategoryRule Category = "rule"

	// CategoryDecision is a choice with a recorded justification.
	CategoryDecision Category = "decision"

	// CategoryTechStack is a technology or dependency note.
	CategoryTechStack Category = "tech_stack"

	// CategoryWorkflow is a multi-step process observation.
	CategoryWorkflow Category = "workflow"

	// CategoryDomain is a domain-term definition.
	CategoryDomain Category = "domain"

	// CategoryConvention is a naming or formatting convention.
	CategoryConvention Category = "convention"
)

// ValidCategories is the closed set of learning categories.
var ValidCategories = map[Category]bool{
	CategoryRule:       true,
	CategoryDecision:   true,
	CategoryTechStack:  true,
	CategoryWorkflow:   true,
	CategoryDomain:     true,
	CategoryConvention: true,
}

// IsValidCategory reports whether c is a known category.
func IsValidCategory(c Category) bool {
	return ValidCategories[c]
}

// Categories returns all categories in stable file order.
func Categories() []Category {
	return []Category{
		CategoryRule,
		CategoryDecision,
		CategoryTechStack,
		CategoryWorkflow,
		CategoryDomain,
		CategoryConvention,
	}
}

// Confidence is the ordinal trust level of a record. It governs ranking
// weight and auto-apply eligibility.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ValidConfidences is the closed set of confidence levels.
var ValidConfidences = map[Confidence]bool{
	ConfidenceHigh:   true,
	ConfidenceMedium: true,
	ConfidenceLow:    true,
}

// IsValidConfidence reports whether c is a known confidence level.
func IsValidConfidence(c Confidence) bool {
	return ValidConfidences[c]
}

// Rank returns the ordinal position of a confidence level: high=3,
// medium=2, low=1, unknown=0. Used for tie-breaking in ranked results.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// Status is the lifecycle state of a learning.
type Status string

const (
	// StatusPending marks a freshly extracted learning awaiting review.
	StatusPending Status = "pending"

	// StatusActive marks a learning eligible for relevance queries.
	StatusActive Status = "active"

	// StatusArchived marks a superseded or rejected learning. Archived
	// records are preserved on disk but excluded from queries.
	StatusArchived Status = "archived"
)

// ValidStatuses is the closed set of learning statuses.
var ValidStatuses = map[Status]bool{
	StatusPending:  true,
	StatusActive:   true,
	StatusArchived: true,
}

// IsValidStatus reports whether s is a known status.
func IsValidStatus(s Status) bool {
	return ValidStatuses[s]
}

// EvidenceRef points back at the transcript event a learning was
// extracted from, with the git position captured at the time.
type EvidenceRef struct {
	// SessionID identifies the originating session.
	SessionID string `json:"session_id"`

	// EventID is the UUID of the transcript event.
	EventID string `json:"event_id,omitempty"`

	// Branch is the git branch active when the evidence was captured.
	Branch string `json:"branch,omitempty"`

	// Commit is the short commit hash active when the evidence was captured.
	Commit string `json:"commit,omitempty"`

	// Excerpt is a short scrubbed quote from the source text.
	Excerpt string `json:"excerpt,omitempty"`
}

// Learning is a categorized, confidence-scored statement extracted from
// session activity. Learnings are created by extraction (or manual
// import) and mutated only through curator transitions.
type Learning struct {
	// ID is the unique learning identifier (UUID).
	ID string `json:"id"`

	// Category classifies the learning.
	Category Category `json:"category"`

	// Statement is the normalized learning text.
	Statement string `json:"statement"`

	// Evidence links back to every observation that produced or
	// confirmed this learning. Merging a duplicate candidate appends
	// here rather than creating a new record.
	Evidence []EvidenceRef `json:"evidence,omitempty"`

	// Confidence is the current trust level.
	Confidence Confidence `json:"confidence"`

	// AgentScope optionally restricts the learning to one agent profile.
	AgentScope string `json:"agent_scope,omitempty"`

	// Fingerprint is the normalized-content hash used for exact dedup.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// CreatedAt is when the learning was first recorded.
	CreatedAt time.Time `json:"created_at"`

	// LastConfirmedAt advances every time new evidence merges in.
	LastConfirmedAt time.Time `json:"last_confirmed_at"`
}

// NewLearning creates a pending learning with a generated UUID.
func NewLearning(category Category, statement string, confidence Confidence, now time.Time) (*Learning, error) {
	if !IsValidCategory(category) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	if statement == "" {
		return nil, ErrEmptyStatement
	}
	if !IsValidConfidence(confidence) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidConfidence, confidence)
	}
	return &Learning{
		ID:              uuid.New().String(),
		Category:        category,
		Statement:       statement,
		Confidence:      confidence,
		Status:          StatusPending,
		CreatedAt:       now,
		LastConfirmedAt: now,
	}, nil
}

// Validate checks the learning invariants before persistence.
func (l *Learning) Validate() error {
	if l.ID == "" {
		return errors.New("learning ID cannot be empty")
	}
	if _, err := uuid.Parse(l.ID); err != nil {
		return fmt.Errorf("invalid learning ID %q: %w", l.ID, err)
	}
	if !IsValidCategory(l.Category) {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, l.Category)
	}
	if l.Statement == "" {
		return ErrEmptyStatement
	}
	if !IsValidConfidence(l.Confidence) {
		return fmt.Errorf("%w: %q", ErrInvalidConfidence, l.Confidence)
	}
	if !IsValidStatus(l.Status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, l.Status)
	}
	return nil
}

// ContextEntry is a curated knowledge record independent of the
// extraction pipeline, organized by domain and topic.
type ContextEntry struct {
	// ID is the unique entry identifier (UUID).
	ID string `json:"id"`

	// Domain is the top-level grouping (e.g. "payments").
	Domain string `json:"domain"`

	// Topic is the second-level grouping (e.g. "retries").
	Topic string `json:"topic"`

	// Subtopic optionally narrows the topic further.
	Subtopic string `json:"subtopic,omitempty"`

	// Title is a one-line summary of the entry.
	Title string `json:"title"`

	// Body is the full markdown content.
	Body string `json:"body,omitempty"`

	// Tags are labels for lexical matching (e.g. "go", "http").
	Tags []string `json:"tags,omitempty"`

	// Confidence is the curated trust level.
	Confidence Confidence `json:"confidence"`

	// SourceRef records where the entry came from (e.g. "import:notes.md").
	SourceRef string `json:"source_ref,omitempty"`

	// CreatedAt is when the entry was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the entry was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewContextEntry creates a context entry with a generated UUID.
func NewContextEntry(domain, topic, title string, confidence Confidence, now time.Time) (*ContextEntry, error) {
	if domain == "" {
		return nil, ErrEmptyDomain
	}
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if title == "" {
		return nil, ErrEmptyTitle
	}
	if !IsValidConfidence(confidence) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidConfidence, confidence)
	}
	return &ContextEntry{
		ID:         uuid.New().String(),
		Domain:     domain,
		Topic:      topic,
		Title:      title,
		Confidence: confidence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Validate checks the entry invariants before persistence.
func (e *ContextEntry) Validate() error {
	if e.ID == "" {
		return errors.New("entry ID cannot be empty")
	}
	if _, err := uuid.Parse(e.ID); err != nil {
		return fmt.Errorf("invalid entry ID %q: %w", e.ID, err)
	}
	if e.Domain == "" {
		return ErrEmptyDomain
	}
	if e.Topic == "" {
		return ErrEmptyTopic
	}
	if e.Title == "" {
		return ErrEmptyTitle
	}
	if !IsValidConfidence(e.Confidence) {
		return fmt.Errorf("%w: %q", ErrInvalidConfidence, e.Confidence)
	}
	return nil
}

// RecordKind distinguishes the two record families in ranked results.
type RecordKind string

const (
	KindLearning RecordKind = "learning"
	KindEntry    RecordKind = "entry"
)
