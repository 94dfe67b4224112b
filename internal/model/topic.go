package model

import (
	"fmt"
	"strings"
	"time"
)

// DeclaredPrefix marks evidence rows derived from declarations (speeches,
// press releases, programmes). Anything else is vote-derived.
const DeclaredPrefix = "declared:"

// TopicEvidence is one observed signal about a person's stance on a topic.
// Stance, polarity and confidence are nullable until a classifier or a human
// reviewer fills them.
type TopicEvidence struct {
	EvidenceID     int64    `json:"evidence_id"`
	EvidenceKey    string   `json:"evidence_key"`
	TopicID        string   `json:"topic_id"`
	TopicSetID     string   `json:"topic_set_id"`
	PersonID       string   `json:"person_id"`
	MandateID      string   `json:"mandate_id,omitempty"`
	EvidenceType   string   `json:"evidence_type"`
	EvidenceDate   string   `json:"evidence_date"`
	Excerpt        string   `json:"excerpt,omitempty"`
	Stance         *Stance  `json:"stance,omitempty"`
	Polarity       *int     `json:"polarity,omitempty"`
	Weight         float64  `json:"weight"`
	Confidence     *float64 `json:"confidence,omitempty"`
	StanceMethod   string   `json:"stance_method,omitempty"`
	SourceID       string   `json:"source_id"`
	SourceURL      string   `json:"source_url,omitempty"`
	SourceRecordPK *int64   `json:"source_record_pk,omitempty"`
}

// IsDeclared reports whether the row is a declared (non-vote) signal.
func (e TopicEvidence) IsDeclared() bool {
	return strings.HasPrefix(e.EvidenceType, DeclaredPrefix)
}

// Validate checks the fields a scraper must always provide.
func (e TopicEvidence) Validate() error {
	if e.EvidenceKey == "" {
		return fmt.Errorf("%w: topic evidence requires evidence_key", ErrValidation)
	}
	if e.TopicID == "" || e.TopicSetID == "" || e.PersonID == "" {
		return fmt.Errorf("%w: topic evidence requires topic_id, topic_set_id and person_id", ErrValidation)
	}
	if e.EvidenceType == "" {
		return fmt.Errorf("%w: topic evidence requires evidence_type", ErrValidation)
	}
	if _, err := ParseDate(e.EvidenceDate); err != nil {
		return err
	}
	if e.Stance != nil {
		if _, err := ParseStance(string(*e.Stance)); err != nil {
			return err
		}
	}
	if e.Polarity != nil && !ValidPolarity(*e.Polarity) {
		return fmt.Errorf("%w: polarity %d outside {-1,0,1}", ErrValidation, *e.Polarity)
	}
	if e.Confidence != nil {
		if err := ValidateConfidence(*e.Confidence); err != nil {
			return err
		}
	}
	if e.Weight < 0 {
		return fmt.Errorf("%w: weight %v is negative", ErrValidation, e.Weight)
	}
	return nil
}

// ReviewReason explains why an automated classification needs human attention.
type ReviewReason string

const (
	ReasonMissingText       ReviewReason = "missing_text"
	ReasonNoSignal          ReviewReason = "no_signal"
	ReasonLowConfidence     ReviewReason = "low_confidence"
	ReasonConflictingSignal ReviewReason = "conflicting_signal"
)

// ParseReviewReason validates a review reason token.
func ParseReviewReason(s string) (ReviewReason, error) {
	switch r := ReviewReason(s); r {
	case ReasonMissingText, ReasonNoSignal, ReasonLowConfidence, ReasonConflictingSignal:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown review reason %q", ErrValidation, s)
	}
}

// ReviewStatus is the lifecycle state of a review row.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewResolved ReviewStatus = "resolved"
	ReviewIgnored  ReviewStatus = "ignored"
)

// ParseReviewStatus validates a review status token.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	switch st := ReviewStatus(s); st {
	case ReviewPending, ReviewResolved, ReviewIgnored:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown review status %q", ErrValidation, s)
	}
}

// TopicEvidenceReview is the queue entry attached 1:1 to a TopicEvidence row.
type TopicEvidenceReview struct {
	EvidenceID          int64        `json:"evidence_id"`
	Reason              ReviewReason `json:"review_reason"`
	Status              ReviewStatus `json:"status"`
	SuggestedStance     *Stance      `json:"suggested_stance,omitempty"`
	SuggestedPolarity   *int         `json:"suggested_polarity,omitempty"`
	SuggestedConfidence *float64     `json:"suggested_confidence,omitempty"`
	SuggestedMethod     string       `json:"suggested_method,omitempty"`
	Note                string       `json:"note,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Computed methods for TopicPosition provenance.
const (
	MethodDeclared = "declared"
	MethodVotes    = "votes"
	MethodCombined = "combined"
)

// PositionKey identifies one person-topic conclusion inside a scope.
type PositionKey struct {
	TopicSetID string `json:"topic_set_id"`
	TopicID    string `json:"topic_id"`
	PersonID   string `json:"person_id"`
	MandateID  string `json:"mandate_id"`
}

// Less orders keys by topic set, topic, person, then mandate.
func (k PositionKey) Less(o PositionKey) bool {
	if k.TopicSetID != o.TopicSetID {
		return k.TopicSetID < o.TopicSetID
	}
	if k.TopicID != o.TopicID {
		return k.TopicID < o.TopicID
	}
	if k.PersonID != o.PersonID {
		return k.PersonID < o.PersonID
	}
	return k.MandateID < o.MandateID
}

// TopicPosition is a computed conclusion about a person's stance on a topic.
type TopicPosition struct {
	PositionKey
	PositionID       int64     `json:"position_id"`
	AsOfDate         string    `json:"as_of_date"`
	ComputedMethod   string    `json:"computed_method"`
	ComputedVersion  string    `json:"computed_version"`
	Stance           Stance    `json:"stance"`
	Score            float64   `json:"score"`
	Confidence       float64   `json:"confidence"`
	EvidenceCount    int       `json:"evidence_count"`
	LastEvidenceDate string    `json:"last_evidence_date,omitempty"`
	SourcePositionID *int64    `json:"source_position_id,omitempty"`
	ComputedAt       time.Time `json:"computed_at"`
}

// SameValues reports whether two positions carry the same computed values,
// ignoring identity and timestamps.
func (p TopicPosition) SameValues(o TopicPosition) bool {
	return p.Stance == o.Stance &&
		p.Score == o.Score &&
		p.Confidence == o.Confidence &&
		p.EvidenceCount == o.EvidenceCount &&
		p.LastEvidenceDate == o.LastEvidenceDate &&
		equalInt64Ptr(p.SourcePositionID, o.SourcePositionID)
}

func equalInt64Ptr(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
