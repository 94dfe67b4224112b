package model

import (
	"fmt"
	"time"
)

// LegalNorm is a norm identified by its official gazette (BOE) reference.
type LegalNorm struct {
	NormID string `json:"norm_id"`
	BOEID  string `json:"boe_id"`
	Title  string `json:"title,omitempty"`
}

// LegalNormFragment is a citable sub-unit (article, annex) of a norm.
type LegalNormFragment struct {
	FragmentID string `json:"fragment_id"`
	NormID     string `json:"norm_id"`
	Label      string `json:"label,omitempty"`
	Text       string `json:"text,omitempty"`
}

// RelationType is the kind of a lineage edge between two norms.
type RelationType string

const (
	RelationDeroga     RelationType = "deroga"     // repeals
	RelationDesarrolla RelationType = "desarrolla" // develops
	RelationModifica   RelationType = "modifica"   // amends
)

// ParseRelationType validates a lineage relation token.
func ParseRelationType(s string) (RelationType, error) {
	switch r := RelationType(s); r {
	case RelationDeroga, RelationDesarrolla, RelationModifica:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown relation type %q", ErrValidation, s)
	}
}

// LineageEdge is a directed relation norm -> related norm.
type LineageEdge struct {
	NormID        string       `json:"norm_id"`
	RelatedNormID string       `json:"related_norm_id"`
	RelationType  RelationType `json:"relation_type"`
}

// Role is the legal function a responsibility describes.
type Role string

const (
	RolePropose  Role = "propose"
	RoleApprove  Role = "approve"
	RoleDelegate Role = "delegate"
	RoleEnforce  Role = "enforce"
	RoleAudit    Role = "audit"
)

// ParseRole validates a role token.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RolePropose, RoleApprove, RoleDelegate, RoleEnforce, RoleAudit:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrValidation, s)
	}
}

// Responsibility says who performs which legal function over a fragment.
type Responsibility struct {
	ResponsibilityID int64  `json:"responsibility_id"`
	FragmentID       string `json:"fragment_id"`
	Role             Role   `json:"role"`
	ActorLabel       string `json:"actor_label"`
}

// ResponsibilityTarget is a responsibility joined to the norm it hangs from.
type ResponsibilityTarget struct {
	Responsibility
	NormID string `json:"norm_id"`
	BOEID  string `json:"boe_id"`
}

// Responsibility evidence types.
const (
	EvidenceCongresoVote       = "congreso_vote"
	EvidenceSenadoVote         = "senado_vote"
	EvidenceOtherVote          = "other"
	EvidenceParliamentaryDiary = "congreso_diario"
	EvidenceSanctionVolume     = "sanction_volume"
)

// VoteEvidenceTypes lists the evidence types written by the vote matcher.
var VoteEvidenceTypes = []string{EvidenceCongresoVote, EvidenceOtherVote, EvidenceSenadoVote}

// ResponsibilityEvidence links a responsibility to one observed action.
type ResponsibilityEvidence struct {
	EvidenceID       int64     `json:"evidence_id"`
	ResponsibilityID int64     `json:"responsibility_id"`
	EvidenceType     string    `json:"evidence_type"`
	EvidenceDate     string    `json:"evidence_date,omitempty"`
	SourceID         string    `json:"source_id,omitempty"`
	SourceURL        string    `json:"source_url,omitempty"`
	SourceRecordPK   *int64    `json:"source_record_pk,omitempty"`
	VoteEventID      *string   `json:"vote_event_id,omitempty"`
	InitiativeID     string    `json:"initiative_id,omitempty"`
	ObservationID    *string   `json:"observation_id,omitempty"`
	EvidenceQuote    string    `json:"evidence_quote,omitempty"`
	MatchMethod      string    `json:"match_method,omitempty"`
	MatchConfidence  *float64  `json:"match_confidence,omitempty"`
	ConfidenceLabel  string    `json:"confidence_label,omitempty"`
	RawPayload       string    `json:"raw_payload,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// SameContent reports whether two evidence rows would persist identical data.
func (e ResponsibilityEvidence) SameContent(o ResponsibilityEvidence) bool {
	return e.EvidenceDate == o.EvidenceDate &&
		e.SourceID == o.SourceID &&
		e.SourceURL == o.SourceURL &&
		equalInt64Ptr(e.SourceRecordPK, o.SourceRecordPK) &&
		equalStrPtr(e.VoteEventID, o.VoteEventID) &&
		e.InitiativeID == o.InitiativeID &&
		equalStrPtr(e.ObservationID, o.ObservationID) &&
		e.EvidenceQuote == o.EvidenceQuote &&
		e.MatchMethod == o.MatchMethod &&
		equalFloatPtr(e.MatchConfidence, o.MatchConfidence) &&
		e.ConfidenceLabel == o.ConfidenceLabel &&
		e.RawPayload == o.RawPayload
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
