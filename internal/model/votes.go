package model

import (
	"fmt"
	"strings"
)

// Source is an external institution data is fetched from.
type Source struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name"`
	BaseURL  string `json:"base_url,omitempty"`
}

// SourceRecord is one fetched external record, normalized by a connector.
type SourceRecord struct {
	ID             int64  `json:"id"`
	SourceID       string `json:"source_id"`
	SourceRecordID string `json:"source_record_id"`
	SourceURL      string `json:"source_url,omitempty"`
	SnapshotDate   string `json:"snapshot_date"`
	ContentHash    string `json:"content_hash"`
	RawPayload     string `json:"raw_payload"`
}

// Initiative is a parliamentary initiative (bill, motion, decree validation).
type Initiative struct {
	InitiativeID string `json:"initiative_id"`
	Title        string `json:"title"`
	Expediente   string `json:"expediente,omitempty"`
}

// VoteEvent is a recorded vote in a chamber.
type VoteEvent struct {
	VoteEventID    string `json:"vote_event_id"`
	SourceID       string `json:"source_id"`
	SourceURL      string `json:"source_url,omitempty"`
	SourceRecordPK *int64 `json:"source_record_pk,omitempty"`
	VoteDate       string `json:"vote_date"`
	Title          string `json:"title"`
	ExpedienteText string `json:"expediente_text,omitempty"`
	SubgroupText   string `json:"subgroup_text,omitempty"`
}

// Chamber infers the originating chamber evidence type from the source id.
func (v VoteEvent) Chamber() string {
	src := strings.ToLower(v.SourceID)
	switch {
	case strings.Contains(src, "congreso"):
		return EvidenceCongresoVote
	case strings.Contains(src, "senado"):
		return EvidenceSenadoVote
	default:
		return EvidenceOtherVote
	}
}

// Text returns the vote's own searchable text.
func (v VoteEvent) Text() string {
	return joinNonEmpty(v.Title, v.ExpedienteText, v.SubgroupText)
}

// Validate checks the fields every vote must carry.
func (v VoteEvent) Validate() error {
	if v.VoteEventID == "" || v.SourceID == "" {
		return fmt.Errorf("%w: vote event requires vote_event_id and source_id", ErrValidation)
	}
	_, err := ParseDate(v.VoteDate)
	return err
}

// VoteEventInitiativeLink ties a vote to an initiative with a confidence.
type VoteEventInitiativeLink struct {
	VoteEventID    string  `json:"vote_event_id"`
	InitiativeID   string  `json:"initiative_id"`
	LinkConfidence float64 `json:"link_confidence"`
}

// LinkedInitiative is a link joined to its initiative text.
type LinkedInitiative struct {
	Initiative
	LinkConfidence float64 `json:"link_confidence"`
}

// Text returns the initiative's searchable text.
func (i Initiative) Text() string {
	return joinNonEmpty(i.Title, i.Expediente)
}

// VoteDocumentExcerpt is a document fragment linked to a vote (agenda item,
// diary excerpt).
type VoteDocumentExcerpt struct {
	VoteEventID string `json:"vote_event_id"`
	DocumentURL string `json:"document_url,omitempty"`
	Excerpt     string `json:"excerpt"`
}

// SanctionVolumeObservation is an enforcement statistic about a norm.
type SanctionVolumeObservation struct {
	ObservationID  string  `json:"observation_id"`
	SourceID       string  `json:"source_id"`
	SourceRecordID string  `json:"source_record_id,omitempty"`
	SourceURL      string  `json:"source_url,omitempty"`
	BOEID          string  `json:"boe_id"`
	FragmentID     string  `json:"fragment_id,omitempty"`
	PeriodDate     string  `json:"period_date"`
	Metric         string  `json:"metric"`
	Value          float64 `json:"value"`
}

// Validate checks the fields every observation must carry.
func (o SanctionVolumeObservation) Validate() error {
	if o.ObservationID == "" || o.BOEID == "" {
		return fmt.Errorf("%w: observation requires observation_id and boe_id", ErrValidation)
	}
	_, err := ParseDate(o.PeriodDate)
	return err
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
