package model

import (
	"strings"
	"time"
)

// Opportunity is a normalized funding-program record produced by the
// upstream extraction step and persisted by the ingestion pipeline.
type Opportunity struct {
	ID                string     `json:"id"`
	ExternalID        string     `json:"external_id,omitempty"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	FundingType       string     `json:"funding_type"`
	Status            string     `json:"status"`
	AmountMin         *float64   `json:"amount_min,omitempty"`
	AmountMax         *float64   `json:"amount_max,omitempty"`
	TotalFunding      *float64   `json:"total_funding,omitempty"`
	OpenDate          *time.Time `json:"open_date,omitempty"`
	CloseDate         *time.Time `json:"close_date,omitempty"`
	EligibleLocations []string   `json:"eligible_locations,omitempty"`
	IsNational        bool       `json:"is_national"`
	Scoring           Scoring    `json:"scoring"`

	SourceID        string `json:"source_id"`
	RawResponseID   string `json:"raw_response_id,omitempty"`
	FundingSourceID string `json:"funding_source_id,omitempty"`
	Organization    string `json:"organization,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Scoring holds the upstream model's relevance sub-scores. Values are
// clamped to their documented ranges before they reach the pipeline.
type Scoring struct {
	Relevance   float64 `json:"relevance"`
	Feasibility float64 `json:"feasibility"`
	AwardSize   float64 `json:"award_size"`
	Overall     float64 `json:"overall"`
}

// NaturalKey identifies the same opportunity across ingestion runs:
// (source, external id) when the source supplies a stable id, otherwise
// (source, title).
type NaturalKey struct {
	SourceID   string
	ExternalID string
	Title      string
}

// NaturalKey returns the dedup key for the opportunity.
func (o *Opportunity) NaturalKey() NaturalKey {
	k := NaturalKey{SourceID: o.SourceID}
	if strings.TrimSpace(o.ExternalID) != "" {
		k.ExternalID = o.ExternalID
		return k
	}
	k.Title = o.Title
	return k
}

// SourceRef identifies the external API a batch of opportunities was
// scraped from.
type SourceRef struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	APIEndpoint string `json:"api_endpoint,omitempty"`
}

// FundingSource is the organization an opportunity is attributed to.
// Deduplicated across opportunities on (name, organization).
type FundingSource struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	Website      string    `json:"website,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// State is a row of the read-only state lookup table.
type State struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}
