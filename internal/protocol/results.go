// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import "time"

// AnalysisResults is the final results document produced by a completed
// pipeline run. The status core treats it as an opaque structured payload:
// it is carried by ProcessingCompleteEvent and served by the results
// endpoint, never interpreted.
type AnalysisResults struct {
	Summary               string           `json:"summary"`
	KeyPoints             []string         `json:"keyPoints"`
	LegalConcepts         []LegalConcept   `json:"legalConcepts"`
	Recommendations       []Recommendation `json:"recommendations"`
	RiskAssessment        RiskAssessment   `json:"riskAssessment"`
	SimplifiedExplanation string           `json:"simplifiedExplanation"`
	Metadata              ResultMetadata   `json:"metadata"`
}

// LegalConcept is one term surfaced by the interpretation stage.
type LegalConcept struct {
	Term            string   `json:"term"`
	Definition      string   `json:"definition"`
	Importance      string   `json:"importance"` // "high", "medium", "low"
	RelatedSections []string `json:"relatedSections,omitempty"`
}

// Recommendation is one actionable item from the guidance stage.
type Recommendation struct {
	Type        string `json:"type"` // "action", "caution", "information"
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"` // "high", "medium", "low"
}

// RiskAssessment summarizes the compliance stage's findings.
type RiskAssessment struct {
	OverallRisk string       `json:"overallRisk"` // "low", "medium", "high"
	RiskFactors []RiskFactor `json:"riskFactors,omitempty"`
}

// RiskFactor is one identified risk.
type RiskFactor struct {
	Factor      string `json:"factor"`
	Level       string `json:"level"` // "low", "medium", "high"
	Description string `json:"description"`
}

// ResultMetadata describes how the results were produced.
type ResultMetadata struct {
	ProcessingTime time.Duration `json:"processingTime"`
	AgentsUsed     []string      `json:"agentsUsed"`
	Confidence     float64       `json:"confidence"`
	CompletedAt    time.Time     `json:"completedAt"`
}
