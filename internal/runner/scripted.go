// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/plainlex/plainlex/internal/protocol"
	"github.com/plainlex/plainlex/internal/registry"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML scripts written as "500ms", "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// ScriptStep is one timed progress report within a scripted stage.
type ScriptStep struct {
	Progress float64  `yaml:"progress"`
	Message  string   `yaml:"message"`
	Delay    Duration `yaml:"delay"`
}

// StageScript describes what the scripted runner does for one stage. When
// Fail is non-empty the stage fails with that message after its steps ran.
type StageScript struct {
	Steps []ScriptStep `yaml:"steps"`
	Fail  string       `yaml:"fail"`
}

// Script is a full scripted pipeline run, keyed by stage id. Stages with
// no entry fall back to the synthesized ramp. The optional results block
// overrides the canned analysis document.
type Script struct {
	Stages  map[string]StageScript    `yaml:"stages"`
	Results *protocol.AnalysisResults `yaml:"results"`
}

// LoadScript reads a script from a YAML file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	return &script, nil
}

// ScriptedRunner simulates pipeline work. Scripted stages replay their
// steps; unscripted stages ramp from stepPercent to 100 in stepPercent
// increments, pausing stepInterval between reports. It stands in for the
// real analysis backend in development and tests.
type ScriptedRunner struct {
	script       *Script
	stepInterval time.Duration
	stepPercent  float64
}

// NewScriptedRunner creates a scripted runner. script may be nil, in which
// case every stage uses the synthesized ramp.
func NewScriptedRunner(script *Script, stepInterval time.Duration, stepPercent float64) *ScriptedRunner {
	if stepPercent <= 0 {
		stepPercent = 20
	}
	return &ScriptedRunner{
		script:       script,
		stepInterval: stepInterval,
		stepPercent:  stepPercent,
	}
}

// Run replays the stage's script, or the synthesized ramp when the stage
// has no script entry. Honors context cancellation between steps.
func (r *ScriptedRunner) Run(ctx context.Context, stage registry.StageDefinition, report ReportFunc) error {
	if r.script != nil {
		if sc, ok := r.script.Stages[stage.ID]; ok {
			return r.runScripted(ctx, stage, sc, report)
		}
	}
	return r.runRamp(ctx, stage, report)
}

func (r *ScriptedRunner) runScripted(ctx context.Context, stage registry.StageDefinition, sc StageScript, report ReportFunc) error {
	for _, step := range sc.Steps {
		if err := r.pause(ctx, time.Duration(step.Delay)); err != nil {
			return err
		}
		report(step.Progress, step.Message)
	}
	if sc.Fail != "" {
		return NewStageFailure(stage.ID, sc.Fail)
	}
	return nil
}

func (r *ScriptedRunner) runRamp(ctx context.Context, stage registry.StageDefinition, report ReportFunc) error {
	for p := r.stepPercent; p < 100; p += r.stepPercent {
		if err := r.pause(ctx, r.stepInterval); err != nil {
			return err
		}
		report(p, fmt.Sprintf("%s in progress (%.0f%%)", stage.DisplayName, p))
	}
	if err := r.pause(ctx, r.stepInterval); err != nil {
		return err
	}
	report(100, fmt.Sprintf("%s completed", stage.DisplayName))
	return nil
}

func (r *ScriptedRunner) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results returns the scripted results when present, otherwise a canned
// analysis document keyed to the processed document.
func (r *ScriptedRunner) Results(documentID string) protocol.AnalysisResults {
	if r.script != nil && r.script.Results != nil {
		return *r.script.Results
	}
	return protocol.AnalysisResults{
		Summary: fmt.Sprintf("Automated analysis of document %s completed across all pipeline stages.", documentID),
		KeyPoints: []string{
			"Document structure was parsed into individual clauses.",
			"No conflicting obligations were detected between sections.",
			"All cited statutes resolved to current versions.",
		},
		LegalConcepts: []protocol.LegalConcept{
			{
				Term:       "Indemnification",
				Definition: "A contractual obligation to compensate the other party for specified losses.",
				Importance: "high",
			},
		},
		Recommendations: []protocol.Recommendation{
			{
				Type:        "caution",
				Title:       "Review termination notice period",
				Description: "The 30-day notice period is shorter than is typical for agreements of this kind.",
				Priority:    "medium",
			},
		},
		RiskAssessment: protocol.RiskAssessment{
			OverallRisk: "low",
			RiskFactors: []protocol.RiskFactor{
				{
					Factor:      "liability",
					Level:       "low",
					Description: "Liability caps are mutual and bounded.",
				},
			},
		},
		SimplifiedExplanation: "This agreement sets out standard terms with balanced obligations for both parties.",
	}
}
