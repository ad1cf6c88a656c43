// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry holds the static, ordered list of pipeline stage
// definitions. The registry seeds new sessions and validates stage ids on
// incoming events. It has no mutation API: the stage set is fixed at build
// time.
package registry

import "fmt"

// StageDefinition describes one stage of the analysis pipeline. Immutable.
type StageDefinition struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Registry is an ordered, immutable sequence of stage definitions.
type Registry struct {
	stages  []StageDefinition
	indexOf map[string]int
}

// New builds a registry from an ordered stage list. Duplicate or empty ids
// are a programming error and panic at construction time, never at runtime.
func New(stages []StageDefinition) *Registry {
	indexOf := make(map[string]int, len(stages))
	for i, s := range stages {
		if s.ID == "" {
			panic(fmt.Sprintf("registry: stage %d has empty id", i))
		}
		if _, dup := indexOf[s.ID]; dup {
			panic(fmt.Sprintf("registry: duplicate stage id %q", s.ID))
		}
		indexOf[s.ID] = i
	}
	copied := make([]StageDefinition, len(stages))
	copy(copied, stages)
	return &Registry{stages: copied, indexOf: indexOf}
}

// Default returns the registry for the legal-document analysis pipeline.
func Default() *Registry {
	return New([]StageDefinition{
		{ID: "ingestion", DisplayName: "Document Ingestion"},
		{ID: "parsing", DisplayName: "Clause Parsing"},
		{ID: "interpretation", DisplayName: "Legal Interpretation"},
		{ID: "verification", DisplayName: "Citation Verification"},
		{ID: "guidance", DisplayName: "Plain-Language Guidance"},
		{ID: "compliance", DisplayName: "Compliance Review"},
	})
}

// Stages returns the ordered stage definitions. The returned slice is a copy;
// callers cannot mutate the registry through it.
func (r *Registry) Stages() []StageDefinition {
	out := make([]StageDefinition, len(r.stages))
	copy(out, r.stages)
	return out
}

// Len returns the number of stages.
func (r *Registry) Len() int {
	return len(r.stages)
}

// Lookup returns the definition and position of a stage id.
func (r *Registry) Lookup(id string) (StageDefinition, int, bool) {
	i, ok := r.indexOf[id]
	if !ok {
		return StageDefinition{}, -1, false
	}
	return r.stages[i], i, true
}

// At returns the stage definition at position i.
func (r *Registry) At(i int) StageDefinition {
	return r.stages[i]
}
