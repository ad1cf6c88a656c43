// Copyright (C) 2026 Plainlex
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_OrderAndLookup(t *testing.T) {
	r := Default()

	require.Equal(t, 6, r.Len())

	expected := []string{"ingestion", "parsing", "interpretation", "verification", "guidance", "compliance"}
	for i, id := range expected {
		def, pos, ok := r.Lookup(id)
		require.True(t, ok, "stage %s must be registered", id)
		assert.Equal(t, i, pos)
		assert.Equal(t, id, def.ID)
		assert.NotEmpty(t, def.DisplayName)
		assert.Equal(t, def, r.At(i))
	}
}

func TestLookup_UnknownStage(t *testing.T) {
	r := Default()

	_, pos, ok := r.Lookup("summarization")
	assert.False(t, ok)
	assert.Equal(t, -1, pos)
}

func TestStages_ReturnsCopy(t *testing.T) {
	r := Default()

	stages := r.Stages()
	stages[0].ID = "mutated"

	def, _, ok := r.Lookup("ingestion")
	require.True(t, ok)
	assert.Equal(t, "ingestion", def.ID)
}

func TestNew_RejectsDuplicates(t *testing.T) {
	assert.Panics(t, func() {
		New([]StageDefinition{
			{ID: "a", DisplayName: "A"},
			{ID: "a", DisplayName: "A again"},
		})
	})
}

func TestNew_RejectsEmptyID(t *testing.T) {
	assert.Panics(t, func() {
		New([]StageDefinition{{ID: "", DisplayName: "Nameless"}})
	})
}
