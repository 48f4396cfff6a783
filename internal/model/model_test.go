// Copyright 2025 Docflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocHash(t *testing.T) {
	h := DocHash([]byte("hello"))
	assert.Equal(t, "sha256-2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", h)

	// Identical bytes hash identically.
	assert.Equal(t, h, DocHash([]byte("hello")))
	assert.NotEqual(t, h, DocHash([]byte("hello ")))
}

func TestStripHashPrefix(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"sha256-abc123", "abc123"},
		{"sha256:abc123", "abc123"},
		{"abc123", "abc123"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, StripHashPrefix(tt.input), "input %q", tt.input)
	}
}

func TestRunStatusValid(t *testing.T) {
	for _, s := range []RunStatus{StatusPending, StatusRunning, StatusCompleted, StatusError, StatusFailed} {
		assert.True(t, s.Valid(), "%s should be valid", s)
	}
	assert.False(t, RunStatus("BOGUS").Valid())
}

func TestRunStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusError.Terminal())
}

func TestStepProduces(t *testing.T) {
	assert.True(t, StepProduces(StepParse, ArtifactParsedMD))
	assert.True(t, StepProduces(StepParse, ArtifactParsedJSON))
	assert.True(t, StepProduces(StepChunk, ArtifactChunks))
	assert.False(t, StepProduces(StepChunk, ArtifactEmbeddings))
	assert.False(t, StepProduces(StepValidate, ArtifactDoc))
}

func TestArtifactsToStepsInverse(t *testing.T) {
	for stepType, artifacts := range ArtifactsFromSteps {
		for _, at := range artifacts {
			assert.Equal(t, stepType, ArtifactsToSteps[at])
		}
	}
}
