package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhase(t *testing.T) {
	tests := []struct {
		phase    Phase
		valid    bool
		terminal bool
	}{
		{PhasePending, true, false},
		{PhaseProcessing, true, false},
		{PhaseCompleted, true, true},
		{PhaseFailed, true, true},
		{Phase("queued"), false, false},
		{Phase(""), false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.phase), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.phase.Valid())
			assert.Equal(t, tt.terminal, tt.phase.Terminal())
		})
	}
}

func TestTaskStateClone(t *testing.T) {
	orig := TaskState{TaskID: "t-1", Phase: PhaseProcessing, Progress: []string{"scraping"}}
	c := orig.Clone()
	c.Progress[0] = "changed"
	assert.Equal(t, "scraping", orig.Progress[0])
}
