package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Keeps(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		won    bool
		lost   bool
		unk    bool
	}{
		{"wins only", Policy{}, true, false, false},
		{"with unknown", Policy{IncludeUnknown: true}, true, false, true},
		{"with lost", Policy{IncludeLost: true}, true, true, false},
		{"everything", Policy{IncludeUnknown: true, IncludeLost: true}, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.won, tt.policy.Keeps(OutcomeWon))
			assert.Equal(t, tt.lost, tt.policy.Keeps(OutcomeLost))
			assert.Equal(t, tt.unk, tt.policy.Keeps(OutcomeUnknown))
		})
	}
}
