package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"saturday", "sunday", 3},
		{"IName", "IName", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevenshteinDistance(tt.a, tt.b), "%s -> %s", tt.a, tt.b)
	}
}

func TestFindSimilar(t *testing.T) {
	candidates := []string{
		"adhocracy_core.resources.proposal.IProposal",
		"adhocracy_core.resources.proposal.IProposalVersion",
		"adhocracy_core.resources.pool.IBasicPool",
	}

	assert.Equal(t, []string{"adhocracy_core.resources.proposal.IProposal"}, FindSimilar("iproposl", candidates))
	assert.Equal(t, []string{"adhocracy_core.resources.pool.IBasicPool"}, FindSimilar("IBasicPol", candidates))
	assert.Empty(t, FindSimilar("IComment", candidates))
}
