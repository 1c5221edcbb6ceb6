package domain_test

import (
	"testing"

	"github.com/smallbiznis/escrowd/internal/payout/domain"
	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to domain.Status
		want     bool
	}{
		{domain.StatusPendingApproval, domain.StatusApproved, true},
		{domain.StatusPendingApproval, domain.StatusProcessing, false},
		{domain.StatusApproved, domain.StatusProcessing, true},
		{domain.StatusApproved, domain.StatusCancelled, true},
		{domain.StatusProcessing, domain.StatusCancelled, false},
		{domain.StatusProcessing, domain.StatusCompleted, true},
		{domain.StatusProcessing, domain.StatusApproved, true},
		{domain.StatusCompleted, domain.StatusCancelled, false},
		{domain.StatusCancelled, domain.StatusPendingApproval, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, domain.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusValidity(t *testing.T) {
	assert.True(t, domain.StatusCompleted.Valid())
	assert.False(t, domain.Status("DONE").Valid())
	assert.True(t, domain.StatusApproved.Open())
	assert.False(t, domain.StatusCancelled.Open())
	assert.True(t, domain.BatchExecuted.Valid())
	assert.False(t, domain.BatchStatus("SENT").Valid())
}
