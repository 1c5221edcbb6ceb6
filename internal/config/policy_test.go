package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewPolicyHolderDefaultsWhenFileMissing(t *testing.T) {
	holder, err := NewPolicyHolder(Config{PolicyPath: ""}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultPayoutPolicy(), holder.Get())
}

func TestNewPolicyHolderReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yml")
	content := []byte("policy:\n  platformFeeBps: 1500\n  autoApprove: true\n  settlementDelayDays: 3\n  maxBatchSize: 10\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewPolicyHolder(Config{PolicyPath: path}, zap.NewNop())
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, int64(1500), policy.PlatformFeeBps)
	assert.True(t, policy.AutoApprove)
	assert.Equal(t, 3, policy.SettlementDelayDays)
	assert.Equal(t, 10, policy.MaxBatchSize)
}

func TestNewPolicyHolderRejectsInvalidFee(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yml")
	require.NoError(t, os.WriteFile(path, []byte("policy:\n  platformFeeBps: 12000\n"), 0o600))

	_, err := NewPolicyHolder(Config{PolicyPath: path}, zap.NewNop())
	assert.Error(t, err)
}

func TestPolicyHolderStoreSwapsPolicy(t *testing.T) {
	holder := NewStaticPolicyHolder(DefaultPayoutPolicy())
	updated := DefaultPayoutPolicy()
	updated.AutoApprove = true
	holder.Store(updated)
	assert.True(t, holder.Get().AutoApprove)
}

func TestValidatePayoutPolicy(t *testing.T) {
	policy := DefaultPayoutPolicy()
	assert.NoError(t, ValidatePayoutPolicy(policy))

	policy.MaxBatchSize = 0
	assert.Error(t, ValidatePayoutPolicy(policy))

	policy = DefaultPayoutPolicy()
	policy.SettlementDelayDays = -1
	assert.Error(t, ValidatePayoutPolicy(policy))
}
