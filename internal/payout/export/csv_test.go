package export_test

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smallbiznis/escrowd/internal/payout/domain"
	"github.com/smallbiznis/escrowd/internal/payout/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransferFileRendersOneRowPerPayout(t *testing.T) {
	payouts := []domain.Payout{
		{ID: 11, ProviderID: 500, AccountHolder: "Jane, Provider", BankName: "First Bank", AccountNumber: "000123456789", RoutingCode: "021000021", Amount: 9000, Currency: "USD"},
		{ID: 12, ProviderID: 501, AccountHolder: "Bob", BankName: "Second Bank", AccountNumber: "42", Amount: 1, Currency: "USD"},
	}

	content, checksum, err := export.TransferFile(payouts)
	require.NoError(t, err)
	assert.Equal(t, export.Checksum(content), checksum)
	assert.Len(t, checksum, 64)

	rows, err := csv.NewReader(strings.NewReader(string(content))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "payout_id", rows[0][0])
	assert.Equal(t, []string{"11", "500", "Jane, Provider", "First Bank", "000123456789", "021000021", "90.00", "USD", "PAYOUT-11"}, rows[1])
	assert.Equal(t, "0.01", rows[2][6])
}

func TestTransferFileIsDeterministic(t *testing.T) {
	payouts := []domain.Payout{{ID: 1, ProviderID: 2, Amount: 100, Currency: "USD"}}
	_, a, err := export.TransferFile(payouts)
	require.NoError(t, err)
	_, b, err := export.TransferFile(payouts)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestLocalStorePut(t *testing.T) {
	dir := t.TempDir()
	store := export.NewLocalStore(dir)

	location, err := store.Put(context.Background(), "/2025/03/01/payout-batch-1.csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2025", "03", "01", "payout-batch-1.csv"), location)

	data, err := os.ReadFile(location)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))
}
