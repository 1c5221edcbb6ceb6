// Package export renders payout batches into bank transfer files and
// archives them.
package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"

	"github.com/smallbiznis/escrowd/internal/payout/domain"
	"github.com/smallbiznis/escrowd/pkg/money"
)

var header = []string{
	"payout_id",
	"provider_id",
	"account_holder",
	"bank_name",
	"account_number",
	"routing_code",
	"amount",
	"currency",
	"reference",
}

// TransferFile renders one CSV row per payout in the order given and returns
// the file with its sha256 checksum.
func TransferFile(payouts []domain.Payout) ([]byte, string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, "", err
	}
	for _, p := range payouts {
		row := []string{
			p.ID.String(),
			p.ProviderID.String(),
			p.AccountHolder,
			p.BankName,
			p.AccountNumber,
			p.RoutingCode,
			money.Format(p.Amount),
			p.Currency,
			"PAYOUT-" + p.ID.String(),
		}
		if err := w.Write(row); err != nil {
			return nil, "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", err
	}
	content := buf.Bytes()
	return content, Checksum(content), nil
}

func Checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
