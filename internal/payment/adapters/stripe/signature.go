package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const signatureHeader = "Stripe-Signature"

// signedHeader is a parsed Stripe-Signature value: "t=<unix>,v1=<hex>[,v1=...]".
// Schemes other than v1 are ignored.
type signedHeader struct {
	timestamp int64
	v1        [][]byte
}

func parseSignedHeader(raw string) (signedHeader, bool) {
	var h signedHeader
	var haveTimestamp bool
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return signedHeader{}, false
			}
			h.timestamp, haveTimestamp = ts, true
		case "v1":
			if sig, err := hex.DecodeString(value); err == nil {
				h.v1 = append(h.v1, sig)
			}
		}
	}
	return h, haveTimestamp && len(h.v1) > 0
}

// matches reports whether any v1 signature was produced by secret over
// "<timestamp>.<payload>".
func (h signedHeader) matches(secret, payload []byte) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(h.timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	expected := mac.Sum(nil)
	for _, sig := range h.v1 {
		if hmac.Equal(sig, expected) {
			return true
		}
	}
	return false
}
