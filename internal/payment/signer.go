package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Signer implements the gateway's checkout signature: hex-encoded
// HMAC-SHA256 of "orderId|paymentId" keyed with the account secret.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

func (s *Signer) mac(gatewayOrderID, gatewayPaymentID string) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write([]byte(gatewayOrderID + "|" + gatewayPaymentID))
	return h.Sum(nil)
}

func (s *Signer) Sign(gatewayOrderID, gatewayPaymentID string) string {
	return hex.EncodeToString(s.mac(gatewayOrderID, gatewayPaymentID))
}

// Verify compares in constant time. It never accepts anything while no
// secret is configured.
func (s *Signer) Verify(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if len(s.secret) == 0 {
		return false
	}
	given, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	return hmac.Equal(s.mac(gatewayOrderID, gatewayPaymentID), given)
}
