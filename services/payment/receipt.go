package payment

import (
	"crypto/sha256"
	"encoding/hex"
)

// MaxReceiptLen is the gateway's hard cap on receipt length.
const MaxReceiptLen = 40

// ReceiptFor derives the gateway receipt for one booking attempt by a
// client. The raw identity material is well past the gateway's 40-character
// cap, so it is hashed down to a short, collision-resistant token. Equal
// inputs yield equal receipts, which is what lets a retried attempt find
// its already-created order instead of minting a duplicate.
func ReceiptFor(clientID, attemptKey string) string {
	sum := sha256.Sum256([]byte(clientID + ":" + attemptKey))
	return "rcpt_" + hex.EncodeToString(sum[:])[:32]
}
