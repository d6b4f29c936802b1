package settlement

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// DeriveAddress derives a settlement-layer address from a signing
// credential, Keccak-style: the last 20 bytes of the credential's digest,
// hex-encoded with a 0x prefix. Deterministic, so the same credential always
// maps to the same account.
func DeriveAddress(credential string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(credential))
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}

// NewSigner builds a Signer from a credential.
func NewSigner(credential string) Signer {
	return Signer{
		Address:    DeriveAddress(credential),
		Credential: credential,
	}
}

// TxHash computes a transaction identifier over the signer, nonce, and
// encoded call. Matches what the devnet backend assigns; real networks
// return their own identifiers and this is only used locally.
func TxHash(signer string, nonce uint64, call Call, salt string) string {
	payload, _ := json.Marshal(call)
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "%s|%d|%s|%s", signer, nonce, payload, salt)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
