package cryptox

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/dmitrijs2005/counselkeeper/internal/common"
	"golang.org/x/crypto/hkdf"
)

// AuditChainInfo is the HKDF info label for the audit chain MAC key.
const AuditChainInfo = "counselkeeper/audit-chain/v1"

// DeriveSubkey derives a 32-byte purpose-bound key from the record key with
// HKDF-SHA256. Distinct info labels yield independent keys, so the record
// key itself is never used for anything but AES-GCM.
func DeriveSubkey(src KeySource, info string) ([]byte, error) {
	master, err := src.ResolveKey()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(master)

	out := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, fmt.Errorf("subkey derivation failed: %w", err)
	}
	return out, nil
}
