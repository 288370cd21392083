// Package wallet はウォレットアドレスの正規化を提供する。
package wallet

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// NormalizeAddress はEVMアドレスをEIP-55チェックサム形式に正規化する。
// 大文字小文字が混在した入力はチェックサムとして検証し、不一致ならエラーにする。
func NormalizeAddress(address string) (string, error) {
	trimmed := strings.TrimSpace(address)
	raw := strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(raw) != 40 {
		return "", fmt.Errorf("wallet address must be 40 hex characters, got %d", len(raw))
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid hex in wallet address: %w", err)
	}

	checksummed := toChecksumAddress(raw)
	if isMixedCase(raw) && "0x"+raw != checksummed {
		return "", fmt.Errorf("wallet address checksum mismatch")
	}
	return checksummed, nil
}

// ShortAddress は表示名の代わりに使う短縮表記（0x1234…abcd）を返す。
func ShortAddress(address string) string {
	if len(address) < 10 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}

// toChecksumAddress はEIP-55チェックサムを適用する。
func toChecksumAddress(addr string) string {
	addr = strings.ToLower(addr)
	hash := keccak256([]byte(addr))

	result := make([]byte, 42)
	result[0] = '0'
	result[1] = 'x'

	for i := 0; i < 40; i++ {
		c := addr[i]
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		nibble &= 0x0f

		if nibble >= 8 && c >= 'a' && c <= 'f' {
			result[i+2] = c - 32
		} else {
			result[i+2] = c
		}
	}
	return string(result)
}

func isMixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
