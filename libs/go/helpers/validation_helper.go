package helpers

import (
	"strings"
)

// IsAddressValid checks if the provided string is a valid Ethereum address
// It verifies:
// 1. The address is exactly 42 characters long (including 0x prefix)
// 2. The address starts with "0x"
// 3. The remaining 40 characters are valid hexadecimal
func IsAddressValid(address string) bool {
	return isPrefixedHexOfLength(address, 20)
}

// IsBytes32Valid checks if the provided string is a 0x-prefixed 32-byte hex value,
// the encoding used for content identifiers, domain identifiers and nonces.
func IsBytes32Valid(value string) bool {
	return isPrefixedHexOfLength(value, 32)
}

// IsSignatureValid checks if the provided string is a 0x-prefixed 65-byte
// r || s || v signature.
func IsSignatureValid(sig string) bool {
	return isPrefixedHexOfLength(sig, 65)
}

// IsZeroAddress reports whether the address is the all-zero address, in any case.
func IsZeroAddress(address string) bool {
	return IsAddressValid(address) && strings.Trim(address[2:], "0") == ""
}

func isPrefixedHexOfLength(value string, byteLen int) bool {
	// Check length (2 hex chars per byte + 2 chars for "0x")
	if len(value) != 2+2*byteLen {
		return false
	}

	// Check "0x" prefix
	if !strings.HasPrefix(value, "0x") {
		return false
	}

	// Check if the value contains only hex characters after the 0x prefix
	for _, c := range value[2:] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}

	return true
}
