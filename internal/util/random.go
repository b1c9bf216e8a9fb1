// Package util provides small helpers shared across CartPipe components.
package util

import (
	"math/rand/v2"
	"strings"
)

const (
	hexChars        = "0123456789abcdef"
	upperAlphaChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateRandomID generates a random ID with the specified prefix and hex length.
// The returned ID will be in the format: "{prefix}{hex_string}".
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex generates a random lowercase hexadecimal string of the specified length.
func GenerateRandomHex(length int) string {
	return randomString(hexChars, length)
}

// GenerateRandomUpperAlphaNumeric generates a random string of uppercase
// letters and digits, the alphabet used for coupon code suffixes.
func GenerateRandomUpperAlphaNumeric(length int) string {
	return randomString(upperAlphaChars, length)
}

// GenerateCartID generates a unique cart ID with "c_" prefix.
func GenerateCartID() string {
	return GenerateRandomID("c_", 32)
}

// GenerateCouponID generates a unique coupon ID with "cp_" prefix.
func GenerateCouponID() string {
	return GenerateRandomID("cp_", 32)
}

func randomString(alphabet string, length int) string {
	if length <= 0 {
		return ""
	}
	var builder strings.Builder
	builder.Grow(length)
	for i := 0; i < length; i++ {
		builder.WriteByte(alphabet[rand.IntN(len(alphabet))])
	}
	return builder.String()
}
