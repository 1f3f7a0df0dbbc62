package cards

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// DefaultBIN is the issuer identification number for generated PANs. The
// 4000 range is the standard test block, pending a bank partner BIN.
const DefaultBIN = "4000"

const panLength = 16

// GeneratePAN produces a Luhn-valid 16-digit PAN on the given BIN.
func GeneratePAN(bin string) (string, error) {
	if bin == "" {
		bin = DefaultBIN
	}
	if len(bin) >= panLength {
		return "", fmt.Errorf("bin %q too long for a %d-digit pan", bin, panLength)
	}
	for _, r := range bin {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("bin %q is not numeric", bin)
		}
	}

	body, err := randomDigits(panLength - 1 - len(bin))
	if err != nil {
		return "", err
	}
	partial := bin + body
	return partial + strconv.Itoa(luhnCheckDigit(partial)), nil
}

// GenerateCVV produces a 3-digit card verification value.
func GenerateCVV() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "", fmt.Errorf("generate cvv: %w", err)
	}
	return fmt.Sprintf("%03d", n.Int64()), nil
}

// GenerateAuthCode produces an issuer authorization code: "AXZ" followed by
// 8 uppercase hex characters.
func GenerateAuthCode() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("cards: entropy unavailable: %v", err))
	}
	return "AXZ" + strings.ToUpper(hex.EncodeToString(buf))
}

// MaskPAN hides all but the last four digits for display.
func MaskPAN(pan string) string {
	if len(pan) < 8 {
		return strings.Repeat("*", len(pan))
	}
	return "****-****-****-" + pan[len(pan)-4:]
}

// HashSensitive returns the SHA-256 hex digest used to store PANs and CVVs.
func HashSensitive(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// ValidPAN runs the standard mod 10 check over a digit string.
func ValidPAN(pan string) bool {
	if len(pan) == 0 {
		return false
	}
	sum := 0
	alternate := false
	for i := len(pan) - 1; i >= 0; i-- {
		if pan[i] < '0' || pan[i] > '9' {
			return false
		}
		n := int(pan[i] - '0')
		if alternate {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alternate = !alternate
	}
	return sum%10 == 0
}

// luhnCheckDigit computes the digit that makes partial pass the mod 10 check.
func luhnCheckDigit(partial string) int {
	sum := 0
	alternate := true
	for i := len(partial) - 1; i >= 0; i-- {
		n := int(partial[i] - '0')
		if alternate {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alternate = !alternate
	}
	return (10 - sum%10) % 10
}

func randomDigits(n int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate pan digits: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v), nil
}
