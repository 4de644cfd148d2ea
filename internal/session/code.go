package session

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CodeAlphabet omits the letters I and O, which read as digits.
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ0123456789"

const CodeLength = 6

// GenerateCode draws CodeLength characters uniformly from CodeAlphabet.
func GenerateCode(r io.Reader) (string, error) {
	code := make([]byte, CodeLength)
	limit := big.NewInt(int64(len(CodeAlphabet)))
	for i := range code {
		num, err := rand.Int(r, limit)
		if err != nil {
			return "", err
		}
		code[i] = CodeAlphabet[num.Int64()]
	}
	return string(code), nil
}

var upper = cases.Upper(language.Und)

// NormalizeCode trims and upper-cases a code typed by a player.
func NormalizeCode(code string) string {
	return upper.String(strings.TrimSpace(code))
}

// QueueName is the deterministic session name every matchmaker for the same
// mode, capacity and map converges on.
func QueueName(mode string, capacity int, mapID string) string {
	return fmt.Sprintf("PVP-%s-%d-%s", mode, capacity, mapID)
}
