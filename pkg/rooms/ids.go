package rooms

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/marcelfahle/pidro-backend-sub005/pkg/pidro"
)

// CodeLength is the number of characters in a room code.
const CodeLength = 4

const codeChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// generateCode returns a random room code drawn uniformly from the
// 36-symbol alphabet. Uniqueness is the caller's problem.
func generateCode() string {
	b := make([]byte, CodeLength)
	rand.Read(b)
	for i := range b {
		b[i] = codeChars[b[i]%byte(len(codeChars))]
	}
	return string(b)
}

// NormalizeCode uppercases and trims a client-supplied room code. Codes are
// case-insensitive on the wire but stored uppercase.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// BotID derives the stable bot id for a seat in a room.
func BotID(code string, seat pidro.Seat) string {
	return fmt.Sprintf("bot:%s:%s", code, seat)
}

// IsBotID reports whether an occupant id belongs to a bot.
func IsBotID(id string) bool {
	return strings.HasPrefix(id, "bot:")
}
