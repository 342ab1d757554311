package chat

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// IDGenerator produces "<prefix>-<size random alphanumerics>".
type IDGenerator struct {
	Prefix string
	Size   int
}

var (
	// ClientIDs namespaces ids minted by the submitting client.
	ClientIDs = IDGenerator{Prefix: "msgc", Size: 16}
	// ServerIDs namespaces ids minted for assistant replies.
	ServerIDs = IDGenerator{Prefix: "msgs", Size: 16}
)

func (g IDGenerator) New() string {
	size := g.Size
	if size <= 0 {
		size = 16
	}
	buf := make([]byte, size)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("chat: crypto/rand unavailable: " + err.Error())
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	if g.Prefix == "" {
		return string(buf)
	}
	return g.Prefix + "-" + string(buf)
}

func newConversationID() string {
	return uuid.NewString()
}
