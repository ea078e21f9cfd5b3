package lobby

import (
	"crypto/rand"
	"errors"
	"fmt"
)

// ErrIDCollision signals that a freshly drawn identifier is already live.
// Collisions are not expected from the generator; hitting one indicates a
// misconfiguration and must never be resolved by overwriting.
var ErrIDCollision = errors.New("identifier collision")

// idAlphabet excludes visually ambiguous characters so operators can read
// lobby codes back to participants.
const idAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const (
	lobbyIDLength = 4
	entryIDLength = 5
)

func randomID(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("draw id: %w", err)
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf), nil
}

// NewLobbyID draws a 4-character lobby identifier.
func NewLobbyID() (string, error) {
	return randomID(lobbyIDLength)
}

// NewEntryID draws a 5-character session queue entry identifier.
func NewEntryID() (string, error) {
	return randomID(entryIDLength)
}
