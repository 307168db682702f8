package engine

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
)

func NewEmptyState() State {
	return State{Phase: PhaseWaiting, Day: 0}
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// NewSource returns a ChaCha8 generator seeded from the OS, so two sources
// created in the same run never share a sequence.
func NewSource() *rand.Rand {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		binary.LittleEndian.PutUint64(seed[:8], rand.Uint64())
		binary.LittleEndian.PutUint64(seed[8:16], rand.Uint64())
	}
	return rand.New(rand.NewChaCha8(seed))
}
