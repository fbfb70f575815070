package machine

import (
	"math/rand/v2"
	"time"
)

// TimeUs returns the number of microseconds since the chip was created. This
// is the 64-bit timer that all deadlines are measured against.
func (ch *Chip) TimeUs() uint64 {
	return uint64(time.Since(ch.boot) / time.Microsecond)
}

// GetRNG returns 32 bits of randomness, like the ring oscillator based
// generator on the RP2 chips. It is not suitable for cryptography.
func (ch *Chip) GetRNG() (uint32, error) {
	return rand.Uint32(), nil
}
