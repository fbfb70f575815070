package machine

import (
	"fmt"
	"sort"
)

// Board describes the multicore chip on a board, as far as the locking
// primitives are concerned.
type Board struct {
	Name string

	// Device is the chip name, such as "RP2040".
	Device string

	NumCores     int
	NumSpinLocks int

	// Spinlocks that are handed out round-robin to mutexes, condition
	// variables and other lock cores. Instances may end up sharing one.
	StripedFirst int
	StripedLast  int

	// First spinlock that may be claimed with ClaimUnused. All spinlocks from
	// here to the end of the bank are claimable.
	ClaimFreeFirst int
}

// The spinlock layout is the same on the RP2040 and the RP2350: 32 hardware
// spinlocks, of which 16-23 are striped and 24-31 are free to claim.
const (
	rp2SpinLocks      = 32
	rp2StripedFirst   = 16
	rp2StripedLast    = 23
	rp2ClaimFreeFirst = 24
)

var boards = map[string]Board{
	"pico": {
		Name:           "pico",
		Device:         "RP2040",
		NumCores:       2,
		NumSpinLocks:   rp2SpinLocks,
		StripedFirst:   rp2StripedFirst,
		StripedLast:    rp2StripedLast,
		ClaimFreeFirst: rp2ClaimFreeFirst,
	},
	"gopher-arcade": {
		Name:           "gopher-arcade",
		Device:         "RP2040",
		NumCores:       2,
		NumSpinLocks:   rp2SpinLocks,
		StripedFirst:   rp2StripedFirst,
		StripedLast:    rp2StripedLast,
		ClaimFreeFirst: rp2ClaimFreeFirst,
	},
	"pico2": {
		Name:           "pico2",
		Device:         "RP2350A",
		NumCores:       2,
		NumSpinLocks:   rp2SpinLocks,
		StripedFirst:   rp2StripedFirst,
		StripedLast:    rp2StripedLast,
		ClaimFreeFirst: rp2ClaimFreeFirst,
	},
	"pico2-ice": {
		Name:           "pico2-ice",
		Device:         "RP2350B",
		NumCores:       2,
		NumSpinLocks:   rp2SpinLocks,
		StripedFirst:   rp2StripedFirst,
		StripedLast:    rp2StripedLast,
		ClaimFreeFirst: rp2ClaimFreeFirst,
	},
	// The ESP32-S3 has no spinlock bank, the runtime emulates one with atomic
	// compare-and-swap. Use the same layout as the RP2 chips.
	"xiao-esp32s3": {
		Name:           "xiao-esp32s3",
		Device:         "ESP32-S3",
		NumCores:       2,
		NumSpinLocks:   rp2SpinLocks,
		StripedFirst:   rp2StripedFirst,
		StripedLast:    rp2StripedLast,
		ClaimFreeFirst: rp2ClaimFreeFirst,
	},
	// QEMU RISC-V "virt" machine with 4 harts, as used for testing the
	// multicore scheduler.
	"riscv-qemu": {
		Name:           "riscv-qemu",
		Device:         "riscv-virt",
		NumCores:       4,
		NumSpinLocks:   rp2SpinLocks,
		StripedFirst:   rp2StripedFirst,
		StripedLast:    rp2StripedLast,
		ClaimFreeFirst: rp2ClaimFreeFirst,
	},
}

// BoardByName returns the board with the given name.
func BoardByName(name string) (Board, error) {
	b, ok := boards[name]
	if !ok {
		return Board{}, fmt.Errorf("%w: %q", ErrUnknownBoard, name)
	}
	return b, nil
}

// Boards returns the names of all known boards, sorted.
func Boards() []string {
	names := make([]string, 0, len(boards))
	for name := range boards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks whether the board describes a chip that can be simulated.
func (b Board) Validate() error {
	switch {
	case b.NumCores < 1 || b.NumCores > 64:
		return fmt.Errorf("%w: %d cores", ErrInvalidBoard, b.NumCores)
	case b.NumSpinLocks < 1 || b.NumSpinLocks > 64:
		return fmt.Errorf("%w: %d spinlocks", ErrInvalidBoard, b.NumSpinLocks)
	case b.StripedFirst < 0 || b.StripedLast < b.StripedFirst || b.StripedLast >= b.NumSpinLocks:
		return fmt.Errorf("%w: striped range %d-%d", ErrInvalidBoard, b.StripedFirst, b.StripedLast)
	case b.ClaimFreeFirst < 0 || b.ClaimFreeFirst > b.NumSpinLocks:
		return fmt.Errorf("%w: claim-free spinlocks start at %d", ErrInvalidBoard, b.ClaimFreeFirst)
	}
	return nil
}
