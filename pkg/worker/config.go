// Package worker runs long-lived jobs on dedicated OS threads with optional
// core pinning, and provides a small fixed-size pool on top of them.
package worker

import (
	"errors"
	"fmt"
	"runtime"
)

type AllocationKind int

const (
	// OsDefault leaves core affinity to the scheduler.
	OsDefault AllocationKind = iota
	// PinnedCores pins each thread to one core of [Min, Max], round robin.
	PinnedCores
	// DedicatedCoreSet confines every thread to the whole [Min, Max] set.
	DedicatedCoreSet
)

func (k AllocationKind) String() string {
	switch k {
	case OsDefault:
		return "os-default"
	case PinnedCores:
		return "pinned"
	case DedicatedCoreSet:
		return "dedicated"
	default:
		return fmt.Sprintf("AllocationKind(%d)", int(k))
	}
}

// ParseAllocationKind accepts the names printed by String.
func ParseAllocationKind(s string) (AllocationKind, error) {
	switch s {
	case "", "os-default":
		return OsDefault, nil
	case "pinned":
		return PinnedCores, nil
	case "dedicated":
		return DedicatedCoreSet, nil
	default:
		return OsDefault, fmt.Errorf("unknown core allocation %q", s)
	}
}

type CoreAllocation struct {
	Kind AllocationKind
	Min  int
	Max  int
}

// CoreMask lists the cores in [Min, Max]; empty for OsDefault or an
// inverted range.
func (c CoreAllocation) CoreMask() []int {
	if c.Kind == OsDefault || c.Min < 0 || c.Min > c.Max {
		return nil
	}
	mask := make([]int, 0, c.Max-c.Min+1)
	for core := c.Min; core <= c.Max; core++ {
		mask = append(mask, core)
	}
	return mask
}

func (c CoreAllocation) Validate() error {
	if c.Kind == OsDefault {
		return nil
	}
	if c.Min < 0 || c.Min > c.Max {
		return fmt.Errorf("core range [%d, %d] is invalid", c.Min, c.Max)
	}
	if n := runtime.NumCPU(); c.Max >= n {
		return fmt.Errorf("core %d out of range, host has %d cores", c.Max, n)
	}
	return nil
}

const minStackSize = 64 << 10

var (
	ErrTooManyThreads = errors.New("worker: too many threads")
	ErrPoolClosed     = errors.New("worker: pool is shut down")
)

// Config controls how a Native spawns threads. Priority 0 inherits the
// process priority; higher values ask for a lower nice value on Linux.
// StackSizeBytes is validated for compatibility with existing configs;
// goroutine stacks grow on demand.
type Config struct {
	CoreAllocation CoreAllocation
	MaxThreads     int
	Priority       uint8
	StackSizeBytes int
}

func DefaultConfig() Config {
	return Config{
		CoreAllocation: CoreAllocation{Kind: OsDefault},
		MaxThreads:     runtime.NumCPU() * 4,
		StackSizeBytes: 2 << 20,
	}
}

func (c Config) Validate() error {
	if c.MaxThreads <= 0 {
		return fmt.Errorf("max threads must be positive, got %d", c.MaxThreads)
	}
	if c.StackSizeBytes < minStackSize {
		return fmt.Errorf("stack size %d below minimum %d", c.StackSizeBytes, minStackSize)
	}
	if err := c.CoreAllocation.Validate(); err != nil {
		return fmt.Errorf("core allocation: %w", err)
	}
	return nil
}
