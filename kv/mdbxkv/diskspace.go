package mdbxkv

import (
	"sync/atomic"
)

const maxPercentageUsage = 80

// DiskSpaceState is the coarse per-store enum from spec.md §3
// ("Disk-space state"). Grounded verbatim on
// original_source/crates/core/src/kvs/rocksdb/disk_space_manager.rs's
// DiskSpaceState enum (Normal / ReadAndDeletionOnly), with RocksDB's
// SstFileManager usage-tracking replaced by a caller-supplied byte-usage
// probe (mdbx-go does not expose an SstFileManager equivalent; the backend
// instead measures the datastore directory's on-disk size, see Backend.diskUsage).
type DiskSpaceState uint8

const (
	StateNormal DiskSpaceState = iota
	StateReadAndDeletionOnly
)

func (s DiskSpaceState) String() string {
	if s == StateReadAndDeletionOnly {
		return "ReadAndDeletionOnly"
	}
	return "Normal"
}

// TransactionState tracks the types of write operations performed in a
// transaction, grounded on the same file's TransactionState enum: it
// distinguishes pure reads, pure deletes, and anything with a put/set so
// the disk-space manager can admit deletes in RAD mode while rejecting
// writes.
type TransactionState uint8

const (
	TxReadsOnly TransactionState = iota
	TxHasDeletes
	TxHasWrites
)

// Observe widens the transaction's recorded state monotonically:
// ReadsOnly < HasDeletes < HasWrites, matching the Rust enum's derived Ord.
func (s *TransactionState) Observe(next TransactionState) {
	if next > *s {
		*s = next
	}
}

// DiskSpaceManager monitors usage against a configured limit and exposes
// the {Normal, RAD} state machine transitions documented in spec.md §3/§5:
// Normal -> RAD at >=80% usage, RAD -> Normal once usage falls back below
// the threshold. usageFn abstracts the actual byte-usage probe (directory
// walk, or an SstFileManager-equivalent) so the manager itself stays
// backend-agnostic and testable.
type DiskSpaceManager struct {
	limitBytes uint64
	usageFn    func() (uint64, error)
	state      atomic.Uint32 // DiskSpaceState
}

func NewDiskSpaceManager(limitBytes uint64, usageFn func() (uint64, error)) *DiskSpaceManager {
	return &DiskSpaceManager{limitBytes: limitBytes, usageFn: usageFn}
}

func (m *DiskSpaceManager) CachedState() DiskSpaceState {
	return DiskSpaceState(m.state.Load())
}

// UsagePercent returns current usage as an integer percentage of the
// configured limit, or 0 if no limit is configured (disk-space safety is
// then a no-op, matching "optional, zero-defaulted to off").
func (m *DiskSpaceManager) UsagePercent() (uint8, error) {
	if m.limitBytes == 0 {
		return 0, nil
	}
	used, err := m.usageFn()
	if err != nil {
		return 0, err
	}
	pct := float64(used) / float64(m.limitBytes) * 100
	if pct > 255 {
		pct = 255
	}
	return uint8(pct), nil
}

// LatestState recomputes usage, updates the cached state, and returns the
// freshly observed DiskSpaceState.
func (m *DiskSpaceManager) LatestState() (DiskSpaceState, error) {
	if m.limitBytes == 0 {
		m.state.Store(uint32(StateNormal))
		return StateNormal, nil
	}
	pct, err := m.UsagePercent()
	if err != nil {
		return m.CachedState(), err
	}
	var next DiskSpaceState
	if pct < maxPercentageUsage {
		next = StateNormal
	} else {
		next = StateReadAndDeletionOnly
	}
	m.state.Store(uint32(next))
	return next, nil
}

// Admit enforces invariant 8 / §5 "Disk-space safety": in RAD state, a
// transaction whose observed TransactionState is HasWrites is rejected at
// commit time; HasDeletes and ReadsOnly are always admitted.
func (m *DiskSpaceManager) Admit(ts TransactionState) error {
	if m.CachedState() != StateReadAndDeletionOnly {
		return nil
	}
	if ts == TxHasWrites {
		return errReadAndDeletionOnly()
	}
	return nil
}
