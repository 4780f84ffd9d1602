package delta

// Fixups lets a caller override the bytes ComputeDelta hashes for a range
// of the disk before comparing, and forces those ranges to be treated as
// definitely-changed (changed state 3) rather than hash-compared. The
// patched bytes are what the hashes recorded in a new signature are
// computed over.
type Fixups interface {
	// HasFixup reports whether any fixup applies to [start, start+size)
	// in sectors.
	HasFixup(start, size uint64) bool
	// Apply overwrites buf (byteSize bytes read from byteOffset) with
	// the fixed-up bytes in place, destructively, before hashing.
	Apply(byteOffset, byteSize int64, buf []byte)
}

// noFixups is the zero-value Fixups: nothing is ever fixed up.
type noFixups struct{}

func (noFixups) HasFixup(start, size uint64) bool                { return false }
func (noFixups) Apply(byteOffset, byteSize int64, buf []byte)    {}

// NoFixups returns a Fixups that never overrides anything.
func NoFixups() Fixups { return noFixups{} }

// fixupScope brackets one ComputeDelta call's fixup bookkeeping. The
// original hashmap_compute_delta calls savefixups() before a delta walk
// that will produce a new signature, then restorefixups(1) on success or
// restorefixups(0) on any error path — always restoring, on every exit.
// fixupScope reproduces that discipline as a defer-friendly guard instead
// of two free functions a caller must remember to pair correctly.
type fixupScope struct {
	active bool
	saver  interface{ Save() }
}

// beginFixupScope starts tracking whether this delta computation needs
// fixup state saved; if fixups implements an optional Save()/Restore()
// pair, it is invoked. Most Fixups implementations carry no extra saved
// state (the fixups themselves don't change during a single delta
// computation) and can ignore this.
func beginFixupScope(fixups Fixups, newHashFile bool) *fixupScope {
	s := &fixupScope{active: newHashFile}
	if !newHashFile {
		return s
	}
	if saver, ok := fixups.(interface{ Save() }); ok {
		saver.Save()
		s.saver = saver
	}
	return s
}

// commit marks the scope as having completed the delta walk
// successfully.
func (s *fixupScope) commit(fixups Fixups) {
	s.end(fixups, true)
}

// rollback marks the scope as having aborted partway through the delta
// walk.
func (s *fixupScope) rollback(fixups Fixups) {
	s.end(fixups, false)
}

func (s *fixupScope) end(fixups Fixups, ok bool) {
	if !s.active {
		return
	}
	if restorer, okType := fixups.(interface{ Restore(bool) }); okType {
		restorer.Restore(ok)
	}
	s.active = false
}
