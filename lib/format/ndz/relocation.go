package ndz

import (
	"encoding/binary"
	"fmt"

	"github.com/emulab/ndzcore/lib/core"
)

// RelocType identifies what a Relocation entry is fixing up at read time.
type RelocType uint32

const (
	RelocNone          RelocType = 0
	RelocFBSDDiskLabel RelocType = 1
	RelocOBSDDiskLabel RelocType = 2
	RelocLiloSAddr     RelocType = 3
	RelocLiloMapSect   RelocType = 4
	RelocLiloCksum     RelocType = 5
	RelocShortSector   RelocType = 6
)

// Relocation is one (type, sector, sectoff, size) record. sectoff+size
// must not exceed core.SecSize: a relocation always fixes up bytes inside
// a single sector.
type Relocation struct {
	Type    RelocType
	Sector  uint64
	SectOff uint32
	Size    uint32
}

// RelocTable is the append-only, sector-ordered log of relocations seen
// across a whole image's chunks. Its wire width (32-bit vs 64-bit sector
// fields) is locked to whatever the first chunk header read declares;
// every subsequent chunk's relocations must agree, or the table reports a
// FormatError — the original C implementation instead asserts this, but
// ndzcore treats a mismatched image as malformed input rather than a
// programming bug. Grounded on imagezip/libndz/reloc.c.
type RelocTable struct {
	is32     bool
	widthSet bool
	entries  []Relocation
	lo, hi   uint64
	hiSet    bool
}

// NewRelocTable returns an empty table, equivalent to ndz_reloc_init.
func NewRelocTable() *RelocTable {
	return &RelocTable{lo: ^uint64(0)}
}

// Reloc32 reports whether the table is using the 32-bit wire width.
func (t *RelocTable) Reloc32() bool { return t.is32 }

// AppendFromChunk decodes hdr.RelocCount relocation records from buf (as
// they appear in one chunk's relocation area) and appends them to the
// table, maintaining ascending order and the table's [lo, hi] bounds.
// Mirrors ndz_reloc_get.
func (t *RelocTable) AppendFromChunk(hdr *Header, buf []byte) error {
	if hdr.Version < V2 || hdr.RelocCount == 0 {
		return nil
	}

	is32 := hdr.Version < V5
	if !t.widthSet {
		t.is32 = is32
		t.widthSet = true
	} else if t.is32 != is32 {
		return core.NewError(core.FormatError, "ndz.RelocTable.AppendFromChunk",
			fmt.Errorf("relocation width changed mid-image"))
	}

	recSize := relocRecSize(t.is32)
	need := int(hdr.RelocCount) * recSize
	if len(buf) < need {
		return core.NewError(core.FormatError, "ndz.RelocTable.AppendFromChunk",
			fmt.Errorf("relocation area needs %d bytes, have %d", need, len(buf)))
	}

	for i := 0; i < int(hdr.RelocCount); i++ {
		r, err := decodeReloc(buf[i*recSize:(i+1)*recSize], t.is32)
		if err != nil {
			return err
		}
		if t.lo == ^uint64(0) {
			t.lo = r.Sector
		}
		if r.Sector < t.lo && len(t.entries) > 0 {
			return core.NewError(core.AssertionError, "ndz.RelocTable.AppendFromChunk",
				fmt.Errorf("relocation sector %d precedes table low-water mark %d", r.Sector, t.lo))
		}
		if r.Sector > t.hi || !t.hiSet {
			t.hi = r.Sector
			t.hiSet = true
		}
		t.entries = append(t.entries, r)
	}
	return nil
}

// SelectIntoChunk scans the table for every relocation whose sector falls
// within [hdr.FirstSect, hdr.LastSect) and encodes them into a buffer
// ready to embed in that chunk's relocation area. Mirrors ndz_reloc_put.
func (t *RelocTable) SelectIntoChunk(hdr *Header) []byte {
	if len(t.entries) == 0 || hdr.FirstSect > t.hi || hdr.LastSect <= t.lo {
		return nil
	}
	recSize := relocRecSize(t.is32)
	buf := make([]byte, 0, recSize*4)
	for _, r := range t.entries {
		if r.Sector >= hdr.FirstSect && r.Sector < hdr.LastSect {
			buf = append(buf, encodeReloc(r, t.is32)...)
		}
	}
	return buf
}

// CountInRange returns the number of relocations with addr <= sector <=
// end, where end is addr+size-1, or the table's high-water mark if size is
// 0. Mirrors ndz_reloc_inrange.
func (t *RelocTable) CountInRange(addr, size uint64) int {
	var eaddr uint64
	if size == 0 {
		eaddr = addr
		if t.hi > addr {
			eaddr = t.hi
		}
	} else {
		eaddr = addr + size - 1
	}
	if len(t.entries) == 0 || addr > t.hi || eaddr < t.lo {
		return 0
	}
	n := 0
	for _, r := range t.entries {
		if r.Sector > eaddr {
			break
		}
		if r.Sector >= addr && r.Sector <= eaddr {
			n++
		}
	}
	return n
}

// Copy copies from's entries into an empty table to, failing if to already
// has entries. Mirrors ndz_reloc_copy.
func Copy(from, to *RelocTable) error {
	if to.Len() > 0 {
		return core.NewError(core.AssertionError, "ndz.Copy", fmt.Errorf("destination relocation table is not empty"))
	}
	if from.Len() == 0 {
		return nil
	}
	to.entries = append([]Relocation(nil), from.entries...)
	to.is32 = from.is32
	to.widthSet = from.widthSet
	to.lo = from.lo
	to.hi = from.hi
	to.hiSet = from.hiSet
	return nil
}

// Len returns the number of relocations in the table.
func (t *RelocTable) Len() int { return len(t.entries) }

// Free discards the table's entries. Mirrors ndz_reloc_free; present for
// symmetry with the original API even though Go's GC reclaims the backing
// array once the table is dropped.
func (t *RelocTable) Free() {
	t.entries = nil
}

// relocRecSize returns the on-disk size of one relocation record. is32
// selects the pre-V5 32-bit layout (16 bytes); the V5+ 64-bit layout
// (24 bytes) swaps the sector/sectoff field order to keep the 64-bit
// sector field aligned.
func relocRecSize(is32 bool) int {
	if is32 {
		return 16
	}
	return 24
}

func decodeReloc(buf []byte, is32 bool) (Relocation, error) {
	if is32 {
		return Relocation{
			Type:    RelocType(binary.LittleEndian.Uint32(buf[0:4])),
			Sector:  uint64(binary.LittleEndian.Uint32(buf[4:8])),
			SectOff: binary.LittleEndian.Uint32(buf[8:12]),
			Size:    binary.LittleEndian.Uint32(buf[12:16]),
		}, nil
	}
	return Relocation{
		Type:    RelocType(binary.LittleEndian.Uint32(buf[0:4])),
		SectOff: binary.LittleEndian.Uint32(buf[4:8]),
		Sector:  binary.LittleEndian.Uint64(buf[8:16]),
		Size:    uint32(binary.LittleEndian.Uint64(buf[16:24])),
	}, nil
}

func encodeReloc(r Relocation, is32 bool) []byte {
	buf := make([]byte, relocRecSize(is32))
	if is32 {
		binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Type))
		binary.LittleEndian.PutUint32(buf[4:8], uint32(r.Sector))
		binary.LittleEndian.PutUint32(buf[8:12], r.SectOff)
		binary.LittleEndian.PutUint32(buf[12:16], r.Size)
		return buf
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Type))
	binary.LittleEndian.PutUint32(buf[4:8], r.SectOff)
	binary.LittleEndian.PutUint64(buf[8:16], r.Sector)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(r.Size))
	return buf
}
