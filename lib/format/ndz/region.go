package ndz

import (
	"encoding/binary"
	"fmt"

	"github.com/emulab/ndzcore/lib/core"
)

// Region is one contiguous run of allocated sectors packed into a chunk:
// (start, size) in sectors. Regions within one chunk are strictly
// ascending and non-overlapping.
type Region struct {
	Start uint64
	Size  uint64
}

const (
	region32Size = 8  // two uint32
	region64Size = 16 // two uint64
)

// DecodeRegions reads count Region entries from buf, using the 32-bit wire
// layout for versions before V5 and the 64-bit layout from V5 onward.
func DecodeRegions(buf []byte, count uint32, wide bool) ([]Region, error) {
	size := region32Size
	if wide {
		size = region64Size
	}
	need := int(count) * size
	if len(buf) < need {
		return nil, core.NewError(core.FormatError, "ndz.DecodeRegions",
			fmt.Errorf("region table needs %d bytes, have %d", need, len(buf)))
	}

	regions := make([]Region, count)
	var prevEnd uint64
	for i := uint32(0); i < count; i++ {
		off := int(i) * size
		var r Region
		if wide {
			r.Start = binary.LittleEndian.Uint64(buf[off : off+8])
			r.Size = binary.LittleEndian.Uint64(buf[off+8 : off+16])
		} else {
			r.Start = uint64(binary.LittleEndian.Uint32(buf[off : off+4]))
			r.Size = uint64(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		}
		if i > 0 && r.Start < prevEnd {
			return nil, core.NewError(core.FormatError, "ndz.DecodeRegions",
				fmt.Errorf("region %d starts at %d, before previous region ends at %d", i, r.Start, prevEnd))
		}
		prevEnd = r.Start + r.Size
		regions[i] = r
	}
	return regions, nil
}

// EncodeRegions writes regions in ascending order using the wire layout
// selected by wide.
func EncodeRegions(regions []Region, wide bool) []byte {
	size := region32Size
	if wide {
		size = region64Size
	}
	buf := make([]byte, len(regions)*size)
	for i, r := range regions {
		off := i * size
		if wide {
			binary.LittleEndian.PutUint64(buf[off:off+8], r.Start)
			binary.LittleEndian.PutUint64(buf[off+8:off+16], r.Size)
		} else {
			binary.LittleEndian.PutUint32(buf[off:off+4], uint32(r.Start))
			binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(r.Size))
		}
	}
	return buf
}

// RegionTableSize returns the number of bytes count regions occupy on the
// wire for the given width.
func RegionTableSize(count int, wide bool) int {
	if wide {
		return count * region64Size
	}
	return count * region32Size
}
