package ndz

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/emulab/ndzcore/internal/util"
	"github.com/emulab/ndzcore/lib/core"
)

// Chunk is one fully assembled, decoded unit of an NDZ image: its header,
// the regions of allocated sectors it carries, the relocations selected
// for it, and its (still compressed) payload bytes.
type Chunk struct {
	Header  *Header
	Regions []Region
	Relocs  []Relocation
	Data    []byte // compressed payload bytes
}

// Assembler packs (start, size) regions of raw sector data, plus whatever
// relocations apply to the sectors it has seen, into a sequence of fixed
// core.ChunkSize chunks: a core.DefaultRegionSize header area (header +
// region table + relocation table) followed by a compressed data area.
// One Assembler belongs to one image; it carries no goroutine-shared
// state, so independent images may each drive their own Assembler
// concurrently.
type Assembler struct {
	Version    Version
	Wide       bool
	ImageID    uuid.UUID
	Compressor Compressor
	Relocs     *RelocTable

	blockIndex  uint32
	blockTotal  uint32
	pendingReg  []Region
	pendingData []byte
}

// NewAssembler returns an Assembler for the given header version and
// compressor. relocs may be nil if the image carries no relocations.
func NewAssembler(version Version, wide bool, imageID uuid.UUID, compressor Compressor, relocs *RelocTable) *Assembler {
	if relocs == nil {
		relocs = NewRelocTable()
	}
	return &Assembler{Version: version, Wide: wide, ImageID: imageID, Compressor: compressor, Relocs: relocs}
}

// SetBlockTotal records the total chunk count the assembler will produce,
// written into every header's BlockTotal field. Leaving it at zero
// reproduces the V1 "disable index checking" behavior documented on
// Header.IndexCheckDisabled, which some callers may want deliberately.
func (a *Assembler) SetBlockTotal(n uint32) { a.blockTotal = n }

// regionTableBudget returns how many bytes of the fixed header area are
// left for region + relocation tables once the version header itself is
// accounted for.
func (a *Assembler) regionTableBudget(h *Header) int {
	return core.DefaultRegionSize - h.WireSize()
}

// alignedDataCapacity returns the usable compressed-data capacity after
// rounding the header area up to a sector boundary, since a chunk's
// data area is always read back starting on a sector boundary.
func alignedDataCapacity() int {
	return core.ChunkMax - (util.RoundUp(core.DefaultRegionSize, core.SecSize) - core.DefaultRegionSize)
}

// AddRegion appends one run of allocated sectors and its raw (uncompressed)
// bytes to the chunk currently being assembled, flushing the in-progress
// chunk first if adding this region's bytes would overflow it. It returns
// any chunk that was flushed as a side effect of making room, or nil if
// the region fit in the chunk already in progress.
func (a *Assembler) AddRegion(start, size uint64, data []byte) (*Chunk, error) {
	if uint64(len(data)) != core.SecToBytes(size) {
		return nil, core.NewError(core.AssertionError, "ndz.Assembler.AddRegion",
			fmt.Errorf("region size %d sectors does not match %d data bytes", size, len(data)))
	}

	projected := len(a.pendingData) + len(data)
	if projected > alignedDataCapacity() && len(a.pendingData) > 0 {
		chunk, err := a.Flush()
		if err != nil {
			return nil, err
		}
		a.pendingReg = append(a.pendingReg, Region{Start: start, Size: size})
		a.pendingData = append(a.pendingData, data...)
		return chunk, nil
	}

	a.pendingReg = append(a.pendingReg, Region{Start: start, Size: size})
	a.pendingData = append(a.pendingData, data...)
	return nil, nil
}

// Flush compresses and finalizes the chunk currently being assembled. It
// is a no-op returning (nil, nil) if nothing is pending.
func (a *Assembler) Flush() (*Chunk, error) {
	if len(a.pendingReg) == 0 {
		return nil, nil
	}

	compressed, err := a.Compressor.Compress(a.pendingData)
	if err != nil {
		return nil, err
	}

	first := a.pendingReg[0].Start
	last := a.pendingReg[len(a.pendingReg)-1].Start + a.pendingReg[len(a.pendingReg)-1].Size

	h := &Header{
		Version:     a.Version,
		Size:        uint32(len(compressed)),
		BlockIndex:  a.blockIndex,
		BlockTotal:  a.blockTotal,
		RegionSize:  core.DefaultRegionSize,
		RegionCount: uint32(len(a.pendingReg)),
		FirstSect:   first,
		LastSect:    last,
		ImageID:     a.ImageID,
	}

	relocBuf := a.Relocs.SelectIntoChunk(h)
	recSize := relocRecSize(a.Relocs.Reloc32())
	h.RelocCount = int32(len(relocBuf) / recSize)

	budget := a.regionTableBudget(h)
	regionBytes := RegionTableSize(len(a.pendingReg), a.Wide)
	if regionBytes+len(relocBuf) > budget {
		return nil, core.NewError(core.ResourceError, "ndz.Assembler.Flush",
			fmt.Errorf("region+relocation tables (%d bytes) exceed header area budget (%d bytes)", regionBytes+len(relocBuf), budget))
	}

	var relocs []Relocation
	for off := 0; off+recSize <= len(relocBuf); off += recSize {
		r, err := decodeReloc(relocBuf[off:off+recSize], a.Relocs.Reloc32())
		if err != nil {
			return nil, err
		}
		relocs = append(relocs, r)
	}

	chunk := &Chunk{
		Header:  h,
		Regions: append([]Region(nil), a.pendingReg...),
		Relocs:  relocs,
		Data:    compressed,
	}

	a.blockIndex++
	a.pendingReg = nil
	a.pendingData = nil
	return chunk, nil
}

// EncodeChunk serializes chunk into a full core.ChunkSize byte buffer:
// header fields, the region table immediately after the header, the
// relocation table packed against the end of the core.DefaultRegionSize
// header area (growing toward the region table from the opposite end, so
// both tables can grow independently), then the compressed data area.
func EncodeChunk(chunk *Chunk, wide bool) ([]byte, error) {
	buf := make([]byte, core.ChunkSize)

	hdrBytes, err := EncodeHeader(chunk.Header)
	if err != nil {
		return nil, err
	}
	wireSize := chunk.Header.WireSize()
	copy(buf[:wireSize], hdrBytes[:wireSize])

	regionBytes := EncodeRegions(chunk.Regions, wide)
	copy(buf[wireSize:], regionBytes)

	if len(chunk.Relocs) > 0 {
		recSize := relocRecSize(chunk.Header.Version < V5)
		relocBytes := make([]byte, 0, len(chunk.Relocs)*recSize)
		for _, r := range chunk.Relocs {
			relocBytes = append(relocBytes, encodeReloc(r, chunk.Header.Version < V5)...)
		}
		copy(buf[core.DefaultRegionSize-len(relocBytes):core.DefaultRegionSize], relocBytes)
	}

	if len(chunk.Data) > alignedDataCapacity() {
		return nil, core.NewError(core.ResourceError, "ndz.EncodeChunk",
			fmt.Errorf("compressed payload %d bytes exceeds chunk data capacity %d", len(chunk.Data), alignedDataCapacity()))
	}
	copy(buf[core.DefaultRegionSize:], chunk.Data)
	return buf, nil
}

// DecodeChunk parses one core.ChunkSize buffer into a Chunk, pulling
// relocations from the tail of the header area into relocs so later
// chunks' SelectIntoChunk scans see them.
func DecodeChunk(buf []byte, relocs *RelocTable) (*Chunk, error) {
	if len(buf) < core.DefaultRegionSize {
		return nil, core.NewError(core.FormatError, "ndz.DecodeChunk", fmt.Errorf("chunk buffer too short"))
	}
	h, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}

	wide := h.Version >= V5
	wireSize := h.WireSize()
	regions, err := DecodeRegions(buf[wireSize:core.DefaultRegionSize], h.RegionCount, wide)
	if err != nil {
		return nil, err
	}

	var chunkRelocs []Relocation
	if h.RelocCount > 0 {
		recSize := relocRecSize(h.Version < V5)
		relocAreaStart := core.DefaultRegionSize - int(h.RelocCount)*recSize
		if relocAreaStart < wireSize+RegionTableSize(int(h.RegionCount), wide) {
			return nil, core.NewError(core.FormatError, "ndz.DecodeChunk", fmt.Errorf("region and relocation tables overlap"))
		}
		relocBuf := buf[relocAreaStart:core.DefaultRegionSize]
		for off := 0; off+recSize <= len(relocBuf); off += recSize {
			r, err := decodeReloc(relocBuf[off:off+recSize], h.Version < V5)
			if err != nil {
				return nil, err
			}
			chunkRelocs = append(chunkRelocs, r)
		}
		if relocs != nil {
			if err := relocs.AppendFromChunk(h, relocBuf); err != nil {
				return nil, err
			}
		}
	}

	dataEnd := core.DefaultRegionSize + int(h.Size)
	if dataEnd > len(buf) {
		return nil, core.NewError(core.FormatError, "ndz.DecodeChunk", fmt.Errorf("chunk declares %d compressed bytes beyond buffer", h.Size))
	}

	return &Chunk{
		Header:  h,
		Regions: regions,
		Relocs:  chunkRelocs,
		Data:    append([]byte(nil), buf[core.DefaultRegionSize:dataEnd]...),
	}, nil
}
