// Package core holds the constants, error kinds, and sector-range type
// shared by every ndzcore package: the chunk codec, the relocation table,
// the delta engine, and the signature reader/writer.
package core

// Sector and chunk geometry. These match the on-disk layout of every
// supported image version; changing them breaks compatibility with
// existing NDZ images and signature files.
const (
	// SecSize is the size in bytes of one disk sector.
	SecSize = 512

	// FBlockSize is the size in bytes of one "frisbee block", the unit
	// chunks are historically sized in.
	FBlockSize = 1024

	// FBlockPerChunk is the number of frisbee blocks per chunk.
	FBlockPerChunk = 1024

	// ChunkSize is the total size in bytes of one chunk, header area
	// included.
	ChunkSize = FBlockSize * FBlockPerChunk

	// DefaultRegionSize is the size in bytes reserved at the front of a
	// chunk for the header, region table, and relocation table.
	DefaultRegionSize = 4096

	// ChunkMax is the largest number of compressed data bytes a single
	// chunk can hold once the header area is subtracted.
	ChunkMax = ChunkSize - DefaultRegionSize

	// UUIDLength is the length in bytes of the per-image UUID field
	// carried by V5 and later headers.
	UUIDLength = 16

	// HashMaxSize is the fixed width in bytes of a hash region's on-disk
	// hash tail, regardless of which HashType actually produced the
	// digest; shorter digests (MD5, SHA1) are zero-padded out to it.
	HashMaxSize = 64
)

// SecToBytes converts a sector count to a byte count.
func SecToBytes(sectors uint64) uint64 { return sectors * SecSize }

// BytesToSec converts a byte count to a sector count, rounding up.
func BytesToSec(bytes uint64) uint64 { return (bytes + SecSize - 1) / SecSize }
