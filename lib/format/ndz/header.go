// Package ndz implements the chunked, compressed disk-image container
// format: the per-chunk header, the region table, the relocation table,
// and the chunk assembler/reader built on top of them.
package ndz

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/emulab/ndzcore/lib/core"
)

// Version identifies a chunk header's on-disk layout.
type Version int

const (
	// V1 is the original 32-bit-sector layout: no relocations, no
	// first/last-sector bounds.
	V1 Version = 1
	// V2 adds firstsect/lastsect bounds and the relocation table.
	V2 Version = 2
	// V3 is wire-identical to V2; it exists to mark a hash-type change
	// in the paired signature file (see lib/signature).
	V3 Version = 3
	// v4 is a reserved version number that was never assigned a
	// layout. Images claiming it are rejected.
	v4 Version = 4
	// V5 widens sector fields to 64 bits and adds a per-image UUID.
	V5 Version = 5
	// V6 adds checksum/cipher metadata for encrypted, checksummed
	// images.
	V6 Version = 6
)

// magicBase is COMPRESSED_MAGIC_BASE from the original header format.
// Per-version magics are magicBase + (version - 1).
const magicBase = 0x69696969

func magicFor(v Version) uint32 { return magicBase + uint32(v) - 1 }

func versionFromMagic(magic uint32) (Version, bool) {
	if magic < magicFor(V1) {
		return 0, false
	}
	v := Version(magic-magicBase) + 1
	switch v {
	case V1, V2, V3, V5, V6:
		return v, true
	default:
		return 0, false
	}
}

// ChecksumType selects the hash algorithm a V6 chunk's checksum was
// computed with. The original C header defines CSUM_SHA1, CSUM_SHA256, and
// CSUM_SHA512 as all equal to 1 — a bug, since it makes the three
// indistinguishable on the wire. This implementation assigns each a
// distinct code instead, so the field can actually discriminate.
type ChecksumType uint16

const (
	ChecksumNone   ChecksumType = 0
	ChecksumSHA1   ChecksumType = 1
	ChecksumSHA256 ChecksumType = 2
	ChecksumSHA512 ChecksumType = 3
)

// CipherType selects the payload cipher of a V6 chunk.
type CipherType uint16

const (
	CipherNone        CipherType = 0
	CipherBlowfishCBC CipherType = 1
)

// Header is the normalized, version-independent view of a chunk header.
// Every version is parsed into this single shape; fields that a given
// version doesn't carry on the wire keep their zero value.
type Header struct {
	Version        Version
	Size           uint32 // compressed bytes following the header area
	BlockIndex     uint32
	BlockTotal     uint32 // 0 disables index checking, see IndexCheckDisabled below
	RegionSize     uint32
	RegionCount    uint32
	RelocCount     int32
	FirstSect      uint64
	LastSect       uint64
	ImageID        uuid.UUID // V5+
	Cipher         CipherType
	ChecksumType   ChecksumType
	IV             []byte // V6, up to 32 bytes
	Checksum       []byte // V6, up to 256 bytes
	ChecksumSigned bool
}

// WireSize returns the number of bytes the header occupies on disk for its
// version, not including the region/relocation tables that follow it.
func (h *Header) WireSize() int {
	switch h.Version {
	case V1:
		return 24
	case V2, V3:
		return 36
	case V5:
		return 36 + 16 + 16 // + 64-bit bounds + uuid
	case V6:
		return 36 + 16 + 16 + 2 + 2 + 32 + 256
	default:
		return 0
	}
}

// ErrReservedVersion is returned when a chunk claims version 4, a version
// number reserved in the original format but never assigned a layout.
var ErrReservedVersion = fmt.Errorf("chunk header version 4 is reserved and unsupported")

// DecodeHeader parses a chunk header from buf, which must be at least
// core.DefaultRegionSize bytes (the fixed header-area size). All integer
// fields are little-endian on the wire; this fixes an ambiguity the
// original format left unspecified.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < 8 {
		return nil, core.NewError(core.FormatError, "ndz.DecodeHeader", fmt.Errorf("buffer too short: %d bytes", len(buf)))
	}
	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic-magicBase == uint32(v4)-1 {
		return nil, core.NewError(core.FormatError, "ndz.DecodeHeader", ErrReservedVersion)
	}
	version, ok := versionFromMagic(magic)
	if !ok {
		return nil, core.NewError(core.FormatError, "ndz.DecodeHeader", fmt.Errorf("unrecognized magic 0x%x", magic))
	}

	h := &Header{Version: version}
	h.Size = binary.LittleEndian.Uint32(buf[4:8])
	h.BlockIndex = binary.LittleEndian.Uint32(buf[8:12])
	h.BlockTotal = binary.LittleEndian.Uint32(buf[12:16])
	h.RegionSize = binary.LittleEndian.Uint32(buf[16:20])
	h.RegionCount = binary.LittleEndian.Uint32(buf[20:24])
	if version == V1 {
		return h, validateHeader(h)
	}

	h.RelocCount = int32(binary.LittleEndian.Uint32(buf[24:28]))
	h.FirstSect = uint64(binary.LittleEndian.Uint32(buf[28:32]))
	h.LastSect = uint64(binary.LittleEndian.Uint32(buf[32:36]))
	if version == V2 || version == V3 {
		return h, validateHeader(h)
	}

	off := 36
	h.FirstSect = binary.LittleEndian.Uint64(buf[off : off+8])
	h.LastSect = binary.LittleEndian.Uint64(buf[off+8 : off+16])
	off += 16
	copy(h.ImageID[:], buf[off:off+core.UUIDLength])
	off += core.UUIDLength
	if version == V5 {
		return h, validateHeader(h)
	}

	h.Cipher = CipherType(binary.LittleEndian.Uint16(buf[off : off+2]))
	off += 2
	csum := binary.LittleEndian.Uint16(buf[off : off+2])
	h.ChecksumSigned = csum&0x8000 != 0
	h.ChecksumType = ChecksumType(csum &^ 0x8000)
	off += 2
	h.IV = append([]byte(nil), buf[off:off+32]...)
	off += 32
	h.Checksum = append([]byte(nil), buf[off:off+256]...)
	return h, validateHeader(h)
}

func validateHeader(h *Header) error {
	if h.RegionSize != 0 && h.RegionSize != core.DefaultRegionSize {
		// Interoperability only: some historical images used a
		// different region area size. Not fatal.
		_ = h.RegionSize
	}
	if h.Size > core.ChunkMax {
		return core.NewError(core.FormatError, "ndz.validateHeader",
			fmt.Errorf("compressed size %d exceeds chunk capacity %d", h.Size, core.ChunkMax))
	}
	if h.Version >= V2 && h.LastSect != 0 && h.FirstSect > h.LastSect {
		return core.NewError(core.FormatError, "ndz.validateHeader",
			fmt.Errorf("firstsect %d > lastsect %d", h.FirstSect, h.LastSect))
	}
	return nil
}

// EncodeHeader writes h in its own version's wire format into a
// core.DefaultRegionSize-sized buffer and returns it.
func EncodeHeader(h *Header) ([]byte, error) {
	buf := make([]byte, core.DefaultRegionSize)
	binary.LittleEndian.PutUint32(buf[0:4], magicFor(h.Version))
	binary.LittleEndian.PutUint32(buf[4:8], h.Size)
	binary.LittleEndian.PutUint32(buf[8:12], h.BlockIndex)
	binary.LittleEndian.PutUint32(buf[12:16], h.BlockTotal)
	binary.LittleEndian.PutUint32(buf[16:20], core.DefaultRegionSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.RegionCount)
	if h.Version == V1 {
		return buf, nil
	}

	binary.LittleEndian.PutUint32(buf[24:28], uint32(h.RelocCount))
	if h.Version == V2 || h.Version == V3 {
		if h.FirstSect > 0xFFFFFFFF || h.LastSect > 0xFFFFFFFF {
			return nil, core.NewError(core.FormatError, "ndz.EncodeHeader",
				fmt.Errorf("sector bound does not fit in 32 bits for version %d", h.Version))
		}
		binary.LittleEndian.PutUint32(buf[28:32], uint32(h.FirstSect))
		binary.LittleEndian.PutUint32(buf[32:36], uint32(h.LastSect))
		return buf, nil
	}

	binary.LittleEndian.PutUint32(buf[28:32], uint32(h.FirstSect))
	binary.LittleEndian.PutUint32(buf[32:36], uint32(h.LastSect))
	off := 36
	binary.LittleEndian.PutUint64(buf[off:off+8], h.FirstSect)
	binary.LittleEndian.PutUint64(buf[off+8:off+16], h.LastSect)
	off += 16
	copy(buf[off:off+core.UUIDLength], h.ImageID[:])
	off += core.UUIDLength
	if h.Version == V5 {
		return buf, nil
	}

	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(h.Cipher))
	off += 2
	csum := uint16(h.ChecksumType)
	if h.ChecksumSigned {
		csum |= 0x8000
	}
	binary.LittleEndian.PutUint16(buf[off:off+2], csum)
	off += 2
	copy(buf[off:off+32], h.IV)
	off += 32
	copy(buf[off:off+256], h.Checksum)
	return buf, nil
}

// IndexCheckDisabled reports whether this header's block-total field
// disables blockindex validation. Preserved from the original V1 format:
// a zero blocktotal on a V1 header silently turns off index checking,
// rather than being treated as "zero blocks expected". Every later
// version keeps this same rule for backward compatibility with tools that
// write V1-style zero totals.
func (h *Header) IndexCheckDisabled() bool {
	return h.BlockTotal == 0
}
