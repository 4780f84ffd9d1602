// Package signature reads and writes hash-map signature files: the
// per-region hash table a DeltaEngine compares a disk against to compute
// which sectors changed since the signature was taken.
package signature

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"github.com/emulab/ndzcore/internal/util"
	"github.com/emulab/ndzcore/lib/core"
)

// HashType selects the digest algorithm a signature's regions were hashed
// with.
type HashType uint32

const (
	HashMD5    HashType = 1
	HashSHA1   HashType = 2
	HashSHA256 HashType = 3
)

// New returns a fresh hash.Hash and its digest size for t.
func (t HashType) New() (hash.Hash, int, error) {
	switch t {
	case HashMD5:
		return md5.New(), md5.Size, nil
	case HashSHA1:
		return sha1.New(), sha1.Size, nil
	case HashSHA256:
		return sha256.New(), sha256.Size, nil
	default:
		return nil, 0, fmt.Errorf("unknown hash type %d", t)
	}
}

// Version identifies a signature file's on-disk layout.
type Version uint32

const (
	V1 Version = 1 // 32-bit sectors, implicit block size
	V2 Version = 2 // 32-bit sectors, explicit block size
	V3 Version = 3 // 64-bit sectors, explicit block size
)

const magic = 0x68617368 // "hash"

// defaultHashBlockSectors is HASHBLK_SIZE converted to sectors, the block
// size implied by a V1 signature, which carries none on the wire.
const defaultHashBlockSectors = 1024 * 1024 / core.SecSize

// spanBit marks a HashRegion as crossing a chunk boundary, set via
// SetSpanning. It occupies the top bit of ChunkNo on the wire, matching
// HASH_CHUNKSETSPAN in the original format.
const spanBit = 1 << 31

// HashRegion is one hashed run of sectors within a signature.
type HashRegion struct {
	Start   uint64
	Size    uint64
	ChunkNo uint32 // top bit set if this region spans a chunk boundary
	Hash    []byte
}

// Spans reports whether this region crosses a chunk boundary.
func (r HashRegion) Spans() bool { return r.ChunkNo&spanBit != 0 }

// SetSpanning sets or clears the span bit on ChunkNo, leaving the
// underlying chunk number intact.
func (r *HashRegion) SetSpanning(spans bool) {
	if spans {
		r.ChunkNo |= spanBit
	} else {
		r.ChunkNo &^= spanBit
	}
}

// ChunkNumber returns the chunk number with the span bit masked off.
func (r HashRegion) ChunkNumber() uint32 { return r.ChunkNo &^ spanBit }

// Signature is a full hash-map signature: format metadata plus the
// ordered list of hashed regions.
type Signature struct {
	Version   Version
	HashType  HashType
	BlockSize uint32 // sectors per hash block
	Regions   []HashRegion
}

const headerSize = 20 // magic, version, hashtype, nregions, blksize — all uint32

// Read parses a signature file from r. poffset is added to every region's
// start sector, undoing the partition-relative offset the writer
// subtracted (mirrors readhashinfo's poffset compensation).
func Read(r io.Reader, poffset uint64) (*Signature, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, core.NewError(core.IoError, "signature.Read", err)
	}
	if binary.LittleEndian.Uint32(hdr[0:4]) != magic {
		return nil, core.NewError(core.FormatError, "signature.Read", fmt.Errorf("bad signature magic"))
	}
	version := Version(binary.LittleEndian.Uint32(hdr[4:8]))
	hashType := HashType(binary.LittleEndian.Uint32(hdr[8:12]))
	nregions := binary.LittleEndian.Uint32(hdr[12:16])
	blksize := binary.LittleEndian.Uint32(hdr[16:20])

	switch version {
	case V1:
		blksize = uint32(defaultHashBlockSectors)
	case V2, V3:
		// blksize already read from the wire.
	default:
		return nil, core.NewError(core.FormatError, "signature.Read", fmt.Errorf("unsupported signature version %d", version))
	}

	_, hashLen, err := hashType.New()
	if err != nil {
		return nil, core.NewError(core.FormatError, "signature.Read", err)
	}

	regions := make([]HashRegion, nregions)
	narrow := version != V3
	recSize := hashRegionRecSize(narrow)
	buf := make([]byte, recSize)
	for i := range regions {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, core.NewError(core.IoError, "signature.Read", err)
		}
		reg, err := decodeHashRegion(buf, narrow, hashLen)
		if err != nil {
			return nil, err
		}
		reg.Start += poffset
		regions[i] = reg
	}

	return &Signature{Version: version, HashType: hashType, BlockSize: blksize, Regions: regions}, nil
}

// hashRegionRecSize returns the on-disk size of one hash-region record.
// The hash tail is always a fixed core.HashMaxSize field regardless of
// which HashType actually produced the digest, so V1/V2 records written
// with a shorter digest (MD5, SHA1) still lay out identically to one
// written with SHA256 — only the trailing padding differs.
func hashRegionRecSize(narrow bool) int {
	if narrow {
		return 4 + 4 + 4 + core.HashMaxSize // start(32), size(32), chunkno(32), hash
	}
	return 8 + 4 + 4 + core.HashMaxSize // start(64), size(32), chunkno(32), hash
}

func decodeHashRegion(buf []byte, narrow bool, hashLen int) (HashRegion, error) {
	var r HashRegion
	off := 0
	if narrow {
		r.Start = uint64(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
		r.Size = uint64(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	} else {
		r.Start = binary.LittleEndian.Uint64(buf[off : off+8])
		off += 8
		r.Size = uint64(binary.LittleEndian.Uint32(buf[off : off+4]))
		off += 4
	}
	r.ChunkNo = binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	// The wire tail is zero-extended to core.HashMaxSize; keep only the
	// digest's natural length in memory so comparisons against a freshly
	// computed hash.Hash sum line up.
	r.Hash = append([]byte(nil), buf[off:off+hashLen]...)
	return r, nil
}

func encodeHashRegion(r HashRegion, narrow bool, hashLen int) []byte {
	buf := make([]byte, hashRegionRecSize(narrow))
	off := 0
	if narrow {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(r.Start))
		off += 4
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(r.Size))
		off += 4
	} else {
		binary.LittleEndian.PutUint64(buf[off:off+8], r.Start)
		off += 8
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(r.Size))
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], r.ChunkNo)
	off += 4
	// Remaining bytes past hashLen stay zero, padding the tail out to
	// core.HashMaxSize.
	copy(buf[off:off+hashLen], util.PadTo(r.Hash, hashLen))
	return buf
}

// Write persists sig to fname (or "<iname>.sig" if fname is empty, or
// /tmp/stdout.sig if iname is "-"), subtracting poffset from every
// region's start first, and returns the path actually used. imageVersion
// selects whether a 32-bit (V2) or 64-bit (V3) layout is attempted first:
// for images older than V5 with a non-SHA256 hash, V2 is tried, falling
// back to V3 (with a diagnostic) if any region's start doesn't fit in 32
// bits. Mirrors hashmap_write_hashfile.
func Write(fname, iname string, imageVersionAtLeastV5 bool, poffset uint64, sig *Signature) (string, error) {
	target := fname
	if target == "" {
		if iname == "-" {
			target = "/tmp/stdout.sig"
		} else {
			target = iname + ".sig"
		}
	}

	adjusted := &Signature{Version: sig.Version, HashType: sig.HashType, BlockSize: sig.BlockSize}
	adjusted.Regions = make([]HashRegion, len(sig.Regions))
	for i, r := range sig.Regions {
		if r.Start < poffset {
			return "", core.NewError(core.AssertionError, "signature.Write",
				fmt.Errorf("region start %d precedes partition offset %d", r.Start, poffset))
		}
		r.Start -= poffset
		adjusted.Regions[i] = r
	}

	wantNarrow := !imageVersionAtLeastV5 && adjusted.HashType != HashSHA256
	if wantNarrow {
		if fits, ok := fitsNarrow(adjusted); ok {
			adjusted.Version = V2
			_ = fits
		} else {
			fmt.Fprintf(os.Stderr, "signature: region sectors too large for a V2 signature, writing V3 instead\n")
			adjusted.Version = V3
		}
	} else {
		adjusted.Version = V3
	}

	f, err := os.OpenFile(target, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		target = fmt.Sprintf("/tmp/%d.sig", os.Getpid())
		f, err = os.OpenFile(target, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
		if err != nil {
			return "", core.NewError(core.IoError, "signature.Write", err)
		}
	}
	defer f.Close()

	if err := encode(f, adjusted); err != nil {
		return "", err
	}

	if iname != "-" {
		if st, err := os.Stat(iname); err == nil {
			mtime := st.ModTime()
			_ = os.Chtimes(target, time.Now(), mtime)
		}
	}

	fmt.Fprintf(os.Stderr, "signature: wrote %d regions to %s\n", len(adjusted.Regions), target)
	return target, nil
}

func fitsNarrow(sig *Signature) (bool, bool) {
	for _, r := range sig.Regions {
		if r.Start > 0xFFFFFFFF || r.Size > 0xFFFFFFFF {
			return false, false
		}
	}
	return true, true
}

func encode(w io.Writer, sig *Signature) error {
	_, hashLen, err := sig.HashType.New()
	if err != nil {
		return core.NewError(core.FormatError, "signature.encode", err)
	}
	hdr := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(hdr[0:4], magic)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(sig.Version))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(sig.HashType))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(sig.Regions)))
	binary.LittleEndian.PutUint32(hdr[16:20], sig.BlockSize)
	if _, err := w.Write(hdr); err != nil {
		return core.NewError(core.IoError, "signature.encode", err)
	}

	narrow := sig.Version != V3
	for _, r := range sig.Regions {
		if _, err := w.Write(encodeHashRegion(r, narrow, hashLen)); err != nil {
			return core.NewError(core.IoError, "signature.encode", err)
		}
	}
	return nil
}
