// Package delta implements the hash-map delta engine: given the current
// set of allocated disk ranges and a prior signature's hash regions, it
// produces the reduced set of ranges that actually need to be captured
// into a new image, plus (optionally) an updated signature for next time.
//
// This is a direct, faithful port of
// src/imagezip/hashmap/hashmap.c's hashmap_compute_delta, generalized to
// work over the immutable core.Range/core.Cursor abstraction instead of
// mutating a caller-owned linked list in place.
package delta

import (
	"bytes"
	"fmt"
	"io"

	"github.com/emulab/ndzcore/lib/core"
	"github.com/emulab/ndzcore/lib/signature"
)

// Changed discriminates why a range of sectors is included in a delta's
// output.
type Changed int

const (
	// ChangedMatch means the hash matched a prior signature's region;
	// the range is unmodified since the signature was taken and is
	// dropped from the output range list entirely.
	ChangedMatch Changed = 0
	// ChangedDiffer means the hash did not match.
	ChangedDiffer Changed = 1
	// ChangedGap means there was no comparable prior region (a gap) and
	// HashFree is false, so the engine conservatively assumes a change.
	ChangedGap Changed = 2
	// ChangedFixup means a fixup forces this range to be treated as
	// changed regardless of what hashing would say.
	ChangedFixup Changed = 3
)

// DeltaEngine bundles the state one delta computation needs: the fixup
// source and the hash_free behavior toggle. It carries no goroutine-shared
// state, so independent images may each drive their own DeltaEngine
// concurrently.
type DeltaEngine struct {
	Fixups Fixups
	// HashFree, when true (the default), always hashes and compares a
	// hash region even if the current data doesn't exactly cover it.
	// When false, a region only partially covered by current data is
	// conservatively treated as changed (ChangedGap) without hashing.
	HashFree bool
}

// NewDeltaEngine returns a DeltaEngine using fixups (no fixups at all if
// fixups is nil) with HashFree true, the common case.
func NewDeltaEngine(fixups Fixups) *DeltaEngine {
	if fixups == nil {
		fixups = NoFixups()
	}
	return &DeltaEngine{Fixups: fixups, HashFree: true}
}

// ComputeDelta merges curranges (the sectors allocated on the current
// disk) against sig (a prior signature, or nil to treat every sector as
// new), reading sector contents from src at their absolute sector offsets;
// ssect is the partition start sector that new hash blocks are aligned
// to. It returns the reduced range list to actually capture, and — if
// newHashFile is true — an updated signature reflecting the disk as just
// read.
func (e *DeltaEngine) ComputeDelta(curranges core.Range, sig *signature.Signature, src io.ReaderAt, ssect uint64, newHashFile bool) (nranges core.Range, nsig *signature.Signature, err error) {
	scope := beginFixupScope(e.Fixups, newHashFile)
	defer func() {
		if err != nil {
			scope.rollback(e.Fixups)
		} else {
			scope.commit(e.Fixups)
		}
	}()

	hashType := signature.HashSHA256
	var hashblksize uint64 = 2048
	var hregions []signature.HashRegion
	if sig != nil {
		hashType = sig.HashType
		hashblksize = uint64(sig.BlockSize)
		hregions = sig.Regions
	}
	if _, _, herr := hashType.New(); herr != nil {
		err = core.NewError(core.FormatError, "delta.ComputeDelta", herr)
		return core.Range{}, nil, err
	}
	if hashblksize == 0 {
		hashblksize = 2048
	}

	var builder core.Builder
	var newRegions []signature.HashRegion

	cursor := core.NewCursor(curranges)

	emitNew := func(start, size uint64) error {
		builder.Add(start, size)
		if newHashFile {
			return e.addNewHashRegions(&newRegions, start, size, hashblksize, ssect, hashType, src)
		}
		return nil
	}

	for _, hreg := range hregions {
		// (a) drain leading dranges fully before this hreg.
		for {
			s, ok := cursor.Peek()
			if !ok || s.Start >= hreg.Start {
				break
			}
			if s.End() > hreg.Start {
				break
			}
			if err = emitNew(s.Start, s.Size); err != nil {
				return core.Range{}, nil, err
			}
			cursor.Consume(s.Size)
		}
		if cursor.Done() {
			break
		}

		s, _ := cursor.Peek()
		hregEnd := hreg.Start + hreg.Size

		// (c) hreg entirely deallocated in the current image: drop it,
		// it does not carry forward into the new signature.
		if hregEnd <= s.Start {
			continue
		}

		// (d) head split: current span starts before hreg.
		if s.Start < hreg.Start {
			headSize := hreg.Start - s.Start
			if err = emitNew(s.Start, headSize); err != nil {
				return core.Range{}, nil, err
			}
			cursor.Consume(headSize)
			s, _ = cursor.Peek()
		}

		// (e) overlap decision.
		changed := ChangedMatch
		switch {
		case e.Fixups.HasFixup(hreg.Start, hreg.Size):
			changed = ChangedFixup
		case e.HashFree || (s.Start == hreg.Start && s.Size >= hreg.Size):
			h, herr := e.hashRange(hreg.Start, hreg.Size, src, hashType)
			if herr != nil {
				err = herr
				return core.Range{}, nil, err
			}
			if bytes.Equal(h, hreg.Hash) {
				changed = ChangedMatch
			} else {
				changed = ChangedDiffer
			}
			if newHashFile {
				nr := hreg
				nr.Hash = h
				nr.ChunkNo = 0
				newRegions = append(newRegions, nr)
			}
		default:
			changed = ChangedGap
		}

		// (f) consume every drange overlapping [hreg.Start, hregEnd),
		// splitting off any drange that crosses hregEnd so its tail is
		// left for the next outer iteration.
		for {
			s, ok := cursor.Peek()
			if !ok || s.Start >= hregEnd {
				break
			}
			var consume uint64
			splitTail := s.End() > hregEnd
			if splitTail {
				consume = hregEnd - s.Start
			} else {
				consume = s.Size
			}
			if changed != ChangedMatch {
				builder.Add(s.Start, consume)
				if changed != ChangedDiffer && newHashFile {
					if err = e.addNewHashRegions(&newRegions, s.Start, consume, hashblksize, ssect, hashType, src); err != nil {
						return core.Range{}, nil, err
					}
				}
			}
			cursor.Consume(consume)
			if splitTail {
				break
			}
		}
	}

	// Trailing dranges past the last hreg: all new.
	for !cursor.Done() {
		s, _ := cursor.Peek()
		if err = emitNew(s.Start, s.Size); err != nil {
			return core.Range{}, nil, err
		}
		cursor.Consume(s.Size)
	}

	nranges = builder.Build()
	if newHashFile {
		nsig = &signature.Signature{
			Version:   signature.V3,
			HashType:  hashType,
			BlockSize: uint32(hashblksize),
			Regions:   newRegions,
		}
	}
	return nranges, nsig, nil
}

// hashRange reads size sectors starting at start from src, applies any
// fixups that cover the range, and returns the hash of the resulting
// bytes. Mirrors hash_range.
func (e *DeltaEngine) hashRange(start, size uint64, src io.ReaderAt, hashType signature.HashType) ([]byte, error) {
	byteSize := int64(core.SecToBytes(size))
	byteOffset := int64(core.SecToBytes(start))
	buf := make([]byte, byteSize)
	if _, err := io.ReadFull(io.NewSectionReader(src, byteOffset, byteSize), buf); err != nil {
		return nil, core.NewError(core.IoError, "delta.hashRange", err)
	}
	if e.Fixups.HasFixup(start, size) {
		e.Fixups.Apply(byteOffset, byteSize, buf)
	}
	h, _, err := hashType.New()
	if err != nil {
		return nil, core.NewError(core.FormatError, "delta.hashRange", err)
	}
	h.Write(buf)
	return h.Sum(nil), nil
}

// addNewHashRegions splits [start, start+size) into hashblksize-aligned
// pieces relative to ssect (so hash block boundaries line up across
// images taken at different partition offsets) and hashes + appends each
// piece to out. Mirrors add_to_hashmap's splitting loop.
func (e *DeltaEngine) addNewHashRegions(out *[]signature.HashRegion, start, size, hashblksize, ssect uint64, hashType signature.HashType, src io.ReaderAt) error {
	if hashblksize == 0 {
		return core.NewError(core.AssertionError, "delta.addNewHashRegions", fmt.Errorf("zero hash block size"))
	}
	offset := (start - ssect) % hashblksize
	remaining := size
	cur := start
	first := true
	for remaining > 0 {
		var piece uint64
		if first {
			piece = hashblksize - offset
			if piece > remaining {
				piece = remaining
			}
			first = false
		} else {
			piece = hashblksize
			if piece > remaining {
				piece = remaining
			}
		}
		h, err := e.hashRange(cur, piece, src, hashType)
		if err != nil {
			return err
		}
		*out = append(*out, signature.HashRegion{Start: cur, Size: piece, Hash: h})
		cur += piece
		remaining -= piece
	}
	return nil
}

// UpdateChunk annotates every hash region in sig that overlaps
// [ssect, lsect) with chunkno, setting the span bit on any region that
// crosses lsect so a future delta computation knows it wasn't fully
// captured by this chunk alone. Mirrors hashmap_update_chunk.
func (e *DeltaEngine) UpdateChunk(sig *signature.Signature, ssect, lsect uint64, chunkno uint32) error {
	for i := range sig.Regions {
		hreg := &sig.Regions[i]
		hrssect := hreg.Start
		hrlsect := hreg.Start + hreg.Size - 1

		if hrlsect < ssect {
			continue
		}
		if hrssect > lsect-1 {
			break
		}
		if hrssect < ssect {
			if !hreg.Spans() {
				return core.NewError(core.AssertionError, "delta.UpdateChunk",
					fmt.Errorf("region [%d,%d) starts before chunk start %d but lacks the span bit", hrssect, hrlsect+1, ssect))
			}
			continue
		}
		hreg.ChunkNo = chunkno
		if hrlsect > lsect-1 {
			hreg.SetSpanning(true)
		}
	}
	return nil
}

// BlockSize returns the hash block size in bytes sig uses, asserting it
// is nonzero. Mirrors hashmap_blocksize.
func BlockSize(sig *signature.Signature) (int, error) {
	if sig == nil || sig.BlockSize == 0 {
		return 0, core.NewError(core.AssertionError, "delta.BlockSize", fmt.Errorf("signature has no block size"))
	}
	return int(core.SecToBytes(uint64(sig.BlockSize))), nil
}
