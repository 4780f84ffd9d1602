package cli

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/emulab/ndzcore/lib/core"
	"github.com/emulab/ndzcore/lib/delta"
	"github.com/emulab/ndzcore/lib/format/ndz"
	"github.com/emulab/ndzcore/lib/signature"
)

var (
	buildDevice     string
	buildOutput     string
	buildRangesFile string
	buildSigIn      string
	buildSigOut     string
	buildCompressor string
	buildPartOffset uint64
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Capture a device's allocated sectors into a chunked image",
	Long: `build reads the allocated-sector ranges named by --ranges (one
"start size" pair per line, in sectors), diffs them against a prior
signature if --sig-in is given, and writes the resulting chunks to
--out, optionally writing an updated signature to --sig-out.

Ranges are supplied externally rather than discovered by this tool:
filesystem introspection is out of scope for the image codec core.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildDevice, "in", "", "path to the source device or file")
	buildCmd.Flags().StringVar(&buildOutput, "out", "", "path to write the NDZ image")
	buildCmd.Flags().StringVar(&buildRangesFile, "ranges", "", "path to a file of \"start size\" sector ranges")
	buildCmd.Flags().StringVar(&buildSigIn, "sig-in", "", "path to a prior signature file (optional)")
	buildCmd.Flags().StringVar(&buildSigOut, "sig-out", "", "path to write an updated signature (optional)")
	buildCmd.Flags().StringVar(&buildCompressor, "compressor", "zstd", "chunk payload compressor: zstd or lzma")
	buildCmd.Flags().Uint64Var(&buildPartOffset, "partition-offset", 0, "partition start sector, for hash-block alignment")
	_ = buildCmd.MarkFlagRequired("in")
	_ = buildCmd.MarkFlagRequired("out")
	_ = buildCmd.MarkFlagRequired("ranges")
	rootCmd.AddCommand(buildCmd)
}

func readRangesFile(path string) (core.Range, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.Range{}, err
	}
	defer f.Close()

	var b core.Builder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return core.Range{}, fmt.Errorf("malformed range line %q", line)
		}
		start, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return core.Range{}, fmt.Errorf("bad start sector in %q: %w", line, err)
		}
		size, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return core.Range{}, fmt.Errorf("bad size in %q: %w", line, err)
		}
		b.Add(start, size)
	}
	if err := sc.Err(); err != nil {
		return core.Range{}, err
	}
	return b.Build(), nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	ranges, err := readRangesFile(buildRangesFile)
	if err != nil {
		return fmt.Errorf("reading ranges: %w", err)
	}

	src, err := os.Open(buildDevice)
	if err != nil {
		return fmt.Errorf("opening source device: %w", err)
	}
	defer src.Close()

	var sig *signature.Signature
	if buildSigIn != "" {
		sigFile, err := os.Open(buildSigIn)
		if err != nil {
			return fmt.Errorf("opening prior signature: %w", err)
		}
		sig, err = signature.Read(sigFile, buildPartOffset)
		sigFile.Close()
		if err != nil {
			return fmt.Errorf("reading prior signature: %w", err)
		}
	}

	engine := delta.NewDeltaEngine(nil)
	deltaRanges, newSig, err := engine.ComputeDelta(ranges, sig, src, buildPartOffset, buildSigOut != "")
	if err != nil {
		return fmt.Errorf("computing delta: %w", err)
	}

	compressor, err := ndz.CompressorByName(buildCompressor)
	if err != nil {
		return err
	}

	out, err := os.Create(buildOutput)
	if err != nil {
		return fmt.Errorf("creating output image: %w", err)
	}
	defer out.Close()

	reloc := ndz.NewRelocTable()
	asm := ndz.NewAssembler(ndz.V5, true, uuid.New(), compressor, reloc)

	spans := deltaRanges.Spans()
	reporter := newProgressReporter("build")
	for i, span := range spans {
		buf := make([]byte, core.SecToBytes(span.Size))
		if _, err := src.ReadAt(buf, int64(core.SecToBytes(span.Start))); err != nil {
			return fmt.Errorf("reading region [%d,%d): %w", span.Start, span.End(), err)
		}
		chunk, err := asm.AddRegion(span.Start, span.Size, buf)
		if err != nil {
			return fmt.Errorf("assembling region [%d,%d): %w", span.Start, span.End(), err)
		}
		if chunk != nil {
			if err := emitChunk(out, chunk, asm.Wide, engine, newSig); err != nil {
				return err
			}
		}
		reporter.Update(i+1, len(spans))
	}
	final, err := asm.Flush()
	if err != nil {
		return fmt.Errorf("flushing final chunk: %w", err)
	}
	if final != nil {
		if err := emitChunk(out, final, asm.Wide, engine, newSig); err != nil {
			return err
		}
	}
	reporter.Done()

	if buildSigOut != "" && newSig != nil {
		path, err := signature.Write(buildSigOut, buildOutput, true, buildPartOffset, newSig)
		if err != nil {
			return fmt.Errorf("writing new signature: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote signature to %s\n", path)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "captured %d sectors across %d region(s) into %s\n",
		sumSizes(spans), len(spans), buildOutput)
	return nil
}

func writeChunk(out *os.File, chunk *ndz.Chunk, wide bool) error {
	buf, err := ndz.EncodeChunk(chunk, wide)
	if err != nil {
		return fmt.Errorf("encoding chunk %d: %w", chunk.Header.BlockIndex, err)
	}
	if _, err := out.Write(buf); err != nil {
		return fmt.Errorf("writing chunk %d: %w", chunk.Header.BlockIndex, err)
	}
	return nil
}

// emitChunk writes chunk to out and, when a new signature is being
// produced, walks it through engine.UpdateChunk so every hash region
// covered by this chunk's sector span picks up its chunkno (and the span
// bit, if the region crosses the chunk's end) — mirroring imagezip's
// chunk-writing loop calling hashmap_update_chunk per chunk.
func emitChunk(out *os.File, chunk *ndz.Chunk, wide bool, engine *delta.DeltaEngine, newSig *signature.Signature) error {
	if err := writeChunk(out, chunk, wide); err != nil {
		return err
	}
	if newSig == nil {
		return nil
	}
	if err := engine.UpdateChunk(newSig, chunk.Header.FirstSect, chunk.Header.LastSect, chunk.Header.BlockIndex); err != nil {
		return fmt.Errorf("updating signature chunk %d: %w", chunk.Header.BlockIndex, err)
	}
	return nil
}

func sumSizes(spans []core.Span) uint64 {
	var n uint64
	for _, s := range spans {
		n += s.Size
	}
	return n
}
