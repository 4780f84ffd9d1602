package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emulab/ndzcore/lib/core"
	"github.com/emulab/ndzcore/lib/format/ndz"
)

var dumpQuickcheck bool

var dumpCmd = &cobra.Command{
	Use:   "dump IMAGE",
	Short: "List an image's chunk headers, or quickcheck its first chunk",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func init() {
	dumpCmd.Flags().BoolVar(&dumpQuickcheck, "quickcheck", false, "only check the first chunk's magic; exit status reflects the result")
	rootCmd.AddCommand(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	chunkBuf := make([]byte, core.ChunkSize)
	relocs := ndz.NewRelocTable()
	verifier := ndz.NewDigestVerifier()

	for index := 0; ; index++ {
		n, err := f.Read(chunkBuf)
		if n == 0 {
			break
		}
		if n < core.DefaultRegionSize {
			if dumpQuickcheck {
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "bad chunk index\n")
			return fmt.Errorf("truncated chunk %d", index)
		}

		chunk, decodeErr := ndz.DecodeChunk(chunkBuf[:n], relocs)
		if decodeErr != nil {
			if dumpQuickcheck {
				if index == 0 {
					os.Exit(1)
				}
				os.Exit(0)
			}
			fmt.Fprintf(os.Stderr, "bad chunk index\n")
			return decodeErr
		}

		if dumpQuickcheck {
			if index == 0 {
				os.Exit(0)
			}
			continue
		}

		fmt.Fprintf(cmd.OutOrStdout(), "chunk %d: version=%d blockindex=%d sectors=[%d,%d) regions=%d relocs=%d size=%d\n",
			index, chunk.Header.Version, chunk.Header.BlockIndex, chunk.Header.FirstSect, chunk.Header.LastSect,
			len(chunk.Regions), len(chunk.Relocs), chunk.Header.Size)

		if len(chunk.Header.Checksum) > 0 {
			ok, verr := verifier.Verify(chunk.Data, chunk.Header.ChecksumType, chunk.Header.ChecksumSigned, chunk.Header.Checksum)
			if verr != nil || !ok {
				fmt.Fprintf(os.Stderr, "chunk %d fails checksum\n", index)
			}
		}

		if err != nil {
			break
		}
	}
	return nil
}
