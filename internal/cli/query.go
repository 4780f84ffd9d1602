package cli

import (
	"fmt"
	"os"

	"github.com/expr-lang/expr"
	"github.com/spf13/cobra"

	"github.com/emulab/ndzcore/lib/core"
	"github.com/emulab/ndzcore/lib/format/ndz"
)

var queryWhere string

var queryCmd = &cobra.Command{
	Use:   "query IMAGE",
	Short: "List regions from an image, filtered by an expression",
	Long: `query walks an image's chunks and prints each region, optionally
filtered by a boolean --where expression evaluated per region with the
fields: start, size, chunkno.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryWhere, "where", "", `filter expression, e.g. "size > 2048 && chunkno == 3"`)
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	var program *vmProgram
	if queryWhere != "" {
		program, err = compileFilter(queryWhere)
		if err != nil {
			return fmt.Errorf("compiling --where expression: %w", err)
		}
	}

	chunkBuf := make([]byte, core.ChunkSize)
	relocs := ndz.NewRelocTable()
	for chunkIndex := 0; ; chunkIndex++ {
		n, rerr := f.Read(chunkBuf)
		if n == 0 {
			break
		}
		chunk, err := ndz.DecodeChunk(chunkBuf[:n], relocs)
		if err != nil {
			return err
		}
		for _, r := range chunk.Regions {
			env := map[string]any{
				"start":   float64(r.Start),
				"size":    float64(r.Size),
				"chunkno": float64(chunkIndex),
			}
			if program != nil {
				match, err := program.run(env)
				if err != nil {
					return fmt.Errorf("evaluating --where expression: %w", err)
				}
				if !match {
					continue
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chunk=%d start=%d size=%d\n", chunkIndex, r.Start, r.Size)
		}
		if rerr != nil {
			break
		}
	}
	return nil
}

// vmProgram wraps a compiled expr program so callers don't need to import
// expr-lang/expr directly.
type vmProgram struct {
	program *expr.Program
}

func compileFilter(src string) (*vmProgram, error) {
	program, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, err
	}
	return &vmProgram{program: program}, nil
}

func (p *vmProgram) run(env map[string]any) (bool, error) {
	out, err := expr.Run(p.program, env)
	if err != nil {
		return false, err
	}
	match, _ := out.(bool)
	return match, nil
}
