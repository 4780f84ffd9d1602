// Package cli implements the ndzcore command-line surface: building,
// dumping, verifying, and querying NDZ images, wrapping the lib/format/ndz,
// lib/signature, and lib/delta packages.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ndz",
	Short: "Build, inspect, and verify chunked disk images",
	Long: `ndz is a toolchain for the chunked, compressed disk-image format
used to capture and redeploy testbed disk images: building an image from
a block device and a delta against a prior signature, dumping or
quickchecking an existing image's chunk headers, and querying its
region metadata.`,
}

// Execute runs the root command, returning any error it produced.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCommandForDocs returns the root command for documentation
// generation, bypassing any runtime setup individual commands might
// otherwise require.
func GetRootCommandForDocs() *cobra.Command {
	return rootCmd
}
