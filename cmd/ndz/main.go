// Command ndz builds, dumps, verifies, and queries chunked disk images.
package main

import (
	"fmt"
	"os"

	"github.com/emulab/ndzcore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
