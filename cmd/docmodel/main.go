// Command docmodel manages schema-driven entities in a local document store.
package main

import (
	"os"

	"github.com/mesh-intelligence/docmodel/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
