// Command driftbox diffs database schemas, synthesizes migrations and
// previews them in disposable sandboxes.
package main

import (
	"os"

	"github.com/koustreak/driftbox/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
