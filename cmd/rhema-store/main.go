// Command rhema-store manages a local rhema storage directory.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fugue-ai/rhema-sub010/internal/cli/command"
)

func main() {
	app := command.App()

	if err := app.RunContext(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
