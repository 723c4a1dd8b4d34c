// Command securexferd runs the file-transfer server.
package main

import (
	"fmt"
	"os"

	"github.com/relaycrypt/securexfer/cmd/securexferd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
