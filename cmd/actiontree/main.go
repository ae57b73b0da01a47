// Command actiontree runs dependency graphs of actions described in plan
// files.
package main

import (
	"fmt"
	"os"

	"github.com/aristath/actiontree/internal/logging"
)

func main() {
	err := NewRootCmd().Execute()
	logging.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
