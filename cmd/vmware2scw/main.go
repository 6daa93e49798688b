// Command vmware2scw drives the batch migration engine from the operator's
// terminal: build a plan from a vCenter inventory, estimate it, run it, and
// inspect or resume a batch in progress.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
