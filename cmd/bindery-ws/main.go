// Command bindery-ws inspects and refreshes a workspace without a running
// daemon. It shares the daemon's configuration and snapshot database.
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
