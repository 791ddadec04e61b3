// ABOUTME: Entry point for the watcherctl command line client
// ABOUTME: Delegates to the cobra command tree under cli/cmd

package main

import (
	"fmt"
	"os"

	"github.com/openstack/watcher-sub000/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
