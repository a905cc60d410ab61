// Command agentreplay records, inspects, replays and compares agent traces.
package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errCriticalDivergence) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
