// tradestream connects to the trading backend's real-time feed and keeps
// the connection alive, dispatching every event to its subscribers.
//
// Usage:
//
//	tradestream listen --config configs/tradestream.yaml
//	tradestream status --config configs/tradestream.yaml
//	tradestream version
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
