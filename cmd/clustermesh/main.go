// Command clustermesh runs one clustering node: it binds the publisher
// and router transport, joins the fleet through the coordinator store,
// hydrates its local replica, and serves until a shutdown signal
// arrives. There is no separate coordinator binary — the coordinator
// is an external Redis-compatible store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
