// Command depsolve resolves a 0install-style interface into a concrete
// set of implementations, prints or fetches the result, and manages the
// persisted policy configuration.
//
// Example, round-tripping the Source/Compiler fixture used throughout
// internal/selections' tests:
//
//	depsolve solve http://foo/Source.xml --network offline --cache-dir /tmp/0install-cache
package main

import (
	"os"

	"github.com/ipiton/depsolve/internal/cli"
)

func main() {
	if err := cli.NewCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
