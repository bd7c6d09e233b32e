// Command treectl indexes and queries a data directory directly, without
// the Kafka and HTTP services.
//
// Usage:
//
//	treectl index www docs.json
//	treectl search www "red car" --take 5
//	treectl inspect www
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
