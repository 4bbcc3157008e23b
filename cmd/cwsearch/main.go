// Command cwsearch is a terminal client for the search service.
//
// Usage:
//
//	cwsearch login --firm acme --api-key ... --auth-key ...
//	cwsearch search "cfo at a fintech in london"
//	cwsearch search -k title=cfo -k industry=fintech --strategy category
//	cwsearch logout
package main

import (
	"os"

	"github.com/bhandzo/cw-search-prototype/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
