// Command linter runs the panicexit check over the packages given on the
// command line, e.g. go run ./cmd/linter ./...
package main

import "golang.org/x/tools/go/analysis/singlechecker"

func main() {
	singlechecker.Main(Analyzer)
}
