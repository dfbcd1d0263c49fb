// Command dagsearchd drives the dagsearch parallel beam-search engine.
package main

import "github.com/dagsearch/dagsearch/cmd/dagsearchd/cmd"

func main() {
	cmd.Execute()
}
