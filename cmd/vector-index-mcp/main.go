package main

import (
	"os"

	"github.com/vector-index-mcp/vector-index-mcp/cmd/vector-index-mcp/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
