package main

import (
	"os"

	"github.com/jakemccloskey/nango/internal/cli"
)

func main() {
	cli.InitCLI()
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
