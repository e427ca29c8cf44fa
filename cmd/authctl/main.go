package main

import (
	"os"

	"github.com/spec-kit/dualauth/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
