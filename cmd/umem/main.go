package main

import (
	"os"

	"github.com/evenscribe/umem/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
