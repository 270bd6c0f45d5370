package main

import (
	"os"

	"github.com/PoliTwit1984/kentrivia/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
