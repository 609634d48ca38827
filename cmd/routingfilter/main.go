package main

import (
	"os"

	"github.com/solatis/routingfilter/cmd/routingfilter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
