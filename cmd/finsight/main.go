package main

import (
	"os"

	"github.com/ethanteng/finsight-sub001/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
