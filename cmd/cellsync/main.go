package main

import (
	"github.com/dl-alexandre/cellsync/internal/cli"
)

func main() {
	_ = cli.Execute()
}
