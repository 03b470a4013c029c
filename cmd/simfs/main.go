// Package main provides the entry point for simfs.
package main

import (
	"context"
	"os"

	"github.com/ajaxzhan/simfs/internal/cli"
)

func main() {
	if err := cli.New().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
