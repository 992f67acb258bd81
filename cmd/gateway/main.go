// Package main is the entry point for the gateway binary.
package main

import (
	"os"

	"github.com/georchestra/gateway/cmd/gateway/app"
	"github.com/georchestra/gateway/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
