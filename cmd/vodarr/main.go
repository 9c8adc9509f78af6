// Package main is the entry point for the vodarr application.
package main

import (
	"errors"
	"os"

	"github.com/vodarr/vodarr/cmd/vodarr/cmd"
	"github.com/vodarr/vodarr/internal/ffmpeg"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, ffmpeg.ErrBinaryNotFound) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
