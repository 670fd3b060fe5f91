package main

import (
	"github.com/kism/maxmind-geoip-nginx/internal/app"

	"github.com/charmbracelet/log"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal("allowlist generation failed", "error", err)
	}
}
