package main

import (
	"os"

	"llmtrayd/internal/trayctl"
)

func main() {
	os.Exit(trayctl.Main())
}
