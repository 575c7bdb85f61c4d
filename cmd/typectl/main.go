package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/iomt-labs/telemetry-gateway/internal/typectl"
)

func main() {
	_ = godotenv.Load()
	os.Exit(int(typectl.Run()))
}
