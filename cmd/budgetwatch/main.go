package main

import (
	"github.com/joho/godotenv"

	"budgetwatch/internal/cli"
)

func main() {
	// .env is optional outside local development
	_ = godotenv.Load()

	cli.Execute()
}
