package main

import (
	"github.com/apex/log"
	"github.com/joho/godotenv"

	"dodanati/config"
	"dodanati/server"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Info(".env file not found, using system environment variables")
	}

	cfg := config.LoadServer()
	log.SetLevelFromString(cfg.LogLevel)

	log.Infof("Starting dodanati dev server on port %s", cfg.Port)
	if err := server.Run(cfg); err != nil {
		log.Fatalf("Server exited: %v", err)
	}
}
