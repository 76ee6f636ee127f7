package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/noah-isme/payment-bridge/internal/store"
)

func main() {
	dsn := flag.String("database-url", "", "postgres URL; defaults to DATABASE_URL")
	flag.Parse()
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	url := *dsn
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	if err := store.Migrate(url); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("schema is up to date")
}
