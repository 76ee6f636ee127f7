package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/noah-isme/payment-bridge/internal/store"
)

func main() {
	dsn := flag.String("database-url", "", "postgres URL; defaults to DATABASE_URL")
	orderID := flag.String("order", "", "merchant order id to look up")
	flag.Parse()
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	if *orderID == "" {
		log.Fatal("-order is required")
	}
	url := *dsn
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	result, err := store.Results{DB: pool}.GetResult(ctx, *orderID)
	if errors.Is(err, store.ErrNotFound) {
		log.Printf("no stored result for %s", *orderID)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("lookup: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("encode: %v", err)
	}
}
