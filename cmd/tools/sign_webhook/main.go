package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/noah-isme/payment-bridge/internal/payment"
)

// sign_webhook signs a notification body the way Cashfree does and prints
// the headers, or posts it to a running API with -post.
func main() {
	var (
		file   = flag.String("file", "", "path to the JSON body; stdin when empty")
		secret = flag.String("secret", "", "signing secret; defaults to CF_WEBHOOK_SECRET, then CF_API_SECRET")
		ts     = flag.String("timestamp", "", "x-webhook-timestamp value; defaults to now in unix seconds")
		post   = flag.String("post", "", "URL to POST the signed notification to")
	)
	flag.Parse()
	_ = godotenv.Load()

	key := firstNonEmpty(*secret, os.Getenv("CF_WEBHOOK_SECRET"), os.Getenv("CF_API_SECRET"))
	if key == "" {
		log.Fatal("no signing secret: pass -secret or set CF_WEBHOOK_SECRET")
	}

	var (
		body []byte
		err  error
	)
	if *file == "" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(*file)
	}
	if err != nil {
		log.Fatalf("read body: %v", err)
	}
	timestamp := *ts
	if timestamp == "" {
		timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	}
	signature := payment.ComputeSignature([]byte(key), timestamp, body)

	if *post == "" {
		fmt.Printf("%s: %s\n%s: %s\n", payment.HeaderWebhookTimestamp, timestamp, payment.HeaderWebhookSignature, signature)
		return
	}

	req, err := http.NewRequest(http.MethodPost, *post, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(payment.HeaderWebhookTimestamp, timestamp)
	req.Header.Set(payment.HeaderWebhookSignature, signature)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s\n%s\n", resp.Status, out)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
