package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/technosupport/ts-telematics/internal/auth"
)

// keygen mints a device API key and prints the Argon2id hash to put in
// config.yaml under auth.api_key_hashes.
func main() {
	key := flag.String("key", "", "Hash an existing key instead of generating one")
	flag.Parse()

	plain := *key
	if plain == "" {
		plain = uuid.New().String()
	}

	hash, err := auth.HashAPIKey(plain)
	if err != nil {
		log.Fatalf("Hash error: %v", err)
	}

	fmt.Printf("API key:  %s\n", plain)
	fmt.Printf("Hash:     %s\n", hash)
}
