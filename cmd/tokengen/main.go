package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/technosupport/ts-telematics/internal/config"
	"github.com/technosupport/ts-telematics/internal/tokens"
)

// tokengen issues an operator JWT for the management API.
func main() {
	user := flag.String("user", "admin", "Subject user id")
	role := flag.String("role", "operator", "Role claim")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	if cfg.Auth.JWTSigningKey == "" {
		log.Fatalf("auth.jwt_signing_key is not configured")
	}

	mgr := tokens.NewManager(cfg.Auth.JWTSigningKey)
	token, err := mgr.GenerateToken(*user, *role, *ttl)
	if err != nil {
		log.Fatalf("Token error: %v", err)
	}

	fmt.Println(token)
}
