package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yanun0323/logs"

	"marketdesk/internal/auth"
	"marketdesk/internal/ops"
)

// token mints a bearer token for local testing with the configured secret.
func main() {
	configPath := flag.String("config", "", "Path to config file")
	user := flag.String("user", "", "User id carried in the sub claim")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime (0=no expiry)")
	flag.Parse()

	if *user == "" {
		logs.Errorf("missing user; use -user")
		os.Exit(2)
	}

	cfg, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("config load failed, err: %+v", err)
		os.Exit(1)
	}

	token, err := auth.NewValidator(cfg.Auth.JWTSecret).Issue(*user, *ttl)
	if err != nil {
		logs.Errorf("issue token failed, err: %+v", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
