// Package main mints a session token for a user id, signed with the
// configured CONFIANZA_SESSION_SECRET. Intended for development and tests.
package main

import (
	"flag"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"confianza/internal/auth"
	"confianza/internal/config"
)

func main() {
	userID := flag.String("user", "", "User id to issue the session for")
	cookie := flag.Bool("cookie", false, "Print a Cookie header instead of the bare token")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "--user is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	sessions := auth.NewSessions(cfg.SessionSecret, cfg.SessionCookie, cfg.SessionTTL)
	token, err := sessions.Issue(*userID)
	if err != nil {
		log.WithError(err).Fatal("failed to issue session")
	}

	if *cookie {
		fmt.Printf("Cookie: %s=%s\n", sessions.CookieName(), token)
		return
	}
	fmt.Println(token)
}
