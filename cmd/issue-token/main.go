// Command issue-token mints a signed JWT for a candidate or an admin. The
// proctor does not own credentials; an upstream identity provider or an
// operator runs this with the shared signing secret.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func main() {
	var (
		subject string
		role    string
		expiry  time.Duration
	)
	flag.StringVar(&subject, "subject", "", "Subject (candidate or admin) ID")
	flag.StringVar(&role, "role", string(service.RoleCandidate), "Token role: candidate or admin")
	flag.DurationVar(&expiry, "expiry", 0, "Token lifetime (defaults to JWT_EXPIRY_HOURS)")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, "pretty").With().Str("component", "issue_token").Logger()

	if subject == "" {
		flag.Usage()
		os.Exit(2)
	}
	r := service.Role(role)
	if r != service.RoleCandidate && r != service.RoleAdmin {
		log.Fatal().Str("role", role).Msg("Role must be candidate or admin")
	}
	if expiry > 0 {
		cfg.JWTExpiry = expiry
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Candidate tokens are registered for the single-device check, which
	// needs Redis. Admin tokens are stateless.
	auth := service.NewAuthService(cfg, nil)
	if r == service.RoleCandidate {
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		auth = service.NewAuthService(cfg, rdb)
	}

	token, err := auth.IssueToken(ctx, subject, r)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to issue token")
	}
	log.Info().Str("subject", subject).Str("role", role).Dur("expiry", cfg.JWTExpiry).Msg("Token issued")
	fmt.Println(token)
}
