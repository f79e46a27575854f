// Package main mints access tokens for operators and chat gateways.
//
//	issue-token -participant <uuid> [-role participant|admin] [-ttl 24h]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/rosterleague/backend/config"
	"github.com/rosterleague/backend/internal/auth"
	"github.com/rosterleague/backend/internal/models"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "issue-token:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	token, err := issue(args, cfg.JWT)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func issue(args []string, jwtCfg config.JWTConfig) (string, error) {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	participant := fs.String("participant", "", "participant id (uuid); a new one is generated when empty")
	role := fs.String("role", string(models.RoleParticipant), "token role: participant or admin")
	ttl := fs.Duration("ttl", jwtCfg.TTL(), "token lifetime")
	if err := fs.Parse(args); err != nil {
		return "", err
	}

	id := uuid.New()
	if *participant != "" {
		parsed, err := uuid.Parse(*participant)
		if err != nil {
			return "", fmt.Errorf("participant: %w", err)
		}
		id = parsed
	}
	if *ttl <= 0 {
		*ttl = time.Hour
	}
	return auth.NewJWTService(jwtCfg.Secret, jwtCfg.Issuer, *ttl).Generate(id, models.Role(*role))
}
