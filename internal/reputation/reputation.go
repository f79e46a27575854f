// Package reputation reads participant reputation scores. A participant without a score has 0.
package reputation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MinScore and MaxScore bound every score returned by this package.
const (
	MinScore = 0
	MaxScore = 100
)

// Source supplies reputation scores.
type Source interface {
	Score(ctx context.Context, participantID uuid.UUID) (int, error)
}

// Clamp limits s to [MinScore, MaxScore].
func Clamp(s int) int {
	return max(MinScore, min(MaxScore, s))
}

// Repository reads the participant_reputation table, which another service owns.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a reputation repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Score returns the participant's stored score, or 0 when none is stored.
func (r *Repository) Score(ctx context.Context, participantID uuid.UUID) (int, error) {
	var score int
	err := r.pool.QueryRow(ctx,
		`SELECT score FROM participant_reputation WHERE participant_id = $1`, participantID,
	).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return Clamp(score), nil
}

// Static serves fixed scores. Unknown participants get Default.
type Static struct {
	Scores  map[uuid.UUID]int
	Default int
}

// Score implements Source.
func (s Static) Score(_ context.Context, participantID uuid.UUID) (int, error) {
	if v, ok := s.Scores[participantID]; ok {
		return Clamp(v), nil
	}
	return Clamp(s.Default), nil
}
