package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizroom-service/internal/domain"
)

// BankLoader loads quiz bank JSONB from Postgres.
type BankLoader struct {
	pool *pgxpool.Pool
}

func NewBankLoader(pool *pgxpool.Pool) *BankLoader {
	return &BankLoader{pool: pool}
}

func (l *BankLoader) LoadBank(ctx context.Context, roomID string) (domain.QuizBank, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM quiz_banks WHERE id=$1`, roomID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizBank{}, fmt.Errorf("load bank %q: %w", roomID, domain.ErrQuizNotFound)
	}
	if err != nil {
		return domain.QuizBank{}, fmt.Errorf("load bank: %w", err)
	}
	var bank domain.QuizBank
	if err := json.Unmarshal(raw, &bank); err != nil {
		return domain.QuizBank{}, fmt.Errorf("unmarshal bank: %w", err)
	}
	if bank.ID == "" {
		bank.ID = roomID
	}
	return bank, nil
}

// SaveBank upserts a bank. Used by seeding and tests.
func (l *BankLoader) SaveBank(ctx context.Context, bank domain.QuizBank) error {
	raw, err := json.Marshal(bank)
	if err != nil {
		return fmt.Errorf("marshal bank: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
INSERT INTO quiz_banks (id, name, data) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, data = EXCLUDED.data, updated_at = now()`,
		bank.ID, bank.Name, raw)
	if err != nil {
		return fmt.Errorf("save bank: %w", err)
	}
	return nil
}
