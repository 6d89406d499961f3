package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements CredentialStore against a users table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a connection pool and verifies connectivity.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	// Every request path touches the store once (validate) and again on
	// completion (usage/contribution); keep the pool small relative to the
	// teacher's multi-tenant sizing since this is a single-tenant dispatcher.
	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

const userColumns = `telegram_id, display_name, token_secret, contribution, credit, total_usage, daily_usage, banned, temp_ban_until`

func scanUser(row pgx.Row) (*UserRecord, error) {
	var u UserRecord
	var tempBan *time.Time
	err := row.Scan(&u.TelegramID, &u.DisplayName, &u.TokenSecret, &u.Contribution,
		&u.Credit, &u.TotalUsage, &u.DailyUsage, &u.Banned, &tempBan)
	if err != nil {
		return nil, err
	}
	if tempBan != nil {
		u.TempBanUntil = *tempBan
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (*UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`
	u, err := scanUser(s.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *PostgresStore) Validate(ctx context.Context, userID int64, secret string) (bool, error) {
	u, err := s.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if u.TokenSecret != secret {
		return false, nil
	}
	if u.Banned {
		return false, nil
	}
	if !u.TempBanUntil.IsZero() && time.Now().Before(u.TempBanUntil) {
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]*UserRecord, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY telegram_id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*UserRecord
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCredit(ctx context.Context, userID int64) (int, error) {
	query := `SELECT credit FROM users WHERE telegram_id = $1`
	var credit int
	err := s.pool.QueryRow(ctx, query, userID).Scan(&credit)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return credit, err
}

func (s *PostgresStore) AdjustCredit(ctx context.Context, userID int64, delta int) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET credit = credit + $1 WHERE telegram_id = $2`, delta, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IncrementContribution(ctx context.Context, userID int64, delta int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET contribution = contribution + $1 WHERE telegram_id = $2`, delta, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, userID int64) error {
	query := `UPDATE users SET total_usage = total_usage + 1, daily_usage = daily_usage + 1 WHERE telegram_id = $1`
	tag, err := s.pool.Exec(ctx, query, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ResetDailyUsage(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET daily_usage = 0`)
	return err
}

func (s *PostgresStore) SetTempBan(ctx context.Context, userID int64, until time.Time) error {
	var arg interface{}
	if !until.IsZero() {
		arg = until
	}
	tag, err := s.pool.Exec(ctx, `UPDATE users SET temp_ban_until = $1 WHERE telegram_id = $2`, arg, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetBanned(ctx context.Context, userID int64, banned bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET banned = $1 WHERE telegram_id = $2`, banned, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateOrRotateUser(ctx context.Context, userID int64, displayName string) (string, error) {
	existing, err := s.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	if existing != nil {
		_, err := s.pool.Exec(ctx, `UPDATE users SET display_name = $1 WHERE telegram_id = $2`, displayName, userID)
		if err != nil {
			return "", err
		}
		return existing.TokenSecret, nil
	}

	secret, err := generateSecret()
	if err != nil {
		return "", err
	}
	query := `
		INSERT INTO users (telegram_id, display_name, token_secret, contribution, credit, total_usage, daily_usage, banned)
		VALUES ($1, $2, $3, 0, 0, 0, 0, false)
	`
	if _, err := s.pool.Exec(ctx, query, userID, displayName, secret); err != nil {
		return "", err
	}
	return secret, nil
}

func (s *PostgresStore) RotateToken(ctx context.Context, userID int64) (string, error) {
	secret, err := generateSecret()
	if err != nil {
		return "", err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE users SET token_secret = $1 WHERE telegram_id = $2`, secret, userID)
	if err != nil {
		return "", err
	}
	if tag.RowsAffected() == 0 {
		return "", ErrNotFound
	}
	return secret, nil
}
