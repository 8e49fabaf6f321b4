package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/credits"
	"github.com/mohammad-safakhou/researcher/internal/research"
)

// Store wraps the Postgres connection. All methods use raw SQL against the
// schema in migrations/.
type Store struct {
	DB *sql.DB
}

// New builds a Store from configuration; DATABASE_URL overrides when set.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = cfg.DSN()
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// User operations

func (s *Store) CreateUser(ctx context.Context, email, hash string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2) RETURNING id`, email, hash).Scan(&id)
	return id, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Conversation operations

type Conversation struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Store) CreateConversation(ctx context.Context, userID, title string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO conversations (user_id, title) VALUES ($1,$2) RETURNING id`, userID, title).Scan(&id)
	return id, err
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE user_id=$1 ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetConversation(ctx context.Context, id, userID string) (Conversation, bool, error) {
	var c Conversation
	err := s.DB.QueryRowContext(ctx, `SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id=$1 AND user_id=$2`, id, userID).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, err
	}
	return c, true, nil
}

func (s *Store) RenameConversation(ctx context.Context, id, userID, title string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE conversations SET title=$3, updated_at=NOW() WHERE id=$1 AND user_id=$2`, id, userID, title)
	return err
}

// Surface operations

// SurfaceRecord is a persisted research surface with its owner columns.
type SurfaceRecord struct {
	ID             string
	UserID         string
	ConversationID string
	Surface        research.Surface
}

// SaveSurface persists a finished surface and refreshes its conversation's
// updated_at. It implements research.SurfaceStore.
func (s *Store) SaveSurface(ctx context.Context, userID, conversationID string, surface *research.Surface) (string, error) {
	if userID == "" || conversationID == "" {
		return "", fmt.Errorf("user_id and conversation_id must be provided")
	}
	metadata, err := json.Marshal(surface.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal surface metadata: %w", err)
	}
	var id string
	err = s.DB.QueryRowContext(ctx, `
INSERT INTO research_surfaces (user_id, conversation_id, surface_type, metadata, is_skeleton, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, userID, conversationID, surface.SurfaceType, metadata, surface.IsSkeleton, surface.CreatedAt, surface.UpdatedAt).Scan(&id)
	if err != nil {
		return "", err
	}
	if _, err := s.DB.ExecContext(ctx, `UPDATE conversations SET updated_at=NOW() WHERE id=$1`, conversationID); err != nil {
		return id, err
	}
	return id, nil
}

func (s *Store) GetSurface(ctx context.Context, id, userID string) (SurfaceRecord, bool, error) {
	var rec SurfaceRecord
	var metadata []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, conversation_id, surface_type, metadata, is_skeleton, created_at, updated_at
FROM research_surfaces
WHERE id=$1 AND user_id=$2
`, id, userID).Scan(&rec.ID, &rec.UserID, &rec.ConversationID, &rec.Surface.SurfaceType, &metadata, &rec.Surface.IsSkeleton, &rec.Surface.CreatedAt, &rec.Surface.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SurfaceRecord{}, false, nil
	}
	if err != nil {
		return SurfaceRecord{}, false, err
	}
	if err := json.Unmarshal(metadata, &rec.Surface.Metadata); err != nil {
		return SurfaceRecord{}, false, fmt.Errorf("unmarshal surface metadata: %w", err)
	}
	rec.Surface.ID = rec.ID
	return rec, true, nil
}

func (s *Store) ListSurfacesByConversation(ctx context.Context, conversationID, userID string) ([]SurfaceRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, conversation_id, surface_type, metadata, is_skeleton, created_at, updated_at
FROM research_surfaces
WHERE conversation_id=$1 AND user_id=$2
ORDER BY created_at DESC
`, conversationID, userID)
	if err != nil {
		return nil, err
	}
	return scanSurfaces(rows)
}

// ListRecentSurfaces returns the newest surfaces across all users, used to
// rebuild the search index at startup.
func (s *Store) ListRecentSurfaces(ctx context.Context, limit int) ([]SurfaceRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, conversation_id, surface_type, metadata, is_skeleton, created_at, updated_at
FROM research_surfaces
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	return scanSurfaces(rows)
}

func scanSurfaces(rows *sql.Rows) ([]SurfaceRecord, error) {
	defer rows.Close()
	var out []SurfaceRecord
	for rows.Next() {
		var rec SurfaceRecord
		var metadata []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ConversationID, &rec.Surface.SurfaceType, &metadata, &rec.Surface.IsSkeleton, &rec.Surface.CreatedAt, &rec.Surface.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &rec.Surface.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal surface metadata: %w", err)
		}
		rec.Surface.ID = rec.ID
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Credit operations. Store implements credits.Ledger.

func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.DB.QueryRowContext(ctx, `SELECT balance FROM user_credits WHERE user_id=$1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Debit subtracts amount only when the balance covers it, in one statement,
// so concurrent debits cannot both succeed on a single run's worth of
// credits. Returns the remaining balance.
func (s *Store) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive")
	}
	var remaining int64
	err := s.DB.QueryRowContext(ctx, `
UPDATE user_credits SET balance = balance - $2, updated_at = NOW()
WHERE user_id = $1 AND balance >= $2
RETURNING balance
`, userID, amount).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		balance, berr := s.Balance(ctx, userID)
		if berr != nil {
			return 0, berr
		}
		return 0, credits.ErrInsufficient{Balance: balance, Required: amount}
	}
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// Grant adds amount to the user's balance, creating the account row on first
// grant. Returns the new balance.
func (s *Store) Grant(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive")
	}
	var balance int64
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO user_credits (user_id, balance) VALUES ($1,$2)
ON CONFLICT (user_id) DO UPDATE SET balance = user_credits.balance + EXCLUDED.balance, updated_at = NOW()
RETURNING balance
`, userID, amount).Scan(&balance)
	return balance, err
}

// Refresh schedule operations

type ScheduleRecord struct {
	ID             string
	UserID         string
	ConversationID string
	Query          string
	Cron           string
	LastRunAt      *time.Time
	CreatedAt      time.Time
}

func (s *Store) CreateSchedule(ctx context.Context, rec ScheduleRecord) (string, error) {
	if rec.UserID == "" || rec.ConversationID == "" || rec.Query == "" || rec.Cron == "" {
		return "", fmt.Errorf("user_id, conversation_id, query and cron must be provided")
	}
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO refresh_schedules (user_id, conversation_id, query, cron)
VALUES ($1,$2,$3,$4)
RETURNING id
`, rec.UserID, rec.ConversationID, rec.Query, rec.Cron).Scan(&id)
	return id, err
}

func (s *Store) ListSchedules(ctx context.Context, userID string) ([]ScheduleRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, conversation_id, query, cron, last_run_at, created_at
FROM refresh_schedules
WHERE user_id=$1
ORDER BY created_at DESC
`, userID)
	if err != nil {
		return nil, err
	}
	return scanSchedules(rows)
}

// ListAllSchedules returns every schedule; the scheduler tick filters for
// due ones itself.
func (s *Store) ListAllSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, conversation_id, query, cron, last_run_at, created_at
FROM refresh_schedules
ORDER BY created_at
`)
	if err != nil {
		return nil, err
	}
	return scanSchedules(rows)
}

func scanSchedules(rows *sql.Rows) ([]ScheduleRecord, error) {
	defer rows.Close()
	var out []ScheduleRecord
	for rows.Next() {
		var rec ScheduleRecord
		var lastRun sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.ConversationID, &rec.Query, &rec.Cron, &lastRun, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if lastRun.Valid {
			t := lastRun.Time
			rec.LastRunAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSchedule(ctx context.Context, id, userID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM refresh_schedules WHERE id=$1 AND user_id=$2`, id, userID)
	return err
}

// MarkScheduleRun records that the schedule just fired.
func (s *Store) MarkScheduleRun(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE refresh_schedules SET last_run_at=NOW() WHERE id=$1`, id)
	return err
}

// ClaimIdempotency inserts (scope, key) once; the first caller gets true,
// every later caller false. Used by the worker to dedupe refresh jobs.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	if scope == "" || key == "" {
		return false, fmt.Errorf("scope and key must be provided")
	}
	var inserted bool
	err := s.DB.QueryRowContext(ctx, `INSERT INTO idempotency_keys (scope, key) VALUES ($1,$2) ON CONFLICT DO NOTHING RETURNING true`, scope, key).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return inserted, nil
}
