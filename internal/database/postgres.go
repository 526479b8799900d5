package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/logger"
	"github.com/lib/pq"
)

// PostgresStore is the durable Store. Read-modify-write operations run in a
// transaction holding a row lock, so they are atomic across processes.
type PostgresStore struct {
	conn   *sql.DB
	cipher *FieldCipher
}

func NewPostgresStore(ctx context.Context, dsn string, cipher *FieldCipher) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cipher.Enabled() {
		logger.InfoMsg("Applicant phone encryption enabled")
	} else {
		logger.WarnMsg("No PII_ENCRYPTION_KEY provided, applicant phone numbers will be stored unencrypted")
	}

	s := &PostgresStore{conn: conn, cipher: cipher}
	if err := s.initTables(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	logger.InfoMsg("Database connection established successfully")
	return s, nil
}

func (s *PostgresStore) Kind() string {
	return consts.StoreKindPostgres
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *PostgresStore) initTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS showcase_items (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		pdf_object_name TEXT NOT NULL,
		thumbnail_url TEXT NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL DEFAULT 'new',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_showcase_items_status_created ON showcase_items(status, created_at DESC);

	CREATE TABLE IF NOT EXISTS authorized_users (
		user_id VARCHAR(64) PRIMARY KEY,
		role VARCHAR(32) NOT NULL,
		added_by VARCHAR(64) NOT NULL DEFAULT '',
		added_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS rate_limits (
		key VARCHAR(255) PRIMARY KEY,
		count INTEGER NOT NULL DEFAULT 0,
		window_start TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metrics (
		name VARCHAR(64) PRIMARY KEY,
		count BIGINT NOT NULL DEFAULT 0,
		last_updated TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS error_spike (
		id SMALLINT PRIMARY KEY DEFAULT 1,
		timestamps BIGINT[] NOT NULL DEFAULT '{}',
		last_updated TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		student_name TEXT NOT NULL,
		grade VARCHAR(32) NOT NULL,
		phone_number TEXT NOT NULL,
		program VARCHAR(128) NOT NULL,
		comments TEXT NOT NULL DEFAULT '',
		ip_address VARCHAR(64) NOT NULL DEFAULT '',
		captcha_verified BOOLEAN NOT NULL DEFAULT FALSE,
		status VARCHAR(32) NOT NULL DEFAULT 'new',
		submitted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_applications_submitted_at ON applications(submitted_at);
	`

	if _, err := s.conn.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateShowcase(ctx context.Context, item *ShowcaseItem) (string, error) {
	if err := item.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	query := `
	INSERT INTO showcase_items (id, title, author, description, pdf_object_name, thumbnail_url, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`
	if _, err := s.conn.ExecContext(ctx, query,
		id, item.Title, item.Author, item.Description, item.PDFObjectName, item.ThumbnailURL, item.Status,
	); err != nil {
		return "", fmt.Errorf("failed to create showcase item: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateShowcaseThumbnail(ctx context.Context, id, thumbnailURL string) error {
	query := `UPDATE showcase_items SET thumbnail_url = $2, updated_at = NOW() WHERE id = $1`

	result, err := s.conn.ExecContext(ctx, query, id, thumbnailURL)
	if err != nil {
		return fmt.Errorf("failed to update showcase thumbnail: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("showcase %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListPublishedShowcases(ctx context.Context, limit int) ([]*ShowcaseItem, error) {
	query := `
	SELECT id, title, author, description, pdf_object_name, thumbnail_url, status, created_at, updated_at
	FROM showcase_items
	WHERE status = $1
	ORDER BY created_at DESC
	`
	args := []interface{}{consts.StatusPublished}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list showcase items: %w", err)
	}
	defer rows.Close()

	var items []*ShowcaseItem
	for rows.Next() {
		item := &ShowcaseItem{}
		if err := rows.Scan(
			&item.ID, &item.Title, &item.Author, &item.Description, &item.PDFObjectName,
			&item.ThumbnailURL, &item.Status, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan showcase item: %w", err)
		}
		if err := item.Validate(); err != nil {
			logger.Warn("Skipping malformed showcase record", map[string]interface{}{
				"id":    item.ID,
				"error": err.Error(),
			})
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate showcase items: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListAuthorizedUsers(ctx context.Context) ([]*AuthorizedUser, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT user_id, role, added_by, added_at FROM authorized_users ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list authorized users: %w", err)
	}
	defer rows.Close()

	var users []*AuthorizedUser
	for rows.Next() {
		user := &AuthorizedUser{}
		if err := rows.Scan(&user.UserID, &user.Role, &user.AddedBy, &user.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan authorized user: %w", err)
		}
		if err := user.Validate(); err != nil {
			logger.Warn("Skipping malformed authorized user record", map[string]interface{}{
				"user_id": user.UserID,
				"error":   err.Error(),
			})
			continue
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate authorized users: %w", err)
	}
	return users, nil
}

func (s *PostgresStore) SaveAuthorizedUser(ctx context.Context, user *AuthorizedUser) error {
	if err := user.Validate(); err != nil {
		return err
	}

	addedAt := user.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO authorized_users (user_id, role, added_by, added_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id) DO UPDATE SET role = EXCLUDED.role, added_by = EXCLUDED.added_by, added_at = EXCLUDED.added_at
	`
	if _, err := s.conn.ExecContext(ctx, query, user.UserID, user.Role, user.AddedBy, addedAt); err != nil {
		return fmt.Errorf("failed to save authorized user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRateLimit(ctx context.Context, key string, fn RateLimitUpdateFunc) (*RateLimitRecord, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Make sure a row exists to lock
	inserted, err := tx.ExecContext(ctx,
		`INSERT INTO rate_limits (key, count, window_start) VALUES ($1, 0, to_timestamp(0)) ON CONFLICT (key) DO NOTHING`,
		key,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure rate limit row: %w", err)
	}
	fresh, err := inserted.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	current := &RateLimitRecord{Key: key}
	if err := tx.QueryRowContext(ctx,
		`SELECT count, window_start FROM rate_limits WHERE key = $1 FOR UPDATE`,
		key,
	).Scan(&current.Count, &current.WindowStart); err != nil {
		return nil, fmt.Errorf("failed to lock rate limit row: %w", err)
	}

	if fresh == 1 {
		current = nil
	} else if err := current.Validate(); err != nil {
		logger.Warn("Discarding malformed rate limit record", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		current = nil
	}

	next, err := fn(current)
	if err != nil {
		return nil, err
	}
	if next == nil {
		// Nothing to write; the placeholder row (if any) is rolled back
		return current, nil
	}

	next.Key = key
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE rate_limits SET count = $2, window_start = $3 WHERE key = $1`,
		key, next.Count, next.WindowStart,
	); err != nil {
		return nil, fmt.Errorf("failed to update rate limit row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rate limit update: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) IncrementMetric(ctx context.Context, name string, at time.Time) error {
	query := `
	INSERT INTO metrics (name, count, last_updated) VALUES ($1, 1, $2)
	ON CONFLICT (name) DO UPDATE SET count = metrics.count + 1, last_updated = EXCLUDED.last_updated
	`
	if _, err := s.conn.ExecContext(ctx, query, name, at.UTC()); err != nil {
		return fmt.Errorf("failed to increment metric %s: %w", name, err)
	}
	return nil
}

// Metric returns the stored counter for name.
func (s *PostgresStore) Metric(ctx context.Context, name string) (*MetricCounter, error) {
	counter := &MetricCounter{Name: name}
	err := s.conn.QueryRowContext(ctx,
		`SELECT count, last_updated FROM metrics WHERE name = $1`, name,
	).Scan(&counter.Count, &counter.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("metric %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metric %s: %w", name, err)
	}
	return counter, nil
}

func (s *PostgresStore) UpdateErrorSpike(ctx context.Context, fn func(timestamps []int64) []int64) ([]int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO error_spike (id) VALUES (1) ON CONFLICT (id) DO NOTHING`); err != nil {
		return nil, fmt.Errorf("failed to ensure error spike row: %w", err)
	}

	var current pq.Int64Array
	if err := tx.QueryRowContext(ctx,
		`SELECT timestamps FROM error_spike WHERE id = 1 FOR UPDATE`,
	).Scan(&current); err != nil {
		return nil, fmt.Errorf("failed to lock error spike row: %w", err)
	}

	next := fn([]int64(current))
	if next == nil {
		next = []int64{}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE error_spike SET timestamps = $1, last_updated = NOW() WHERE id = 1`,
		pq.Array(next),
	); err != nil {
		return nil, fmt.Errorf("failed to update error spike row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit error spike update: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) CreateApplication(ctx context.Context, app *Application) (string, error) {
	if err := app.Validate(); err != nil {
		return "", err
	}

	phone, err := s.cipher.Seal(app.PhoneNumber)
	if err != nil {
		return "", fmt.Errorf("failed to seal phone number: %w", err)
	}

	status := app.Status
	if status == "" {
		status = consts.StatusNew
	}
	submittedAt := app.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now().UTC()
	}

	id := uuid.NewString()
	query := `
	INSERT INTO applications (id, student_name, grade, phone_number, program, comments, ip_address, captcha_verified, status, submitted_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := s.conn.ExecContext(ctx, query,
		id, app.StudentName, app.Grade, phone, app.Program, app.Comments,
		app.IPAddress, app.CaptchaVerified, status, submittedAt,
	); err != nil {
		return "", fmt.Errorf("failed to create application: %w", err)
	}
	return id, nil
}
