// internal/database/sqlstore.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"feedline/internal/models"
	"feedline/internal/utils"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// SQLStore is the sqlx-backed store. The same queries run on PostgreSQL and
// SQLite; placeholders are written as '?' and rebound per driver.
type SQLStore struct {
	DB     *sqlx.DB
	driver string
}

// NewPostgresStore creates a new PostgreSQL database connection
func NewPostgresStore(connectionString string) (*SQLStore, error) {
	db, err := sqlx.Connect("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("connected to PostgreSQL")
	return &SQLStore{DB: db, driver: "postgres"}, nil
}

// NewSQLiteStore opens (or creates) a SQLite database file.
func NewSQLiteStore(path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database %s: %w", path, err)
	}
	// One writer at a time; transactions queue on the pool instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	slog.Info("opened SQLite database", "path", path)
	return &SQLStore{DB: db, driver: "sqlite3"}, nil
}

// Close closes the database connection
func (s *SQLStore) Close(ctx context.Context) error {
	slog.Info("closing SQL store", "driver", s.driver)
	return s.DB.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.DB.PingContext(ctx); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "database ping failed", err)
	}
	return nil
}

func (s *SQLStore) q(query string) string {
	return s.DB.Rebind(query)
}

var schema = []struct {
	name string
	ddl  string
}{
	{"users", `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			permissions TEXT NOT NULL DEFAULT 'user',
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			photo_url TEXT NOT NULL DEFAULT '',
			bio TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`},
	{"posts", `
		CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			media_url TEXT NOT NULL,
			thumbnail_url TEXT NOT NULL DEFAULT '',
			media_type TEXT NOT NULL,
			is_gated BOOLEAN NOT NULL DEFAULT FALSE,
			likes_count INTEGER NOT NULL DEFAULT 0 CHECK (likes_count >= 0),
			comments_count INTEGER NOT NULL DEFAULT 0 CHECK (comments_count >= 0),
			created_by TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`},
	{"likes", `
		CREATE TABLE IF NOT EXISTS likes (
			post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (post_id, user_id)
		)`},
	{"saved_posts", `
		CREATE TABLE IF NOT EXISTS saved_posts (
			user_id TEXT NOT NULL,
			post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
			saved_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, post_id)
		)`},
	{"comments", `
		CREATE TABLE IF NOT EXISTS comments (
			id TEXT PRIMARY KEY,
			post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
			author_id TEXT NOT NULL,
			username TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			edited_at TIMESTAMP
		)`},
	{"verification_requests", `
		CREATE TABLE IF NOT EXISTS verification_requests (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			doc_url TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			reviewed_at TIMESTAMP,
			reviewed_by TEXT NOT NULL DEFAULT ''
		)`},
	{"membership_requests", `
		CREATE TABLE IF NOT EXISTS membership_requests (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			date_of_birth TEXT NOT NULL,
			estimated_monthly INTEGER NOT NULL,
			document_url TEXT NOT NULL,
			found_via TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			reviewed_at TIMESTAMP,
			reviewed_by TEXT NOT NULL DEFAULT ''
		)`},
	{"indexes", `CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at)`},
	{"indexes", `CREATE INDEX IF NOT EXISTS idx_posts_created_by ON posts(created_by, created_at)`},
	{"indexes", `CREATE INDEX IF NOT EXISTS idx_comments_post ON comments(post_id, created_at)`},
	{"indexes", `CREATE INDEX IF NOT EXISTS idx_saved_posts_user ON saved_posts(user_id, saved_at)`},
	{"indexes", `CREATE UNIQUE INDEX IF NOT EXISTS idx_verification_pending ON verification_requests(user_id) WHERE status = 'pending'`},
	{"indexes", `CREATE INDEX IF NOT EXISTS idx_membership_status ON membership_requests(status, created_at)`},
}

// InitializeTables creates all necessary tables if they don't exist
func (s *SQLStore) InitializeTables(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.DB.ExecContext(ctx, stmt.ddl); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction. Begin and commit failures surface as
// TRANSACTION_FAILURE; errors returned by fn are passed through unchanged.
func (s *SQLStore) withTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrTransactionFailure, "failed to begin "+op+" transaction", err)
	}
	defer tx.Rollback() // Rollback is ignored if tx is committed.

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrTransactionFailure, "failed to commit "+op+" transaction", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func uniqueField(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "username"):
		return "username"
	case strings.Contains(msg, "email"):
		return "email"
	}
	return "record"
}

const userColumns = `id, username, email, password_hash, permissions, verified, photo_url, bio, created_at, updated_at`

func decodeUser(u *models.UserProfile) (*models.UserProfile, error) {
	if err := u.Validate(); err != nil {
		return nil, utils.NewAppError(utils.ErrDecode, "stored user failed validation", err)
	}
	return u, nil
}

// SaveUser inserts a new user profile.
func (s *SQLStore) SaveUser(ctx context.Context, user *models.UserProfile) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now()
	}
	user.UpdatedAt = user.CreatedAt
	if user.Permissions == "" {
		user.Permissions = models.PermissionUser
	}

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (:id, :username, :email, :password_hash, :permissions, :verified, :photo_url, :bio, :created_at, :updated_at)
	`
	if _, err := s.DB.NamedExecContext(ctx, query, user); err != nil {
		if isUniqueViolation(err) {
			return utils.NewAppError(utils.ErrDuplicate, uniqueField(err)+" already taken", err)
		}
		return utils.NewAppError(utils.ErrDatabase, "failed to save user", err)
	}
	return nil
}

func (s *SQLStore) getUserBy(ctx context.Context, column, value string) (*models.UserProfile, error) {
	var user models.UserProfile
	query := s.q(`SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = ?`)
	if err := s.DB.GetContext(ctx, &user, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, utils.NewNotFoundError("user", value)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query user by "+column, err)
	}
	return decodeUser(&user)
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*models.UserProfile, error) {
	return s.getUserBy(ctx, "id", id)
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	return s.getUserBy(ctx, "email", email)
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.UserProfile, error) {
	return s.getUserBy(ctx, "username", username)
}

// UpdateProfile applies the set fields and returns the stored profile.
func (s *SQLStore) UpdateProfile(ctx context.Context, id string, update models.ProfileUpdate) (*models.UserProfile, error) {
	sets := []string{"updated_at = ?"}
	args := []interface{}{now()}
	if update.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *update.Username)
	}
	if update.Bio != nil {
		sets = append(sets, "bio = ?")
		args = append(args, *update.Bio)
	}
	if update.PhotoURL != nil {
		sets = append(sets, "photo_url = ?")
		args = append(args, *update.PhotoURL)
	}
	args = append(args, id)

	res, err := s.DB.ExecContext(ctx, s.q(`UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, utils.NewAppError(utils.ErrDuplicate, "username already taken", err)
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to update profile", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, utils.NewNotFoundError("user", id)
	}
	return s.GetUser(ctx, id)
}

func (s *SQLStore) SetPermissions(ctx context.Context, id string, perm models.Permission) error {
	res, err := s.DB.ExecContext(ctx, s.q(`UPDATE users SET permissions = ?, updated_at = ? WHERE id = ?`), perm, now(), id)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to update permissions", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return utils.NewNotFoundError("user", id)
	}
	return nil
}
