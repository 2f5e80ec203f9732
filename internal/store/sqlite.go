// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Keeps the single-current-child invariant with a transaction plus a partial unique index

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes writers, which makes detach+insert per parent
	// serializable and keeps :memory: databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chat_rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chat_room_members (
			room_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (room_id, user_id),
			FOREIGN KEY (room_id) REFERENCES chat_rooms(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			author_user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			parent_message_id TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (room_id) REFERENCES chat_rooms(id),
			FOREIGN KEY (author_user_id) REFERENCES users(id),
			FOREIGN KEY (parent_message_id) REFERENCES messages(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_room_created
			ON messages(room_id, created_at);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_current_child
			ON messages(parent_message_id)
			WHERE parent_message_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "users",
			column: "persona",
			apply:  `ALTER TABLE users ADD COLUMN persona TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "messages",
			column: "detached_from",
			apply:  `ALTER TABLE messages ADD COLUMN detached_from TEXT`,
		},
		{
			table:  "messages",
			column: "depth",
			apply:  `ALTER TABLE messages ADD COLUMN depth INTEGER NOT NULL DEFAULT 0`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	return nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// CreateUser inserts a new user with a generated ID
func (s *SQLiteStore) CreateUser(ctx context.Context, params CreateUserParams) (*User, error) {
	user := &User{
		ID:        uuid.New().String(),
		Name:      params.Name,
		Role:      params.Role,
		Persona:   params.Persona,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, role, persona, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Role, user.Persona, formatTime(user.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}

	s.logger.Debug("created user", "id", user.ID, "name", user.Name)
	return user, nil
}

// GetUser retrieves a user by ID.
// Returns ErrNotFound if the user doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, role, persona, created_at FROM users WHERE id = ?`, id)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return user, nil
}

// CreateChatRoom inserts a new room with a generated ID
func (s *SQLiteStore) CreateChatRoom(ctx context.Context, name string) (*ChatRoom, error) {
	room := &ChatRoom{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_rooms (id, name, created_at) VALUES (?, ?, ?)`,
		room.ID, room.Name, formatTime(room.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting chat room: %w", err)
	}

	s.logger.Debug("created chat room", "id", room.ID, "name", room.Name)
	return room, nil
}

// GetChatRoom retrieves a room by ID.
// Returns ErrNotFound if the room doesn't exist.
func (s *SQLiteStore) GetChatRoom(ctx context.Context, id string) (*ChatRoom, error) {
	var room ChatRoom
	var createdAtStr string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM chat_rooms WHERE id = ?`, id,
	).Scan(&room.ID, &room.Name, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying chat room: %w", err)
	}

	room.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &room, nil
}

// AddChatRoomMembers attaches users to a room. Existing memberships are kept.
// Returns ErrNotFound if the room or any user doesn't exist.
func (s *SQLiteStore) AddChatRoomMembers(ctx context.Context, roomID string, userIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := requireRow(ctx, tx, `SELECT 1 FROM chat_rooms WHERE id = ?`, roomID); err != nil {
		return fmt.Errorf("chat room %s: %w", roomID, err)
	}

	now := formatTime(time.Now())
	for _, userID := range userIDs {
		if err := requireRow(ctx, tx, `SELECT 1 FROM users WHERE id = ?`, userID); err != nil {
			return fmt.Errorf("user %s: %w", userID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO chat_room_members (room_id, user_id, created_at) VALUES (?, ?, ?)`,
			roomID, userID, now,
		); err != nil {
			return fmt.Errorf("inserting member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing members: %w", err)
	}

	s.logger.Debug("added chat room members", "room_id", roomID, "count", len(userIDs))
	return nil
}

// ListChatRoomMembers returns the room's members in the order they joined
func (s *SQLiteStore) ListChatRoomMembers(ctx context.Context, roomID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.role, u.persona, u.created_at
		FROM chat_room_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ?
		ORDER BY m.created_at ASC, m.rowid ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

const messageColumns = `id, room_id, author_user_id, content, parent_message_id, detached_from, depth, created_at`

// GetMessage retrieves a message by ID.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// FindChildMessage returns the current child of parentID, or nil if there is none
func (s *SQLiteStore) FindChildMessage(ctx context.Context, parentID string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE parent_message_id = ?`, parentID)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying child message: %w", err)
	}
	return msg, nil
}

// PostMessage appends a message to a room. When a parent is given, its
// current child is detached in the same transaction before the insert, or
// with KeepExistingChild the post is refused with ErrChildConflict.
func (s *SQLiteStore) PostMessage(ctx context.Context, params PostMessageParams) (*Message, error) {
	msg := &Message{
		ID:              params.ID,
		RoomID:          params.RoomID,
		AuthorUserID:    params.AuthorUserID,
		Content:         params.Content,
		ParentMessageID: params.ParentMessageID,
		CreatedAt:       params.CreatedAt,
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := requireRow(ctx, tx, `SELECT 1 FROM chat_rooms WHERE id = ?`, msg.RoomID); err != nil {
		return nil, fmt.Errorf("chat room %s: %w", msg.RoomID, err)
	}
	if err := requireRow(ctx, tx, `SELECT 1 FROM users WHERE id = ?`, msg.AuthorUserID); err != nil {
		return nil, fmt.Errorf("author %s: %w", msg.AuthorUserID, err)
	}

	if msg.HasParent() {
		parentID := *msg.ParentMessageID
		var parentDepth int
		err := tx.QueryRowContext(ctx,
			`SELECT depth FROM messages WHERE id = ? AND room_id = ?`, parentID, msg.RoomID,
		).Scan(&parentDepth)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("parent message %s: %w", parentID, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("querying parent message: %w", err)
		}
		msg.Depth = parentDepth + 1

		if params.KeepExistingChild {
			var one int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM messages WHERE parent_message_id = ?`, parentID).Scan(&one)
			if err == nil {
				return nil, ErrChildConflict
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return nil, fmt.Errorf("checking current child: %w", err)
			}
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE messages SET parent_message_id = NULL, detached_from = ? WHERE parent_message_id = ?`,
			parentID, parentID,
		)
		if err != nil {
			return nil, fmt.Errorf("detaching current child: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Debug("detached current child", "parent_id", parentID)
		}
	} else {
		msg.ParentMessageID = nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, author_user_id, content, parent_message_id, depth, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, msg.AuthorUserID, msg.Content, msg.ParentMessageID, msg.Depth, formatTime(msg.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return nil, ErrChildConflict
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("posted message", "id", msg.ID, "room_id", msg.RoomID)
	return msg, nil
}

// RemoveParentMessage clears the parent link of a message, keeping the row.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) RemoveParentMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET detached_from = COALESCE(parent_message_id, detached_from), parent_message_id = NULL
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("removing parent link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAncestors walks parent links upward from id and returns the path
// oldest first.
func (s *SQLiteStore) ListAncestors(ctx context.Context, id string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE path(id, room_id, author_user_id, content, parent_message_id, detached_from, depth, created_at, hops) AS (
			SELECT `+messageColumns+`, 0 FROM messages WHERE id = ?
			UNION ALL
			SELECT m.id, m.room_id, m.author_user_id, m.content, m.parent_message_id, m.detached_from, m.depth, m.created_at, p.hops + 1
			FROM messages m
			JOIN path p ON m.id = p.parent_message_id
			WHERE p.hops + 1 < ? OR ? < 0
		)
		SELECT `+messageColumns+` FROM path ORDER BY hops ASC
	`, id, limit, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ancestors: %w", err)
	}
	defer rows.Close()

	var path []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ancestor: %w", err)
		}
		path = append(path, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, ErrNotFound
	}

	// Query yields newest first; callers want conversation order
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func requireRow(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var createdAtStr string
	if err := row.Scan(&user.ID, &user.Name, &user.Role, &user.Persona, &createdAtStr); err != nil {
		return nil, err
	}
	var err error
	user.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &user, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var parentID, detachedFrom sql.NullString
	var createdAtStr string

	if err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.AuthorUserID,
		&msg.Content,
		&parentID,
		&detachedFrom,
		&msg.Depth,
		&createdAtStr,
	); err != nil {
		return nil, err
	}

	if parentID.Valid {
		msg.ParentMessageID = &parentID.String
	}
	if detachedFrom.Valid {
		msg.DetachedFrom = &detachedFrom.String
	}

	var err error
	msg.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &msg, nil
}
