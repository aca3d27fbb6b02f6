package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/flashbots/inbox-arena/protocol"
	"github.com/lib/pq"
)

// PostgresStore keeps records in an insert-only session_archives table.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig describes a database by its parts, for config files that
// would rather not carry a raw DSN.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders the settings as a postgres:// URL. Port defaults to 5432 and
// sslmode to disable.
func (c PostgresConfig) DSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u.RawQuery = url.Values{"sslmode": {sslMode}}.Encode()
	return u.String()
}

// NewPostgresStore connects, pings and migrates.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_archives (
		session_id VARCHAR(64) PRIMARY KEY,
		status VARCHAR(16) NOT NULL,
		members TEXT[] NOT NULL,
		completed_at TIMESTAMP WITH TIME ZONE NOT NULL,
		final_scores JSONB NOT NULL,
		record JSONB NOT NULL,
		archived_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_session_archives_completed ON session_archives(completed_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save inserts the record. Existing rows are never updated.
func (s *PostgresStore) Save(ctx context.Context, r *Record) error {
	if err := r.validate(); err != nil {
		return err
	}
	record, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	scores, err := json.Marshal(r.FinalScores)
	if err != nil {
		return fmt.Errorf("encoding scores: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
	INSERT INTO session_archives (session_id, status, members, completed_at, final_scores, record)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (session_id) DO NOTHING
	`, r.SessionID, string(r.Status), pq.Array(r.Members), r.CompletedAt, scores, record)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return protocol.Errorf(protocol.ReasonConflict, "session %s already archived", r.SessionID)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT record FROM session_archives WHERE session_id = $1", sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, protocol.Errorf(protocol.ReasonNotFound, "session %s not archived", sessionID)
	}
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, status, members, completed_at, final_scores, jsonb_array_length(record->'rounds')
		FROM session_archives
		ORDER BY completed_at DESC, session_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum    Summary
			status string
			scores []byte
			rounds sql.NullInt64
		)
		if err := rows.Scan(&sum.SessionID, &status, pq.Array(&sum.Members), &sum.CompletedAt, &scores, &rounds); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		sum.Status = protocol.SessionStatus(status)
		sum.Rounds = int(rounds.Int64)
		if err := json.Unmarshal(scores, &sum.FinalScores); err != nil {
			return nil, fmt.Errorf("decoding scores: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
