package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrWrite wraps every failed append. Callers treat it as fatal.
	ErrWrite = errors.New("ledger write failed")
	// ErrNotFound is returned by Get for an unknown id.
	ErrNotFound = errors.New("ledger entry not found")
)

// Status of one logged attempt.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Entry is one row of the send log.
type Entry struct {
	ID          int64
	CreatedAt   time.Time
	BatchID     string
	Destination string
	Recipients  []string // Intended recipients
	SendTo      []string // Actual targets after test mode substitution
	MatchKeys   []string
	Part        string // "2/5"
	FileName    string
	DocCount    int
	Status      Status
	Error       string
	ResolvesID  int64 // Earlier pending/failed row this one settles, 0 if none
}

// Stats are aggregate counts. Pending and Failed only count rows no later row resolves.
type Stats struct {
	Total   int
	Sent    int
	Pending int
	Failed  int
}

// Filter narrows History.
type Filter struct {
	BatchID     string
	Status      Status
	Destination string // Substring, case-insensitive
	Limit       int
}

// Store is the append-only send log. One writer at a time.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Connect opens the database for d at path ("" or ":memory:" for in-memory) and pings it.
func Connect(ctx context.Context, d Dialect, path string) (*sql.DB, error) {
	dsn := path
	if path == ":memory:" && d == DuckDB {
		dsn = ""
	}
	if dsn != "" && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory for %s: %w", dsn, err)
		}
	}
	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s ledger (%s): %w", d, path, err)
	}
	// Single writer, and keeps an in-memory database alive across calls.
	db.SetMaxOpenConns(1)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s ledger (%s): %w", d, path, err)
	}
	return db, nil
}

// Open initializes the schema on db and returns a Store.
func Open(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	if err := InitializeSchema(ctx, db, d); err != nil {
		return nil, err
	}
	return newStore(db, d), nil
}

func newStore(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
}

// Append inserts e as a new row and returns its id. e.ID and e.CreatedAt are ignored.
func (s *Store) Append(ctx context.Context, e Entry) (int64, error) {
	query := `
        INSERT INTO send_log (created_at, batch_id, destination, recipients, send_to, match_keys, part, file_name, doc_count, status, error, resolves_id)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id;
    `
	var id int64
	err := s.db.QueryRowContext(ctx, query,
		s.now(),
		e.BatchID,
		e.Destination,
		encodeList(e.Recipients),
		encodeList(e.SendTo),
		encodeList(e.MatchKeys),
		e.Part,
		e.FileName,
		e.DocCount,
		string(e.Status),
		sql.NullString{String: e.Error, Valid: e.Error != ""},
		e.ResolvesID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: append %s entry for %s: %v", ErrWrite, e.Status, e.FileName, err)
	}
	return id, nil
}

// openCondition selects rows no later row resolves.
const openCondition = `NOT EXISTS (SELECT 1 FROM send_log r WHERE r.resolves_id = s.id)`

// FetchStats counts all rows, sent rows, and still-open pending and failed rows.
func (s *Store) FetchStats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM send_log;`).Scan(&st.Total); err != nil {
		return Stats{}, fmt.Errorf("count send log: %w", err)
	}

	query := `
        SELECT s.status, COUNT(*)
        FROM send_log s
        WHERE s.status = ? OR ` + openCondition + `
        GROUP BY s.status;
    `
	rows, err := s.db.QueryContext(ctx, query, string(StatusSent))
	if err != nil {
		return Stats{}, fmt.Errorf("query send log stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, fmt.Errorf("scan send log stats: %w", err)
		}
		switch Status(status) {
		case StatusSent:
			st.Sent = n
		case StatusPending:
			st.Pending = n
		case StatusFailed:
			st.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate send log stats: %w", err)
	}
	return st, nil
}

const selectColumns = `s.id, s.created_at, s.batch_id, s.destination, s.recipients, s.send_to, s.match_keys, s.part, s.file_name, s.doc_count, s.status, s.error, s.resolves_id`

// FetchPending returns open pending and failed rows of batchID, oldest first.
// An empty batchID returns the open rows of every batch.
func (s *Store) FetchPending(ctx context.Context, batchID string) ([]Entry, error) {
	query := `SELECT ` + selectColumns + `
        FROM send_log s
        WHERE s.status IN (?, ?) AND ` + openCondition
	args := []any{string(StatusPending), string(StatusFailed)}
	if batchID != "" {
		query += ` AND s.batch_id = ?`
		args = append(args, batchID)
	}
	return s.queryEntries(ctx, query+` ORDER BY s.id ASC;`, args...)
}

// Get returns the row with id.
func (s *Store) Get(ctx context.Context, id int64) (Entry, error) {
	entries, err := s.queryEntries(ctx, `SELECT `+selectColumns+` FROM send_log s WHERE s.id = ?;`, id)
	if err != nil {
		return Entry{}, err
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return entries[0], nil
}

// History returns rows matching f, newest first.
func (s *Store) History(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT ` + selectColumns + ` FROM send_log s`
	conditions := []string{}
	args := []any{}
	if f.BatchID != "" {
		conditions = append(conditions, "s.batch_id = ?")
		args = append(args, f.BatchID)
	}
	if f.Status != "" {
		conditions = append(conditions, "s.status = ?")
		args = append(args, string(f.Status))
	}
	if f.Destination != "" {
		conditions = append(conditions, "LOWER(s.destination) LIKE ?")
		args = append(args, "%"+strings.ToLower(f.Destination)+"%")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY s.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.queryEntries(ctx, query+";", args...)
}

// Clear deletes every row. Only call after operator confirmation.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM send_log;`); err != nil {
		return fmt.Errorf("%w: clear send log: %v", ErrWrite, err)
	}
	return nil
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query send log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var recipients, sendTo, matchKeys, status string
		var errText sql.NullString
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.BatchID, &e.Destination, &recipients, &sendTo, &matchKeys,
			&e.Part, &e.FileName, &e.DocCount, &status, &errText, &e.ResolvesID); err != nil {
			return nil, fmt.Errorf("scan send log row: %w", err)
		}
		e.Status = Status(status)
		e.Error = errText.String
		e.Recipients = decodeList(recipients)
		e.SendTo = decodeList(sendTo)
		e.MatchKeys = decodeList(matchKeys)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate send log rows: %w", err)
	}
	return out, nil
}

func encodeList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(s string) []string {
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil || len(v) == 0 {
		return nil
	}
	return v
}
