package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite. Embeddings are
// stored as little-endian float32 BLOBs; similarity ranking happens in the
// application layer, so no vector extension is needed.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore connected to the given database path.
// The path should be a file path (e.g., "./momentum.db") or ":memory:" for an
// in-memory database.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	// Enable WAL mode and foreign keys for better performance and data integrity
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// InitSchema creates the collections if they don't exist.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS repositories (
			repo_ref        TEXT PRIMARY KEY,
			status          TEXT NOT NULL,
			days_since      REAL NOT NULL DEFAULT 0,
			active_proposal TEXT,
			last_evaluation TEXT,
			unblocks        INTEGER NOT NULL DEFAULT 0,
			issue_url       TEXT NOT NULL DEFAULT '',
			cycle_id        TEXT NOT NULL DEFAULT '',
			error           TEXT NOT NULL DEFAULT '',
			metadata        TEXT,
			updated_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);

		CREATE TABLE IF NOT EXISTS proposals (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id    TEXT NOT NULL,
			repo_ref    TEXT NOT NULL,
			target_file TEXT NOT NULL,
			description TEXT NOT NULL,
			code_change TEXT NOT NULL,
			title       TEXT NOT NULL,
			body        TEXT NOT NULL,
			evaluation  TEXT,
			status      TEXT NOT NULL,
			created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);
		CREATE INDEX IF NOT EXISTS idx_proposals_cycle ON proposals(cycle_id);

		CREATE TABLE IF NOT EXISTS memories (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			text       TEXT NOT NULL,
			type       TEXT NOT NULL,
			repo_ref   TEXT NOT NULL DEFAULT '',
			embedding  BLOB,
			metadata   TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// UpsertRepository merge-writes a repository record keyed by normalized
// reference. Last writer wins; the unblock counter is preserved.
func (s *SQLiteStore) UpsertRepository(ctx context.Context, rec RepositoryRecord) error {
	proposalJSON, err := marshalNullable(rec.ActiveProposal)
	if err != nil {
		return fmt.Errorf("failed to encode proposal: %w", err)
	}
	evalJSON, err := marshalNullable(rec.LastEvaluation)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation: %w", err)
	}
	metaJSON, err := marshalNullable(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO repositories (repo_ref, status, days_since, active_proposal, last_evaluation, issue_url, cycle_id, error, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo_ref) DO UPDATE SET
			status          = excluded.status,
			days_since      = excluded.days_since,
			active_proposal = excluded.active_proposal,
			last_evaluation = excluded.last_evaluation,
			issue_url       = excluded.issue_url,
			cycle_id        = excluded.cycle_id,
			error           = excluded.error,
			metadata        = COALESCE(excluded.metadata, repositories.metadata),
			updated_at      = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.RepoRef, string(rec.Status), rec.DaysSince, nullableText(proposalJSON), nullableText(evalJSON),
		rec.IssueURL, rec.CycleID, rec.Error, nullableText(metaJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert repository: %w", err)
	}
	return nil
}

// GetRepository returns the record for a normalized reference.
func (s *SQLiteStore) GetRepository(ctx context.Context, repoRef string) (*RepositoryRecord, error) {
	query := `
		SELECT repo_ref, status, days_since, active_proposal, last_evaluation, unblocks, issue_url, cycle_id, error, metadata, updated_at
		FROM repositories
		WHERE repo_ref = ?
	`

	rec, err := scanSQLiteRepository(s.db.QueryRowContext(ctx, query, repoRef))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return rec, nil
}

// ListRepositories returns all tracked repositories, most recently updated first.
func (s *SQLiteStore) ListRepositories(ctx context.Context) ([]RepositoryRecord, error) {
	query := `
		SELECT repo_ref, status, days_since, active_proposal, last_evaluation, unblocks, issue_url, cycle_id, error, metadata, updated_at
		FROM repositories
		ORDER BY updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var records []RepositoryRecord
	for rows.Next() {
		rec, err := scanSQLiteRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating repositories: %w", err)
	}
	return records, nil
}

// DeleteRepository removes a repository from tracking.
func (s *SQLiteStore) DeleteRepository(ctx context.Context, repoRef string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM repositories WHERE repo_ref = ?`, repoRef); err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	return nil
}

// IncrementUnblocks bumps the unblock counter for a repository.
func (s *SQLiteStore) IncrementUnblocks(ctx context.Context, repoRef string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE repositories SET unblocks = unblocks + 1 WHERE repo_ref = ?`, repoRef); err != nil {
		return fmt.Errorf("failed to increment unblocks: %w", err)
	}
	return nil
}

// AppendProposal appends one entry to the proposal history.
func (s *SQLiteStore) AppendProposal(ctx context.Context, rec ProposalRecord) error {
	evalJSON, err := marshalNullable(rec.Evaluation)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation: %w", err)
	}

	query := `
		INSERT INTO proposals (cycle_id, repo_ref, target_file, description, code_change, title, body, evaluation, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	p := rec.Proposal
	_, err = s.db.ExecContext(ctx, query,
		p.CycleID, p.RepoRef, p.TargetFile, p.Description, p.CodeChange, p.Title, p.Body,
		nullableText(evalJSON), string(rec.Status))
	if err != nil {
		return fmt.Errorf("failed to append proposal: %w", err)
	}
	return nil
}

// ProposalByCycle returns the history entry for a cycle id.
func (s *SQLiteStore) ProposalByCycle(ctx context.Context, cycleID string) (*ProposalRecord, error) {
	query := `
		SELECT id, cycle_id, repo_ref, target_file, description, code_change, title, body, evaluation, status, created_at
		FROM proposals
		WHERE cycle_id = ?
		ORDER BY id DESC
		LIMIT 1
	`

	var (
		rec       ProposalRecord
		evalJSON  sql.NullString
		status    string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, query, cycleID).Scan(
		&rec.ID, &rec.Proposal.CycleID, &rec.Proposal.RepoRef, &rec.Proposal.TargetFile,
		&rec.Proposal.Description, &rec.Proposal.CodeChange, &rec.Proposal.Title, &rec.Proposal.Body,
		&evalJSON, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal: %w", err)
	}
	rec.Status = ProposalStatus(status)
	rec.CreatedAt, _ = parseTimestamp(createdAt)
	if evalJSON.Valid {
		if err := unmarshalNullable([]byte(evalJSON.String), &rec.Evaluation); err != nil {
			return nil, fmt.Errorf("failed to decode evaluation: %w", err)
		}
	}
	return &rec, nil
}

// SetProposalStatus transitions a history entry.
func (s *SQLiteStore) SetProposalStatus(ctx context.Context, cycleID string, status ProposalStatus) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE proposals SET status = ? WHERE cycle_id = ?`, string(status), cycleID); err != nil {
		return fmt.Errorf("failed to set proposal status: %w", err)
	}
	return nil
}

// AddMemory persists one memory and returns its id.
func (s *SQLiteStore) AddMemory(ctx context.Context, m Memory) (int64, error) {
	metaJSON, err := marshalNullable(m.Metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO memories (text, type, repo_ref, embedding, metadata)
		VALUES (?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(ctx, query,
		m.Text, string(m.Type), m.RepoRef, encodeVector(m.Embedding), nullableText(metaJSON))
	if err != nil {
		return 0, fmt.Errorf("failed to add memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read memory id: %w", err)
	}
	return id, nil
}

// RecentMemories returns up to limit memories, newest first.
func (s *SQLiteStore) RecentMemories(ctx context.Context, limit int) ([]Memory, error) {
	query := `
		SELECT id, text, type, repo_ref, embedding, metadata, created_at
		FROM memories
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		var (
			m         Memory
			typ       string
			blob      []byte
			metaJSON  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&m.ID, &m.Text, &typ, &m.RepoRef, &blob, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		m.Type = MemoryType(typ)
		m.Embedding = decodeVector(blob)
		m.CreatedAt, _ = parseTimestamp(createdAt)
		if metaJSON.Valid {
			if err := unmarshalMap([]byte(metaJSON.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}
	return memories, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanSQLiteRepository reads one repositories row.
func scanSQLiteRepository(row interface{ Scan(...any) error }) (*RepositoryRecord, error) {
	var (
		rec          RepositoryRecord
		status       string
		proposalJSON sql.NullString
		evalJSON     sql.NullString
		metaJSON     sql.NullString
		updatedAt    string
	)
	err := row.Scan(&rec.RepoRef, &status, &rec.DaysSince, &proposalJSON, &evalJSON,
		&rec.Unblocks, &rec.IssueURL, &rec.CycleID, &rec.Error, &metaJSON, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.UpdatedAt, _ = parseTimestamp(updatedAt)
	if proposalJSON.Valid {
		if err := unmarshalNullable([]byte(proposalJSON.String), &rec.ActiveProposal); err != nil {
			return nil, fmt.Errorf("failed to decode proposal: %w", err)
		}
	}
	if evalJSON.Valid {
		if err := unmarshalNullable([]byte(evalJSON.String), &rec.LastEvaluation); err != nil {
			return nil, fmt.Errorf("failed to decode evaluation: %w", err)
		}
	}
	if metaJSON.Valid {
		if err := unmarshalMap([]byte(metaJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &rec, nil
}

// nullableText maps empty JSON to SQL NULL.
func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// encodeVector converts a float32 slice to a byte slice for storage.
// Each float32 is encoded as 4 bytes in little-endian format.
func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector converts a byte slice back to a float32 slice.
// Each 4 bytes are decoded as one float32 in little-endian format.
func decodeVector(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		v[i] = math.Float32frombits(bits)
	}
	return v
}

// parseTimestamp parses a SQLite timestamp string to time.Time.
// SQLite stores timestamps as TEXT in ISO8601/RFC3339 format.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02T15:04:05.000",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// Ensure SQLiteStore implements the Store interface
var _ Store = (*SQLiteStore)(nil)
