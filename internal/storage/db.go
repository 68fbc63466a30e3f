package storage

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

	_ "modernc.org/sqlite"

	"jobtrack/internal"
	"jobtrack/internal/errs"
)

const sqliteTimeLayout = "2006-01-02 15:04:05"

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}
	// sqlite allows one writer; a single connection keeps concurrent
	// creates from failing with SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS applications (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  remoteId INTEGER UNIQUE,
  company TEXT NOT NULL,
  position TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  url TEXT NOT NULL DEFAULT '',
  notes TEXT NOT NULL DEFAULT '',
  appliedDate TEXT,
  gmailMessageId TEXT UNIQUE,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_applications_status ON applications(status);
CREATE INDEX IF NOT EXISTS idx_applications_company ON applications(company);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  kind TEXT NOT NULL,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

const applicationColumns = `id, company, position, location, status, url, notes, appliedDate, gmailMessageId, createdAt, updatedAt`

// Create inserts an application. A gmail message id that is already stored
// returns the existing record with Duplicate set instead of a second row.
func (d *DB) Create(ctx context.Context, req internal.ImportRequest) (internal.StoredApplication, error) {
	if err := validateRequest(req); err != nil {
		return internal.StoredApplication{}, err
	}

	res, err := d.conn.ExecContext(ctx, `
INSERT INTO applications (company, position, location, status, url, notes, appliedDate, gmailMessageId)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(gmailMessageId) DO NOTHING
`, strings.TrimSpace(req.Company), strings.TrimSpace(req.Position), req.Location, string(req.Status),
		req.URL, req.Notes, dayValue(req.AppliedDate), nullIfBlank(req.GmailMessageID))
	if err != nil {
		return internal.StoredApplication{}, errs.Wrap(err, "insert application")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return internal.StoredApplication{}, err
	}
	if affected == 0 {
		existing, err := d.GetApplicationByMessageID(ctx, req.GmailMessageID)
		if err != nil {
			return internal.StoredApplication{}, err
		}
		if existing == nil {
			return internal.StoredApplication{}, fmt.Errorf("application for message %s not stored", req.GmailMessageID)
		}
		return internal.StoredApplication{Application: *existing, Duplicate: true}, nil
	}

	id, err := res.LastInsertId()
	if err != nil {
		return internal.StoredApplication{}, err
	}
	app, err := d.GetApplication(ctx, id)
	if err != nil {
		return internal.StoredApplication{}, err
	}
	if app == nil {
		return internal.StoredApplication{}, errors.New("failed to insert application")
	}
	return internal.StoredApplication{Application: *app}, nil
}

func validateRequest(req internal.ImportRequest) error {
	if strings.TrimSpace(req.Company) == "" {
		return errs.NewValidation("company is required")
	}
	if strings.TrimSpace(req.Position) == "" {
		return errs.NewValidation("position is required")
	}
	if !req.Status.Valid() {
		return errs.NewValidation("invalid status %q", req.Status)
	}
	return nil
}

// List returns the applications matching filter, newest applied date first,
// plus per-status counts over the whole table.
func (d *DB) List(ctx context.Context, filter internal.ListFilter) (internal.ListResult, error) {
	var (
		where []string
		args  []any
	)
	if s := strings.ToLower(strings.TrimSpace(filter.Status)); s != "" && s != internal.StatusAll {
		where = append(where, "status = ?")
		args = append(args, s)
	}
	if c := strings.TrimSpace(filter.Company); c != "" {
		where = append(where, "company LIKE ?")
		args = append(args, "%"+c+"%")
	}
	if q := strings.TrimSpace(filter.Search); q != "" {
		where = append(where, "(company LIKE ? OR position LIKE ? OR notes LIKE ? OR location LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like, like, like)
	}

	query := `SELECT ` + applicationColumns + ` FROM applications`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY COALESCE(appliedDate, '') DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return internal.ListResult{}, err
	}
	defer rows.Close()

	var items []internal.Application
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return internal.ListResult{}, err
		}
		items = append(items, app)
	}
	if err := rows.Err(); err != nil {
		return internal.ListResult{}, err
	}

	counts, err := d.statusCounts(ctx)
	if err != nil {
		return internal.ListResult{}, err
	}
	return internal.ListResult{Items: items, Counts: counts}, nil
}

func (d *DB) statusCounts(ctx context.Context) (map[internal.Status]int, error) {
	counts := make(map[internal.Status]int, len(internal.AllStatuses))
	for _, s := range internal.AllStatuses {
		counts[s] = 0
	}

	rows, err := d.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM applications GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[internal.Status(status)] = n
	}
	return counts, rows.Err()
}

func (d *DB) GetApplication(ctx context.Context, id int64) (*internal.Application, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE id = ?`, id)
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (d *DB) GetApplicationByMessageID(ctx context.Context, messageID string) (*internal.Application, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE gmailMessageId = ?`, strings.TrimSpace(messageID))
	app, err := scanApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

// UpsertApplications stores records pulled from the remote tracker. Records
// are matched on the remote id first and on the gmail message id second.
func (d *DB) UpsertApplications(ctx context.Context, apps []internal.Application) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO applications (
  remoteId, company, position, location, status, url, notes, appliedDate, gmailMessageId, createdAt, updatedAt
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), CURRENT_TIMESTAMP)
ON CONFLICT(remoteId) DO UPDATE SET
  company=excluded.company,
  position=excluded.position,
  location=excluded.location,
  status=excluded.status,
  url=excluded.url,
  notes=excluded.notes,
  appliedDate=excluded.appliedDate,
  gmailMessageId=excluded.gmailMessageId,
  updatedAt=CURRENT_TIMESTAMP
ON CONFLICT(gmailMessageId) DO UPDATE SET
  remoteId=excluded.remoteId,
  company=excluded.company,
  position=excluded.position,
  location=excluded.location,
  status=excluded.status,
  url=excluded.url,
  notes=excluded.notes,
  appliedDate=excluded.appliedDate,
  updatedAt=CURRENT_TIMESTAMP
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range apps {
		status := a.Status
		if !status.Valid() {
			status = internal.StatusApplied
		}
		var created any
		if !a.CreatedAt.IsZero() {
			created = a.CreatedAt.UTC().Format(sqliteTimeLayout)
		}
		if _, err := stmt.ExecContext(ctx,
			a.ID, a.Company, a.Position, a.Location, string(status), a.URL, a.Notes,
			dayValue(a.AppliedDate), nullIfBlank(a.GmailMessageID), created,
		); err != nil {
			return errs.Wrapf(err, "upsert application %d", a.ID)
		}
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(r rowScanner) (internal.Application, error) {
	var (
		app                  internal.Application
		status               string
		appliedDate, gmailID sql.NullString
		createdAt, updatedAt string
	)
	if err := r.Scan(
		&app.ID, &app.Company, &app.Position, &app.Location, &status, &app.URL, &app.Notes,
		&appliedDate, &gmailID, &createdAt, &updatedAt,
	); err != nil {
		return internal.Application{}, err
	}
	app.Status = internal.Status(status)
	app.GmailMessageID = gmailID.String
	if appliedDate.Valid {
		if t, err := time.Parse(internal.DateLayout, appliedDate.String); err == nil {
			app.AppliedDate = &t
		}
	}
	app.CreatedAt = parseSQLiteTime(createdAt)
	app.UpdatedAt = parseSQLiteTime(updatedAt)
	return app, nil
}

func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func dayValue(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(internal.DateLayout)
}

func nullIfBlank(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}

// Run is one scan, commit or sync recorded in the run log.
type Run struct {
	ID        int64
	TraceID   string
	Kind      string
	Timings   map[string]float64
	Counts    map[string]int
	CreatedAt time.Time
}

func (d *DB) InsertRun(ctx context.Context, traceID, kind string, timings map[string]float64, counts map[string]int) error {
	timingsJSON, _ := json.Marshal(timings)
	countsJSON, _ := json.Marshal(counts)
	_, err := d.conn.ExecContext(ctx, `INSERT INTO runs (traceId, kind, timingsJson, countsJson) VALUES (?, ?, ?, ?)`, traceID, kind, string(timingsJSON), string(countsJSON))
	return err
}

// ListRuns returns the most recent runs first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, traceId, kind, timingsJson, countsJson, createdAt
FROM runs ORDER BY id DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		var timingsJSON, countsJSON, createdAt string
		if err := rows.Scan(&run.ID, &run.TraceID, &run.Kind, &timingsJSON, &countsJSON, &createdAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(timingsJSON), &run.Timings)
		_ = json.Unmarshal([]byte(countsJSON), &run.Counts)
		run.CreatedAt = parseSQLiteTime(createdAt)
		out = append(out, run)
	}
	return out, rows.Err()
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func (d *DB) DeleteMetadata(key string) error {
	_, err := d.conn.Exec(`DELETE FROM metadata WHERE key = ?`, key)
	return err
}
