package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/migrations"
	"wadispatch/internal/models"
	"wadispatch/internal/security"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const maxCASAttempts = 5

// DocumentStore is the key-value document store used by the services.
type DocumentStore interface {
	Get(ctx context.Context, t Table, key string, out interface{}) error
	Put(ctx context.Context, t Table, key string, doc interface{}) error
	ConditionalPut(ctx context.Context, t Table, key string, doc interface{}, cond Condition) error
	Update(ctx context.Context, t Table, key string, set map[string]interface{}, cond Condition, out interface{}) error
	Delete(ctx context.Context, t Table, key string) error
	Query(ctx context.Context, t Table, q Query) ([]json.RawMessage, error)
	Count(ctx context.Context, t Table, q Query) (int, error)
	Scan(ctx context.Context, t Table, filter Filter, limit int) ([]json.RawMessage, error)
	AtomicIncrement(ctx context.Context, t Table, key string, doc interface{}, field string, delta, upperBound int64) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Tables() Tables
	Ping(ctx context.Context) error
}

// Query selects items through the lookup or partition index.
type Query struct {
	// Lookup matches any of the given lookup values.
	Lookup     []string
	Partition  string
	Sub        string
	SortFrom   *int64
	SortTo     *int64
	Limit      int
	Descending bool
}

// Store is the SQL-backed DocumentStore. All logical tables share one physical table.
type Store struct {
	db        *sql.DB
	driver    string
	encryptor *encryptor
	tables    Tables
	timeout   time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

// Open connects to the configured driver, applies migrations and returns the store.
func Open(ctx context.Context, cfg models.DatabaseConfig, logger *logrus.Logger) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case "", "sqlite3":
		cfg.Driver = "sqlite3"
		if err := security.ValidateFilePath(cfg.Path); err != nil {
			return nil, fmt.Errorf("invalid database path: %w", err)
		}
		file, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0600) // #nosec G304 - Path validated above
		if err != nil {
			return nil, fmt.Errorf("failed to create database file: %w", err)
		}
		if err := file.Close(); err != nil {
			return nil, fmt.Errorf("failed to close database file: %w", err)
		}
		db, err = sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(1)
	case "pgx":
		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.Apply(ctx, db, cfg.Driver); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	store, err := NewWithDB(db, cfg.Driver, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an already migrated connection.
func NewWithDB(db *sql.DB, driver string, cfg models.DatabaseConfig, logger *logrus.Logger) (*Store, error) {
	enc, err := newEncryptor(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		db:        db,
		driver:    driver,
		encryptor: enc,
		tables:    DefaultTables().WithNames(cfg.Tables),
		timeout:   constants.DocumentStoreTimeout,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Tables() Tables {
	return s.tables
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return storeError("ping", s.db.PingContext(ctx))
}

// SchemaStatus reports the migrations recorded against this connection.
func (s *Store) SchemaStatus(ctx context.Context) ([]migrations.Status, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return migrations.StatusOf(ctx, s.db, s.driver)
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// storedRow is a physical row with its body already decrypted.
type storedRow struct {
	version      int64
	body         []byte
	counter      int64
	counterField string
	expiresAt    int64
}

func (r *storedRow) live(now int64) bool {
	return r.expiresAt == 0 || r.expiresAt > now
}

// raw returns the document JSON, with the counter column folded into counter rows.
func (r *storedRow) raw() (json.RawMessage, error) {
	if r.counterField == "" {
		return json.RawMessage(r.body), nil
	}
	fields, err := r.document()
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

func (r *storedRow) document() (map[string]interface{}, error) {
	fields, err := decodeMap(r.body)
	if err != nil {
		return nil, err
	}
	if r.counterField != "" {
		fields[r.counterField] = json.Number(strconv.FormatInt(r.counter, 10))
	}
	return fields, nil
}

func (s *Store) scanRow(scan func(dest ...interface{}) error) (*storedRow, error) {
	var (
		r    storedRow
		body string
	)
	if err := scan(&r.version, &body, &r.counter, &r.counterField, &r.expiresAt); err != nil {
		return nil, err
	}
	plain, err := s.encryptor.Decrypt(body)
	if err != nil {
		return nil, err
	}
	r.body = []byte(plain)
	return &r, nil
}

const rowColumns = `version, body, counter, counter_field, expires_at`

func (s *Store) load(ctx context.Context, t Table, key string) (*storedRow, error) {
	var row *storedRow
	err := retryableDBOperation(ctx, func() error {
		q := s.rebind(`SELECT ` + rowColumns + ` FROM documents WHERE tbl = ? AND pk = ?`)
		r, err := s.scanRow(s.db.QueryRowContext(ctx, q, t.Name, key).Scan)
		if err == sql.ErrNoRows {
			row = nil
			return nil
		}
		if err != nil {
			return err
		}
		row = r
		return nil
	})
	if err != nil {
		return nil, storeError("get", err)
	}
	return row, nil
}

// Get loads a live item into out or returns ErrNotFound.
func (s *Store) Get(ctx context.Context, t Table, key string, out interface{}) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row, err := s.load(ctx, t, key)
	if err != nil {
		return err
	}
	if row == nil || !row.live(s.now().Unix()) {
		return notFound(t, key)
	}
	raw, err := row.raw()
	if err != nil {
		return storeError("get", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return storeError("get", fmt.Errorf("failed to decode document: %w", err))
	}
	return nil
}

func (s *Store) sealed(body []byte, idx indexRow) (string, string, error) {
	encBody, err := s.encryptor.Encrypt(string(body))
	if err != nil {
		return "", "", err
	}
	lookup, err := s.encryptor.EncryptForLookup(idx.lookup)
	if err != nil {
		return "", "", err
	}
	return encBody, lookup, nil
}

// Put overwrites the item.
func (s *Store) Put(ctx context.Context, t Table, key string, doc interface{}) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	body, fields, err := encodeDocument(doc)
	if err != nil {
		return storeError("put", err)
	}
	idx := indexFor(t, fields)
	encBody, lookup, err := s.sealed(body, idx)
	if err != nil {
		return storeError("put", err)
	}

	now := s.now().Unix()
	q := s.rebind(`INSERT INTO documents (tbl, pk, version, body, lookup, part, sub, sort, expires_at, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tbl, pk) DO UPDATE SET
			version = documents.version + 1,
			body = excluded.body,
			lookup = excluded.lookup,
			part = excluded.part,
			sub = excluded.sub,
			sort = excluded.sort,
			expires_at = excluded.expires_at,
			counter = 0,
			counter_field = '',
			updated_at = excluded.updated_at`)
	err = retryableDBOperation(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q, t.Name, key, encBody, lookup, idx.part, idx.sub, idx.sort, idx.expiresAt, now, now)
		return err
	})
	return storeError("put", err)
}

// write inserts when current is nil, otherwise replaces current if its version is unchanged.
// It reports false when another writer got there first.
func (s *Store) write(ctx context.Context, t Table, key string, current *storedRow, body []byte, fields map[string]interface{}) (bool, error) {
	idx := indexFor(t, fields)
	encBody, lookup, err := s.sealed(body, idx)
	if err != nil {
		return false, err
	}
	now := s.now().Unix()

	var res sql.Result
	err = retryableDBOperation(ctx, func() error {
		var err error
		if current == nil {
			res, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO documents (tbl, pk, version, body, lookup, part, sub, sort, expires_at, created_at, updated_at)
				VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (tbl, pk) DO NOTHING`),
				t.Name, key, encBody, lookup, idx.part, idx.sub, idx.sort, idx.expiresAt, now, now)
			return err
		}
		res, err = s.db.ExecContext(ctx, s.rebind(`UPDATE documents SET version = version + 1, body = ?, lookup = ?, part = ?, sub = ?, sort = ?, expires_at = ?, updated_at = ?
			WHERE tbl = ? AND pk = ? AND version = ?`),
			encBody, lookup, idx.part, idx.sub, idx.sort, idx.expiresAt, now, t.Name, key, current.version)
		return err
	})
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ConditionalPut writes doc only when cond holds for the current item.
func (s *Store) ConditionalPut(ctx context.Context, t Table, key string, doc interface{}, cond Condition) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	body, fields, err := encodeDocument(doc)
	if err != nil {
		return storeError("conditional put", err)
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.load(ctx, t, key)
		if err != nil {
			return err
		}
		existing, err := s.liveDocument(current)
		if err != nil {
			return storeError("conditional put", err)
		}
		if cond != nil && !cond(existing) {
			return preconditionFailed(t, key)
		}
		ok, err := s.write(ctx, t, key, current, body, fields)
		if err != nil {
			return storeError("conditional put", err)
		}
		if ok {
			return nil
		}
	}
	s.logger.WithFields(logrus.Fields{"table": t.Name, "key": key}).Warn("Conditional put lost every compare-and-swap attempt")
	return preconditionFailed(t, key)
}

func (s *Store) liveDocument(row *storedRow) (map[string]interface{}, error) {
	if row == nil || !row.live(s.now().Unix()) {
		return nil, nil
	}
	return row.document()
}

// Update applies set to an existing item when cond holds and decodes the result into out.
func (s *Store) Update(ctx context.Context, t Table, key string, set map[string]interface{}, cond Condition, out interface{}) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, err := s.load(ctx, t, key)
		if err != nil {
			return err
		}
		doc, err := s.liveDocument(current)
		if err != nil {
			return storeError("update", err)
		}
		if doc == nil {
			return notFound(t, key)
		}
		if cond != nil && !cond(doc) {
			return preconditionFailed(t, key)
		}

		for k, v := range set {
			if _, ok := v.(removeMarker); ok {
				delete(doc, k)
				continue
			}
			doc[k] = v
		}
		if current.counterField != "" {
			delete(doc, current.counterField)
		}

		body, fields, err := encodeDocument(doc)
		if err != nil {
			return storeError("update", err)
		}
		ok, err := s.write(ctx, t, key, current, body, fields)
		if err != nil {
			return storeError("update", err)
		}
		if !ok {
			continue
		}
		if out != nil {
			if current.counterField != "" {
				fields[current.counterField] = current.counter
				body, _ = json.Marshal(fields)
			}
			if err := json.Unmarshal(body, out); err != nil {
				return storeError("update", fmt.Errorf("failed to decode document: %w", err))
			}
		}
		return nil
	}
	s.logger.WithFields(logrus.Fields{"table": t.Name, "key": key}).Warn("Update lost every compare-and-swap attempt")
	return preconditionFailed(t, key)
}

// Delete removes the item. Deleting a missing item is not an error.
func (s *Store) Delete(ctx context.Context, t Table, key string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	err := retryableDBOperation(ctx, func() error {
		_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM documents WHERE tbl = ? AND pk = ?`), t.Name, key)
		return err
	})
	return storeError("delete", err)
}

func (s *Store) whereClause(t Table, q Query) (string, []interface{}, error) {
	clauses := []string{"tbl = ?", "(expires_at = 0 OR expires_at > ?)"}
	args := []interface{}{t.Name, s.now().Unix()}

	if len(q.Lookup) > 0 {
		marks := make([]string, 0, len(q.Lookup))
		for _, v := range q.Lookup {
			enc, err := s.encryptor.EncryptForLookup(v)
			if err != nil {
				return "", nil, err
			}
			marks = append(marks, "?")
			args = append(args, enc)
		}
		clauses = append(clauses, "lookup IN ("+strings.Join(marks, ", ")+")")
	}
	if q.Partition != "" {
		clauses = append(clauses, "part = ?")
		args = append(args, q.Partition)
	}
	if q.Sub != "" {
		clauses = append(clauses, "sub = ?")
		args = append(args, q.Sub)
	}
	if q.SortFrom != nil {
		clauses = append(clauses, "sort >= ?")
		args = append(args, *q.SortFrom)
	}
	if q.SortTo != nil {
		clauses = append(clauses, "sort <= ?")
		args = append(args, *q.SortTo)
	}
	return strings.Join(clauses, " AND "), args, nil
}

// Query returns live items matching q ordered by the sort attribute.
func (s *Store) Query(ctx context.Context, t Table, q Query) ([]json.RawMessage, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	where, args, err := s.whereClause(t, q)
	if err != nil {
		return nil, storeError("query", err)
	}
	order := "ASC"
	if q.Descending {
		order = "DESC"
	}
	stmt := `SELECT ` + rowColumns + ` FROM documents WHERE ` + where + ` ORDER BY sort ` + order + `, created_at ` + order + `, pk ASC`
	if q.Limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	var out []json.RawMessage
	err = retryableDBOperation(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, s.rebind(stmt), args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			row, err := s.scanRow(rows.Scan)
			if err != nil {
				return err
			}
			raw, err := row.raw()
			if err != nil {
				return err
			}
			out = append(out, raw)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeError("query", err)
	}
	return out, nil
}

// Count returns the number of live items matching q.
func (s *Store) Count(ctx context.Context, t Table, q Query) (int, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	where, args, err := s.whereClause(t, q)
	if err != nil {
		return 0, storeError("count", err)
	}
	var n int
	err = retryableDBOperation(ctx, func() error {
		return s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM documents WHERE `+where), args...).Scan(&n)
	})
	if err != nil {
		return 0, storeError("count", err)
	}
	return n, nil
}

// Scan walks every live item of the table and returns up to limit items accepted by filter.
func (s *Store) Scan(ctx context.Context, t Table, filter Filter, limit int) ([]json.RawMessage, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var out []json.RawMessage
	err := retryableDBOperation(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+rowColumns+` FROM documents WHERE tbl = ? AND (expires_at = 0 OR expires_at > ?) ORDER BY pk`),
			t.Name, s.now().Unix())
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			row, err := s.scanRow(rows.Scan)
			if err != nil {
				return err
			}
			if filter != nil {
				doc, err := row.document()
				if err != nil {
					return err
				}
				if !filter(doc) {
					continue
				}
			}
			raw, err := row.raw()
			if err != nil {
				return err
			}
			out = append(out, raw)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, storeError("scan", err)
	}
	return out, nil
}

// AtomicIncrement adds delta to the counter stored under field, creating the item from doc
// when absent. With upperBound > 0 the increment is refused with ErrLimitExceeded when the
// result would exceed the bound. Counters do not reset when an item expires; keys carry
// their own window.
func (s *Store) AtomicIncrement(ctx context.Context, t Table, key string, doc interface{}, field string, delta, upperBound int64) (int64, error) {
	if upperBound > 0 && delta > upperBound {
		return 0, limitExceeded(t, key, upperBound)
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	body, fields, err := encodeDocument(doc)
	if err != nil {
		return 0, storeError("increment", err)
	}
	delete(fields, field)
	body, err = json.Marshal(fields)
	if err != nil {
		return 0, storeError("increment", err)
	}
	idx := indexFor(t, fields)
	encBody, lookup, err := s.sealed(body, idx)
	if err != nil {
		return 0, storeError("increment", err)
	}

	now := s.now().Unix()
	stmt := `INSERT INTO documents (tbl, pk, version, body, lookup, part, sub, sort, counter, counter_field, expires_at, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tbl, pk) DO UPDATE SET
			counter = documents.counter + excluded.counter,
			version = documents.version + 1,
			updated_at = excluded.updated_at`
	args := []interface{}{t.Name, key, encBody, lookup, idx.part, idx.sub, idx.sort, delta, field, idx.expiresAt, now, now}
	if upperBound > 0 {
		stmt += ` WHERE documents.counter + excluded.counter <= ?`
		args = append(args, upperBound)
	}
	stmt += ` RETURNING counter`

	var counter int64
	limited := false
	err = retryableDBOperation(ctx, func() error {
		err := s.db.QueryRowContext(ctx, s.rebind(stmt), args...).Scan(&counter)
		if err == sql.ErrNoRows {
			limited = true
			return nil
		}
		return err
	})
	if err != nil {
		return 0, storeError("increment", err)
	}
	if limited {
		return 0, limitExceeded(t, key, upperBound)
	}
	return counter, nil
}

// DeleteExpired removes every item whose TTL has passed and returns how many were removed.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var n int64
	err := retryableDBOperation(ctx, func() error {
		res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM documents WHERE expires_at > 0 AND expires_at <= ?`), now.Unix())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, storeError("delete expired", err)
	}
	return n, nil
}
