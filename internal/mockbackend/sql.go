package mockbackend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/adhocracy/adhocracy-client/pkg/resource"
)

// Supported database/sql driver names. The drivers themselves are registered
// by the binary (go-sqlite3, pgx/v5/stdlib and lib/pq).
const (
	DriverSQLite3  = "sqlite3"
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
)

// DefaultTableName is the table resources are kept in
const DefaultTableName = "resources"

// SQLStore keeps resources as JSON documents in a single table
type SQLStore struct {
	db        *sql.DB
	driver    string
	tableName string
}

// OpenSQLStore opens dsn with driver and prepares the table
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	if driver == DriverSQLite3 {
		// sqlite serializes writers anyway
		db.SetMaxOpenConns(1)
	}

	store, err := NewSQLStore(ctx, db, driver)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database and creates the table if needed
func NewSQLStore(ctx context.Context, db *sql.DB, driver string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite3, DriverPgx, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	s := &SQLStore{db: db, driver: driver, tableName: DefaultTableName}
	if err := s.createTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create %s table: %w", s.tableName, err)
	}
	return s, nil
}

func (s *SQLStore) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			path TEXT PRIMARY KEY,
			parent TEXT NOT NULL,
			content TEXT NOT NULL
		)
	`, s.tableName)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return err
	}

	indexQuery := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS idx_%s_parent ON %s (parent)
	`, s.tableName, s.tableName)
	_, err := s.db.ExecContext(ctx, indexQuery)
	return err
}

// placeholder returns the n-th (1-based) bind parameter for the driver
func (s *SQLStore) placeholder(n int) string {
	if s.driver == DriverPgx || s.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Get loads the resource at path
func (s *SQLStore) Get(ctx context.Context, path string) (*resource.Resource, error) {
	query := fmt.Sprintf(`SELECT content FROM %s WHERE path = %s`, s.tableName, s.placeholder(1))

	var content string
	err := s.db.QueryRowContext(ctx, query, path).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database query error: %w", err)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(content), &obj); err != nil {
		return nil, fmt.Errorf("corrupt resource %s: %w", path, err)
	}
	return resource.FromObject(obj)
}

// Children lists the direct children of parent ordered by path
func (s *SQLStore) Children(ctx context.Context, parent string) ([]string, error) {
	query := fmt.Sprintf(`SELECT path FROM %s WHERE parent = %s ORDER BY path`, s.tableName, s.placeholder(1))

	rows, err := s.db.QueryContext(ctx, query, parent)
	if err != nil {
		return nil, fmt.Errorf("database query error: %w", err)
	}
	defer rows.Close()

	var children []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("database scan error: %w", err)
		}
		children = append(children, path)
	}
	return children, rows.Err()
}

// Apply upserts all resources in one database transaction
func (s *SQLStore) Apply(ctx context.Context, resources []*resource.Resource) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (path, parent, content) VALUES (%s, %s, %s)
		ON CONFLICT (path) DO UPDATE SET content = excluded.content
	`, s.tableName, s.placeholder(1), s.placeholder(2), s.placeholder(3))

	for _, r := range resources {
		content, err := json.Marshal(r)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to encode %s: %w", r.Path, err)
		}
		if _, err := tx.ExecContext(ctx, query, r.Path, parentOf(r.Path), string(content)); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return fmt.Errorf("failed to store %s: %w, rollback failed: %v", r.Path, err, rbErr)
			}
			return fmt.Errorf("failed to store %s: %w", r.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Driver returns the database/sql driver name
func (s *SQLStore) Driver() string {
	return s.driver
}

func isSQLDriver(name string) bool {
	switch strings.ToLower(name) {
	case DriverSQLite3, DriverPgx, DriverPostgres:
		return true
	}
	return false
}
