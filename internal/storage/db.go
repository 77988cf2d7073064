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

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

type DB struct {
	conn   *sqlx.DB
	driver string
}

// Open connects to sqlite (dsn is a file path) or postgres through pgx
// (dsn is a connection URL) and creates the schema.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case "sqlite":
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, err
			}
		}
	case "pgx":
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("DATABASE_URL is required for the pgx driver")
		}
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", driver)
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		// one writer; transactions must not wait on a second connection
		conn.SetMaxOpenConns(1)
		for _, pragma := range []string{`PRAGMA journal_mode = WAL;`, `PRAGMA busy_timeout = 5000;`, `PRAGMA foreign_keys = ON;`} {
			if _, err := conn.Exec(pragma); err != nil {
				_ = conn.Close()
				return nil, err
			}
		}
	}

	db := &DB{conn: conn, driver: driver}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) Driver() string {
	return d.driver
}

const schema = `
CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  code TEXT NOT NULL,
  name TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  category TEXT NOT NULL DEFAULT '',
  price TEXT NOT NULL,
  units_per_carton INTEGER NOT NULL DEFAULT 0,
  units_per_packet INTEGER,
  packets_per_carton INTEGER,
  is_active INTEGER NOT NULL DEFAULT 1,
  updated_at TEXT NOT NULL,
  UNIQUE(tenant_id, code)
);
CREATE INDEX IF NOT EXISTS idx_products_tenant_name ON products(tenant_id, name);

CREATE TABLE IF NOT EXISTS customers (
  tenant_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  tier TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY(tenant_id, customer_id)
);

CREATE TABLE IF NOT EXISTS purchase_prices (
  tenant_id TEXT NOT NULL,
  customer_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  unit_price TEXT NOT NULL,
  purchased_at TEXT NOT NULL,
  PRIMARY KEY(tenant_id, customer_id, product_id)
);

CREATE TABLE IF NOT EXISTS conversations (
  tenant_id TEXT NOT NULL,
  conversation_id TEXT NOT NULL,
  state_json TEXT NOT NULL,
  version INTEGER NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY(tenant_id, conversation_id)
);

CREATE TABLE IF NOT EXISTS carts (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  conversation_id TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  UNIQUE(tenant_id, conversation_id)
);

CREATE TABLE IF NOT EXISTS cart_items (
  cart_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  product_code TEXT NOT NULL,
  product_name TEXT NOT NULL,
  quantity_cartons INTEGER NOT NULL,
  unit_price TEXT NOT NULL,
  discount_percent TEXT NOT NULL,
  line_total TEXT NOT NULL,
  discounted_line_total TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  PRIMARY KEY(cart_id, product_id),
  FOREIGN KEY(cart_id) REFERENCES carts(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  tenant_id TEXT NOT NULL,
  conversation_id TEXT NOT NULL,
  cart_id TEXT NOT NULL,
  lines_json TEXT NOT NULL,
  gross_total TEXT NOT NULL,
  discount_amount TEXT NOT NULL,
  subtotal TEXT NOT NULL,
  tax TEXT NOT NULL,
  total TEXT NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_conversation ON orders(tenant_id, conversation_id, created_at);

CREATE TABLE IF NOT EXISTS inbound_messages (
  id TEXT PRIMARY KEY,
  provider TEXT NOT NULL,
  message_id TEXT NOT NULL,
  tenant_id TEXT NOT NULL,
  conversation_id TEXT NOT NULL,
  subject TEXT NOT NULL DEFAULT '',
  received_at TEXT NOT NULL DEFAULT '',
  hash TEXT NOT NULL,
  status TEXT NOT NULL,
  raw_ref TEXT NOT NULL,
  result_json TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  UNIQUE(provider, message_id)
);

CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  trace_id TEXT NOT NULL,
  tenant_id TEXT NOT NULL,
  conversation_id TEXT NOT NULL,
  intent TEXT NOT NULL,
  kind TEXT NOT NULL,
  timings_json TEXT NOT NULL,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
`

func (d *DB) init() error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := d.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

// Queries runs statements either on the pool or inside a transaction.
type Queries struct {
	ext sqlx.ExtContext
}

func (d *DB) Queries() *Queries {
	return &Queries{ext: d.conn}
}

// WithTx runs fn in one transaction and commits when it returns nil. Inside fn
// use only the given Queries: a sqlite pool has a single connection.
func (d *DB) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := d.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Queries{ext: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
}

func (q *Queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *Queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (q *Queries) SetMetadata(ctx context.Context, key, value string) error {
	_, err := q.exec(ctx, `
INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, key, value, now())
	return err
}

func (q *Queries) GetMetadata(ctx context.Context, key string) (*string, error) {
	var value string
	err := q.get(ctx, &value, `SELECT value FROM metadata WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}

// Run is the trace of one processed message.
type Run struct {
	TraceID        string
	TenantID       string
	ConversationID string
	Intent         string
	Kind           string
	Timings        map[string]float64
}

func (q *Queries) InsertRun(ctx context.Context, run Run) error {
	timingsJSON, _ := json.Marshal(run.Timings)
	_, err := q.exec(ctx, `
INSERT INTO runs (id, trace_id, tenant_id, conversation_id, intent, kind, timings_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, uuid.NewString(), run.TraceID, run.TenantID, run.ConversationID, run.Intent, run.Kind, string(timingsJSON), now())
	return err
}

func (q *Queries) CountRuns(ctx context.Context, tenantID, conversationID string) (int, error) {
	var n int
	err := q.get(ctx, &n, `SELECT COUNT(*) FROM runs WHERE tenant_id = ? AND conversation_id = ?`, tenantID, conversationID)
	return n, err
}
