// Package warehouse runs guarded read-only queries against the retail
// database and describes the tables the copilot is allowed to see.
package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/copilot/pkg/schema"
)

// Envelope statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Guard rejection messages, returned verbatim in the envelope.
const (
	MsgForbidden    = "Security Error: Data modification commands are strictly forbidden."
	MsgReadOnlyOnly = "Security Error: Only SELECT or WITH queries are allowed."
)

// forbiddenKeyword matches a data-modification keyword followed by any
// whitespace, anywhere in the uppercased query. REPLACE( stays allowed.
var forbiddenKeyword = regexp.MustCompile(`(UPDATE|INSERT|DELETE|DROP|ALTER|TRUNCATE|REPLACE|CREATE)\s`)

// Envelope is the JSON result of one query. Data holds the row objects on
// success, the driver error text on a SQL error, and null when the guard
// rejected the query.
type Envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

// CheckQuery applies the read-only guard. The returned SECURITY_ERROR carries
// the user-facing message.
func CheckQuery(query string) error {
	clean := strings.ToUpper(strings.TrimSpace(query))
	if m := forbiddenKeyword.FindStringSubmatch(clean); m != nil {
		return schema.NewError(schema.ErrCodeSecurity, MsgForbidden).
			WithDetails(map[string]any{"keyword": m[1]})
	}
	if !strings.HasPrefix(clean, "SELECT") && !strings.HasPrefix(clean, "WITH") {
		return schema.NewError(schema.ErrCodeSecurity, MsgReadOnlyOnly)
	}
	return nil
}

// Warehouse is the retail database.
type Warehouse struct {
	db     *sql.DB
	logger *slog.Logger

	// conn is the only connection of db, pinned and switched to query_only
	// once the views exist. Every query runs on it.
	connMu sync.Mutex
	conn   *sql.Conn

	mu     sync.Mutex
	schema string
}

// Open connects to the SQLite file at path, creates the lowercase
// compatibility views and then makes the session read-only. A view setup
// failure is logged, not returned.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Warehouse, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open retail db %s: %s", path, err.Error()).WithCause(err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, schema.NewErrorf(schema.ErrCodeStore, "connect retail db %s: %s", path, err.Error()).WithCause(err)
	}

	w := &Warehouse{db: db, logger: logger}
	if err := w.ensureViews(ctx); err != nil {
		logger.WarnContext(ctx, "view setup failed", "error", err)
	}

	if w.conn, err = db.Conn(ctx); err != nil {
		db.Close()
		return nil, schema.NewErrorf(schema.ErrCodeStore, "pin retail db connection: %s", err.Error()).WithCause(err)
	}
	if _, err := w.conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		w.Close()
		return nil, schema.NewErrorf(schema.ErrCodeStore, "make retail db read-only: %s", err.Error()).WithCause(err)
	}
	return w, nil
}

// Close releases the pinned connection and closes the database.
func (w *Warehouse) Close() error {
	var errs *multierror.Error
	if w.conn != nil {
		errs = multierror.Append(errs, w.conn.Close())
	}
	errs = multierror.Append(errs, w.db.Close())
	return errs.ErrorOrNil()
}

func (w *Warehouse) ensureViews(ctx context.Context) error {
	for _, t := range visibleTables {
		stmt := fmt.Sprintf(`CREATE VIEW IF NOT EXISTS %s AS SELECT * FROM "%s"`, t.View, t.Table)
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create view %s: %w", t.View, err)
		}
	}
	return nil
}

// Execute guards and runs one query and returns the JSON envelope. The error
// return is reserved for envelope encoding failures; query problems are
// reported inside the envelope.
func (w *Warehouse) Execute(ctx context.Context, query string) ([]byte, error) {
	return json.Marshal(w.Run(ctx, query))
}

// Run is Execute without the encoding step.
func (w *Warehouse) Run(ctx context.Context, query string) Envelope {
	if err := CheckQuery(query); err != nil {
		w.logger.WarnContext(ctx, "query rejected", "error", err)
		return Envelope{Status: StatusError, Data: nil, Message: securityMessage(err)}
	}

	rows, err := w.query(ctx, query)
	if err != nil {
		return Envelope{Status: StatusError, Data: err.Error(), Message: "SQL Error: " + err.Error()}
	}
	return Envelope{
		Status:  StatusSuccess,
		Data:    rows,
		Message: fmt.Sprintf("Successfully retrieved %d rows.", len(rows)),
	}
}

func securityMessage(err error) string {
	if cErr, ok := err.(*schema.CopilotError); ok {
		return cErr.Message
	}
	return err.Error()
}

func (w *Warehouse) query(ctx context.Context, query string) ([]map[string]any, error) {
	w.connMu.Lock()
	defer w.connMu.Unlock()

	rows, err := w.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = jsonValue(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// jsonValue converts driver values that encoding/json would mangle.
func jsonValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	default:
		return v
	}
}
