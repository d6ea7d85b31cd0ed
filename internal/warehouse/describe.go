package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Table maps a source table to the view name the model sees.
type Table struct {
	Table string
	View  string
}

// Tables outside this list (employees, territories, ...) are never described.
var visibleTables = []Table{
	{Table: "Orders", View: "orders"},
	{Table: "Order Details", View: "order_items"},
	{Table: "Products", View: "products"},
	{Table: "Customers", View: "customers"},
	{Table: "Categories", View: "categories"},
	{Table: "Suppliers", View: "suppliers"},
}

// VisibleTables returns the table to view mapping.
func VisibleTables() []Table {
	return append([]Table(nil), visibleTables...)
}

func viewFor(table string) (string, bool) {
	for _, t := range visibleTables {
		if t.Table == table {
			return t.View, true
		}
	}
	return "", false
}

// Describe renders the visible tables as
// "Table: <view>\nColumns: Col (TYPE) [PK] [FK -> view.col], ..." blocks.
// The result is computed once per Warehouse.
func (w *Warehouse) Describe(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.schema != "" {
		return w.schema, nil
	}

	w.connMu.Lock()
	desc, err := w.describe(ctx)
	w.connMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("describe schema: %w", err)
	}
	w.schema = desc
	return desc, nil
}

func (w *Warehouse) describe(ctx context.Context) (string, error) {
	rows, err := w.conn.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table','view') AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return "", err
	}
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return "", err
		}
		names = append(names, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}

	var blocks []string
	for _, name := range names {
		view, ok := viewFor(name)
		if !ok {
			continue
		}
		fks, err := w.foreignKeys(ctx, name)
		if err != nil {
			return "", err
		}
		cols, err := w.columns(ctx, name, fks)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, fmt.Sprintf("Table: %s\nColumns: %s", view, strings.Join(cols, ", ")))
	}
	return strings.Join(blocks, "\n\n"), nil
}

func (w *Warehouse) foreignKeys(ctx context.Context, table string) (map[string]string, error) {
	rows, err := w.conn.QueryContext(ctx, fmt.Sprintf(`PRAGMA foreign_key_list('%s')`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fks := map[string]string{}
	for rows.Next() {
		var (
			id, seq                     int
			target, from                string
			to                          sql.NullString
			onUpdate, onDelete, matchBy string
		)
		if err := rows.Scan(&id, &seq, &target, &from, &to, &onUpdate, &onDelete, &matchBy); err != nil {
			return nil, err
		}
		col := "PK"
		if to.Valid && to.String != "" {
			col = to.String
		}
		view, ok := viewFor(target)
		if !ok {
			view = target
		}
		fks[from] = view + "." + col
	}
	return fks, rows.Err()
}

func (w *Warehouse) columns(ctx context.Context, table string, fks map[string]string) ([]string, error) {
	rows, err := w.conn.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info('%s')`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		col := fmt.Sprintf("%s (%s)", name, typ)
		if pk > 0 {
			col += " [PK]"
		}
		if ref, ok := fks[name]; ok {
			col += " [FK -> " + ref + "]"
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}
