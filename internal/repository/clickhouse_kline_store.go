package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	domrepo "Pond/internal/domain/repository"
	"Pond/internal/domain/table"
	pkgch "Pond/pkg/clickhouse"
	applogger "Pond/pkg/logger"
)

// CHKlineStore implements KlineStore backed by ClickHouse.
type CHKlineStore struct {
	ch     *pkgch.Client
	tables []*table.Descriptor
	l      *applogger.Logger
}

// NewCHKlineStore creates a store managing tables. With no tables given every
// registered table is managed.
func NewCHKlineStore(ch *pkgch.Client, tables ...*table.Descriptor) *CHKlineStore {
	if len(tables) == 0 {
		tables = table.All()
	}
	return &CHKlineStore{ch: ch, tables: tables}
}

// SetLogger injects a structured logger.
func (s *CHKlineStore) SetLogger(l *applogger.Logger) { s.l = l }

// Init creates the database and every managed table.
func (s *CHKlineStore) Init(ctx context.Context) error {
	stmts := []string{fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.ch.Database())}
	for _, d := range s.tables {
		stmts = append(stmts, d.CreateTableSQL(s.ch.Database()))
	}
	if err := s.ch.InitSchema(ctx, stmts); err != nil {
		return err
	}
	if s.l != nil {
		s.l.Info("clickhouse schema ready",
			applogger.String("database", s.ch.Database()),
			applogger.Int("tables", len(s.tables)))
	}
	return nil
}

// Store inserts a formatted batch. The batch must carry exactly the declared
// storage columns in declared order.
func (s *CHKlineStore) Store(ctx context.Context, desc *table.Descriptor, b *table.Batch) error {
	if b.Empty() {
		return nil
	}
	if err := desc.Conforms(b); err != nil {
		return err
	}
	start := time.Now()
	name := desc.QualifiedName(s.ch.Database())
	n, err := s.ch.InsertRows(ctx, name, desc.ColumnNames(), b.Rows())
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse insert error",
				applogger.String("table", name),
				applogger.Int("written", n),
				applogger.Int("rows", b.Len()),
				applogger.Error(err),
			)
		}
		return err
	}
	if s.l != nil {
		s.l.Debug("clickhouse insert ok",
			applogger.String("table", name),
			applogger.Int("rows", n),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func symbolFilter(desc *table.Descriptor) (string, error) {
	c, ok := desc.SymbolColumn()
	if !ok {
		return "", fmt.Errorf("table %s has no symbol column", desc.Name())
	}
	return c.Name, nil
}

// TimeKeys returns the values of a datetime column for symbol in [from, to),
// ascending.
func (s *CHKlineStore) TimeKeys(ctx context.Context, desc *table.Descriptor, column, symbol string, from, to time.Time) ([]time.Time, error) {
	c, ok := desc.Column(column)
	if !ok || c.Type != table.DateTime64 {
		return nil, fmt.Errorf("time keys: %s.%s is not a datetime column", desc.Name(), column)
	}
	sym, err := symbolFilter(desc)
	if err != nil {
		return nil, err
	}
	const qtpl = `
        SELECT DISTINCT %[1]s
        FROM %[2]s
        WHERE %[3]s = ? AND %[1]s >= ? AND %[1]s < ?
        ORDER BY %[1]s ASC
    `
	q := fmt.Sprintf(qtpl, column, desc.QualifiedName(s.ch.Database()), sym)
	rows, err := s.ch.DB().QueryContext(ctx, q, symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("time keys: %w", err)
	}
	defer rows.Close()

	out := make([]time.Time, 0, 1024)
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan time key: %w", err)
		}
		out = append(out, t.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// Query returns up to limit rows for symbol with the time key in [from, to],
// ascending, keyed by storage name.
func (s *CHKlineStore) Query(ctx context.Context, desc *table.Descriptor, symbol string, from, to time.Time, limit int) ([]map[string]any, error) {
	sym, err := symbolFilter(desc)
	if err != nil {
		return nil, err
	}
	cols := desc.Columns()
	const qtpl = `
        SELECT %s
        FROM %s
        WHERE %s = ? AND %[4]s >= ? AND %[4]s <= ?
        ORDER BY %[4]s ASC
        LIMIT ?
    `
	q := fmt.Sprintf(qtpl, strings.Join(desc.ColumnNames(), ", "), desc.QualifiedName(s.ch.Database()), sym, desc.TimeKey())
	rows, err := s.ch.DB().QueryContext(ctx, q, symbol, from.UTC(), to.UTC(), limit)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse query error",
				applogger.String("table", desc.Name()),
				applogger.String("symbol", symbol),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("query %s: %w", desc.Name(), err)
	}
	defer rows.Close()

	out := make([]map[string]any, 0, limit)
	for rows.Next() {
		dest := scanTargets(cols)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", desc.Name(), err)
		}
		out = append(out, record(cols, dest))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func scanTargets(cols []table.Column) []any {
	dest := make([]any, len(cols))
	for i, c := range cols {
		switch c.Type {
		case table.String:
			dest[i] = new(string)
		case table.DateTime64:
			dest[i] = new(time.Time)
		case table.Int64:
			dest[i] = new(int64)
		default:
			dest[i] = new(float64)
		}
	}
	return dest
}

// record dereferences scanned values. NaN becomes nil so rows stay JSON-encodable.
func record(cols []table.Column, dest []any) map[string]any {
	rec := make(map[string]any, len(cols))
	for i, c := range cols {
		switch v := dest[i].(type) {
		case *string:
			rec[c.Name] = *v
		case *time.Time:
			rec[c.Name] = v.UTC()
		case *int64:
			rec[c.Name] = *v
		case *float64:
			if math.IsNaN(*v) || math.IsInf(*v, 0) {
				rec[c.Name] = nil
			} else {
				rec[c.Name] = *v
			}
		}
	}
	return rec
}

// Health pings ClickHouse.
func (s *CHKlineStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

// Close is a no-op; the client is owned by the caller.
func (s *CHKlineStore) Close() error {
	return nil
}

// DB exposes the pool for ad hoc queries.
func (s *CHKlineStore) DB() *sql.DB { return s.ch.DB() }

var _ domrepo.KlineStore = (*CHKlineStore)(nil)
