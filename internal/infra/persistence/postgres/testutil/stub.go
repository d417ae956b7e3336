// Package testutil provides a stub database/sql driver for postgres store tests.
// It understands the small statement set the execution store issues: schema
// DDL, single-row inserts, guarded updates and filtered selects.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var stubSeq uint64

// StubConn keeps table rows in memory and records every statement.
type StubConn struct {
	mu        sync.Mutex
	Execs     []string
	Tables    map[string][]map[string]any
	FailExec  bool
	FailPing  bool
	FailQuery bool
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]map[string]any)}
	name := fmt.Sprintf("stubpg%d", atomic.AddUint64(&stubSeq, 1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return stubTx{}, nil }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

var (
	insertRe = regexp.MustCompile(`(?is)^INSERT INTO (\w+)\s*\(([^)]*)\)`)
	updateRe = regexp.MustCompile(`(?is)^UPDATE (\w+) SET (.+?) WHERE (.+)$`)
	selectRe = regexp.MustCompile(`(?is)^SELECT (.+?) FROM (\w+)(?: WHERE (.+?))?(?: ORDER BY (.+))?$`)
)

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	query = normalize(query)
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	upper := strings.ToUpper(query)
	switch {
	case strings.HasPrefix(upper, "CREATE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(upper, "INSERT"):
		return c.insert(query, args)
	case strings.HasPrefix(upper, "UPDATE"):
		return c.update(query, args)
	}
	return nil, fmt.Errorf("unsupported statement: %s", query)
}

func (c *StubConn) insert(query string, args []driver.NamedValue) (driver.Result, error) {
	m := insertRe.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(m[1])
	cols := splitColumns(m[2])
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = args[i].Value
	}
	for _, existing := range c.Tables[table] {
		if existing[cols[0]] == row[cols[0]] {
			if strings.Contains(strings.ToUpper(query), "DO NOTHING") {
				return driver.RowsAffected(0), nil
			}
			return nil, fmt.Errorf("duplicate key %v", row[cols[0]])
		}
	}
	c.Tables[table] = append(c.Tables[table], row)
	return driver.RowsAffected(1), nil
}

func (c *StubConn) update(query string, args []driver.NamedValue) (driver.Result, error) {
	m := updateRe.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("cannot parse update: %s", query)
	}
	table := strings.ToLower(m[1])
	setCols := predicateColumns(m[2], ",")
	whereCols := predicateColumns(m[3], " AND ")
	if len(setCols)+len(whereCols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch for %s", table)
	}
	where := args[len(setCols):]
	var affected int64
	for _, row := range c.Tables[table] {
		if !matches(row, whereCols, where) {
			continue
		}
		for i, col := range setCols {
			row[col] = args[i].Value
		}
		affected++
	}
	return driver.RowsAffected(affected), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	query = normalize(query)
	if c.FailQuery {
		return nil, fmt.Errorf("query fail")
	}
	m := selectRe.FindStringSubmatch(query)
	if m == nil {
		return nil, fmt.Errorf("cannot parse select: %s", query)
	}
	cols := splitColumns(m[1])
	table := strings.ToLower(m[2])
	var whereCols []string
	if m[3] != "" {
		whereCols = predicateColumns(m[3], " AND ")
	}
	var selected []map[string]any
	for _, row := range c.Tables[table] {
		if matches(row, whereCols, args) {
			selected = append(selected, row)
		}
	}
	if m[4] != "" {
		order := splitColumns(m[4])
		sort.SliceStable(selected, func(i, j int) bool {
			for _, col := range order {
				a, b := fmt.Sprint(selected[i][col]), fmt.Sprint(selected[j][col])
				if ai, ok := selected[i][col].(int64); ok {
					if bi, ok := selected[j][col].(int64); ok && ai != bi {
						return ai < bi
					}
					continue
				}
				if a != b {
					return a < b
				}
			}
			return false
		})
	}
	values := make([][]driver.Value, 0, len(selected))
	for _, row := range selected {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values}, nil
}

type stubTx struct{}

func (stubTx) Commit() error   { return nil }
func (stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func matches(row map[string]any, cols []string, args []driver.NamedValue) bool {
	for i, col := range cols {
		if i >= len(args) || fmt.Sprint(row[col]) != fmt.Sprint(args[i].Value) {
			return false
		}
	}
	return true
}

// predicateColumns extracts the column names of "col = $n" terms.
func predicateColumns(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		name, _, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		out = append(out, strings.ToLower(strings.TrimSpace(name)))
	}
	return out
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
