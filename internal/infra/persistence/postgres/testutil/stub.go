// Package testutil provides a stub database understanding the statements the
// relational store issues, so postgres store tests run without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// Row is one stored record keyed by column name.
type Row map[string]any

// StubConn records statements and keeps versioned rows per table.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Tables     map[string]map[string]Row
	FailPing   bool
	FailBegin  bool
	FailCommit bool
	FailTables map[string]bool
}

var stubSeq atomic.Int64

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string]map[string]Row)}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Rows returns a copy of the rows stored in table.
func (c *StubConn) Rows(table string) map[string]Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Row, len(c.Tables[table]))
	for id, row := range c.Tables[table] {
		cp := make(Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out[id] = cp
	}
	return out
}

// SetVersion forces the stored version of a row, simulating a concurrent writer.
func (c *StubConn) SetVersion(table, id string, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if row, ok := c.Tables[table][id]; ok {
		row["version"] = version
	}
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
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx. Writes are staged and applied on commit.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	staged := make(map[string]map[string]Row, len(c.Tables))
	for table, rows := range c.Tables {
		cp := make(map[string]Row, len(rows))
		for id, row := range rows {
			cp[id] = row
		}
		staged[table] = cp
	}
	prev := c.Tables
	c.Tables = staged
	return &stubTx{conn: c, prev: prev}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "INSERT INTO"):
		table, cols, err := parseInsert(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(cols) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = args[i].Value
		}
		id := fmt.Sprint(row["id"])
		if _, exists := c.table(table)[id]; exists {
			return driver.RowsAffected(0), nil
		}
		c.table(table)[id] = row
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "UPDATE"):
		table, set, where, err := parseUpdate(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		if len(set)+len(where) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", table)
		}
		row, ok := c.match(table, where, args[len(set):])
		if !ok {
			return driver.RowsAffected(0), nil
		}
		next := make(Row, len(row))
		for k, v := range row {
			next[k] = v
		}
		for i, col := range set {
			next[col] = args[i].Value
		}
		c.table(table)[fmt.Sprint(next["id"])] = next
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "DELETE FROM"):
		table, where, err := parseDelete(query)
		if err != nil {
			return nil, err
		}
		if c.FailTables[table] {
			return nil, fmt.Errorf("exec fail for %s", table)
		}
		row, ok := c.match(table, where, args)
		if !ok {
			return driver.RowsAffected(0), nil
		}
		delete(c.table(table), fmt.Sprint(row["id"]))
		return driver.RowsAffected(1), nil
	default:
		return driver.RowsAffected(0), nil
	}
}

func (c *StubConn) table(name string) map[string]Row {
	if c.Tables == nil {
		c.Tables = make(map[string]map[string]Row)
	}
	rows, ok := c.Tables[name]
	if !ok {
		rows = make(map[string]Row)
		c.Tables[name] = rows
	}
	return rows
}

func (c *StubConn) match(table string, where []string, args []driver.NamedValue) (Row, bool) {
	for _, row := range c.table(table) {
		matched := true
		for i, col := range where {
			if fmt.Sprint(row[col]) != fmt.Sprint(args[i].Value) {
				matched = false
				break
			}
		}
		if matched {
			return row, true
		}
	}
	return nil, false
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, cols, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	if c.FailTables[table] {
		return nil, fmt.Errorf("query fail for %s", table)
	}
	values := make([][]driver.Value, 0, len(c.Tables[table]))
	for _, row := range c.Tables[table] {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values}, nil
}

type stubTx struct {
	conn *StubConn
	prev map[string]map[string]Row
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		_ = t.Rollback()
		return fmt.Errorf("commit fail")
	}
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.Tables = t.prev
	return nil
}

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

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	table := strings.ToLower(strings.TrimSpace(rest[:open]))
	return table, splitColumns(rest[open+1 : closeIdx]), nil
}

// parseUpdate handles "UPDATE t SET a = $1, b = $2 WHERE c = $3 AND d = $4".
func parseUpdate(query string) (string, []string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	setIdx := strings.Index(lower, " set ")
	whereIdx := strings.Index(lower, " where ")
	if setIdx == -1 || whereIdx == -1 || whereIdx < setIdx {
		return "", nil, nil, fmt.Errorf("cannot parse update: %s", query)
	}
	table := strings.TrimSpace(lower[len("update"):setIdx])
	set := assignmentColumns(strings.Split(lower[setIdx+len(" set "):whereIdx], ","))
	where := assignmentColumns(strings.Split(lower[whereIdx+len(" where "):], " and "))
	return table, set, where, nil
}

// parseDelete handles "DELETE FROM t WHERE a = $1 AND b = $2".
func parseDelete(query string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	whereIdx := strings.Index(lower, " where ")
	if !strings.HasPrefix(lower, "delete from ") || whereIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse delete: %s", query)
	}
	table := strings.TrimSpace(lower[len("delete from "):whereIdx])
	return table, assignmentColumns(strings.Split(lower[whereIdx+len(" where "):], " and ")), nil
}

func parseSelect(query string) (string, []string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	fromIdx := strings.Index(lower, " from ")
	if !strings.HasPrefix(lower, "select ") || fromIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	rest := strings.Fields(lower[fromIdx+len(" from "):])
	if len(rest) == 0 {
		return "", nil, fmt.Errorf("cannot parse select: %s", query)
	}
	return rest[0], splitColumns(lower[len("select "):fromIdx]), nil
}

func assignmentColumns(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		col, _, _ := strings.Cut(part, "=")
		out = append(out, strings.TrimSpace(col))
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
