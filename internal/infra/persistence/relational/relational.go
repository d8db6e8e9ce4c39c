// Package relational persists memory store commits to SQL tables, one row per
// record, using version-guarded writes. The sqlite and postgres stores share it
// and differ only in their Dialect.
package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"dynastycore/internal/infra/persistence/memory"
	"dynastycore/pkg/domain"
)

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	Name        string
	PayloadType string
	Placeholder func(n int) string
}

// Tables lists the record tables in creation order.
var Tables = []string{"members", "family_trees", "invitations"}

// TableFor maps an entity type to its table.
func TableFor(entity domain.EntityType) (string, error) {
	switch entity {
	case domain.EntityMember:
		return "members", nil
	case domain.EntityTree:
		return "family_trees", nil
	case domain.EntityInvitation:
		return "invitations", nil
	default:
		return "", fmt.Errorf("no table for entity %q", entity)
	}
}

func (d Dialect) args(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = d.Placeholder(i + 1)
	}
	return out
}

// SchemaStatements returns the DDL for every record table.
func (d Dialect) SchemaStatements() []string {
	stmts := make([]string, 0, len(Tables)*2)
	for _, table := range Tables {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, tree_id TEXT NOT NULL, version BIGINT NOT NULL, payload %s NOT NULL)`, table, d.PayloadType),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_tree_idx ON %s (tree_id)`, table, table),
		)
	}
	return stmts
}

func (d Dialect) insertSQL(table string) string {
	p := d.args(4)
	return fmt.Sprintf(`INSERT INTO %s (id, tree_id, version, payload) VALUES (%s) ON CONFLICT (id) DO NOTHING`, table, strings.Join(p, ", "))
}

func (d Dialect) updateSQL(table string) string {
	p := d.args(5)
	return fmt.Sprintf(`UPDATE %s SET tree_id = %s, version = %s, payload = %s WHERE id = %s AND version = %s`, table, p[0], p[1], p[2], p[3], p[4])
}

func (d Dialect) deleteSQL(table string) string {
	p := d.args(2)
	return fmt.Sprintf(`DELETE FROM %s WHERE id = %s AND version = %s`, table, p[0], p[1])
}

// EnsureSchema creates the record tables when missing.
func EnsureSchema(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range d.SchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// LoadSnapshot reads every table into a memory snapshot.
func LoadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		Members:     map[string]domain.Member{},
		Trees:       map[string]domain.FamilyTree{},
		Invitations: map[string]domain.Invitation{},
	}
	if err := loadTable(ctx, db, "members", func(id string, version int64, payload []byte) error {
		var m domain.Member
		if err := json.Unmarshal(payload, &m); err != nil {
			return err
		}
		m.ID, m.Version = id, version
		snapshot.Members[id] = m
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	if err := loadTable(ctx, db, "family_trees", func(id string, version int64, payload []byte) error {
		var t domain.FamilyTree
		if err := json.Unmarshal(payload, &t); err != nil {
			return err
		}
		t.ID, t.Version = id, version
		snapshot.Trees[id] = t
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	if err := loadTable(ctx, db, "invitations", func(id string, version int64, payload []byte) error {
		var inv domain.Invitation
		if err := json.Unmarshal(payload, &inv); err != nil {
			return err
		}
		inv.ID, inv.Version = id, version
		snapshot.Invitations[id] = inv
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	return snapshot, nil
}

func loadTable(ctx context.Context, db *sql.DB, table string, decode func(id string, version int64, payload []byte) error) error {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT id, version, payload FROM %s`, table))
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			id      string
			version int64
			payload []byte
		)
		if err := rows.Scan(&id, &version, &payload); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if err := decode(id, version, payload); err != nil {
			return fmt.Errorf("decode %s %s: %w", table, id, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	return nil
}

// Persist writes a commit inside one SQL transaction. A write whose row version
// no longer matches yields domain.ConflictError and nothing is written.
func Persist(ctx context.Context, db *sql.DB, d Dialect, writes []memory.Write) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageError{Op: "begin", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, w := range writes {
		table, err := TableFor(w.Entity)
		if err != nil {
			return domain.StorageError{Op: "persist", Err: err}
		}
		var res sql.Result
		if w.Deleted() {
			res, err = tx.ExecContext(ctx, d.deleteSQL(table), w.ID, w.PrevVersion)
		} else {
			payload, merr := json.Marshal(w.Record)
			if merr != nil {
				return domain.StorageError{Op: "encode " + table, Err: merr}
			}
			version := w.PrevVersion + 1
			if w.PrevVersion == 0 {
				res, err = tx.ExecContext(ctx, d.insertSQL(table), w.ID, treeIDOf(w), version, payload)
			} else {
				res, err = tx.ExecContext(ctx, d.updateSQL(table), treeIDOf(w), version, payload, w.ID, w.PrevVersion)
			}
		}
		if err != nil {
			return domain.StorageError{Op: "write " + table, Err: err}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return domain.StorageError{Op: "rows affected " + table, Err: err}
		}
		if n == 0 {
			return domain.ConflictError{Entity: w.Entity, ID: w.ID}
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.StorageError{Op: "commit", Err: err}
	}
	committed = true
	return nil
}

func treeIDOf(w memory.Write) string {
	switch rec := w.Record.(type) {
	case domain.Member:
		return rec.TreeID
	case domain.FamilyTree:
		return rec.ID
	case domain.Invitation:
		return rec.TreeID
	default:
		return ""
	}
}
