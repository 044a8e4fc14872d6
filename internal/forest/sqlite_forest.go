package forest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/agentic-research/canopy/api"
)

// SQLiteStore keeps the forest in one SQLite table described by an
// api.Binding. The bulk relocation of a moved subtree is a single
// server-side statement:
//
//	UPDATE t SET path = :new || substr(path, :cut)
//	WHERE id <> :self AND path LIKE :match ESCAPE '\'
//
// substr, not replace(): replace() would also rewrite an accidental
// later occurrence of the old prefix inside a descendant's relative
// sub-path, while substr cuts exactly the leading portion.
// SaveWithRewrite runs that statement and the record's own update in
// one transaction, so readers never observe a torn subtree.
type SQLiteStore struct {
	db      *sql.DB
	binding api.Binding
}

// OpenSQLite opens (or creates) the database at path and ensures the
// bound table exists. WAL and foreign keys are always on: the cascade
// delete the forest model assumes is the FOREIGN KEY ... ON DELETE
// CASCADE on the parent column.
func OpenSQLite(path string, binding api.Binding) (*SQLiteStore, error) {
	if err := binding.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close() // ignore error
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, binding: binding}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close() // ignore error
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	b := s.binding
	payload := ""
	if b.PayloadColumn != "" {
		payload = fmt.Sprintf(",\n\t\t\t%s TEXT", b.PayloadColumn)
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			%[2]s INTEGER PRIMARY KEY,
			%[3]s INTEGER REFERENCES %[1]s(%[2]s) ON DELETE CASCADE,
			%[4]s TEXT%[5]s
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_%[4]s ON %[1]s(%[4]s);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_%[3]s ON %[1]s(%[3]s);
	`, b.Table, b.IDColumn, b.ParentColumn, b.PathColumn, payload)
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// DB exposes the connection for custom queries against the bound table.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) columns() string {
	b := s.binding
	cols := []string{b.IDColumn, b.ParentColumn, b.PathColumn}
	if b.PayloadColumn != "" {
		cols = append(cols, b.PayloadColumn)
	}
	return strings.Join(cols, ", ")
}

func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Node, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		s.columns(), s.binding.Table, s.binding.IDColumn)
	n, err := scanNode(s.db.QueryRowContext(ctx, query, id), s.binding)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return n, err
}

func (s *SQLiteStore) GetMany(ctx context.Context, ids []int64) ([]*Node, error) {
	if len(ids) == 0 {
		return []*Node{}, nil
	}
	args := make([]any, len(ids))
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args[i] = id
		placeholders[i] = "?"
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		s.columns(), s.binding.Table, s.binding.IDColumn, strings.Join(placeholders, ","))

	found, err := s.queryNodes(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	// Re-impose the requested order.
	byID := make(map[int64]*Node, len(found))
	for _, n := range found {
		byID[n.ID] = n
	}
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := byID[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *SQLiteStore) ByParent(ctx context.Context, parentID *int64) ([]*Node, error) {
	b := s.binding
	if parentID == nil {
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NULL ORDER BY %s",
			s.columns(), b.Table, b.ParentColumn, b.IDColumn)
		return s.queryNodes(ctx, query)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
		s.columns(), b.Table, b.ParentColumn, b.IDColumn)
	return s.queryNodes(ctx, query, *parentID)
}

func (s *SQLiteStore) ByPathPrefix(ctx context.Context, prefix string) ([]*Node, error) {
	b := s.binding
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s LIKE ? ESCAPE '\' ORDER BY %s`,
		s.columns(), b.Table, b.PathColumn, b.IDColumn)
	return s.queryNodes(ctx, query, escapeLike(prefix)+"%")
}

func (s *SQLiteStore) ChildExists(ctx context.Context, parentID int64) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ? LIMIT 1",
		s.binding.Table, s.binding.ParentColumn)
	var one int
	err := s.db.QueryRowContext(ctx, query, parentID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("child exists: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) Create(ctx context.Context, n *Node) error {
	b := s.binding
	cols := []string{b.IDColumn, b.ParentColumn, b.PathColumn}
	args := []any{n.ID, nullableInt(n.ParentID), nullableString(n.Path)}
	if b.PayloadColumn != "" {
		payload, err := marshalPayload(n.Payload)
		if err != nil {
			return err
		}
		cols = append(cols, b.PayloadColumn)
		args = append(args, payload)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.Table, strings.Join(cols, ", "), strings.TrimSuffix(strings.Repeat("?,", len(cols)), ","))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %d: %w", n.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveWithRewrite(ctx context.Context, n *Node, rw *Rewrite) error {
	b := s.binding
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	if rw != nil {
		relocate := fmt.Sprintf(`UPDATE %[1]s SET %[2]s = ? || substr(%[2]s, ?) WHERE %[3]s <> ? AND %[2]s LIKE ? ESCAPE '\'`,
			b.Table, b.PathColumn, b.IDColumn)
		if _, err := tx.ExecContext(ctx, relocate,
			rw.New, len(rw.Old)+1, n.ID, escapeLike(rw.Match)+"%"); err != nil {
			return fmt.Errorf("relocate subtree of %d: %w", n.ID, err)
		}
	}

	update := fmt.Sprintf("UPDATE %s SET %s = ?, %s = ? WHERE %s = ?",
		b.Table, b.ParentColumn, b.PathColumn, b.IDColumn)
	res, err := tx.ExecContext(ctx, update, nullableInt(n.ParentID), nullableString(n.Path), n.ID)
	if err != nil {
		return fmt.Errorf("update %d: %w", n.ID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, n.ID)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", s.binding.Table, s.binding.IDColumn)
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete %d: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) queryNodes(ctx context.Context, query string, args ...any) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	out := []*Node{}
	for rows.Next() {
		n, err := scanNode(rows, s.binding)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan nodes: %w", err)
	}
	return out, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner, b api.Binding) (*Node, error) {
	var (
		id      int64
		parent  sql.NullInt64
		path    sql.NullString
		payload sql.NullString
	)
	dest := []any{&id, &parent, &path}
	if b.PayloadColumn != "" {
		dest = append(dest, &payload)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	n := &Node{ID: id}
	if parent.Valid {
		pid := parent.Int64
		n.ParentID = &pid
	}
	if path.Valid && path.String != "" {
		p := path.String
		n.Path = &p
	}
	if payload.Valid && payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &n.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %d: %w", id, err)
		}
	}
	return n, nil
}

func marshalPayload(payload map[string]any) (any, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return string(raw), nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

// escapeLike escapes LIKE wildcards so a path prefix matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
