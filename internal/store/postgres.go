package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresStore implements the node store, history log, and child-record
// tables over hand-written SQL. Structural rewrites run inside serializable
// transactions via WithTx.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a serializable transaction. The engine additionally
// holds the forest locks, so serializable here is defense in depth against
// out-of-process writers.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(pgTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const itemColumns = `id, parent_id, forest_id, name, description, qr_code, left_bound, right_bound, depth, created_at`

func scanItem(row interface{ Scan(...any) error }) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.ParentID, &item.ForestID, &item.Name, &item.Description,
		&item.QRCode, &item.LeftBound, &item.RightBound, &item.Depth, &item.CreatedAt)
	return item, err
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()
	var out []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func getItem(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (Item, error) {
	row := q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("get item %s: %w", id, err)
	}
	return item, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (Item, error) {
	return getItem(ctx, s.db, id)
}

func (s *PostgresStore) ItemsByIDs(ctx context.Context, ids []string) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ANY($1) ORDER BY left_bound`, pgTextArray(ids))
	if err != nil {
		return nil, fmt.Errorf("items by ids: %w", err)
	}
	return collectItems(rows)
}

func (s *PostgresStore) Roots(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE depth = 0 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list roots: %w", err)
	}
	return collectItems(rows)
}

func (s *PostgresStore) AllItems(ctx context.Context) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return collectItems(rows)
}

func (s *PostgresStore) ForestItems(ctx context.Context, forestID string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE forest_id=$1 ORDER BY left_bound`, forestID)
	if err != nil {
		return nil, fmt.Errorf("forest items: %w", err)
	}
	return collectItems(rows)
}

func (s *PostgresStore) DescendantRange(ctx context.Context, forestID string, left, right int64) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE forest_id=$1 AND left_bound >= $2 AND left_bound <= $3
		ORDER BY left_bound
	`, forestID, left, right)
	if err != nil {
		return nil, fmt.Errorf("descendant range: %w", err)
	}
	return collectItems(rows)
}

func (s *PostgresStore) AncestorRange(ctx context.Context, forestID string, left, right int64) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE forest_id=$1 AND left_bound <= $2 AND right_bound >= $3
		ORDER BY left_bound
	`, forestID, left, right)
	if err != nil {
		return nil, fmt.Errorf("ancestor range: %w", err)
	}
	return collectItems(rows)
}

func (s *PostgresStore) ChildRange(ctx context.Context, forestID string, left, right, depth int64) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+` FROM items
		WHERE forest_id=$1 AND left_bound > $2 AND left_bound < $3 AND depth = $4
		ORDER BY left_bound
	`, forestID, left, right, depth)
	if err != nil {
		return nil, fmt.Errorf("child range: %w", err)
	}
	return collectItems(rows)
}

func (s *PostgresStore) FindDirect(ctx context.Context, name, description, qrCode string) ([]Item, error) {
	var conditions []string
	var args []any
	if name != "" {
		args = append(args, "%"+name+"%")
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if description != "" {
		args = append(args, "%"+description+"%")
		conditions = append(conditions, fmt.Sprintf("description ILIKE $%d", len(args)))
	}
	if qrCode != "" {
		args = append(args, qrCode)
		conditions = append(conditions, fmt.Sprintf("qr_code = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return []Item{}, nil
	}
	query := `SELECT ` + itemColumns + ` FROM items WHERE ` +
		strings.Join(conditions, " OR ") + ` ORDER BY forest_id, left_bound`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find direct: %w", err)
	}
	return collectItems(rows)
}

func (s *PostgresStore) UpdateItemAttrs(ctx context.Context, id string, patch ItemPatch) (Item, error) {
	var sets []string
	var args []any
	if patch.Name != nil {
		args = append(args, *patch.Name)
		sets = append(sets, fmt.Sprintf("name=$%d", len(args)))
	}
	if patch.Description != nil {
		args = append(args, *patch.Description)
		sets = append(sets, fmt.Sprintf("description=$%d", len(args)))
	}
	if patch.QRCode != nil {
		args = append(args, *patch.QRCode)
		sets = append(sets, fmt.Sprintf("qr_code=$%d", len(args)))
	}
	if len(sets) == 0 {
		return s.GetItem(ctx, id)
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE items SET %s WHERE id=$%d RETURNING `+itemColumns,
		strings.Join(sets, ", "), len(args))
	row := s.db.QueryRowContext(ctx, query, args...)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("update item %s: %w", id, err)
	}
	return item, nil
}

func (s *PostgresStore) ListHistory(ctx context.Context) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, old_parent_id, new_parent_id, changed_at
		FROM item_history
		ORDER BY changed_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		if err := rows.Scan(&entry.ID, &entry.ItemID, &entry.OldParentID, &entry.NewParentID, &entry.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertNote(ctx context.Context, note Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, item_id, content, author, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, note.ID, note.ItemID, note.Content, note.Author, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, itemID, noteID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1 AND item_id=$2`, noteID, itemID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) NotesForItems(ctx context.Context, itemIDs []string) ([]Note, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, content, author, created_at
		FROM notes WHERE item_id = ANY($1)
		ORDER BY created_at, id
	`, pgTextArray(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("notes for items: %w", err)
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.ItemID, &n.Content, &n.Author, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertEmail(ctx context.Context, email Email) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emails (id, item_id, subject, body, from_address, received_at, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, email.ID, email.ItemID, email.Subject, email.Body, email.FromAddress, email.ReceivedAt, email.Processed, email.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert email: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteEmail(ctx context.Context, itemID, emailID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM emails WHERE id=$1 AND item_id=$2`, emailID, itemID)
	if err != nil {
		return fmt.Errorf("delete email: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) EmailsForItems(ctx context.Context, itemIDs []string) ([]Email, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, subject, body, from_address, received_at, processed, created_at
		FROM emails WHERE item_id = ANY($1)
		ORDER BY created_at, id
	`, pgTextArray(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("emails for items: %w", err)
	}
	defer rows.Close()
	var out []Email
	for rows.Next() {
		var e Email
		if err := rows.Scan(&e.ID, &e.ItemID, &e.Subject, &e.Body, &e.FromAddress, &e.ReceivedAt, &e.Processed, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, att Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, item_id, file_name, content_type, size, object_key, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, att.ID, att.ItemID, att.FileName, att.ContentType, att.Size, att.ObjectKey, att.UploadedAt)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, itemID, attachmentID string) (Attachment, error) {
	var a Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, item_id, file_name, content_type, size, object_key, uploaded_at
		FROM attachments WHERE id=$1 AND item_id=$2
	`, attachmentID, itemID).Scan(&a.ID, &a.ItemID, &a.FileName, &a.ContentType, &a.Size, &a.ObjectKey, &a.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Attachment{}, ErrNotFound
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, itemID, attachmentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id=$1 AND item_id=$2`, attachmentID, itemID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) AttachmentsForItems(ctx context.Context, itemIDs []string) ([]Attachment, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, file_name, content_type, size, object_key, uploaded_at
		FROM attachments WHERE item_id = ANY($1)
		ORDER BY uploaded_at, id
	`, pgTextArray(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("attachments for items: %w", err)
	}
	defer rows.Close()
	var out []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.ItemID, &a.FileName, &a.ContentType, &a.Size, &a.ObjectKey, &a.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// pgTx implements the Tx primitives over one *sql.Tx. The shift statements
// are single UPDATEs so each primitive is set-based, never row-at-a-time.
type pgTx struct {
	tx *sql.Tx
}

func (t pgTx) GetItem(ctx context.Context, id string) (Item, error) {
	return getItem(ctx, t.tx, id)
}

func (t pgTx) InsertItem(ctx context.Context, item Item) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO items (id, parent_id, forest_id, name, description, qr_code, left_bound, right_bound, depth, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, item.ID, item.ParentID, item.ForestID, item.Name, item.Description, item.QRCode,
		item.LeftBound, item.RightBound, item.Depth, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (t pgTx) SetParent(ctx context.Context, id string, parentID *string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE items SET parent_id=$2 WHERE id=$1`, id, parentID)
	if err != nil {
		return fmt.Errorf("set parent: %w", err)
	}
	return requireAffected(res)
}

func (t pgTx) OpenGap(ctx context.Context, forestID string, at, width int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE items SET
			right_bound = CASE WHEN right_bound >= $2 THEN right_bound + $3 ELSE right_bound END,
			left_bound  = CASE WHEN left_bound  >= $2 THEN left_bound  + $3 ELSE left_bound  END
		WHERE forest_id = $1 AND right_bound >= $2
	`, forestID, at, width)
	if err != nil {
		return fmt.Errorf("open gap: %w", err)
	}
	return nil
}

func (t pgTx) CloseGap(ctx context.Context, forestID string, after, width int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE items SET
			left_bound  = CASE WHEN left_bound  > $2 THEN left_bound  - $3 ELSE left_bound  END,
			right_bound = CASE WHEN right_bound > $2 THEN right_bound - $3 ELSE right_bound END
		WHERE forest_id = $1 AND right_bound > $2
	`, forestID, after, width)
	if err != nil {
		return fmt.Errorf("close gap: %w", err)
	}
	return nil
}

func (t pgTx) DetachSubtree(ctx context.Context, forestID string, left, right int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE items SET left_bound = -left_bound, right_bound = -right_bound
		WHERE forest_id = $1 AND left_bound BETWEEN $2 AND $3
	`, forestID, left, right)
	if err != nil {
		return fmt.Errorf("detach subtree: %w", err)
	}
	return nil
}

func (t pgTx) GraftSubtree(ctx context.Context, srcForestID, dstForestID string, boundOffset, depthDelta int64) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE items SET
			left_bound  = -left_bound  + $3,
			right_bound = -right_bound + $3,
			depth       = depth + $4,
			forest_id   = $2
		WHERE forest_id = $1 AND left_bound < 0
	`, srcForestID, dstForestID, boundOffset, depthDelta)
	if err != nil {
		return fmt.Errorf("graft subtree: %w", err)
	}
	return nil
}

func (t pgTx) DeleteSubtree(ctx context.Context, forestID string, left, right int64) error {
	// Notes, emails, and attachments go with their items via FK cascade.
	_, err := t.tx.ExecContext(ctx, `
		DELETE FROM items
		WHERE forest_id = $1 AND left_bound BETWEEN $2 AND $3
	`, forestID, left, right)
	if err != nil {
		return fmt.Errorf("delete subtree: %w", err)
	}
	return nil
}

func (t pgTx) InsertHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO item_history (item_id, old_parent_id, new_parent_id, changed_at)
		VALUES ($1, $2, $3, $4)
	`, entry.ItemID, entry.OldParentID, entry.NewParentID, entry.ChangedAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// pgTextArray renders a text[] literal; the pgx stdlib driver accepts the
// wire format for ANY($1) without pulling in pq.Array.
func pgTextArray(values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
	}
	return "{" + strings.Join(escaped, ",") + "}"
}
