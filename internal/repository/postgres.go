package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dharsanguruparan/VaultSign/internal/model"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres wraps all SQL used by the API, the CLI and the worker.
type Postgres struct {
	db DBTX
}

// NewPostgres constructs a repository over a pool or transaction.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

func mapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}

func expectOne(op string, tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const taskColumns = `id, owner_id, owner_email, title, description, status, created_at, updated_at, sent_at, completed_at`

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	if err := row.Scan(&t.ID, &t.OwnerID, &t.OwnerEmail, &t.Title, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt, &t.SentAt, &t.CompletedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Postgres) CreateTask(ctx context.Context, t *model.Task) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, t.ID, t.OwnerID, t.OwnerEmail, t.Title, t.Description, t.Status, t.CreatedAt, t.UpdatedAt, t.SentAt, t.CompletedAt)
	if err != nil {
		return mapErr("insert task", err)
	}
	return nil
}

func (r *Postgres) GetTask(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanTask(r.db.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
	if err != nil {
		return nil, mapErr("select task", err)
	}
	return t, nil
}

func (r *Postgres) ListTasks(ctx context.Context, ownerID string) ([]*model.Task, error) {
	rows, err := r.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id=$1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, mapErr("list tasks", err)
	}
	defer rows.Close()
	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Postgres) UpdateTask(ctx context.Context, t *model.Task) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE tasks
		SET title=$1, description=$2, status=$3, updated_at=$4, sent_at=$5, completed_at=$6
		WHERE id=$7
	`, t.Title, t.Description, t.Status, t.UpdatedAt, t.SentAt, t.CompletedAt, t.ID)
	return expectOne("update task", tag, err)
}

func (r *Postgres) DeleteTask(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM tasks WHERE id=$1`, id)
	return expectOne("delete task", tag, err)
}

const fileColumns = `id, task_id, original_name, display_name, size, content_type, object_key, original_url,
	final_object_key, final_url, order_index, status, page_count, extracted_text, error_message, created_at, updated_at`

func scanFile(row pgx.Row) (*model.File, error) {
	var f model.File
	err := row.Scan(&f.ID, &f.TaskID, &f.OriginalName, &f.DisplayName, &f.Size, &f.ContentType, &f.ObjectKey, &f.OriginalURL,
		&f.FinalObjectKey, &f.FinalURL, &f.OrderIndex, &f.Status, &f.PageCount, &f.ExtractedText, &f.ErrorMessage, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *Postgres) CreateFile(ctx context.Context, f *model.File) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, f.ID, f.TaskID, f.OriginalName, f.DisplayName, f.Size, f.ContentType, f.ObjectKey, f.OriginalURL,
		f.FinalObjectKey, f.FinalURL, f.OrderIndex, f.Status, f.PageCount, f.ExtractedText, f.ErrorMessage, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return mapErr("insert file", err)
	}
	return nil
}

func (r *Postgres) GetFile(ctx context.Context, id string) (*model.File, error) {
	f, err := scanFile(r.db.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id=$1`, id))
	if err != nil {
		return nil, mapErr("select file", err)
	}
	return f, nil
}

func (r *Postgres) ListFiles(ctx context.Context, taskID string) ([]*model.File, error) {
	rows, err := r.db.Query(ctx, `SELECT `+fileColumns+` FROM files WHERE task_id=$1 ORDER BY order_index`, taskID)
	if err != nil {
		return nil, mapErr("list files", err)
	}
	defer rows.Close()
	var out []*model.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *Postgres) UpdateFile(ctx context.Context, f *model.File) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE files
		SET display_name=$1, original_url=$2, final_object_key=$3, final_url=$4, order_index=$5, status=$6,
			page_count=$7, extracted_text=$8, error_message=$9, updated_at=$10
		WHERE id=$11
	`, f.DisplayName, f.OriginalURL, f.FinalObjectKey, f.FinalURL, f.OrderIndex, f.Status,
		f.PageCount, f.ExtractedText, f.ErrorMessage, f.UpdatedAt, f.ID)
	return expectOne("update file", tag, err)
}

func (r *Postgres) DeleteFile(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM files WHERE id=$1`, id)
	return expectOne("delete file", tag, err)
}

func (r *Postgres) NextFileOrder(ctx context.Context, taskID string) (int, error) {
	var next int
	if err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(order_index)+1, 0) FROM files WHERE task_id=$1`, taskID).Scan(&next); err != nil {
		return 0, mapErr("next file order", err)
	}
	return next, nil
}

const recipientColumns = `id, task_id, name, email, token, token_expires_at, status, viewed_at, signed_at, created_at, updated_at`

func scanRecipient(row pgx.Row) (*model.Recipient, error) {
	var rc model.Recipient
	err := row.Scan(&rc.ID, &rc.TaskID, &rc.Name, &rc.Email, &rc.Token, &rc.TokenExpiresAt, &rc.Status, &rc.ViewedAt, &rc.SignedAt, &rc.CreatedAt, &rc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &rc, nil
}

func (r *Postgres) CreateRecipient(ctx context.Context, rc *model.Recipient) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO recipients (`+recipientColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, rc.ID, rc.TaskID, rc.Name, rc.Email, rc.Token, rc.TokenExpiresAt, rc.Status, rc.ViewedAt, rc.SignedAt, rc.CreatedAt, rc.UpdatedAt)
	if err != nil {
		return mapErr("insert recipient", err)
	}
	return nil
}

func (r *Postgres) GetRecipient(ctx context.Context, id string) (*model.Recipient, error) {
	rc, err := scanRecipient(r.db.QueryRow(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id=$1`, id))
	if err != nil {
		return nil, mapErr("select recipient", err)
	}
	return rc, nil
}

func (r *Postgres) GetRecipientByToken(ctx context.Context, token string) (*model.Recipient, error) {
	rc, err := scanRecipient(r.db.QueryRow(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE token=$1`, token))
	if err != nil {
		return nil, mapErr("select recipient by token", err)
	}
	return rc, nil
}

func (r *Postgres) ListRecipients(ctx context.Context, taskID string) ([]*model.Recipient, error) {
	rows, err := r.db.Query(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE task_id=$1 ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, mapErr("list recipients", err)
	}
	defer rows.Close()
	var out []*model.Recipient
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (r *Postgres) UpdateRecipient(ctx context.Context, rc *model.Recipient) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE recipients
		SET name=$1, email=$2, token=$3, token_expires_at=$4, status=$5, viewed_at=$6, signed_at=$7, updated_at=$8
		WHERE id=$9
	`, rc.Name, rc.Email, rc.Token, rc.TokenExpiresAt, rc.Status, rc.ViewedAt, rc.SignedAt, rc.UpdatedAt, rc.ID)
	return expectOne("update recipient", tag, err)
}

func (r *Postgres) DeleteRecipient(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM recipients WHERE id=$1`, id)
	return expectOne("delete recipient", tag, err)
}

const positionColumns = `id, recipient_id, file_id, page, x, y, width, height, page_width, page_height,
	field_type, placeholder, default_value, required, status, value, signed_at, created_at, updated_at`

func scanPosition(row pgx.Row) (*model.SignaturePosition, error) {
	var p model.SignaturePosition
	err := row.Scan(&p.ID, &p.RecipientID, &p.FileID, &p.Page, &p.Rect.X, &p.Rect.Y, &p.Rect.Width, &p.Rect.Height, &p.PageWidth, &p.PageHeight,
		&p.FieldType, &p.Placeholder, &p.DefaultValue, &p.Required, &p.Status, &p.Value, &p.SignedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Postgres) CreatePosition(ctx context.Context, p *model.SignaturePosition) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO signature_positions (`+positionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`, p.ID, p.RecipientID, p.FileID, p.Page, p.Rect.X, p.Rect.Y, p.Rect.Width, p.Rect.Height, p.PageWidth, p.PageHeight,
		p.FieldType, p.Placeholder, p.DefaultValue, p.Required, p.Status, p.Value, p.SignedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return mapErr("insert position", err)
	}
	return nil
}

func (r *Postgres) GetPosition(ctx context.Context, id string) (*model.SignaturePosition, error) {
	p, err := scanPosition(r.db.QueryRow(ctx, `SELECT `+positionColumns+` FROM signature_positions WHERE id=$1`, id))
	if err != nil {
		return nil, mapErr("select position", err)
	}
	return p, nil
}

func (r *Postgres) listPositions(ctx context.Context, where string, arg string) ([]*model.SignaturePosition, error) {
	rows, err := r.db.Query(ctx, `SELECT `+positionColumns+` FROM signature_positions WHERE `+where+` ORDER BY page, created_at, id`, arg)
	if err != nil {
		return nil, mapErr("list positions", err)
	}
	defer rows.Close()
	var out []*model.SignaturePosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Postgres) ListPositionsByRecipient(ctx context.Context, recipientID string) ([]*model.SignaturePosition, error) {
	return r.listPositions(ctx, "recipient_id=$1", recipientID)
}

func (r *Postgres) ListPositionsByFile(ctx context.Context, fileID string) ([]*model.SignaturePosition, error) {
	return r.listPositions(ctx, "file_id=$1", fileID)
}

func (r *Postgres) UpdatePosition(ctx context.Context, p *model.SignaturePosition) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE signature_positions
		SET page=$1, x=$2, y=$3, width=$4, height=$5, page_width=$6, page_height=$7, field_type=$8,
			placeholder=$9, default_value=$10, required=$11, status=$12, value=$13, signed_at=$14, updated_at=$15
		WHERE id=$16
	`, p.Page, p.Rect.X, p.Rect.Y, p.Rect.Width, p.Rect.Height, p.PageWidth, p.PageHeight, p.FieldType,
		p.Placeholder, p.DefaultValue, p.Required, p.Status, p.Value, p.SignedAt, p.UpdatedAt, p.ID)
	return expectOne("update position", tag, err)
}

func (r *Postgres) DeletePosition(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM signature_positions WHERE id=$1`, id)
	return expectOne("delete position", tag, err)
}

// WithTaskLock runs fn in a transaction holding SELECT ... FOR UPDATE on the
// task row. fn's error rolls the transaction back.
func (r *Postgres) WithTaskLock(ctx context.Context, taskID string, fn TxFunc) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	task, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID))
	if err != nil {
		return mapErr("lock task", err)
	}
	if err := fn(ctx, NewPostgres(tx), task); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
