package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Repository interface {
	// SaveProject upserts the project row and replaces its audio in one
	// transaction.
	SaveProject(ctx context.Context, p *Project, audio []*DialogueAudio) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)
	DeleteProject(ctx context.Context, id string) error
	ListAudio(ctx context.Context, projectID string) ([]*DialogueAudio, error)

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error
	UpdateJobProject(ctx context.Context, id, projectID string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) SaveProject(ctx context.Context, p *Project, audio []*DialogueAudio) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, title, version, document, total_duration, cut_count, dialogue_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			version = excluded.version,
			document = excluded.document,
			total_duration = excluded.total_duration,
			cut_count = excluded.cut_count,
			dialogue_count = excluded.dialogue_count,
			updated_at = excluded.updated_at
	`, p.ID, p.Title, p.Version, string(p.Document), p.TotalDuration, p.CutCount, p.DialogueCount,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving project: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM dialogue_audio WHERE project_id = ?", p.ID); err != nil {
		return fmt.Errorf("clearing audio: %w", err)
	}
	for _, a := range audio {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dialogue_audio (project_id, dialogue_id, wav, duration) VALUES (?, ?, ?, ?)
		`, p.ID, a.DialogueID, a.WAV, a.Duration); err != nil {
			return fmt.Errorf("saving audio for dialogue %s: %w", a.DialogueID, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetProject(ctx context.Context, id string) (*Project, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, version, document, total_duration, cut_count, dialogue_count, created_at, updated_at
		FROM projects WHERE id = ?
	`, id)

	var p Project
	var document, createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Title, &p.Version, &document, &p.TotalDuration, &p.CutCount, &p.DialogueCount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Document = []byte(document)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// ListProjects returns summaries without documents, newest first.
func (r *SQLiteRepository) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, version, total_duration, cut_count, dialogue_count, created_at, updated_at
		FROM projects ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		var createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Title, &p.Version, &p.TotalDuration, &p.CutCount, &p.DialogueCount, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updatedAt)
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (r *SQLiteRepository) DeleteProject(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) ListAudio(ctx context.Context, projectID string) ([]*DialogueAudio, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT dialogue_id, wav, duration FROM dialogue_audio WHERE project_id = ? ORDER BY dialogue_id
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DialogueAudio
	for rows.Next() {
		var a DialogueAudio
		if err := rows.Scan(&a.DialogueID, &a.WAV, &a.Duration); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, project_id, target_id, payload, progress, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, nullString(j.ProjectID), nullString(j.TargetID), nullString(j.Payload),
		j.Progress, nullString(j.Error),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

const jobColumns = `id, type, status, project_id, target_id, payload, progress, error, created_at, updated_at`

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var projectID, targetID, payload, errMsg sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&j.ID, &j.Type, &j.Status, &projectID, &targetID, &payload, &j.Progress, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.ProjectID = projectID.String
	j.TargetID = targetID.String
	j.Payload = payload.String
	j.Error = errMsg.String
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *SQLiteRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE status = 'pending' ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, nullString(errorMsg), formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProject(ctx context.Context, id, projectID string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE jobs SET project_id = ? WHERE id = ?", projectID, id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// Fixed width so that rows sort by creation time as text.
const jobTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(jobTimeLayout)
}

// parseTime accepts RFC 3339 and the datetime('now') format sqlite writes.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.DateTime, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
