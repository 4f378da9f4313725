// Package records is the primary store of survey submissions.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/mbolis/matrix-survey/log"
	"github.com/mbolis/matrix-survey/model"
	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrNotConfigured means there is no primary store at all. Submissions
	// cannot proceed.
	ErrNotConfigured = errors.New("primary store not configured")
	// ErrNotCreated means the insert went through without yielding a record.
	ErrNotCreated = errors.New("record not created")
	ErrNotFound   = errors.New("record not found")
)

type Store interface {
	// Insert stores a new, not yet synced, record for the payload.
	Insert(ctx context.Context, p *model.Payload, questions []model.Question) (*model.Record, error)
	// Unsynced returns the records not yet mirrored, oldest first.
	Unsynced(ctx context.Context) ([]model.Record, error)
	// MarkSynced flags a record as mirrored. It never unflags.
	MarkSynced(ctx context.Context, id string) error
}

var slotColumns = func() []string {
	var cols []string
	for i := 1; i <= model.MaxSlots; i++ {
		cols = append(cols,
			fmt.Sprintf("pregunta_%d_categoria", i),
			fmt.Sprintf("pregunta_%d_pasado", i),
			fmt.Sprintf("pregunta_%d_ahora", i),
			fmt.Sprintf("pregunta_%d_diferencia", i),
		)
	}
	return cols
}()

var (
	insertRecordSQL = `
		INSERT INTO survey_responses (
			id, user_name, submitted_at, ` + strings.Join(slotColumns, ", ") + `,
			responses, synced_to_sheets, created_at, updated_at
		)
		VALUES (?, ?, ?, ` + strings.Repeat("?, ", len(slotColumns)) + `?, 0, ?, ?)
		RETURNING id`

	selectRecordSQL = `
		SELECT
			id, user_name, submitted_at, ` + strings.Join(slotColumns, ", ") + `,
			responses, synced_to_sheets, synced_at, created_at
		FROM survey_responses`
)

type SQLStore struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// NewSQLStore binds the store to db. A nil db makes every call fail with
// ErrNotConfigured.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{
		db:    db,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return ErrNotConfigured
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM survey_responses LIMIT 1`).Scan(&n)
	return pkgerrors.Wrap(err, "db.ping")
}

func (s *SQLStore) Insert(ctx context.Context, p *model.Payload, questions []model.Question) (*model.Record, error) {
	if s.db == nil {
		return nil, ErrNotConfigured
	}

	user := strings.TrimSpace(p.String(model.FieldUser))
	if user == "" {
		user = model.AnonymousUser
	}

	responses, err := json.Marshal(p)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "db.insert_record.marshal")
	}

	now := s.now()
	rec := &model.Record{
		ID:          s.newID(),
		UserName:    user,
		SubmittedAt: now,
		Slots:       model.SlotsFor(questions, p),
		CreatedAt:   now,
		Fields:      p,
	}

	args := []any{rec.ID, rec.UserName, rec.SubmittedAt}
	for _, slot := range rec.Slots {
		args = append(args, nullString(slot.Category), slot.Past, slot.Now, slot.Diff)
	}
	args = append(args, string(responses), rec.CreatedAt, rec.CreatedAt)

	var id string
	err = s.db.QueryRowContext(ctx, insertRecordSQL, args...).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotCreated
	case err != nil:
		return nil, pkgerrors.Wrap(err, "db.insert_record")
	}
	rec.ID = id
	return rec, nil
}

func (s *SQLStore) Unsynced(ctx context.Context) ([]model.Record, error) {
	if s.db == nil {
		return nil, ErrNotConfigured
	}

	rows, err := s.db.QueryContext(ctx, selectRecordSQL+`
		WHERE synced_to_sheets = 0
		ORDER BY created_at, rowid`)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "db.get_unsynced")
	}
	defer rows.Close()

	records := []model.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "db.get_unsynced.scan")
		}
		records = append(records, rec)
	}
	return records, pkgerrors.Wrap(rows.Err(), "db.get_unsynced.rows")
}

func (s *SQLStore) Get(ctx context.Context, id string) (*model.Record, error) {
	if s.db == nil {
		return nil, ErrNotConfigured
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRecordSQL+`
		WHERE id = ?`,
		id,
	))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, pkgerrors.Wrap(err, "db.get_record")
	}
	return &rec, nil
}

func (s *SQLStore) MarkSynced(ctx context.Context, id string) error {
	if s.db == nil {
		return ErrNotConfigured
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE survey_responses
		SET
			synced_to_sheets = 1,
			synced_at = ?
		WHERE id = ?
			AND synced_to_sheets = 0`,
		s.now(),
		id,
	)
	if err != nil {
		return pkgerrors.Wrap(err, "db.mark_synced")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return pkgerrors.Wrap(err, "db.mark_synced.verify")
	}
	if n > 0 {
		return nil
	}

	// either unknown, or synced already
	var synced bool
	err = s.db.QueryRowContext(ctx, `
		SELECT synced_to_sheets FROM survey_responses
		WHERE id = ?`,
		id,
	).Scan(&synced)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return pkgerrors.Wrap(err, "db.mark_synced.verify")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (rec model.Record, err error) {
	var (
		categories [model.MaxSlots]sql.NullString
		values     [model.MaxSlots][3]sql.NullInt64
		responses  sql.NullString
		syncedAt   sql.NullTime
	)

	dest := []any{&rec.ID, &rec.UserName, &rec.SubmittedAt}
	for i := range rec.Slots {
		dest = append(dest, &categories[i], &values[i][0], &values[i][1], &values[i][2])
	}
	dest = append(dest, &responses, &rec.Synced, &syncedAt, &rec.CreatedAt)

	if err = row.Scan(dest...); err != nil {
		return
	}

	for i := range rec.Slots {
		rec.Slots[i] = model.Slot{
			Category: categories[i].String,
			Past:     intPtr(values[i][0]),
			Now:      intPtr(values[i][1]),
			Diff:     intPtr(values[i][2]),
		}
	}
	if syncedAt.Valid {
		rec.SyncedAt = &syncedAt.Time
	}
	if responses.Valid {
		// the slots still hold the first questions if this fails
		fields := model.NewPayload()
		if err := json.Unmarshal([]byte(responses.String), fields); err != nil {
			log.WithError(err).WithField("record", rec.ID).Warn("db.scan_record.responses")
		} else {
			rec.Fields = fields
		}
	}
	return
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
