package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/zoff-tech/petsync/pkg/action"
	"github.com/zoff-tech/petsync/pkg/model"
)

// Timestamps are stored as int64 unix nanoseconds: integer ordering is
// deterministic on every driver, unlike lexicographic text-time ordering.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS queued_actions (
	id          TEXT PRIMARY KEY,
	action_type TEXT NOT NULL,
	payload     TEXT NOT NULL,
	status      TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS pets (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL DEFAULT '',
	name           TEXT NOT NULL,
	species        TEXT NOT NULL DEFAULT '',
	breed          TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	is_missing     BOOLEAN NOT NULL DEFAULT FALSE,
	tag_id         TEXT NOT NULL DEFAULT '',
	created_at     BIGINT NOT NULL,
	updated_at     BIGINT NOT NULL,
	last_synced_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS alerts (
	id             TEXT PRIMARY KEY,
	pet_id         TEXT NOT NULL,
	pet_name       TEXT NOT NULL DEFAULT '',
	latitude       DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude      DOUBLE PRECISION NOT NULL DEFAULT 0,
	address        TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	active         BOOLEAN NOT NULL DEFAULT TRUE,
	local_only     BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     BIGINT NOT NULL,
	last_synced_at BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS success_stories (
	id             TEXT PRIMARY KEY,
	pet_id         TEXT NOT NULL,
	pet_name       TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL,
	body           TEXT NOT NULL DEFAULT '',
	public         BOOLEAN NOT NULL DEFAULT FALSE,
	confirmed      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     BIGINT NOT NULL,
	last_synced_at BIGINT NOT NULL
);
`

// SQLRepository implements OfflineStore over database/sql. The same statement
// set serves the sqlite and postgres drivers; placeholders are rebound for
// drivers using positional $n syntax.
type SQLRepository struct {
	db     *sql.DB
	system string // "sqlite" or "postgresql", for span attributes
	rebind bool   // true when the driver wants $n placeholders
}

// NewSQLRepository wraps an open handle and creates the schema if missing.
func NewSQLRepository(ctx context.Context, db *sql.DB, driver string) (*SQLRepository, error) {
	r := &SQLRepository{db: db, system: "sqlite"}
	if driver == "postgres" {
		r.system = "postgresql"
		r.rebind = true
	}
	for _, stmt := range strings.Split(schemaDDL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return r, nil
}

// bind translates ?-placeholders to $n when the driver requires it.
func (r *SQLRepository) bind(query string) string {
	if !r.rebind {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (r *SQLRepository) exec(ctx context.Context, op, query string, args ...any) error {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	start := time.Now()
	res, err := r.db.ExecContext(ctx, r.bind(query), args...)
	if err != nil {
		span.RecordError(err)
		return err
	}
	rows, _ := res.RowsAffected()
	addDBStatsToSpan(span, r.system, query, int(rows), time.Since(start))
	return nil
}

func (r *SQLRepository) QueueAction(ctx context.Context, p action.Payload) (string, error) {
	payload, err := action.Encode(p)
	if err != nil {
		return "", err
	}
	// V7 ids are time-ordered, so the id tiebreak in FetchPendingActions
	// preserves insertion order when created_at collides.
	uid, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate action id: %w", err)
	}
	id := uid.String()
	err = r.exec(ctx, "QueueAction",
		`INSERT INTO queued_actions (id, action_type, payload, status, retry_count, last_error, created_at)
		 VALUES (?, ?, ?, ?, 0, '', ?)`,
		id, string(p.ActionType()), string(payload), string(action.StatusPending), nanos(time.Now()))
	if err != nil {
		return "", fmt.Errorf("failed to queue action: %w", err)
	}
	return id, nil
}

func (r *SQLRepository) fetchActions(ctx context.Context, op string, status action.Status) ([]action.QueuedAction, error) {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	query := `SELECT id, action_type, payload, status, retry_count, last_error, created_at
		 FROM queued_actions WHERE status = ? ORDER BY created_at ASC, id ASC`
	start := time.Now()
	rows, err := r.db.QueryContext(ctx, r.bind(query), string(status))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var actions []action.QueuedAction
	for rows.Next() {
		var a action.QueuedAction
		var typ, status, payload string
		var createdNS int64
		if err := rows.Scan(&a.ID, &typ, &payload, &status, &a.RetryCount, &a.LastError, &createdNS); err != nil {
			span.RecordError(err)
			return nil, err
		}
		a.Type = action.Type(typ)
		a.Status = action.Status(status)
		a.Payload = []byte(payload)
		a.CreatedAt = fromNanos(createdNS)
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	addDBStatsToSpan(span, r.system, query, len(actions), time.Since(start))
	return actions, nil
}

func (r *SQLRepository) FetchPendingActions(ctx context.Context) ([]action.QueuedAction, error) {
	return r.fetchActions(ctx, "FetchPendingActions", action.StatusPending)
}

func (r *SQLRepository) FetchFailedActions(ctx context.Context) ([]action.QueuedAction, error) {
	return r.fetchActions(ctx, "FetchFailedActions", action.StatusFailed)
}

func (r *SQLRepository) CompleteAction(ctx context.Context, id string) error {
	// Deleting a missing id affects zero rows, which is the no-op we want.
	return r.exec(ctx, "CompleteAction", `DELETE FROM queued_actions WHERE id = ?`, id)
}

func (r *SQLRepository) FailAction(ctx context.Context, id, errMsg string, incrementRetry bool) error {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, "FailAction")
	defer span.End()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer tx.Rollback()

	var retryCount int
	err = tx.QueryRowContext(ctx, r.bind(`SELECT retry_count FROM queued_actions WHERE id = ?`), id).Scan(&retryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	if incrementRetry {
		retryCount++
	}
	if retryCount >= retryCeiling {
		_, err = tx.ExecContext(ctx, r.bind(`DELETE FROM queued_actions WHERE id = ?`), id)
	} else {
		_, err = tx.ExecContext(ctx,
			r.bind(`UPDATE queued_actions SET status = ?, retry_count = ?, last_error = ? WHERE id = ?`),
			string(action.StatusFailed), retryCount, errMsg, id)
	}
	if err != nil {
		span.RecordError(err)
		return err
	}
	return tx.Commit()
}

func (r *SQLRepository) RetryAction(ctx context.Context, id string) error {
	return r.exec(ctx, "RetryAction",
		`UPDATE queued_actions SET status = ?, last_error = '' WHERE id = ? AND status = ?`,
		string(action.StatusPending), id, string(action.StatusFailed))
}

func (r *SQLRepository) RetryAllFailedActions(ctx context.Context) error {
	return r.exec(ctx, "RetryAllFailedActions",
		`UPDATE queued_actions SET status = ?, last_error = '' WHERE status = ?`,
		string(action.StatusPending), string(action.StatusFailed))
}

func (r *SQLRepository) DismissAction(ctx context.Context, id string) error {
	return r.exec(ctx, "DismissAction",
		`DELETE FROM queued_actions WHERE id = ? AND status = ?`, id, string(action.StatusFailed))
}

func (r *SQLRepository) DismissAllFailedActions(ctx context.Context) error {
	return r.exec(ctx, "DismissAllFailedActions",
		`DELETE FROM queued_actions WHERE status = ?`, string(action.StatusFailed))
}

func (r *SQLRepository) SavePet(ctx context.Context, p model.Pet) error {
	return r.exec(ctx, "SavePet",
		`INSERT INTO pets (id, owner_id, name, species, breed, description, is_missing, tag_id, created_at, updated_at, last_synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			owner_id = excluded.owner_id, name = excluded.name, species = excluded.species,
			breed = excluded.breed, description = excluded.description, is_missing = excluded.is_missing,
			tag_id = excluded.tag_id, created_at = excluded.created_at, updated_at = excluded.updated_at,
			last_synced_at = excluded.last_synced_at`,
		p.ID, p.OwnerID, p.Name, p.Species, p.Breed, p.Description, p.IsMissing, p.TagID,
		nanos(p.CreatedAt), nanos(p.UpdatedAt), nanos(time.Now()))
}

func (r *SQLRepository) SaveAlert(ctx context.Context, a model.Alert) error {
	return r.exec(ctx, "SaveAlert",
		`INSERT INTO alerts (id, pet_id, pet_name, latitude, longitude, address, description, active, local_only, created_at, last_synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			pet_id = excluded.pet_id, pet_name = excluded.pet_name, latitude = excluded.latitude,
			longitude = excluded.longitude, address = excluded.address, description = excluded.description,
			active = excluded.active, local_only = excluded.local_only, created_at = excluded.created_at,
			last_synced_at = excluded.last_synced_at`,
		a.ID, a.PetID, a.PetName, a.Latitude, a.Longitude, a.Address, a.Description, a.Active,
		a.LocalOnly, nanos(a.CreatedAt), nanos(time.Now()))
}

func (r *SQLRepository) SaveSuccessStory(ctx context.Context, s model.SuccessStory) error {
	return r.exec(ctx, "SaveSuccessStory",
		`INSERT INTO success_stories (id, pet_id, pet_name, title, body, public, confirmed, created_at, last_synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			pet_id = excluded.pet_id, pet_name = excluded.pet_name, title = excluded.title,
			body = excluded.body, public = excluded.public, confirmed = excluded.confirmed,
			created_at = excluded.created_at, last_synced_at = excluded.last_synced_at`,
		s.ID, s.PetID, s.PetName, s.Title, s.Body, s.Public, s.Confirmed, nanos(s.CreatedAt), nanos(time.Now()))
}

func (r *SQLRepository) DeletePet(ctx context.Context, id string) error {
	return r.exec(ctx, "DeletePet", `DELETE FROM pets WHERE id = ?`, id)
}

func (r *SQLRepository) DeleteAlert(ctx context.Context, id string) error {
	return r.exec(ctx, "DeleteAlert", `DELETE FROM alerts WHERE id = ?`, id)
}

func (r *SQLRepository) FetchPets(ctx context.Context) ([]model.Pet, error) {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, "FetchPets")
	defer span.End()

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, owner_id, name, species, breed, description, is_missing, tag_id, created_at, updated_at, last_synced_at
		 FROM pets ORDER BY name ASC`)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var pets []model.Pet
	for rows.Next() {
		p, err := scanPet(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		pets = append(pets, *p)
	}
	return pets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPet(row rowScanner) (*model.Pet, error) {
	var p model.Pet
	var created, updated, synced int64
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Species, &p.Breed, &p.Description,
		&p.IsMissing, &p.TagID, &created, &updated, &synced); err != nil {
		return nil, err
	}
	p.CreatedAt = fromNanos(created)
	p.UpdatedAt = fromNanos(updated)
	p.LastSyncedAt = fromNanos(synced)
	return &p, nil
}

func (r *SQLRepository) FetchPet(ctx context.Context, id string) (*model.Pet, error) {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, "FetchPet")
	defer span.End()

	row := r.db.QueryRowContext(ctx, r.bind(
		`SELECT id, owner_id, name, species, breed, description, is_missing, tag_id, created_at, updated_at, last_synced_at
		 FROM pets WHERE id = ?`), id)
	p, err := scanPet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return p, nil
}

func (r *SQLRepository) fetchAlerts(ctx context.Context, op, query string, args ...any) ([]model.Alert, error) {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	rows, err := r.db.QueryContext(ctx, r.bind(query), args...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var a model.Alert
		var created, synced int64
		if err := rows.Scan(&a.ID, &a.PetID, &a.PetName, &a.Latitude, &a.Longitude, &a.Address,
			&a.Description, &a.Active, &a.LocalOnly, &created, &synced); err != nil {
			span.RecordError(err)
			return nil, err
		}
		a.CreatedAt = fromNanos(created)
		a.LastSyncedAt = fromNanos(synced)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *SQLRepository) FetchAlerts(ctx context.Context) ([]model.Alert, error) {
	return r.fetchAlerts(ctx, "FetchAlerts",
		`SELECT id, pet_id, pet_name, latitude, longitude, address, description, active, local_only, created_at, last_synced_at
		 FROM alerts ORDER BY created_at DESC`)
}

func (r *SQLRepository) FetchAlertsForPet(ctx context.Context, petID string) ([]model.Alert, error) {
	return r.fetchAlerts(ctx, "FetchAlertsForPet",
		`SELECT id, pet_id, pet_name, latitude, longitude, address, description, active, local_only, created_at, last_synced_at
		 FROM alerts WHERE pet_id = ? ORDER BY created_at DESC`, petID)
}

func (r *SQLRepository) FetchSuccessStories(ctx context.Context, publicOnly bool) ([]model.SuccessStory, error) {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, "FetchSuccessStories")
	defer span.End()

	query := `SELECT id, pet_id, pet_name, title, body, public, confirmed, created_at, last_synced_at
		 FROM success_stories ORDER BY created_at DESC`
	var args []any
	if publicOnly {
		query = `SELECT id, pet_id, pet_name, title, body, public, confirmed, created_at, last_synced_at
		 FROM success_stories WHERE public = ? AND confirmed = ? ORDER BY created_at DESC`
		args = append(args, true, true)
	}

	rows, err := r.db.QueryContext(ctx, r.bind(query), args...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var stories []model.SuccessStory
	for rows.Next() {
		var s model.SuccessStory
		var created, synced int64
		if err := rows.Scan(&s.ID, &s.PetID, &s.PetName, &s.Title, &s.Body, &s.Public,
			&s.Confirmed, &created, &synced); err != nil {
			span.RecordError(err)
			return nil, err
		}
		s.CreatedAt = fromNanos(created)
		s.LastSyncedAt = fromNanos(synced)
		stories = append(stories, s)
	}
	return stories, rows.Err()
}

func (r *SQLRepository) ClearAllData(ctx context.Context) error {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, "ClearAllData")
	defer span.End()

	// Single transaction so a partial logout state is impossible.
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"queued_actions", "pets", "alerts", "success_stories"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (r *SQLRepository) Close(ctx context.Context) error {
	return r.db.Close()
}
