// Package store is the persistence gateway (C1): durable commands,
// devices and telemetry on Postgres via sqlx/lib/pq, with schema
// bootstrap through goose migrations embedded in the binary.
package store

import (
	"context"
	"database/sql"
	"embed"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/goranbacvar/Cyviz/internal/apperr"
	"github.com/goranbacvar/Cyviz/internal/model"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Store is the Postgres-backed persistence gateway.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn, runs pending migrations and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, apperr.Wrap(err, "store: connect")
	}

	goose.SetBaseFS(embeddedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, apperr.Wrap(err, "store: goose dialect")
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		return nil, apperr.Wrap(err, "store: migrate")
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewWithDB wraps an already-open sqlx handle, bypassing migration.
// Exposed for tests that wire a sqlmock database.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// CreateCommand inserts a new command row. It returns
// apperr.ErrDuplicateKey if (device_id, idempotency_key) already
// exists, implementing I-1's create-or-reuse contract.
func (s *Store) CreateCommand(ctx context.Context, c *model.Command) error {
	const q = `
		INSERT INTO commands (id, device_id, idempotency_key, verb, created_at, status)
		VALUES (:id, :device_id, :idempotency_key, :verb, :created_at, :status)`
	_, err := s.db.NamedExecContext(ctx, q, c)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrDuplicateKey
		}
		return apperr.Wrap(err, "store: create command")
	}
	return nil
}

// FindCommandByKey looks up the existing command for (deviceID, idempotencyKey).
func (s *Store) FindCommandByKey(ctx context.Context, deviceID, idempotencyKey string) (*model.Command, error) {
	const q = `SELECT * FROM commands WHERE device_id = $1 AND idempotency_key = $2`
	var c model.Command
	if err := s.db.GetContext(ctx, &c, q, deviceID, idempotencyKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Wrap(err, "store: find command by key")
	}
	return &c, nil
}

// GetCommand looks up a command by its own id.
func (s *Store) GetCommand(ctx context.Context, id string) (*model.Command, error) {
	const q = `SELECT * FROM commands WHERE id = $1`
	var c model.Command
	if err := s.db.GetContext(ctx, &c, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Wrap(err, "store: get command")
	}
	return &c, nil
}

// UpdateCommandTerminal transitions a command to a terminal status
// (completed/failed), recording its result and observed latency.
func (s *Store) UpdateCommandTerminal(ctx context.Context, id string, status model.CommandStatus, result string, latencyMs int64) error {
	const q = `UPDATE commands SET status = $2, result = $3, latency_ms = $4 WHERE id = $1 AND status = 'pending'`
	res, err := s.db.ExecContext(ctx, q, id, status, result, latencyMs)
	if err != nil {
		return apperr.Wrap(err, "store: update command terminal")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// AppendTelemetry inserts a telemetry sample and prunes older samples
// past the retained window (I-3).
func (s *Store) AppendTelemetry(ctx context.Context, t *model.Telemetry, window int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Wrap(err, "store: begin telemetry tx")
	}
	defer tx.Rollback()

	const ins = `INSERT INTO telemetry (id, device_id, "timestamp", payload) VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, ins, t.ID, t.DeviceID, t.Timestamp, t.Payload); err != nil {
		return apperr.Wrap(err, "store: insert telemetry")
	}

	const prune = `
		DELETE FROM telemetry
		WHERE device_id = $1 AND id NOT IN (
			SELECT id FROM telemetry WHERE device_id = $1
			ORDER BY "timestamp" DESC LIMIT $2
		)`
	if _, err := tx.ExecContext(ctx, prune, t.DeviceID, window); err != nil {
		return apperr.Wrap(err, "store: prune telemetry")
	}

	return tx.Commit()
}

// ListTelemetry returns the newest samples for a device, most recent first.
func (s *Store) ListTelemetry(ctx context.Context, deviceID string, limit int) ([]model.Telemetry, error) {
	const q = `SELECT * FROM telemetry WHERE device_id = $1 ORDER BY "timestamp" DESC LIMIT $2`
	var out []model.Telemetry
	if err := s.db.SelectContext(ctx, &out, q, deviceID, limit); err != nil {
		return nil, apperr.Wrap(err, "store: list telemetry")
	}
	return out, nil
}

// GetDevice looks up a device by id.
func (s *Store) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	const q = `SELECT * FROM devices WHERE id = $1`
	var d model.Device
	if err := s.db.GetContext(ctx, &d, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.ErrNotFound
		}
		return nil, apperr.Wrap(err, "store: get device")
	}
	d.Capabilities = splitCapabilities(d.CapabilitiesDB)
	return &d, nil
}

// UpsertDevice inserts or fully replaces a device row.
func (s *Store) UpsertDevice(ctx context.Context, d *model.Device) error {
	d.CapabilitiesDB = strings.Join(d.Capabilities, ",")
	const q = `
		INSERT INTO devices (id, name, kind, transport, capabilities, status, last_seen, firmware_tag, location, concurrency_tag)
		VALUES (:id, :name, :kind, :transport, :capabilities, :status, :last_seen, :firmware_tag, :location, :concurrency_tag)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, kind = EXCLUDED.kind, transport = EXCLUDED.transport,
			capabilities = EXCLUDED.capabilities, status = EXCLUDED.status,
			last_seen = EXCLUDED.last_seen, firmware_tag = EXCLUDED.firmware_tag,
			location = EXCLUDED.location, concurrency_tag = EXCLUDED.concurrency_tag`
	_, err := s.db.NamedExecContext(ctx, q, d)
	return apperr.Wrap(err, "store: upsert device")
}

// UpdateDeviceFields applies a partial update guarded by an
// optimistic-concurrency token; returns apperr.ErrConcurrencyMismatch
// if expectedTag doesn't match the stored tag.
func (s *Store) UpdateDeviceFields(ctx context.Context, id, expectedTag, location, firmwareTag, newTag string) error {
	const q = `
		UPDATE devices SET location = $3, firmware_tag = $4, concurrency_tag = $5
		WHERE id = $1 AND concurrency_tag = $2`
	res, err := s.db.ExecContext(ctx, q, id, expectedTag, location, firmwareTag, newTag)
	if err != nil {
		return apperr.Wrap(err, "store: update device fields")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.GetDevice(ctx, id); err != nil {
			return err
		}
		return apperr.ErrConcurrencyMismatch
	}
	return nil
}

// UpdateDeviceStatus sets a device's liveness status and last-seen
// timestamp (used by heartbeats and the liveness monitor, C7).
func (s *Store) UpdateDeviceStatus(ctx context.Context, id string, status model.DeviceStatus, lastSeen time.Time) error {
	const q = `UPDATE devices SET status = $2, last_seen = $3 WHERE id = $1`
	_, err := s.db.ExecContext(ctx, q, id, status, lastSeen)
	return apperr.Wrap(err, "store: update device status")
}

// ListDevices returns up to limit devices with id greater than after,
// ordered by id (keyset pagination).
func (s *Store) ListDevices(ctx context.Context, after string, limit int) ([]model.Device, error) {
	const q = `SELECT * FROM devices WHERE id > $1 ORDER BY id LIMIT $2`
	var rows []model.Device
	if err := s.db.SelectContext(ctx, &rows, q, after, limit); err != nil {
		return nil, apperr.Wrap(err, "store: list devices")
	}
	for i := range rows {
		rows[i].Capabilities = splitCapabilities(rows[i].CapabilitiesDB)
	}
	return rows, nil
}

// ListStaleOnline returns devices still marked online whose last_seen
// is older than cutoff, for the liveness sweep (C7).
func (s *Store) ListStaleOnline(ctx context.Context, cutoff time.Time) ([]model.Device, error) {
	const q = `SELECT * FROM devices WHERE status = 'online' AND last_seen < $1`
	var rows []model.Device
	if err := s.db.SelectContext(ctx, &rows, q, cutoff); err != nil {
		return nil, apperr.Wrap(err, "store: list stale online devices")
	}
	return rows, nil
}

// ListPendingCommands returns every command still in pending status,
// used by the startup reconciliation scan (SPEC_FULL §4).
func (s *Store) ListPendingCommands(ctx context.Context) ([]model.Command, error) {
	const q = `SELECT * FROM commands WHERE status = 'pending'`
	var rows []model.Command
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, apperr.Wrap(err, "store: list pending commands")
	}
	return rows, nil
}

func splitCapabilities(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
