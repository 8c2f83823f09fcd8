package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a new SQLite repository.
// The dbPath can be a file path or ":memory:" for in-memory database.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

// migrate runs database migrations.
func (r *SQLiteRepository) migrate() error {
	var currentVersion int
	err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion)
	if err != nil {
		// Table doesn't exist, run initial schema
		if _, err := r.db.Exec(Schema); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		_, err = r.db.Exec("INSERT INTO schema_version (version) VALUES (?)", SchemaVersion)
		return err
	}

	for v := currentVersion + 1; v <= SchemaVersion; v++ {
		migration, ok := Migrations[v]
		if !ok {
			continue
		}
		if _, err := r.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", v, err)
		}
		if _, err := r.db.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", v, err)
		}
	}
	return nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// DB returns the underlying database connection for advanced queries.
func (r *SQLiteRepository) DB() *sql.DB {
	return r.db
}

// =============================================================================
// Devices
// =============================================================================

const deviceColumns = `id, mac_address, host, hostname, asic_model, board_version,
	firmware_version, axeos_version, is_online, created_at, updated_at, last_seen_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	d := &Device{}
	err := row.Scan(&d.ID, &d.MACAddress, &d.Host, &d.Hostname, &d.ASICModel, &d.BoardVersion,
		&d.FirmwareVersion, &d.AxeOSVersion, &d.IsOnline, &d.CreatedAt, &d.UpdatedAt, &d.LastSeenAt)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *SQLiteRepository) queryDevice(ctx context.Context, where string, arg any) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (r *SQLiteRepository) GetDevice(ctx context.Context, id int64) (*Device, error) {
	return r.queryDevice(ctx, "id = ?", id)
}

func (r *SQLiteRepository) GetDeviceByMAC(ctx context.Context, mac string) (*Device, error) {
	return r.queryDevice(ctx, "mac_address = ? COLLATE NOCASE", mac)
}

// GetDeviceByHost returns the most recently seen device polled on host.
func (r *SQLiteRepository) GetDeviceByHost(ctx context.Context, host string) (*Device, error) {
	return r.queryDevice(ctx, "host = ? ORDER BY last_seen_at DESC LIMIT 1", host)
}

func (r *SQLiteRepository) ListDevices(ctx context.Context) ([]*Device, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+deviceColumns+" FROM devices ORDER BY hostname, mac_address")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpsertDeviceByMAC inserts d or updates the row with the same MAC address,
// compared case-insensitively. On return d carries the stored ID and timestamps.
func (r *SQLiteRepository) UpsertDeviceByMAC(ctx context.Context, d *Device) error {
	if d.MACAddress == "" {
		return fmt.Errorf("upsert device: empty MAC address")
	}

	now := time.Now().UTC()
	d.UpdatedAt = now
	d.LastSeenAt = now
	d.IsOnline = true

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO devices (mac_address, host, hostname, asic_model, board_version,
			firmware_version, axeos_version, is_online, created_at, updated_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mac_address) DO UPDATE SET
			host = excluded.host,
			hostname = excluded.hostname,
			asic_model = excluded.asic_model,
			board_version = excluded.board_version,
			firmware_version = excluded.firmware_version,
			axeos_version = excluded.axeos_version,
			is_online = excluded.is_online,
			updated_at = excluded.updated_at,
			last_seen_at = excluded.last_seen_at
		RETURNING id`,
		d.MACAddress, d.Host, d.Hostname, d.ASICModel, d.BoardVersion,
		d.FirmwareVersion, d.AxeOSVersion, d.IsOnline, now, now, now).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("upsert device: %w", err)
	}

	stored, err := r.GetDevice(ctx, d.ID)
	if err != nil {
		return err
	}
	if stored != nil {
		d.CreatedAt = stored.CreatedAt
	}
	return nil
}

func (r *SQLiteRepository) SetDeviceOnline(ctx context.Context, id int64, online bool) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET is_online = ?, updated_at = ? WHERE id = ?",
		online, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// =============================================================================
// Snapshots
// =============================================================================

const snapshotColumns = `id, device_id, cycle_id, taken_at, hashrate, expected_hashrate,
	best_diff, best_session_diff, pool_difficulty, shares_accepted, shares_rejected, block_found,
	temp, temp_target, fan_rpm, fan_speed, auto_fan_speed, frequency, wifi_rssi,
	stratum_url, stratum_port, stratum_user, using_fallback, stratum_latency, overheat_mode, uptime_seconds`

// uintColumn scans a uint64 stored as decimal text.
type uintColumn struct {
	name string
	dst  *uint64
	raw  string
}

func (c *uintColumn) parse() error {
	v, err := strconv.ParseUint(c.raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	*c.dst = v
	return nil
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	s := &Snapshot{}
	unsigned := []*uintColumn{
		{name: "best_diff", dst: &s.BestDiff},
		{name: "best_session_diff", dst: &s.BestSessionDiff},
		{name: "pool_difficulty", dst: &s.PoolDifficulty},
		{name: "shares_accepted", dst: &s.SharesAccepted},
		{name: "shares_rejected", dst: &s.SharesRejected},
		{name: "uptime_seconds", dst: &s.UptimeSeconds},
	}
	var latency sql.NullFloat64
	err := row.Scan(&s.ID, &s.DeviceID, &s.CycleID, &s.TakenAt, &s.Hashrate, &s.ExpectedHashrate,
		&unsigned[0].raw, &unsigned[1].raw, &unsigned[2].raw, &unsigned[3].raw, &unsigned[4].raw, &s.BlockFound,
		&s.Temp, &s.TempTarget, &s.FanRPM, &s.FanSpeed, &s.AutoFanSpeed, &s.Frequency, &s.WifiRSSI,
		&s.StratumURL, &s.StratumPort, &s.StratumUser, &s.UsingFallback, &latency, &s.OverheatMode, &unsigned[5].raw)
	if err != nil {
		return nil, err
	}
	for _, c := range unsigned {
		if err := c.parse(); err != nil {
			return nil, fmt.Errorf("snapshot %d: %w", s.ID, err)
		}
	}
	if latency.Valid {
		s.StratumLatency = &latency.Float64
	}
	s.TakenAt = s.TakenAt.UTC()
	return s, nil
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// InsertSnapshot stores s and its rejection reasons in one transaction.
func (r *SQLiteRepository) InsertSnapshot(ctx context.Context, s *Snapshot) error {
	if s.TakenAt.IsZero() {
		s.TakenAt = time.Now()
	}
	s.TakenAt = s.TakenAt.UTC()

	var latency sql.NullFloat64
	if s.StratumLatency != nil {
		latency = sql.NullFloat64{Float64: *s.StratumLatency, Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (device_id, cycle_id, taken_at, hashrate, expected_hashrate,
			best_diff, best_session_diff, pool_difficulty, shares_accepted, shares_rejected, block_found,
			temp, temp_target, fan_rpm, fan_speed, auto_fan_speed, frequency, wifi_rssi,
			stratum_url, stratum_port, stratum_user, using_fallback, stratum_latency, overheat_mode, uptime_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.DeviceID, s.CycleID, s.TakenAt, s.Hashrate, s.ExpectedHashrate,
		formatUint(s.BestDiff), formatUint(s.BestSessionDiff),
		formatUint(s.PoolDifficulty), formatUint(s.SharesAccepted), formatUint(s.SharesRejected), s.BlockFound,
		s.Temp, s.TempTarget, s.FanRPM, s.FanSpeed, s.AutoFanSpeed, s.Frequency, s.WifiRSSI,
		s.StratumURL, int64(s.StratumPort), s.StratumUser, s.UsingFallback, latency, s.OverheatMode,
		formatUint(s.UptimeSeconds))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	for i, rej := range s.Rejections {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO share_rejections (snapshot_id, position, message, count)
			VALUES (?, ?, ?, ?)`,
			id, i, rej.Message, formatUint(rej.Count)); err != nil {
			return fmt.Errorf("insert share rejection %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.ID = id
	return nil
}

func (r *SQLiteRepository) LatestSnapshot(ctx context.Context, deviceID int64) (*Snapshot, error) {
	s, err := scanSnapshot(r.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE device_id = ? ORDER BY taken_at DESC, id DESC LIMIT 1`, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadRejections(ctx, []*Snapshot{s}); err != nil {
		return nil, err
	}
	return s, nil
}

// ListSnapshots returns snapshots taken in [from, to], oldest first.
func (r *SQLiteRepository) ListSnapshots(ctx context.Context, deviceID int64, from, to time.Time) ([]*Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+snapshotColumns+` FROM snapshots
		WHERE device_id = ? AND taken_at >= ? AND taken_at <= ?
		ORDER BY taken_at, id`, deviceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []*Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadRejections(ctx, snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (r *SQLiteRepository) loadRejections(ctx context.Context, snapshots []*Snapshot) error {
	for _, s := range snapshots {
		rows, err := r.db.QueryContext(ctx, `
			SELECT message, count FROM share_rejections
			WHERE snapshot_id = ? ORDER BY position`, s.ID)
		if err != nil {
			return err
		}

		s.Rejections = []ShareRejection{}
		for rows.Next() {
			rej := ShareRejection{}
			count := uintColumn{name: "share_rejections.count", dst: &rej.Count}
			if err := rows.Scan(&rej.Message, &count.raw); err != nil {
				rows.Close()
				return err
			}
			if err := count.parse(); err != nil {
				rows.Close()
				return fmt.Errorf("snapshot %d: %w", s.ID, err)
			}
			s.Rejections = append(s.Rejections, rej)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteSnapshotsBefore removes snapshots older than before and returns how many were deleted.
func (r *SQLiteRepository) DeleteSnapshotsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM snapshots WHERE taken_at < ?", before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
