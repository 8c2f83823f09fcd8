package database

// Schema contains the SQLite database schema.
const Schema = `
-- Devices: one row per AxeOS device.
-- MAC address is the stable identifier (hosts can change with DHCP).
CREATE TABLE IF NOT EXISTS devices (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    mac_address TEXT NOT NULL UNIQUE COLLATE NOCASE,
    host TEXT NOT NULL,             -- address the device was polled on
    hostname TEXT,
    asic_model TEXT,                -- e.g., "BM1370"
    board_version TEXT,             -- e.g., "601"
    firmware_version TEXT,
    axeos_version TEXT,
    is_online INTEGER DEFAULT 1,    -- 1 = online, 0 = offline
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    last_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_devices_host ON devices(host);
CREATE INDEX IF NOT EXISTS idx_devices_online ON devices(is_online);

-- Snapshots: one decoded /api/system/info response.
-- Unsigned 64-bit counters are stored as decimal text; SQLite integers are signed.
CREATE TABLE IF NOT EXISTS snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id INTEGER NOT NULL,
    cycle_id TEXT NOT NULL,          -- harvest cycle that produced it
    taken_at DATETIME NOT NULL,
    hashrate REAL,                   -- GH/s as reported
    expected_hashrate REAL,
    best_diff TEXT,                  -- uint64 as decimal text
    best_session_diff TEXT,
    pool_difficulty TEXT,
    shares_accepted TEXT,
    shares_rejected TEXT,
    block_found INTEGER DEFAULT 0,
    temp REAL,
    temp_target REAL,
    fan_rpm INTEGER,
    fan_speed REAL,
    auto_fan_speed INTEGER,
    frequency INTEGER,               -- MHz
    wifi_rssi INTEGER,               -- dBm
    stratum_url TEXT,                -- active pool
    stratum_port INTEGER,
    stratum_user TEXT,
    using_fallback INTEGER DEFAULT 0,
    stratum_latency REAL,            -- ms, NULL until measured
    overheat_mode INTEGER DEFAULT 0,
    uptime_seconds TEXT,
    FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_snapshots_device_time ON snapshots(device_id, taken_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_cycle ON snapshots(cycle_id);

-- Share rejection reasons, in the order the firmware reported them.
CREATE TABLE IF NOT EXISTS share_rejections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    snapshot_id INTEGER NOT NULL,
    position INTEGER NOT NULL,
    message TEXT NOT NULL,
    count TEXT NOT NULL,             -- uint64 as decimal text
    FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE,
    UNIQUE(snapshot_id, position)
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// Migrations contains SQL migrations indexed by version.
// Version 1 is the initial schema.
var Migrations = map[int]string{}
