package store

const schema = `
CREATE TABLE IF NOT EXISTS packages (
    package_id INTEGER NOT NULL,
    version TEXT NOT NULL,
    file_id INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL CHECK (state IN ('inactive', 'active')),
    position INTEGER NOT NULL,
    kind TEXT NOT NULL DEFAULT 'generic',
    name TEXT NOT NULL,
    archive TEXT NOT NULL,
    folder TEXT NOT NULL DEFAULT '',
    author TEXT NOT NULL DEFAULT '',
    link TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (package_id, version)
);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS downloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_name TEXT NOT NULL,
    package_id INTEGER NOT NULL,
    file_id INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    completed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_packages_state ON packages(state, position);
CREATE INDEX IF NOT EXISTS idx_downloads_completed ON downloads(completed_at);
`
