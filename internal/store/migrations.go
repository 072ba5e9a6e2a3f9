package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Captures table - the session gallery, newest first by captured_at
		`CREATE TABLE IF NOT EXISTS captures (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL CHECK(mode IN ('FACE', 'ID_CARD')),
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			manual INTEGER NOT NULL DEFAULT 0,
			image BLOB NOT NULL,
			captured_at INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Settings table - stores session settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_captures_captured_at ON captures(captured_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
