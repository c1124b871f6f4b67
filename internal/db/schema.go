package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// EnsureSchema applies the idempotent DDL for the given driver.
func EnsureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverPostgres:
		schema = schemaPostgres
	case DriverSQLite:
		schema = schemaSQLite
	default:
		return fmt.Errorf("ensure schema: unsupported driver %q", driver)
	}

	if _, err := db.ExecContext(ctx, schema); err == nil {
		return nil
	}
	// Some drivers reject multi-statement scripts; retry one statement at a time.
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema at %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tests (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	instructions TEXT NOT NULL DEFAULT '',
	total_marks DOUBLE PRECISION NOT NULL DEFAULT 0,
	is_published BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pdfs (
	id BIGSERIAL PRIMARY KEY,
	original_name TEXT NOT NULL,
	stored_name TEXT NOT NULL,
	file_size BIGINT NOT NULL,
	page_count INTEGER NOT NULL DEFAULT 0,
	file_path TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS crops (
	id BIGSERIAL PRIMARY KEY,
	pdf_id BIGINT NOT NULL REFERENCES pdfs(id) ON DELETE CASCADE,
	page_number INTEGER NOT NULL,
	crop_x DOUBLE PRECISION NOT NULL,
	crop_y DOUBLE PRECISION NOT NULL,
	crop_width DOUBLE PRECISION NOT NULL,
	crop_height DOUBLE PRECISION NOT NULL,
	image_path TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
	id BIGSERIAL PRIMARY KEY,
	test_id BIGINT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	crop_id BIGINT REFERENCES crops(id) ON DELETE SET NULL,
	subject TEXT NOT NULL,
	question_type TEXT NOT NULL DEFAULT 'mcq',
	option_a TEXT NOT NULL DEFAULT '',
	option_b TEXT NOT NULL DEFAULT '',
	option_c TEXT NOT NULL DEFAULT '',
	option_d TEXT NOT NULL DEFAULT '',
	correct_answer TEXT NOT NULL,
	marks DOUBLE PRECISION NOT NULL,
	negative_marks DOUBLE PRECISION NOT NULL DEFAULT 0,
	difficulty TEXT NOT NULL DEFAULT '',
	solution TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_questions_test ON questions(test_id, id);

CREATE TABLE IF NOT EXISTS percentile_mappings (
	id BIGSERIAL PRIMARY KEY,
	test_id BIGINT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	marks_threshold DOUBLE PRECISION NOT NULL,
	percentile DOUBLE PRECISION NOT NULL,
	UNIQUE (test_id, marks_threshold)
);

CREATE TABLE IF NOT EXISTS submissions (
	id BIGSERIAL PRIMARY KEY,
	test_id BIGINT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	user_id BIGINT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	total_score DOUBLE PRECISION,
	correct_count INTEGER,
	incorrect_count INTEGER,
	unattempted_count INTEGER,
	accuracy DOUBLE PRECISION,
	percentile DOUBLE PRECISION,
	rank INTEGER,
	total_time BIGINT
);
CREATE INDEX IF NOT EXISTS idx_submissions_test_status ON submissions(test_id, status);

CREATE TABLE IF NOT EXISTS responses (
	id BIGSERIAL PRIMARY KEY,
	submission_id BIGINT NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
	question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	selected_answer TEXT,
	time_spent BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (submission_id, question_id)
);

CREATE TABLE IF NOT EXISTS analysis_records (
	id BIGSERIAL PRIMARY KEY,
	submission_id BIGINT NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
	subject TEXT NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	correct_count INTEGER NOT NULL,
	incorrect_count INTEGER NOT NULL,
	unattempted_count INTEGER NOT NULL,
	time_spent BIGINT NOT NULL,
	accuracy DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_submission ON analysis_records(submission_id);
`

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	instructions TEXT NOT NULL DEFAULT '',
	total_marks REAL NOT NULL DEFAULT 0,
	is_published BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pdfs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	original_name TEXT NOT NULL,
	stored_name TEXT NOT NULL,
	file_size INTEGER NOT NULL,
	page_count INTEGER NOT NULL DEFAULT 0,
	file_path TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS crops (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pdf_id INTEGER NOT NULL REFERENCES pdfs(id) ON DELETE CASCADE,
	page_number INTEGER NOT NULL,
	crop_x REAL NOT NULL,
	crop_y REAL NOT NULL,
	crop_width REAL NOT NULL,
	crop_height REAL NOT NULL,
	image_path TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	test_id INTEGER NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	crop_id INTEGER REFERENCES crops(id) ON DELETE SET NULL,
	subject TEXT NOT NULL,
	question_type TEXT NOT NULL DEFAULT 'mcq',
	option_a TEXT NOT NULL DEFAULT '',
	option_b TEXT NOT NULL DEFAULT '',
	option_c TEXT NOT NULL DEFAULT '',
	option_d TEXT NOT NULL DEFAULT '',
	correct_answer TEXT NOT NULL,
	marks REAL NOT NULL,
	negative_marks REAL NOT NULL DEFAULT 0,
	difficulty TEXT NOT NULL DEFAULT '',
	solution TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_questions_test ON questions(test_id, id);

CREATE TABLE IF NOT EXISTS percentile_mappings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	test_id INTEGER NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	marks_threshold REAL NOT NULL,
	percentile REAL NOT NULL,
	UNIQUE (test_id, marks_threshold)
);

CREATE TABLE IF NOT EXISTS submissions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	test_id INTEGER NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	total_score REAL,
	correct_count INTEGER,
	incorrect_count INTEGER,
	unattempted_count INTEGER,
	accuracy REAL,
	percentile REAL,
	rank INTEGER,
	total_time INTEGER
);
CREATE INDEX IF NOT EXISTS idx_submissions_test_status ON submissions(test_id, status);

CREATE TABLE IF NOT EXISTS responses (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	submission_id INTEGER NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
	question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	selected_answer TEXT,
	time_spent INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (submission_id, question_id)
);

CREATE TABLE IF NOT EXISTS analysis_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	submission_id INTEGER NOT NULL REFERENCES submissions(id) ON DELETE CASCADE,
	subject TEXT NOT NULL,
	score REAL NOT NULL,
	correct_count INTEGER NOT NULL,
	incorrect_count INTEGER NOT NULL,
	unattempted_count INTEGER NOT NULL,
	time_spent INTEGER NOT NULL,
	accuracy REAL NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_submission ON analysis_records(submission_id);
`
