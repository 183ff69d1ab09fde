package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	email               TEXT NOT NULL DEFAULT '',
	telegram_chat_id    TEXT,
	active              INTEGER NOT NULL DEFAULT 1 CHECK(active IN (0, 1)),
	email_enabled       INTEGER NOT NULL DEFAULT 1 CHECK(email_enabled IN (0, 1)),
	telegram_enabled    INTEGER NOT NULL DEFAULT 1 CHECK(telegram_enabled IN (0, 1)),
	quiet_hours_enabled INTEGER NOT NULL DEFAULT 0 CHECK(quiet_hours_enabled IN (0, 1)),
	quiet_hours_start   TEXT NOT NULL DEFAULT '',
	quiet_hours_end     TEXT NOT NULL DEFAULT '',
	timezone            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role    TEXT NOT NULL,
	PRIMARY KEY (user_id, role)
);

CREATE INDEX IF NOT EXISTS idx_user_roles_role ON user_roles(role);

CREATE TABLE IF NOT EXISTS contracts (
	id                 TEXT PRIMARY KEY,
	number             TEXT NOT NULL,
	contractor_name    TEXT NOT NULL DEFAULT '',
	base_amount        TEXT NOT NULL DEFAULT '0',
	currency           TEXT NOT NULL DEFAULT '',
	curator_id         TEXT REFERENCES users(id) ON DELETE SET NULL,
	project_manager_id TEXT REFERENCES users(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS progress_reports (
	id                TEXT PRIMARY KEY,
	contract_id       TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	report_date       DATETIME NOT NULL,
	completed_percent TEXT NOT NULL DEFAULT '0',
	status            TEXT NOT NULL DEFAULT 'draft',
	submitted_by_id   TEXT,
	submitted_at      DATETIME,
	reviewed_by_id    TEXT,
	reviewed_at       DATETIME,
	review_comment    TEXT NOT NULL DEFAULT '',
	approved_by_id    TEXT,
	approved_at       DATETIME,
	approval_comment  TEXT NOT NULL DEFAULT '',
	rejected_by_id    TEXT,
	rejected_at       DATETIME,
	rejection_reason  TEXT NOT NULL DEFAULT '',
	payment_id        TEXT,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_progress_reports_contract ON progress_reports(contract_id);

CREATE TABLE IF NOT EXISTS report_events (
	id          TEXT PRIMARY KEY,
	report_id   TEXT NOT NULL REFERENCES progress_reports(id) ON DELETE CASCADE,
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	comment     TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_report_events_report ON report_events(report_id);

CREATE TABLE IF NOT EXISTS payments (
	id                 TEXT PRIMARY KEY,
	contract_id        TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	progress_report_id TEXT NOT NULL UNIQUE REFERENCES progress_reports(id),
	amount             TEXT NOT NULL,
	currency           TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'pending',
	description        TEXT NOT NULL DEFAULT '',
	created_by_id      TEXT NOT NULL,
	created_at         DATETIME NOT NULL,
	paid_at            DATETIME
);

CREATE TABLE IF NOT EXISTS milestones (
	id          TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	title       TEXT NOT NULL DEFAULT '',
	due_date    DATETIME NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_milestones_due ON milestones(due_date);

CREATE TABLE IF NOT EXISTS tasks (
	id                  TEXT PRIMARY KEY,
	title               TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'new',
	priority            TEXT NOT NULL DEFAULT 'normal',
	due_date            DATETIME NOT NULL,
	start_date          DATETIME,
	assignee_id         TEXT NOT NULL,
	assigned_by_id      TEXT NOT NULL,
	contract_id         TEXT,
	procurement_item_id TEXT,
	project_id          TEXT,
	milestone_id        TEXT,
	progress_report_id  TEXT,
	completion_percent  INTEGER NOT NULL DEFAULT 0 CHECK(completion_percent BETWEEN 0 AND 100),
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL,
	completed_at        DATETIME
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_due ON tasks(status, due_date);
CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id);
CREATE INDEX IF NOT EXISTS idx_tasks_contract ON tasks(contract_id);
CREATE INDEX IF NOT EXISTS idx_tasks_report ON tasks(progress_report_id);
CREATE INDEX IF NOT EXISTS idx_tasks_milestone ON tasks(milestone_id);

CREATE TABLE IF NOT EXISTS task_history (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	action     TEXT NOT NULL,
	actor_id   TEXT NOT NULL,
	old_value  TEXT NOT NULL DEFAULT '',
	new_value  TEXT NOT NULL DEFAULT '',
	comment    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_task_history_task ON task_history(task_id);

CREATE TABLE IF NOT EXISTS extension_requests (
	id                 TEXT PRIMARY KEY,
	task_id            TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	reason             TEXT NOT NULL,
	original_due_date  DATETIME NOT NULL,
	requested_due_date DATETIME NOT NULL,
	status             TEXT NOT NULL DEFAULT 'pending',
	requested_by_id    TEXT NOT NULL,
	approved_by_id     TEXT,
	rejection_reason   TEXT NOT NULL DEFAULT '',
	created_at         DATETIME NOT NULL,
	resolved_at        DATETIME
);

CREATE INDEX IF NOT EXISTS idx_extension_requests_task ON extension_requests(task_id);

CREATE TABLE IF NOT EXISTS notifications (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	title            TEXT NOT NULL,
	message          TEXT NOT NULL DEFAULT '',
	type             TEXT NOT NULL,
	priority         TEXT NOT NULL DEFAULT 'normal',
	channel          TEXT NOT NULL DEFAULT 'all',
	reference_type   TEXT,
	reference_id     TEXT,
	dedup_key        TEXT UNIQUE,
	is_read          INTEGER NOT NULL DEFAULT 0 CHECK(is_read IN (0, 1)),
	email_sent       INTEGER NOT NULL DEFAULT 0 CHECK(email_sent IN (0, 1)),
	email_sent_at    DATETIME,
	telegram_sent    INTEGER NOT NULL DEFAULT 0 CHECK(telegram_sent IN (0, 1)),
	telegram_sent_at DATETIME,
	retry_count      INTEGER NOT NULL DEFAULT 0,
	last_error       TEXT NOT NULL DEFAULT '',
	scheduled_at     DATETIME,
	created_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, is_read);
CREATE INDEX IF NOT EXISTS idx_notifications_pending ON notifications(email_sent, telegram_sent);
CREATE INDEX IF NOT EXISTS idx_notifications_reference ON notifications(reference_type, reference_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE tasks ADD COLUMN created_by_id TEXT NOT NULL DEFAULT '';
UPDATE tasks SET created_by_id = assigned_by_id WHERE created_by_id = '';

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
