package store

// schemaDDL defines the six tables the core persists to: projects
// (read-only to the core), sessions, messages, permission_rules,
// permission_log, and the opaque webhooks table.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	folder_path TEXT NOT NULL,
	default_model TEXT,
	default_permission_mode TEXT,
	system_prompt TEXT,
	append_system_prompt TEXT
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	project_id TEXT REFERENCES projects(id),
	agent_id TEXT,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	model TEXT,
	cli_pid INTEGER,
	ws_port INTEGER,
	total_cost_usd REAL NOT NULL DEFAULT 0,
	total_input_tokens INTEGER NOT NULL DEFAULT 0,
	total_output_tokens INTEGER NOT NULL DEFAULT 0,
	num_turns INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL,
	last_active_at TIMESTAMP,
	closed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	direction TEXT NOT NULL,
	frame_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS permission_rules (
	id TEXT PRIMARY KEY,
	project_id TEXT REFERENCES projects(id),
	tool_name TEXT NOT NULL,
	rule_content TEXT NOT NULL DEFAULT '',
	behavior TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_permission_rules_scope ON permission_rules(project_id, behavior, priority DESC);

CREATE TABLE IF NOT EXISTS permission_log (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	request_id TEXT NOT NULL,
	tool_name TEXT NOT NULL,
	tool_input_json TEXT NOT NULL,
	decision TEXT NOT NULL,
	decision_source TEXT NOT NULL,
	rule_id TEXT REFERENCES permission_rules(id),
	decided_by TEXT NOT NULL,
	decided_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_permission_log_session ON permission_log(session_id, decided_at);

CREATE TABLE IF NOT EXISTS webhooks (
	id TEXT PRIMARY KEY,
	payload TEXT
);
`
