package postgresql

// migrations returns the schema migrations keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS process_templates (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS sub_process_templates (
				id TEXT PRIMARY KEY,
				process_template_id TEXT NOT NULL REFERENCES process_templates(id),
				name TEXT NOT NULL,
				assignment_mode TEXT NOT NULL,
				target_user_id TEXT NOT NULL DEFAULT '',
				target_group_id TEXT NOT NULL DEFAULT '',
				target_department_id TEXT NOT NULL DEFAULT '',
				target_manager_id TEXT NOT NULL DEFAULT '',
				validation_levels INTEGER NOT NULL DEFAULT 0,
				notify_on_create BOOLEAN NOT NULL DEFAULT TRUE,
				notify_on_status_change BOOLEAN NOT NULL DEFAULT TRUE,
				notify_on_close BOOLEAN NOT NULL DEFAULT TRUE,
				position INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_sub_process_templates_process
				ON sub_process_templates(process_template_id, position);

			CREATE TABLE IF NOT EXISTS task_templates (
				id TEXT PRIMARY KEY,
				sub_process_template_id TEXT NOT NULL REFERENCES sub_process_templates(id),
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				priority TEXT NOT NULL DEFAULT 'medium',
				default_duration_days INTEGER NOT NULL DEFAULT 0,
				validation_level_1 TEXT NOT NULL DEFAULT 'none',
				validation_level_2 TEXT NOT NULL DEFAULT 'none',
				validator_1_id TEXT NOT NULL DEFAULT '',
				validator_2_id TEXT NOT NULL DEFAULT '',
				checklist JSONB,
				position INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_task_templates_sub_process
				ON task_templates(sub_process_template_id, position);

			CREATE TABLE IF NOT EXISTS workflow_templates (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				version INTEGER NOT NULL DEFAULT 1,
				status TEXT NOT NULL,
				process_template_id TEXT,
				sub_process_template_id TEXT,
				is_default BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				CHECK ((process_template_id IS NULL) <> (sub_process_template_id IS NULL))
			);

			CREATE UNIQUE INDEX IF NOT EXISTS ux_workflow_templates_default
				ON workflow_templates (COALESCE(process_template_id, sub_process_template_id))
				WHERE is_default AND status = 'active';

			CREATE TABLE IF NOT EXISTS workflow_nodes (
				id TEXT NOT NULL,
				workflow_template_id TEXT NOT NULL REFERENCES workflow_templates(id),
				node_type TEXT NOT NULL,
				name TEXT NOT NULL,
				config JSONB,
				position_x INTEGER NOT NULL DEFAULT 0,
				position_y INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workflow_template_id, id)
			);

			CREATE TABLE IF NOT EXISTS workflow_edges (
				id TEXT NOT NULL,
				workflow_template_id TEXT NOT NULL REFERENCES workflow_templates(id),
				source_id TEXT NOT NULL,
				target_id TEXT NOT NULL,
				branch_index INTEGER NOT NULL DEFAULT -1,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (workflow_template_id, id)
			);

			CREATE TABLE IF NOT EXISTS generation_attempts (
				owner_id TEXT NOT NULL,
				version INTEGER NOT NULL,
				attempted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (owner_id, version)
			);

			CREATE TABLE IF NOT EXISTS workflow_runs (
				id TEXT PRIMARY KEY,
				workflow_template_id TEXT NOT NULL,
				template_version INTEGER NOT NULL DEFAULT 1,
				request_id TEXT NOT NULL,
				status TEXT NOT NULL,
				context JSONB,
				log JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_runs_request ON workflow_runs(request_id);

			CREATE TABLE IF NOT EXISTS request_sub_processes (
				id TEXT PRIMARY KEY,
				request_id TEXT NOT NULL,
				sub_process_template_id TEXT NOT NULL,
				workflow_run_id TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				notify_on_close BOOLEAN NOT NULL DEFAULT TRUE,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (request_id, sub_process_template_id)
			);

			CREATE INDEX IF NOT EXISTS idx_request_sub_processes_request
				ON request_sub_processes(request_id);

			CREATE TABLE IF NOT EXISTS requests (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				requester_id TEXT NOT NULL,
				department_id TEXT NOT NULL DEFAULT '',
				process_template_id TEXT NOT NULL,
				field_values JSONB,
				validation_levels INTEGER NOT NULL DEFAULT 0,
				validation_level_1 TEXT NOT NULL DEFAULT 'none',
				validation_level_2 TEXT NOT NULL DEFAULT 'none',
				validator_1_id TEXT NOT NULL DEFAULT '',
				validator_2_id TEXT NOT NULL DEFAULT '',
				validation_status TEXT NOT NULL DEFAULT 'none',
				validation_1 JSONB,
				validation_2 JSONB,
				workflow_run_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS tasks (
				id TEXT PRIMARY KEY,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				priority TEXT NOT NULL DEFAULT 'medium',
				assignee_id TEXT NOT NULL DEFAULT '',
				requester_id TEXT NOT NULL DEFAULT '',
				reporter_id TEXT NOT NULL DEFAULT '',
				parent_request_id TEXT NOT NULL,
				parent_sub_process_run_id TEXT NOT NULL,
				workflow_run_id TEXT NOT NULL DEFAULT '',
				due_date TIMESTAMP WITH TIME ZONE,
				checklist JSONB,
				validation_level_1 TEXT NOT NULL DEFAULT 'none',
				validation_level_2 TEXT NOT NULL DEFAULT 'none',
				validator_1_id TEXT NOT NULL DEFAULT '',
				validator_2_id TEXT NOT NULL DEFAULT '',
				validation_1 JSONB,
				validation_2 JSONB,
				is_locked_for_validation BOOLEAN NOT NULL DEFAULT FALSE,
				original_assignee_id TEXT NOT NULL DEFAULT '',
				validated_at TIMESTAMP WITH TIME ZONE,
				validator_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_tasks_sub_process_run
				ON tasks(parent_sub_process_run_id);
			CREATE INDEX IF NOT EXISTS idx_tasks_request ON tasks(parent_request_id);

			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				email TEXT NOT NULL DEFAULT '',
				manager_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS groups (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				member_ids TEXT[] NOT NULL DEFAULT '{}'
			);

			CREATE TABLE IF NOT EXISTS departments (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				manager_id TEXT NOT NULL DEFAULT '',
				member_ids TEXT[] NOT NULL DEFAULT '{}'
			);
		`,
	}
}
