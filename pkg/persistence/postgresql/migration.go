package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id TEXT PRIMARY KEY,
				name VARCHAR(200) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				nodes JSONB NOT NULL DEFAULT '[]',
				connections JSONB NOT NULL DEFAULT '[]',
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				company_id TEXT NOT NULL DEFAULT '',
				created_by TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_company_created ON workflows(company_id, created_at DESC);
			CREATE INDEX idx_workflows_active ON workflows(is_active) WHERE is_active;

			CREATE TABLE workflow_executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				error_message TEXT NOT NULL DEFAULT '',
				execution_data JSONB NOT NULL DEFAULT '{}'
			);

			CREATE INDEX idx_workflow_executions_workflow ON workflow_executions(workflow_id, started_at DESC);
			CREATE INDEX idx_workflow_executions_open ON workflow_executions(status) WHERE status IN ('pending', 'running');

			CREATE TABLE execution_logs (
				id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				node_id TEXT NOT NULL,
				status VARCHAR(20) NOT NULL,
				logged_at TIMESTAMP WITH TIME ZONE NOT NULL,
				data JSONB,
				error_message TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_execution_logs_execution ON execution_logs(execution_id, logged_at);

			CREATE TABLE workflow_records (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				execution_id TEXT NOT NULL,
				company_id TEXT NOT NULL DEFAULT '',
				table_name TEXT NOT NULL,
				action VARCHAR(20) NOT NULL,
				data JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_records_execution ON workflow_records(execution_id, created_at);
		`,
		2: `
			CREATE TABLE ai_agents (
				id TEXT PRIMARY KEY,
				developer_id TEXT NOT NULL,
				name VARCHAR(100) NOT NULL,
				description VARCHAR(500) NOT NULL,
				category VARCHAR(30) NOT NULL,
				version VARCHAR(30) NOT NULL,
				config JSONB NOT NULL DEFAULT '{}',
				code TEXT NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('draft', 'published', 'archived')),
				is_public BOOLEAN NOT NULL DEFAULT FALSE,
				price DOUBLE PRECISION NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_ai_agents_listed ON ai_agents(category) WHERE is_public AND status = 'published';

			CREATE TABLE agent_subscriptions (
				id TEXT PRIMARY KEY,
				agent_id TEXT NOT NULL REFERENCES ai_agents(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL,
				company_id TEXT NOT NULL DEFAULT '',
				status VARCHAR(20) NOT NULL CHECK (status IN ('active', 'paused', 'cancelled')),
				config JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				expires_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX uniq_agent_subscriptions_active ON agent_subscriptions(agent_id, user_id) WHERE status = 'active';
			CREATE INDEX idx_agent_subscriptions_user ON agent_subscriptions(user_id, created_at DESC);

			CREATE TABLE agent_ratings (
				agent_id TEXT NOT NULL REFERENCES ai_agents(id) ON DELETE CASCADE,
				user_id TEXT NOT NULL,
				rating SMALLINT NOT NULL CHECK (rating BETWEEN 1 AND 5),
				review TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (agent_id, user_id)
			);

			CREATE TABLE agent_executions (
				id TEXT PRIMARY KEY,
				agent_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				company_id TEXT NOT NULL DEFAULT '',
				input JSONB NOT NULL DEFAULT '{}',
				output JSONB,
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				error_message TEXT NOT NULL DEFAULT '',
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT
			);

			CREATE INDEX idx_agent_executions_agent_user ON agent_executions(agent_id, user_id, started_at DESC);
			CREATE INDEX idx_agent_executions_open ON agent_executions(status) WHERE status IN ('pending', 'running');
		`,
	}
}
