package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflow_definitions (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				category VARCHAR(255) NOT NULL DEFAULT '',
				industry VARCHAR(255) NOT NULL DEFAULT '',
				tags JSONB NOT NULL DEFAULT '[]',
				visibility VARCHAR(50) NOT NULL CHECK (visibility IN ('public', 'private')),
				nodes JSONB NOT NULL DEFAULT '[]',
				version INT NOT NULL DEFAULT 1,
				usage_count BIGINT NOT NULL DEFAULT 0,
				owner_id VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_definitions_visibility ON workflow_definitions(visibility);
			CREATE INDEX idx_workflow_definitions_category ON workflow_definitions(category);
			CREATE INDEX idx_workflow_definitions_owner_id ON workflow_definitions(owner_id);
			CREATE INDEX idx_workflow_definitions_created_at ON workflow_definitions(created_at);

			CREATE TABLE workflow_instances (
				id UUID PRIMARY KEY,
				definition_id UUID NOT NULL,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
				priority VARCHAR(50) NOT NULL DEFAULT 'normal',
				initiated_by VARCHAR(255) NOT NULL,
				due_date TIMESTAMP WITH TIME ZONE,
				sla_breached BOOLEAN NOT NULL DEFAULT FALSE,
				sla_breached_at TIMESTAMP WITH TIME ZONE,
				cancel_reason TEXT NOT NULL DEFAULT '',
				version BIGINT NOT NULL DEFAULT 1,
				steps JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_instances_definition_id ON workflow_instances(definition_id);
			CREATE INDEX idx_workflow_instances_status ON workflow_instances(status);
			CREATE INDEX idx_workflow_instances_initiated_by ON workflow_instances(initiated_by);
			CREATE INDEX idx_workflow_instances_due_date ON workflow_instances(due_date) WHERE due_date IS NOT NULL;
			CREATE INDEX idx_workflow_instances_created_at ON workflow_instances(created_at);

			CREATE TABLE approval_requests (
				id UUID PRIMARY KEY,
				instance_id UUID NOT NULL,
				step_id VARCHAR(255) NOT NULL,
				approver_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'delegated', 'cancelled')),
				requested_at TIMESTAMP WITH TIME ZONE NOT NULL,
				due_date TIMESTAMP WITH TIME ZONE,
				decided_at TIMESTAMP WITH TIME ZONE,
				comments TEXT NOT NULL DEFAULT '',
				reason TEXT NOT NULL DEFAULT '',
				delegated_from UUID
			);

			CREATE INDEX idx_approval_requests_step_id ON approval_requests(step_id);
			CREATE INDEX idx_approval_requests_approver_id ON approval_requests(approver_id);
			CREATE INDEX idx_approval_requests_instance_id ON approval_requests(instance_id);
			CREATE INDEX idx_approval_requests_status ON approval_requests(status);

			-- At most one active approval per step.
			CREATE UNIQUE INDEX idx_approval_requests_active_step
				ON approval_requests(step_id) WHERE status = 'pending';
		`,
	}
}
