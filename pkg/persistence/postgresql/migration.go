package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE triggers (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				priority INT NOT NULL DEFAULT 100,
				active BOOLEAN NOT NULL DEFAULT true,
				last_fired_at TIMESTAMP WITH TIME ZONE,
				doc JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_triggers_active ON triggers(active);
			CREATE INDEX idx_triggers_priority ON triggers(priority);

			CREATE TABLE decisions (
				id UUID PRIMARY KEY,
				trigger_id UUID,
				recipient_id VARCHAR(255) NOT NULL,
				verdict VARCHAR(20) NOT NULL,
				reason VARCHAR(50),
				doc JSONB NOT NULL,
				decided_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_decisions_trigger_id ON decisions(trigger_id);
			CREATE INDEX idx_decisions_recipient_id ON decisions(recipient_id);
			CREATE INDEX idx_decisions_decided_at ON decisions(decided_at);

			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL,
				doc JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE enrollments (
				id UUID PRIMARY KEY,
				workflow_id UUID NOT NULL,
				recipient_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL,
				next_step_at TIMESTAMP WITH TIME ZONE NOT NULL,
				version BIGINT NOT NULL DEFAULT 0,
				doc JSONB NOT NULL,
				enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- One active enrollment per (workflow, recipient); re-entrant
			-- workflows bypass this via the partial index predicate.
			CREATE UNIQUE INDEX idx_enrollments_active_unique
				ON enrollments(workflow_id, recipient_id)
				WHERE status IN ('active', 'paused');

			CREATE INDEX idx_enrollments_due ON enrollments(next_step_at)
				WHERE status = 'active';

			CREATE TABLE step_executions (
				id UUID PRIMARY KEY,
				enrollment_id UUID NOT NULL,
				idempotency_key VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL,
				doc JSONB NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_step_executions_enrollment ON step_executions(enrollment_id);
			CREATE INDEX idx_step_executions_key ON step_executions(idempotency_key);

			CREATE TABLE control_states (
				scope VARCHAR(255) PRIMARY KEY,
				mode VARCHAR(20) NOT NULL,
				timer_expires_at TIMESTAMP WITH TIME ZONE,
				doc JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE control_history (
				id UUID PRIMARY KEY,
				scope VARCHAR(255) NOT NULL,
				doc JSONB NOT NULL,
				changed_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_control_history_scope ON control_history(scope);

			CREATE TABLE variants (
				id UUID PRIMARY KEY,
				decision_point_id VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true,
				doc JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_variants_decision_point ON variants(decision_point_id, active);
		`,
	}
}
