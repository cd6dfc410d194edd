package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
	"placement-mailer/internal/models"
)

const policyColumns = `type, send_email, delay_minutes, only_for_target, role, updated_at`

// PolicyStore persists one DeliveryPolicy per fact type.
type PolicyStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPolicyStore(db *sql.DB, log logger.Logger) *PolicyStore {
	return &PolicyStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"store": "policies"}),
	}
}

// Get returns the policy for t, or nil when none exists yet.
func (s *PolicyStore) Get(ctx context.Context, t models.FactType) (*models.DeliveryPolicy, error) {
	if !t.Valid() {
		return nil, errors.NewValidationError("type", fmt.Sprintf("unknown fact type %q", t))
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+policyColumns+`
		FROM delivery_policies
		WHERE type = $1`, string(t))

	policy, err := scanPolicy(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewPersistenceError("get policy", err)
	}
	return policy, nil
}

// GetOrCreateDefault returns the policy for t, inserting the default one
// first when t has never been seen. Concurrent callers converge on one row.
func (s *PolicyStore) GetOrCreateDefault(ctx context.Context, t models.FactType) (*models.DeliveryPolicy, error) {
	policy, err := s.Get(ctx, t)
	if err != nil || policy != nil {
		return policy, err
	}

	def := models.DefaultPolicy(t)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO delivery_policies (type, send_email, delay_minutes, only_for_target, role)
		VALUES ($1, $2, $3, $4, NULL)
		ON CONFLICT (type) DO NOTHING`,
		string(def.Type), def.SendEmail, def.DelayMinutes, def.OnlyForTarget,
	)
	if err != nil {
		return nil, errors.NewPersistenceError("create default policy", err)
	}

	s.logger.Info("default delivery policy created", map[string]interface{}{"type": t})

	policy, err = s.Get(ctx, t)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		return nil, errors.NewPersistenceError("create default policy", fmt.Errorf("policy %s missing after insert", t))
	}
	return policy, nil
}

// Upsert applies update on top of the current (or default) policy of t.
func (s *PolicyStore) Upsert(ctx context.Context, t models.FactType, update models.PolicyUpdate) (*models.DeliveryPolicy, error) {
	current, err := s.Get(ctx, t)
	if err != nil {
		return nil, err
	}
	base := models.DefaultPolicy(t)
	if current != nil {
		base = *current
	}

	next := update.Apply(base)
	if next.DelayMinutes < 0 {
		return nil, errors.NewValidationError("delay", "delay must not be negative")
	}
	if !next.OnlyForTarget && (next.Role == nil || *next.Role == "") {
		return nil, errors.NewValidationError("role", "role is required when only_for_target is false")
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO delivery_policies (type, send_email, delay_minutes, only_for_target, role, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (type) DO UPDATE SET
			send_email = EXCLUDED.send_email,
			delay_minutes = EXCLUDED.delay_minutes,
			only_for_target = EXCLUDED.only_for_target,
			role = EXCLUDED.role,
			updated_at = NOW()
		RETURNING `+policyColumns,
		string(t), next.SendEmail, next.DelayMinutes, next.OnlyForTarget, nullString(next.Role),
	)

	saved, err := scanPolicy(row)
	if err != nil {
		return nil, errors.NewPersistenceError("upsert policy", err)
	}

	s.logger.Info("delivery policy updated", map[string]interface{}{
		"type":          t,
		"sendEmail":     saved.SendEmail,
		"onlyForTarget": saved.OnlyForTarget,
		"delayMinutes":  saved.DelayMinutes,
	})
	return saved, nil
}

// List returns every stored policy ordered by type.
func (s *PolicyStore) List(ctx context.Context) ([]models.DeliveryPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+policyColumns+`
		FROM delivery_policies
		ORDER BY type`)
	if err != nil {
		return nil, errors.NewPersistenceError("list policies", err)
	}
	defer rows.Close()

	var policies []models.DeliveryPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, errors.NewPersistenceError("scan policy", err)
		}
		policies = append(policies, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistenceError("list policies", err)
	}
	return policies, nil
}

func scanPolicy(row rowScanner) (*models.DeliveryPolicy, error) {
	var (
		p        models.DeliveryPolicy
		typeName string
		role     sql.NullString
	)
	if err := row.Scan(&typeName, &p.SendEmail, &p.DelayMinutes, &p.OnlyForTarget, &role, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Type = models.FactType(typeName)
	p.Role = stringPtr(role)
	return &p, nil
}
