package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"

	"gatekeep.org/internal/abac"
	"gatekeep.org/internal/auth"
)

// Targets live one row per entry in the child tables; bigserial ids keep
// their document order.
const policySelect = `
	select p.id, p.description, p.effect, p.context,
		coalesce((select json_agg(s.rule order by s.id) from policy_subjects s where s.policy_id = p.id), '[]'),
		coalesce((select json_agg(r.rule order by r.id) from policy_resources r where r.policy_id = p.id), '[]'),
		coalesce((select json_agg(a.rule order by a.id) from policy_actions a where a.policy_id = p.id), '[]')
	from policies p`

var policyChildren = []string{"policy_subjects", "policy_resources", "policy_actions"}

func scanPolicy(row interface{ Scan(...any) error }) (abac.Policy, error) {
	var (
		p                        abac.Policy
		allow                    bool
		ctxRaw, subs, ress, acts []byte
	)
	if err := row.Scan(&p.ID, &p.Description, &allow, &ctxRaw, &subs, &ress, &acts); err != nil {
		return abac.Policy{}, err
	}
	p.Effect = abac.EffectDeny
	if allow {
		p.Effect = abac.EffectAllow
	}
	var err error
	if p.Context, err = abac.DecodeRuleMap(ctxRaw); err != nil {
		return abac.Policy{}, fmt.Errorf("policy %s context: %w", p.ID, err)
	}
	if p.Subjects, err = decodeTargetList(subs); err != nil {
		return abac.Policy{}, fmt.Errorf("policy %s subjects: %w", p.ID, err)
	}
	if p.Resources, err = decodeTargetList(ress); err != nil {
		return abac.Policy{}, fmt.Errorf("policy %s resources: %w", p.ID, err)
	}
	if p.Actions, err = decodeTargetList(acts); err != nil {
		return abac.Policy{}, fmt.Errorf("policy %s actions: %w", p.ID, err)
	}
	return p, nil
}

func decodeTargetList(raw []byte) ([]abac.Target, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := make([]abac.Target, 0, len(items))
	for _, item := range items {
		t, err := abac.DecodeTarget(item)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) CreatePolicy(ctx context.Context, p *abac.Policy) error {
	if s.db == nil {
		return errNoDB
	}
	ctxJSON, err := json.Marshal(contextOf(p))
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		insert into policies (id, description, effect, context)
		values ($1, $2, $3, $4)
	`, p.ID, p.Description, p.AllowAccess(), ctxJSON); err != nil {
		return mapWriteErr(err)
	}
	if err := insertTargets(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdatePolicy replaces every field of the stored policy with p.
func (s *Store) UpdatePolicy(ctx context.Context, p *abac.Policy) error {
	if s.db == nil {
		return errNoDB
	}
	ctxJSON, err := json.Marshal(contextOf(p))
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := expectOne(tx.ExecContext(ctx, `
		update policies set description = $2, effect = $3, context = $4, updated_at = now()
		where id = $1
	`, p.ID, p.Description, p.AllowAccess(), ctxJSON)); err != nil {
		return err
	}
	for _, table := range policyChildren {
		if _, err := tx.ExecContext(ctx, `delete from `+table+` where policy_id = $1`, p.ID); err != nil {
			return err
		}
	}
	if err := insertTargets(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTargets(ctx context.Context, tx *sql.Tx, p *abac.Policy) error {
	groups := [][]abac.Target{p.Subjects, p.Resources, p.Actions}
	for i, table := range policyChildren {
		for _, t := range groups[i] {
			raw, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `insert into `+table+` (policy_id, rule) values ($1, $2)`, p.ID, raw); err != nil {
				return mapWriteErr(err)
			}
		}
	}
	return nil
}

func contextOf(p *abac.Policy) map[string]abac.Rule {
	if p.Context == nil {
		return map[string]abac.Rule{}
	}
	return p.Context
}

// DeletePolicy removes the policy; child rows go with it by cascade.
func (s *Store) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	if s.db == nil {
		return errNoDB
	}
	return expectOne(s.db.ExecContext(ctx, `delete from policies where id = $1`, id))
}

func (s *Store) GetPolicy(ctx context.Context, id uuid.UUID) (*abac.Policy, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	p, err := scanPolicy(s.db.QueryRowContext(ctx, policySelect+` where p.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListPolicies(ctx context.Context, offset, limit int) ([]abac.Policy, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var out []abac.Policy
	for p, err := range s.queryPolicies(ctx, policySelect+` order by p.created_at, p.id limit $1 offset $2`, limit, offset) {
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) CountPolicies(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, errNoDB
	}
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from policies`).Scan(&n)
	return n, err
}

// Policies streams every stored policy for the guard.
func (s *Store) Policies(ctx context.Context) iter.Seq2[abac.Policy, error] {
	if s.db == nil {
		return func(yield func(abac.Policy, error) bool) { yield(abac.Policy{}, errNoDB) }
	}
	return s.queryPolicies(ctx, policySelect+` order by p.created_at, p.id`)
}

func (s *Store) queryPolicies(ctx context.Context, query string, args ...any) iter.Seq2[abac.Policy, error] {
	return func(yield func(abac.Policy, error) bool) {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(abac.Policy{}, err)
			return
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPolicy(rows)
			if !yield(p, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(abac.Policy{}, err)
		}
	}
}
