// Package configstore is the reference ConfigStore implementation (spec.md
// §6, SPEC_FULL.md §4.12): a Postgres-backed read projection of schedules,
// their resources, and the accounts the core assumes roles into. Production
// code depends only on the orchestrator.ConfigStore interface this package
// satisfies — a deployment may substitute its own store (e.g. backed by a
// dashboard's own database) without touching orchestrator code.
package configstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nimbusops/hiberctl/pkg/schedule"
)

const scheduleColumns = `id, tenant_id, name, active, start_hms, end_hms, timezone, active_days`

// Store provides read access to schedules, schedule resources, and accounts
// using the global connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by the given global connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ActiveSchedules returns every active schedule, optionally scoped to one
// tenant (empty tenantID means all tenants), each with its resources loaded.
func (s *Store) ActiveSchedules(ctx context.Context, tenantID string) ([]schedule.Schedule, error) {
	var rows pgx.Rows
	var err error
	if tenantID == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+scheduleColumns+` FROM public.schedules WHERE active ORDER BY id`)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+scheduleColumns+` FROM public.schedules WHERE active AND tenant_id = $1 ORDER BY id`,
			tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("listing active schedules: %w", err)
	}

	schedules, err := scanSchedules(rows)
	if err != nil {
		return nil, err
	}

	if err := s.attachResources(ctx, schedules); err != nil {
		return nil, err
	}
	return schedules, nil
}

// ScheduleByID returns one schedule (active or not) by id, scoped to a
// tenant, with its resources loaded. Returns (nil, nil) if not found.
func (s *Store) ScheduleByID(ctx context.Context, scheduleID, tenantID string) (*schedule.Schedule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM public.schedules WHERE id = $1 AND tenant_id = $2`,
		scheduleID, tenantID)

	sched, err := scanSchedule(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("loading schedule %s: %w", scheduleID, err)
	}

	schedules := []schedule.Schedule{sched}
	if err := s.attachResources(ctx, schedules); err != nil {
		return nil, err
	}
	return &schedules[0], nil
}

// ActiveAccounts returns every active account with its assumable regions.
func (s *Store) ActiveAccounts(ctx context.Context) ([]schedule.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, display_name, role_id, external_secret FROM public.accounts WHERE active ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("listing active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []schedule.Account
	for rows.Next() {
		var a schedule.Account
		if err := rows.Scan(&a.AccountID, &a.DisplayName, &a.RoleID, &a.ExternalSecret); err != nil {
			return nil, fmt.Errorf("scanning account row: %w", err)
		}
		a.Active = true
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating account rows: %w", err)
	}

	if err := s.attachRegions(ctx, accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func scanSchedule(row pgx.Row) (schedule.Schedule, error) {
	var sch schedule.Schedule
	err := row.Scan(&sch.ID, &sch.TenantID, &sch.Name, &sch.Active, &sch.StartHMS, &sch.EndHMS, &sch.Timezone, &sch.ActiveDays)
	return sch, err
}

func scanSchedules(rows pgx.Rows) ([]schedule.Schedule, error) {
	defer rows.Close()
	var schedules []schedule.Schedule
	for rows.Next() {
		var sch schedule.Schedule
		if err := rows.Scan(&sch.ID, &sch.TenantID, &sch.Name, &sch.Active, &sch.StartHMS, &sch.EndHMS, &sch.Timezone, &sch.ActiveDays); err != nil {
			return nil, fmt.Errorf("scanning schedule row: %w", err)
		}
		schedules = append(schedules, sch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating schedule rows: %w", err)
	}
	return schedules, nil
}

// attachResources loads every schedule_resources row for the given
// schedules in one query and assigns each to its owning schedule by index.
func (s *Store) attachResources(ctx context.Context, schedules []schedule.Schedule) error {
	if len(schedules) == 0 {
		return nil
	}

	ids := make([]string, len(schedules))
	indexByID := make(map[string]int, len(schedules))
	for i, sch := range schedules {
		ids[i] = sch.ID
		indexByID[sch.ID] = i
	}

	rows, err := s.pool.Query(ctx,
		`SELECT schedule_id, resource_id, kind, canonical_id, parent_id
		 FROM public.schedule_resources WHERE schedule_id = ANY($1) ORDER BY id`,
		ids)
	if err != nil {
		return fmt.Errorf("listing schedule resources: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var scheduleID string
		var ref schedule.ResourceReference
		if err := rows.Scan(&scheduleID, &ref.ResourceID, &ref.Kind, &ref.CanonicalID, &ref.ParentID); err != nil {
			return fmt.Errorf("scanning schedule resource row: %w", err)
		}
		idx, ok := indexByID[scheduleID]
		if !ok {
			continue
		}
		schedules[idx].Resources = append(schedules[idx].Resources, ref)
	}
	return rows.Err()
}

// attachRegions loads every account_regions row for the given accounts in
// one query and assigns each to its owning account by index.
func (s *Store) attachRegions(ctx context.Context, accounts []schedule.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	ids := make([]string, len(accounts))
	indexByID := make(map[string]int, len(accounts))
	for i, a := range accounts {
		ids[i] = a.AccountID
		indexByID[a.AccountID] = i
	}

	rows, err := s.pool.Query(ctx,
		`SELECT account_id, region FROM public.account_regions WHERE account_id = ANY($1) ORDER BY region`,
		ids)
	if err != nil {
		return fmt.Errorf("listing account regions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accountID, region string
		if err := rows.Scan(&accountID, &region); err != nil {
			return fmt.Errorf("scanning account region row: %w", err)
		}
		idx, ok := indexByID[accountID]
		if !ok {
			continue
		}
		accounts[idx].Regions = append(accounts[idx].Regions, region)
	}
	return rows.Err()
}
