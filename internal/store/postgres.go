package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadpipe/internal/db"
	"github.com/sells-group/leadpipe/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_lead":        `SELECT ` + leadColumns + ` FROM leads WHERE email = $1`,
	"update_score":    `UPDATE leads SET score = $1, score_breakdown = $2, updated_at = $3 WHERE email = $4`,
	"update_outreach": `UPDATE leads SET outreach_status = $1, updated_at = $2 WHERE email = $3`,
	"get_job":         `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`,
	"append_sync_log": `INSERT INTO sync_log (job_id, email, target, external_id, outcome, error, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (e.g., bulk batch loads).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                       BIGSERIAL PRIMARY KEY,
	email                    TEXT NOT NULL UNIQUE,
	source                   TEXT NOT NULL DEFAULT 'csv',
	crm_id                   TEXT NOT NULL DEFAULT '',
	verification_status      TEXT NOT NULL DEFAULT '',
	verification_sub_status  TEXT NOT NULL DEFAULT '',
	verification_score       INTEGER NOT NULL DEFAULT 0,
	verified_at              TIMESTAMPTZ,
	enriched                 BOOLEAN NOT NULL DEFAULT false,
	first_name               TEXT NOT NULL DEFAULT '',
	last_name                TEXT NOT NULL DEFAULT '',
	full_name                TEXT NOT NULL DEFAULT '',
	title                    TEXT NOT NULL DEFAULT '',
	seniority                TEXT NOT NULL DEFAULT '',
	phone                    TEXT NOT NULL DEFAULT '',
	linkedin_url             TEXT NOT NULL DEFAULT '',
	city                     TEXT NOT NULL DEFAULT '',
	state                    TEXT NOT NULL DEFAULT '',
	country                  TEXT NOT NULL DEFAULT '',
	company_name             TEXT NOT NULL DEFAULT '',
	company_domain           TEXT NOT NULL DEFAULT '',
	company_industry         TEXT NOT NULL DEFAULT '',
	company_size             INTEGER NOT NULL DEFAULT 0,
	company_location         TEXT NOT NULL DEFAULT '',
	score                    INTEGER NOT NULL DEFAULT 0,
	score_breakdown          JSONB,
	outreach_status          TEXT NOT NULL DEFAULT '',
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id             BIGSERIAL PRIMARY KEY,
	workflow       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'queued',
	phase          TEXT NOT NULL DEFAULT 'queued',
	source         TEXT NOT NULL DEFAULT '',
	total          INTEGER NOT NULL DEFAULT 0,
	processed      INTEGER NOT NULL DEFAULT 0,
	valid_count    INTEGER NOT NULL DEFAULT 0,
	invalid_count  INTEGER NOT NULL DEFAULT 0,
	unknown_count  INTEGER NOT NULL DEFAULT 0,
	created_count  INTEGER NOT NULL DEFAULT 0,
	updated_count  INTEGER NOT NULL DEFAULT 0,
	failed_count   INTEGER NOT NULL DEFAULT 0,
	error_message  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS sync_log (
	id           BIGSERIAL PRIMARY KEY,
	job_id       BIGINT NOT NULL REFERENCES jobs(id),
	email        TEXT NOT NULL,
	target       TEXT NOT NULL,
	external_id  TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_source ON leads(source);
CREATE INDEX IF NOT EXISTS idx_leads_verification_status ON leads(verification_status);
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(score);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_sync_log_job_id ON sync_log(job_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// -- Leads --

func (s *PostgresStore) UpsertVerification(ctx context.Context, v model.Verification, source model.LeadSource) (*model.Lead, error) {
	lead, err := s.loadOrNewLead(ctx, v.Email, source)
	if err != nil {
		return nil, err
	}
	lead.ApplyVerification(v)
	if err := s.saveLead(ctx, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

func (s *PostgresStore) UpsertEnrichment(ctx context.Context, e model.Enrichment, source model.LeadSource) (*model.Lead, error) {
	lead, err := s.loadOrNewLead(ctx, e.Email, source)
	if err != nil {
		return nil, err
	}
	lead.ApplyEnrichment(e)
	if err := s.saveLead(ctx, lead); err != nil {
		return nil, err
	}
	return lead, nil
}

func (s *PostgresStore) UpdateLeadScore(ctx context.Context, email string, score int, breakdown map[string]int) error {
	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal score breakdown")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET score = $1, score_breakdown = $2, updated_at = $3 WHERE email = $4`,
		score, breakdownJSON, time.Now().UTC(), model.NormalizeEmail(email),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update score for %s", email)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", email)
	}
	return nil
}

func (s *PostgresStore) UpdateOutreachStatus(ctx context.Context, email, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET outreach_status = $1, updated_at = $2 WHERE email = $3`,
		status, time.Now().UTC(), model.NormalizeEmail(email),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update outreach status for %s", email)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", email)
	}
	return nil
}

func (s *PostgresStore) SetCRMID(ctx context.Context, email, crmID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET crm_id = $1, updated_at = $2 WHERE email = $3`,
		crmID, time.Now().UTC(), model.NormalizeEmail(email),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set crm id for %s", email)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "lead %s", email)
	}
	return nil
}

func (s *PostgresStore) GetLead(ctx context.Context, email string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE email = $1`,
		model.NormalizeEmail(email),
	)
	lead, err := scanLeadRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get lead %s", email)
	}
	return lead, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter model.LeadFilter) ([]model.Lead, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + leadColumns + ` FROM leads WHERE 1=1`)
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Source != "" {
		sb.WriteString(` AND source = ` + arg(string(filter.Source)))
	}
	if filter.VerificationStatus != "" {
		sb.WriteString(` AND verification_status = ` + arg(string(filter.VerificationStatus)))
	}
	if filter.Unverified {
		sb.WriteString(` AND verification_status = ''`)
	}
	if filter.ScoreMin != nil {
		sb.WriteString(` AND score >= ` + arg(*filter.ScoreMin))
	}
	if filter.ScoreMax != nil {
		sb.WriteString(` AND score <= ` + arg(*filter.ScoreMax))
	}
	if len(filter.Emails) > 0 {
		normalized := make([]string, len(filter.Emails))
		for i, e := range filter.Emails {
			normalized[i] = model.NormalizeEmail(e)
		}
		sb.WriteString(` AND email = ANY(` + arg(normalized) + `)`)
	}
	sb.WriteString(` ORDER BY score DESC, email ASC`)

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	sb.WriteString(` LIMIT ` + arg(limit))
	if filter.Offset > 0 {
		sb.WriteString(` OFFSET ` + arg(filter.Offset))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanLeadRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads iterate")
}

func (s *PostgresStore) loadOrNewLead(ctx context.Context, email string, source model.LeadSource) (*model.Lead, error) {
	email = model.NormalizeEmail(email)
	lead, err := s.GetLead(ctx, email)
	if eris.Is(err, ErrNotFound) {
		now := time.Now().UTC()
		return &model.Lead{Email: email, Source: source, CreatedAt: now, UpdatedAt: now}, nil
	}
	return lead, err
}

func (s *PostgresStore) saveLead(ctx context.Context, lead *model.Lead) error {
	breakdownJSON, err := json.Marshal(lead.ScoreBreakdown)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal score breakdown")
	}
	lead.UpdatedAt = time.Now().UTC()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO leads (
			email, source, crm_id,
			verification_status, verification_sub_status, verification_score, verified_at,
			enriched, first_name, last_name, full_name, title, seniority, phone,
			linkedin_url, city, state, country,
			company_name, company_domain, company_industry, company_size, company_location,
			score, score_breakdown, outreach_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		          $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
		ON CONFLICT (email) DO UPDATE SET
			source = EXCLUDED.source,
			crm_id = EXCLUDED.crm_id,
			verification_status = EXCLUDED.verification_status,
			verification_sub_status = EXCLUDED.verification_sub_status,
			verification_score = EXCLUDED.verification_score,
			verified_at = EXCLUDED.verified_at,
			enriched = EXCLUDED.enriched,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			full_name = EXCLUDED.full_name,
			title = EXCLUDED.title,
			seniority = EXCLUDED.seniority,
			phone = EXCLUDED.phone,
			linkedin_url = EXCLUDED.linkedin_url,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			country = EXCLUDED.country,
			company_name = EXCLUDED.company_name,
			company_domain = EXCLUDED.company_domain,
			company_industry = EXCLUDED.company_industry,
			company_size = EXCLUDED.company_size,
			company_location = EXCLUDED.company_location,
			score = EXCLUDED.score,
			score_breakdown = EXCLUDED.score_breakdown,
			outreach_status = EXCLUDED.outreach_status,
			updated_at = EXCLUDED.updated_at`,
		lead.Email, string(lead.Source), lead.CRMID,
		string(lead.VerificationStatus), lead.VerificationSubStatus, lead.VerificationScore, lead.VerifiedAt,
		lead.Enriched, lead.FirstName, lead.LastName, lead.FullName, lead.Title, lead.Seniority, lead.Phone,
		lead.LinkedInURL, lead.City, lead.State, lead.Country,
		lead.CompanyName, lead.CompanyDomain, lead.CompanyIndustry, lead.CompanySize, lead.CompanyLocation,
		lead.Score, breakdownJSON, lead.OutreachStatus, lead.CreatedAt, lead.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save lead %s", lead.Email)
}

// -- Jobs --

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.BatchJob) (int64, error) {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (
			workflow, status, phase, source, total, processed,
			valid_count, invalid_count, unknown_count,
			created_count, updated_count, failed_count,
			error_message, created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`,
		string(job.Workflow), string(job.Status), string(job.Phase), string(job.Source),
		job.Total, job.Processed,
		job.ValidCount, job.InvalidCount, job.UnknownCount,
		job.CreatedCount, job.UpdatedCount, job.FailedCount,
		job.ErrorMessage, job.CreatedAt, job.StartedAt, job.CompletedAt,
	).Scan(&job.ID)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert job")
	}
	return job.ID, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.BatchJob) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			status = $1, phase = $2, total = $3, processed = $4,
			valid_count = $5, invalid_count = $6, unknown_count = $7,
			created_count = $8, updated_count = $9, failed_count = $10,
			error_message = $11, started_at = $12, completed_at = $13
		WHERE id = $14`,
		string(job.Status), string(job.Phase), job.Total, job.Processed,
		job.ValidCount, job.InvalidCount, job.UnknownCount,
		job.CreatedCount, job.UpdatedCount, job.FailedCount,
		job.ErrorMessage, job.StartedAt, job.CompletedAt,
		job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %d", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*model.BatchJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJobRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %d", id)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.BatchJob, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`)
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Status != "" {
		sb.WriteString(` AND status = ` + arg(string(filter.Status)))
	}
	sb.WriteString(` ORDER BY created_at DESC`)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	sb.WriteString(` LIMIT ` + arg(limit))
	if filter.Offset > 0 {
		sb.WriteString(` OFFSET ` + arg(filter.Offset))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.BatchJob
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// -- Sync log --

func (s *PostgresStore) AppendSyncLog(ctx context.Context, entry *model.SyncLogEntry) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sync_log (job_id, email, target, external_id, outcome, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		entry.JobID, entry.Email, entry.Target, entry.ExternalID, string(entry.Outcome), entry.Error, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: append sync log")
	}
	return entry.ID, nil
}

func (s *PostgresStore) ListSyncLog(ctx context.Context, jobID int64) ([]model.SyncLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, email, target, external_id, outcome, error, created_at
		 FROM sync_log WHERE job_id = $1 ORDER BY id ASC`, jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sync log")
	}
	defer rows.Close()

	var entries []model.SyncLogEntry
	for rows.Next() {
		var e model.SyncLogEntry
		var outcome string
		if err := rows.Scan(&e.ID, &e.JobID, &e.Email, &e.Target, &e.ExternalID, &outcome, &e.Error, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync log entry")
		}
		e.Outcome = model.SyncOutcome(outcome)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: sync log iterate")
}

// scanLeadRow reads a lead row using pgx-native null handling.
func scanLeadRow(row scannable) (*model.Lead, error) {
	var l model.Lead
	var source, status string
	var breakdownJSON []byte

	err := row.Scan(
		&l.ID, &l.Email, &source, &l.CRMID,
		&status, &l.VerificationSubStatus, &l.VerificationScore, &l.VerifiedAt,
		&l.Enriched, &l.FirstName, &l.LastName, &l.FullName, &l.Title, &l.Seniority, &l.Phone,
		&l.LinkedInURL, &l.City, &l.State, &l.Country,
		&l.CompanyName, &l.CompanyDomain, &l.CompanyIndustry, &l.CompanySize, &l.CompanyLocation,
		&l.Score, &breakdownJSON, &l.OutreachStatus, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Source = model.LeadSource(source)
	l.VerificationStatus = model.VerificationStatus(status)
	if len(breakdownJSON) > 0 && string(breakdownJSON) != "null" {
		if err := json.Unmarshal(breakdownJSON, &l.ScoreBreakdown); err != nil {
			return nil, eris.Wrap(err, "unmarshal score breakdown")
		}
	}
	return &l, nil
}

func scanJobRow(row scannable) (*model.BatchJob, error) {
	var j model.BatchJob
	var workflow, status, phase, source string

	err := row.Scan(
		&j.ID, &workflow, &status, &phase, &source, &j.Total, &j.Processed,
		&j.ValidCount, &j.InvalidCount, &j.UnknownCount,
		&j.CreatedCount, &j.UpdatedCount, &j.FailedCount,
		&j.ErrorMessage, &j.CreatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Workflow = model.WorkflowKind(workflow)
	j.Status = model.JobStatus(status)
	j.Phase = model.Phase(phase)
	j.Source = model.LeadSource(source)
	return &j, nil
}
