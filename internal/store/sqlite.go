package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadpipe/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                       INTEGER PRIMARY KEY AUTOINCREMENT,
	email                    TEXT NOT NULL UNIQUE,
	source                   TEXT NOT NULL DEFAULT 'csv',
	crm_id                   TEXT NOT NULL DEFAULT '',
	verification_status      TEXT NOT NULL DEFAULT '',
	verification_sub_status  TEXT NOT NULL DEFAULT '',
	verification_score       INTEGER NOT NULL DEFAULT 0,
	verified_at              DATETIME,
	enriched                 INTEGER NOT NULL DEFAULT 0,
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
	score_breakdown          TEXT,
	outreach_status          TEXT NOT NULL DEFAULT '',
	created_at               DATETIME NOT NULL,
	updated_at               DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
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
	created_at     DATETIME NOT NULL,
	started_at     DATETIME,
	completed_at   DATETIME
);

CREATE TABLE IF NOT EXISTS sync_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id       INTEGER NOT NULL,
	email        TEXT NOT NULL,
	target       TEXT NOT NULL,
	external_id  TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leads_source ON leads(source);
CREATE INDEX IF NOT EXISTS idx_leads_verification_status ON leads(verification_status);
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(score);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_sync_log_job_id ON sync_log(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// -- Leads --

func (s *SQLiteStore) UpsertVerification(ctx context.Context, v model.Verification, source model.LeadSource) (*model.Lead, error) {
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

func (s *SQLiteStore) UpsertEnrichment(ctx context.Context, e model.Enrichment, source model.LeadSource) (*model.Lead, error) {
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

func (s *SQLiteStore) UpdateLeadScore(ctx context.Context, email string, score int, breakdown map[string]int) error {
	breakdownJSON, err := json.Marshal(breakdown)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal score breakdown")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET score = ?, score_breakdown = ?, updated_at = ? WHERE email = ?`,
		score, string(breakdownJSON), time.Now().UTC(), model.NormalizeEmail(email),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update score for %s", email)
	}
	return checkRowsAffected(res, "lead", email)
}

func (s *SQLiteStore) UpdateOutreachStatus(ctx context.Context, email, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET outreach_status = ?, updated_at = ? WHERE email = ?`,
		status, time.Now().UTC(), model.NormalizeEmail(email),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update outreach status for %s", email)
	}
	return checkRowsAffected(res, "lead", email)
}

func (s *SQLiteStore) SetCRMID(ctx context.Context, email, crmID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET crm_id = ?, updated_at = ? WHERE email = ?`,
		crmID, time.Now().UTC(), model.NormalizeEmail(email),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set crm id for %s", email)
	}
	return checkRowsAffected(res, "lead", email)
}

func (s *SQLiteStore) GetLead(ctx context.Context, email string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE email = ?`,
		model.NormalizeEmail(email),
	)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get lead %s", email)
	}
	return lead, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter model.LeadFilter) ([]model.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	if filter.VerificationStatus != "" {
		query += ` AND verification_status = ?`
		args = append(args, string(filter.VerificationStatus))
	}
	if filter.Unverified {
		query += ` AND verification_status = ''`
	}
	if filter.ScoreMin != nil {
		query += ` AND score >= ?`
		args = append(args, *filter.ScoreMin)
	}
	if filter.ScoreMax != nil {
		query += ` AND score <= ?`
		args = append(args, *filter.ScoreMax)
	}
	if len(filter.Emails) > 0 {
		query += ` AND email IN (?` + strings.Repeat(",?", len(filter.Emails)-1) + `)`
		for _, e := range filter.Emails {
			args = append(args, model.NormalizeEmail(e))
		}
	}
	query += ` ORDER BY score DESC, email ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads iterate")
}

func (s *SQLiteStore) loadOrNewLead(ctx context.Context, email string, source model.LeadSource) (*model.Lead, error) {
	email = model.NormalizeEmail(email)
	lead, err := s.GetLead(ctx, email)
	if eris.Is(err, ErrNotFound) {
		now := time.Now().UTC()
		return &model.Lead{Email: email, Source: source, CreatedAt: now, UpdatedAt: now}, nil
	}
	return lead, err
}

func (s *SQLiteStore) saveLead(ctx context.Context, lead *model.Lead) error {
	breakdownJSON, err := json.Marshal(lead.ScoreBreakdown)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal score breakdown")
	}
	lead.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO leads (
			email, source, crm_id,
			verification_status, verification_sub_status, verification_score, verified_at,
			enriched, first_name, last_name, full_name, title, seniority, phone,
			linkedin_url, city, state, country,
			company_name, company_domain, company_industry, company_size, company_location,
			score, score_breakdown, outreach_status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			source = excluded.source,
			crm_id = excluded.crm_id,
			verification_status = excluded.verification_status,
			verification_sub_status = excluded.verification_sub_status,
			verification_score = excluded.verification_score,
			verified_at = excluded.verified_at,
			enriched = excluded.enriched,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			full_name = excluded.full_name,
			title = excluded.title,
			seniority = excluded.seniority,
			phone = excluded.phone,
			linkedin_url = excluded.linkedin_url,
			city = excluded.city,
			state = excluded.state,
			country = excluded.country,
			company_name = excluded.company_name,
			company_domain = excluded.company_domain,
			company_industry = excluded.company_industry,
			company_size = excluded.company_size,
			company_location = excluded.company_location,
			score = excluded.score,
			score_breakdown = excluded.score_breakdown,
			outreach_status = excluded.outreach_status,
			updated_at = excluded.updated_at`,
		lead.Email, string(lead.Source), lead.CRMID,
		string(lead.VerificationStatus), lead.VerificationSubStatus, lead.VerificationScore, lead.VerifiedAt,
		boolToInt(lead.Enriched), lead.FirstName, lead.LastName, lead.FullName, lead.Title, lead.Seniority, lead.Phone,
		lead.LinkedInURL, lead.City, lead.State, lead.Country,
		lead.CompanyName, lead.CompanyDomain, lead.CompanyIndustry, lead.CompanySize, lead.CompanyLocation,
		lead.Score, string(breakdownJSON), lead.OutreachStatus, lead.CreatedAt, lead.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save lead %s", lead.Email)
}

// -- Jobs --

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.BatchJob) (int64, error) {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (
			workflow, status, phase, source, total, processed,
			valid_count, invalid_count, unknown_count,
			created_count, updated_count, failed_count,
			error_message, created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(job.Workflow), string(job.Status), string(job.Phase), string(job.Source),
		job.Total, job.Processed,
		job.ValidCount, job.InvalidCount, job.UnknownCount,
		job.CreatedCount, job.UpdatedCount, job.FailedCount,
		job.ErrorMessage, job.CreatedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert job")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: job id")
	}
	job.ID = id
	return id, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.BatchJob) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, phase = ?, total = ?, processed = ?,
			valid_count = ?, invalid_count = ?, unknown_count = ?,
			created_count = ?, updated_count = ?, failed_count = ?,
			error_message = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(job.Status), string(job.Phase), job.Total, job.Processed,
		job.ValidCount, job.InvalidCount, job.UnknownCount,
		job.CreatedCount, job.UpdatedCount, job.FailedCount,
		job.ErrorMessage, job.StartedAt, job.CompletedAt,
		job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %d", job.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (*model.BatchJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %d", id)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.BatchJob, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.BatchJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// -- Sync log --

func (s *SQLiteStore) AppendSyncLog(ctx context.Context, entry *model.SyncLogEntry) (int64, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_log (job_id, email, target, external_id, outcome, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.JobID, entry.Email, entry.Target, entry.ExternalID, string(entry.Outcome), entry.Error, entry.CreatedAt,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: append sync log")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sync log id")
	}
	entry.ID = id
	return id, nil
}

func (s *SQLiteStore) ListSyncLog(ctx context.Context, jobID int64) ([]model.SyncLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, email, target, external_id, outcome, error, created_at
		 FROM sync_log WHERE job_id = ? ORDER BY id ASC`, jobID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sync log")
	}
	defer rows.Close()

	var entries []model.SyncLogEntry
	for rows.Next() {
		var e model.SyncLogEntry
		var outcome string
		if err := rows.Scan(&e.ID, &e.JobID, &e.Email, &e.Target, &e.ExternalID, &outcome, &e.Error, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync log entry")
		}
		e.Outcome = model.SyncOutcome(outcome)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: sync log iterate")
}

// helpers

const leadColumns = `id, email, source, crm_id,
	verification_status, verification_sub_status, verification_score, verified_at,
	enriched, first_name, last_name, full_name, title, seniority, phone,
	linkedin_url, city, state, country,
	company_name, company_domain, company_industry, company_size, company_location,
	score, score_breakdown, outreach_status, created_at, updated_at`

const jobColumns = `id, workflow, status, phase, source, total, processed,
	valid_count, invalid_count, unknown_count,
	created_count, updated_count, failed_count,
	error_message, created_at, started_at, completed_at`

func checkRowsAffected(res sql.Result, entity, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, key)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	var source, status string
	var verifiedAt sql.NullTime
	var breakdownJSON sql.NullString
	var enriched int

	err := row.Scan(
		&l.ID, &l.Email, &source, &l.CRMID,
		&status, &l.VerificationSubStatus, &l.VerificationScore, &verifiedAt,
		&enriched, &l.FirstName, &l.LastName, &l.FullName, &l.Title, &l.Seniority, &l.Phone,
		&l.LinkedInURL, &l.City, &l.State, &l.Country,
		&l.CompanyName, &l.CompanyDomain, &l.CompanyIndustry, &l.CompanySize, &l.CompanyLocation,
		&l.Score, &breakdownJSON, &l.OutreachStatus, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Source = model.LeadSource(source)
	l.VerificationStatus = model.VerificationStatus(status)
	l.Enriched = enriched != 0
	if verifiedAt.Valid {
		t := verifiedAt.Time
		l.VerifiedAt = &t
	}
	if breakdownJSON.Valid && breakdownJSON.String != "" && breakdownJSON.String != "null" {
		if err := json.Unmarshal([]byte(breakdownJSON.String), &l.ScoreBreakdown); err != nil {
			return nil, eris.Wrap(err, "unmarshal score breakdown")
		}
	}
	return &l, nil
}

func scanJob(row scannable) (*model.BatchJob, error) {
	var j model.BatchJob
	var workflow, status, phase, source string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&j.ID, &workflow, &status, &phase, &source, &j.Total, &j.Processed,
		&j.ValidCount, &j.InvalidCount, &j.UnknownCount,
		&j.CreatedCount, &j.UpdatedCount, &j.FailedCount,
		&j.ErrorMessage, &j.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Workflow = model.WorkflowKind(workflow)
	j.Status = model.JobStatus(status)
	j.Phase = model.Phase(phase)
	j.Source = model.LeadSource(source)
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}
