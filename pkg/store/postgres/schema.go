package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlPatients = `
CREATE TABLE IF NOT EXISTS patients (
    patient_id         TEXT         PRIMARY KEY,
    name               TEXT         NOT NULL,
    preferred_name     TEXT         NOT NULL DEFAULT '',
    loved_one_name     TEXT         NOT NULL DEFAULT '',
    loved_one_relation TEXT         NOT NULL DEFAULT '',
    cloned_voice_id    TEXT         NOT NULL DEFAULT '',
    care_notes         TEXT         NOT NULL DEFAULT '',
    keyterms           TEXT[]       NOT NULL DEFAULT '{}',
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlCalibrationClips = `
CREATE TABLE IF NOT EXISTS calibration_clips (
    patient_id  TEXT         PRIMARY KEY REFERENCES patients (patient_id) ON DELETE CASCADE,
    audio       BYTEA        NOT NULL,
    mime_type   TEXT         NOT NULL DEFAULT 'audio/wav',
    recorded_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlSessionTranscripts = `
CREATE TABLE IF NOT EXISTS session_transcripts (
    session_id  TEXT         PRIMARY KEY,
    patient_id  TEXT         NOT NULL,
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL,
    transcript  TEXT         NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_transcripts_patient
    ON session_transcripts (patient_id);

CREATE INDEX IF NOT EXISTS idx_session_transcripts_fts
    ON session_transcripts USING GIN (to_tsvector('english', transcript));
`

const ddlInterventions = `
CREATE TABLE IF NOT EXISTS interventions (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   TEXT         NOT NULL,
    patient_id   TEXT         NOT NULL,
    triggered_by TEXT         NOT NULL,
    triggered_at TIMESTAMPTZ  NOT NULL,
    ended_at     TIMESTAMPTZ  NOT NULL,
    end_reason   TEXT         NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interventions_session
    ON interventions (session_id);

CREATE INDEX IF NOT EXISTS idx_interventions_patient
    ON interventions (patient_id);
`

// Migrate creates or ensures all required database tables exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlPatients,
		ddlCalibrationClips,
		ddlSessionTranscripts,
		ddlInterventions,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
