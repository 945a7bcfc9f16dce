// Package postgres provides a PostgreSQL-backed implementation of the store
// interfaces (patient context, calibration clips, session records).
//
// All implementations share a single [pgxpool.Pool]. [Migrate] is idempotent
// and safe to run on every application start.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn)
//	if err != nil { ... }
//	defer st.Close()
//
//	pc, err := st.PatientContext(ctx, patientID)
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carescript/carescript/pkg/store"
)

// Compile-time interface checks.
var (
	_ store.PatientStore     = (*Store)(nil)
	_ store.CalibrationStore = (*Store)(nil)
	_ store.SessionStore     = (*Store)(nil)
)

// Store is the central PostgreSQL-backed persistence layer. It implements
// store.PatientStore, store.CalibrationStore, and store.SessionStore on a
// single connection pool.
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, and runs [Migrate] to ensure all required
// tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// PatientContext implements [store.PatientStore].
func (s *Store) PatientContext(ctx context.Context, patientID string) (*store.PatientContext, error) {
	const q = `
		SELECT patient_id, name, preferred_name, loved_one_name, loved_one_relation,
		       cloned_voice_id, care_notes, keyterms
		FROM   patients
		WHERE  patient_id = $1`

	var pc store.PatientContext
	err := s.pool.QueryRow(ctx, q, patientID).Scan(
		&pc.PatientID,
		&pc.Name,
		&pc.PreferredName,
		&pc.LovedOneName,
		&pc.LovedOneRelation,
		&pc.ClonedVoiceID,
		&pc.CareNotes,
		&pc.Keyterms,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("patient store: %q: %w", patientID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("patient store: get context: %w", err)
	}
	return &pc, nil
}

// SavePatientContext implements [store.PatientStore] via upsert.
func (s *Store) SavePatientContext(ctx context.Context, pc *store.PatientContext) error {
	const q = `
		INSERT INTO patients
		    (patient_id, name, preferred_name, loved_one_name, loved_one_relation,
		     cloned_voice_id, care_notes, keyterms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (patient_id) DO UPDATE SET
		    name               = EXCLUDED.name,
		    preferred_name     = EXCLUDED.preferred_name,
		    loved_one_name     = EXCLUDED.loved_one_name,
		    loved_one_relation = EXCLUDED.loved_one_relation,
		    cloned_voice_id    = EXCLUDED.cloned_voice_id,
		    care_notes         = EXCLUDED.care_notes,
		    keyterms           = EXCLUDED.keyterms,
		    updated_at         = now()`

	_, err := s.pool.Exec(ctx, q,
		pc.PatientID,
		pc.Name,
		pc.PreferredName,
		pc.LovedOneName,
		pc.LovedOneRelation,
		pc.ClonedVoiceID,
		pc.CareNotes,
		pc.Keyterms,
	)
	if err != nil {
		return fmt.Errorf("patient store: save context: %w", err)
	}
	return nil
}

// Clip implements [store.CalibrationStore].
func (s *Store) Clip(ctx context.Context, patientID string) (*store.CalibrationClip, error) {
	const q = `
		SELECT patient_id, audio, mime_type, recorded_at
		FROM   calibration_clips
		WHERE  patient_id = $1`

	var clip store.CalibrationClip
	err := s.pool.QueryRow(ctx, q, patientID).Scan(
		&clip.PatientID,
		&clip.Audio,
		&clip.MimeType,
		&clip.RecordedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("calibration store: %q: %w", patientID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("calibration store: get clip: %w", err)
	}
	return &clip, nil
}

// SaveClip implements [store.CalibrationStore]. One clip per patient; a new
// clip replaces the old one.
func (s *Store) SaveClip(ctx context.Context, clip *store.CalibrationClip) error {
	const q = `
		INSERT INTO calibration_clips (patient_id, audio, mime_type, recorded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (patient_id) DO UPDATE SET
		    audio       = EXCLUDED.audio,
		    mime_type   = EXCLUDED.mime_type,
		    recorded_at = EXCLUDED.recorded_at`

	_, err := s.pool.Exec(ctx, q, clip.PatientID, clip.Audio, clip.MimeType, clip.RecordedAt)
	if err != nil {
		return fmt.Errorf("calibration store: save clip: %w", err)
	}
	return nil
}

// SaveTranscript implements [store.SessionStore].
func (s *Store) SaveTranscript(ctx context.Context, rec *store.TranscriptRecord) error {
	const q = `
		INSERT INTO session_transcripts (session_id, patient_id, started_at, ended_at, transcript)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
		    ended_at   = EXCLUDED.ended_at,
		    transcript = EXCLUDED.transcript`

	_, err := s.pool.Exec(ctx, q, rec.SessionID, rec.PatientID, rec.StartedAt, rec.EndedAt, rec.Transcript)
	if err != nil {
		return fmt.Errorf("session store: save transcript: %w", err)
	}
	return nil
}

// SaveIntervention implements [store.SessionStore].
func (s *Store) SaveIntervention(ctx context.Context, rec *store.InterventionRecord) error {
	const q = `
		INSERT INTO interventions (session_id, patient_id, triggered_by, triggered_at, ended_at, end_reason)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		rec.SessionID,
		rec.PatientID,
		rec.TriggeredBy,
		rec.TriggeredAt,
		rec.EndedAt,
		rec.EndReason,
	)
	if err != nil {
		return fmt.Errorf("session store: save intervention: %w", err)
	}
	return nil
}

// Interventions implements [store.SessionStore].
func (s *Store) Interventions(ctx context.Context, sessionID string) ([]store.InterventionRecord, error) {
	const q = `
		SELECT session_id, patient_id, triggered_by, triggered_at, ended_at, end_reason
		FROM   interventions
		WHERE  session_id = $1
		ORDER  BY triggered_at`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session store: list interventions: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.InterventionRecord, error) {
		var rec store.InterventionRecord
		err := row.Scan(
			&rec.SessionID,
			&rec.PatientID,
			&rec.TriggeredBy,
			&rec.TriggeredAt,
			&rec.EndedAt,
			&rec.EndReason,
		)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("session store: scan interventions: %w", err)
	}
	return records, nil
}
