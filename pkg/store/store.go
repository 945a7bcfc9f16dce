// Package store defines the persistence interfaces for patient context,
// caregiver calibration clips, and care-session records.
//
// The intervention pipeline itself never touches a database directly; it is
// handed these interfaces so deployments can back them with PostgreSQL (see
// the postgres subpackage) or in-memory fakes in tests.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// PatientContext is everything the pipeline needs to know about a patient to
// personalize an intervention: who they are, who their loved one is, and
// which cloned voice to speak with.
type PatientContext struct {
	PatientID     string
	Name          string
	PreferredName string

	// LovedOneName and LovedOneRelation identify the person the voice agent
	// impersonates ("Rosa", "daughter").
	LovedOneName     string
	LovedOneRelation string

	// ClonedVoiceID is the synthesised voice trained on the loved one's
	// recordings. Empty means the agent uses its default voice.
	ClonedVoiceID string

	// CareNotes is free-text context from the care plan that the agent may
	// reference (current medication, daily routine).
	CareNotes string

	// Keyterms biases transcription toward this patient's clinical
	// vocabulary.
	Keyterms []string
}

// CalibrationClip is a short caregiver voice recording spliced ahead of
// session audio so the transcription provider can anchor diarization.
type CalibrationClip struct {
	PatientID  string
	Audio      []byte
	MimeType   string
	RecordedAt time.Time
}

// InterventionRecord captures one intervention attempt within a session.
type InterventionRecord struct {
	SessionID   string
	PatientID   string
	TriggeredBy string // "auto" or "nurse"
	TriggeredAt time.Time
	EndedAt     time.Time
	EndReason   string
}

// TranscriptRecord is the durable transcript of a completed care session.
type TranscriptRecord struct {
	SessionID  string
	PatientID  string
	StartedAt  time.Time
	EndedAt    time.Time
	Transcript string
}

// PatientStore provides patient context lookups.
type PatientStore interface {
	// PatientContext returns the context for patientID, or ErrNotFound.
	PatientContext(ctx context.Context, patientID string) (*PatientContext, error)

	// SavePatientContext inserts or updates a patient's context.
	SavePatientContext(ctx context.Context, pc *PatientContext) error
}

// CalibrationStore persists caregiver calibration clips, one per patient.
type CalibrationStore interface {
	// Clip returns the latest calibration clip for patientID, or ErrNotFound.
	Clip(ctx context.Context, patientID string) (*CalibrationClip, error)

	// SaveClip stores a clip, replacing any previous one for the patient.
	SaveClip(ctx context.Context, clip *CalibrationClip) error
}

// SessionStore persists care-session outcomes.
type SessionStore interface {
	// SaveTranscript stores the transcript of a completed session.
	SaveTranscript(ctx context.Context, rec *TranscriptRecord) error

	// SaveIntervention stores one intervention attempt.
	SaveIntervention(ctx context.Context, rec *InterventionRecord) error

	// Interventions returns all intervention records for a session in
	// trigger order.
	Interventions(ctx context.Context, sessionID string) ([]InterventionRecord, error)
}
