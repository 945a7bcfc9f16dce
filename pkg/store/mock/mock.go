// Package mock provides in-memory test doubles for the store interfaces.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/carescript/carescript/pkg/store"
)

// Store is an in-memory implementation of store.PatientStore,
// store.CalibrationStore, and store.SessionStore. Safe for concurrent use.
type Store struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every method.
	Err error

	Patients            map[string]*store.PatientContext
	Clips               map[string]*store.CalibrationClip
	Transcripts         map[string]*store.TranscriptRecord
	InterventionRecords []store.InterventionRecord
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{
		Patients:    map[string]*store.PatientContext{},
		Clips:       map[string]*store.CalibrationClip{},
		Transcripts: map[string]*store.TranscriptRecord{},
	}
}

// PatientContext implements store.PatientStore.
func (s *Store) PatientContext(ctx context.Context, patientID string) (*store.PatientContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	pc, ok := s.Patients[patientID]
	if !ok {
		return nil, fmt.Errorf("mock: %q: %w", patientID, store.ErrNotFound)
	}
	cp := *pc
	return &cp, nil
}

// SavePatientContext implements store.PatientStore.
func (s *Store) SavePatientContext(ctx context.Context, pc *store.PatientContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cp := *pc
	s.Patients[pc.PatientID] = &cp
	return nil
}

// Clip implements store.CalibrationStore.
func (s *Store) Clip(ctx context.Context, patientID string) (*store.CalibrationClip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	clip, ok := s.Clips[patientID]
	if !ok {
		return nil, fmt.Errorf("mock: %q: %w", patientID, store.ErrNotFound)
	}
	cp := *clip
	return &cp, nil
}

// SaveClip implements store.CalibrationStore.
func (s *Store) SaveClip(ctx context.Context, clip *store.CalibrationClip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cp := *clip
	s.Clips[clip.PatientID] = &cp
	return nil
}

// SaveTranscript implements store.SessionStore.
func (s *Store) SaveTranscript(ctx context.Context, rec *store.TranscriptRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cp := *rec
	s.Transcripts[rec.SessionID] = &cp
	return nil
}

// SaveIntervention implements store.SessionStore.
func (s *Store) SaveIntervention(ctx context.Context, rec *store.InterventionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.InterventionRecords = append(s.InterventionRecords, *rec)
	return nil
}

// Interventions implements store.SessionStore.
func (s *Store) Interventions(ctx context.Context, sessionID string) ([]store.InterventionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []store.InterventionRecord
	for _, rec := range s.InterventionRecords {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ store.PatientStore     = (*Store)(nil)
	_ store.CalibrationStore = (*Store)(nil)
	_ store.SessionStore     = (*Store)(nil)
)
