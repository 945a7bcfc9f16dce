package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/carescript/carescript/internal/transcript"
	"github.com/carescript/carescript/pkg/audio"
	"github.com/carescript/carescript/pkg/provider/transcribe"
	"github.com/carescript/carescript/pkg/store"
)

// ---- sessions ----

type startSessionRequest struct {
	PatientID string `json:"patient_id"`
	NurseName string `json:"nurse_name"`
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	PatientID string    `json:"patient_id"`
	NurseName string    `json:"nurse_name"`
	StartedAt time.Time `json:"started_at"`
	State     string    `json:"state"`
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PatientID == "" {
		s.writeError(w, http.StatusBadRequest, "patient_id is required")
		return
	}

	info, err := s.sessions.Start(r.Context(), req.PatientID, req.NurseName)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "unknown patient")
		return
	case err != nil:
		s.logger.Error("start session", "patient_id", req.PatientID, "err", err)
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: info.SessionID,
		PatientID: info.PatientID,
		NurseName: info.NurseName,
		StartedAt: info.StartedAt,
		State:     string(s.sessions.State()),
	})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.IsActive() {
		s.writeError(w, http.StatusNotFound, "no active session")
		return
	}
	info := s.sessions.Info()
	s.writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: info.SessionID,
		PatientID: info.PatientID,
		NurseName: info.NurseName,
		StartedAt: info.StartedAt,
		State:     string(s.sessions.State()),
	})
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Stop(r.Context()); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- intervention control ----

type interventionStateResponse struct {
	State        string `json:"state"`
	HostileCount int    `json:"hostile_count"`
	Active       bool   `json:"session_active"`
}

func (s *Server) handleInterventionState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, interventionStateResponse{
		State:        string(s.sessions.State()),
		HostileCount: s.sessions.HostileCount(),
		Active:       s.sessions.IsActive(),
	})
}

func (s *Server) handleInterventionTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.NurseTrigger(); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleInterventionCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.NurseCancel(); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ---- calibration clips ----

func (s *Server) handleCalibrationGet(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")

	clip, err := s.calibration.Clip(r.Context(), patientID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no calibration clip")
		return
	}
	if err != nil {
		s.logger.Error("load calibration clip", "patient_id", patientID, "err", err)
		s.writeError(w, http.StatusInternalServerError, "load calibration clip")
		return
	}

	mime := clip.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mime)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(clip.Audio); err != nil {
		s.logger.Warn("write calibration clip", "err", err)
	}
}

func (s *Server) handleCalibrationPut(w http.ResponseWriter, r *http.Request) {
	patientID := r.PathValue("id")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxClipBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read request body")
		return
	}
	if len(body) == 0 {
		s.writeError(w, http.StatusBadRequest, "empty clip")
		return
	}
	if len(body) > maxClipBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "clip too large")
		return
	}

	clip := &store.CalibrationClip{
		PatientID:  patientID,
		Audio:      body,
		MimeType:   r.Header.Get("Content-Type"),
		RecordedAt: time.Now().UTC(),
	}
	if err := s.calibration.SaveClip(r.Context(), clip); err != nil {
		s.logger.Error("save calibration clip", "patient_id", patientID, "err", err)
		s.writeError(w, http.StatusInternalServerError, "save calibration clip")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- completed recordings ----

type recordingResponse struct {
	SessionID         string  `json:"session_id"`
	Transcript        string  `json:"transcript"`
	CalibrationOffset float64 `json:"calibration_offset_seconds"`
	Segments          int     `json:"segments"`
	DetectedLanguage  string  `json:"detected_language,omitempty"`
}

// handleRecording transcribes a completed session recording. The caregiver
// calibration clip, when one exists, is spliced in front of the recording to
// anchor diarization; its segments are cut back out of the result before the
// transcript is persisted.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID := r.PathValue("id")

	pc, err := s.patients.PatientContext(ctx, patientID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "unknown patient")
		return
	}
	if err != nil {
		s.logger.Error("load patient context", "patient_id", patientID, "err", err)
		s.writeError(w, http.StatusInternalServerError, "load patient context")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRecordingBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read request body")
		return
	}
	if len(body) > maxRecordingBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "recording too large")
		return
	}

	// Calibration clip is optional; a missing one means an uncalibrated
	// transcription.
	var calibrationAudio []byte
	if clip, err := s.calibration.Clip(ctx, patientID); err == nil {
		calibrationAudio = clip.Audio
	} else if !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("load calibration clip", "patient_id", patientID, "err", err)
	}

	buildStart := time.Now()
	rec, err := audio.BuildCalibratedRecording(calibrationAudio, body, audio.DefaultTargetRate)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unsupported or corrupt recording")
		return
	}
	s.metrics.CalibrationBuildDuration.Record(ctx, time.Since(buildStart).Seconds())

	transcribeStart := time.Now()
	result, err := s.transcriber.TranscribeBatch(ctx, rec.WAV, transcribe.BatchConfig{
		Language: s.language,
		Keyterms: pc.Keyterms,
	})
	s.metrics.TranscriptionDuration.Record(ctx, time.Since(transcribeStart).Seconds())
	if err != nil {
		s.logger.Error("batch transcription", "patient_id", patientID, "err", err)
		s.writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}

	segments := transcript.ApplyCalibrationOffset(result.Segments, rec.CalibrationOffsetSeconds)
	text := transcript.FormatSpeakerLines(segments)
	text, _ = s.corrector.Correct(text, pc.Keyterms)

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	record := &store.TranscriptRecord{
		SessionID:  sessionID,
		PatientID:  patientID,
		EndedAt:    time.Now().UTC(),
		Transcript: text,
	}
	if err := s.records.SaveTranscript(ctx, record); err != nil {
		s.logger.Error("save transcript", "session_id", sessionID, "err", err)
		s.writeError(w, http.StatusInternalServerError, "save transcript")
		return
	}

	s.writeJSON(w, http.StatusOK, recordingResponse{
		SessionID:         sessionID,
		Transcript:        text,
		CalibrationOffset: rec.CalibrationOffsetSeconds,
		Segments:          len(segments),
		DetectedLanguage:  result.DetectedLanguage,
	})
}

// decodeJSON strictly decodes a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
