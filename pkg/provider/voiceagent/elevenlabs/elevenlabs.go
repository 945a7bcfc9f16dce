// Package elevenlabs implements the voiceagent.Provider interface for the
// ElevenLabs Conversational AI API.
//
// A session credential is minted by calling the signed-URL endpoint with the
// server-held API key; the WebSocket conversation is then dialed on the
// signed URL, which carries its own grant. Audio travels as base64-encoded
// PCM16 inside JSON messages in both directions.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/carescript/carescript/pkg/provider/voiceagent"
	"github.com/coder/websocket"
)

// Compile-time assertions that Provider and session satisfy the voiceagent
// interfaces.
var _ voiceagent.Provider = (*Provider)(nil)
var _ voiceagent.Session = (*session)(nil)

const defaultSignedURLEndpoint = "https://api.elevenlabs.io/v1/convai/conversation/get-signed-url"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithSignedURLEndpoint overrides the credential endpoint. Primarily used in
// tests to point at a local mock server.
func WithSignedURLEndpoint(endpoint string) Option {
	return func(p *Provider) { p.signedURLEndpoint = endpoint }
}

// WithHTTPClient replaces the HTTP client used for credential requests.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) { p.httpClient = client }
}

// Provider implements voiceagent.Provider for ElevenLabs Conversational AI.
type Provider struct {
	apiKey  string
	agentID string

	signedURLEndpoint string
	httpClient        *http.Client
}

// New creates a new ElevenLabs Provider. apiKey and agentID must be non-empty.
func New(apiKey, agentID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if agentID == "" {
		return nil, errors.New("elevenlabs: agentID must not be empty")
	}
	p := &Provider{
		apiKey:            apiKey,
		agentID:           agentID,
		signedURLEndpoint: defaultSignedURLEndpoint,
		httpClient:        http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// signedURLResponse is the JSON body of the signed-URL endpoint.
type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// RequestCredential exchanges the server-held API key for a signed WebSocket
// URL valid for one conversation.
func (p *Provider) RequestCredential(ctx context.Context) (voiceagent.Credential, error) {
	reqURL, err := url.Parse(p.signedURLEndpoint)
	if err != nil {
		return voiceagent.Credential{}, fmt.Errorf("elevenlabs: parse endpoint: %w", err)
	}
	q := reqURL.Query()
	q.Set("agent_id", p.agentID)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return voiceagent.Credential{}, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return voiceagent.Credential{}, fmt.Errorf("elevenlabs: request credential: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return voiceagent.Credential{}, fmt.Errorf("elevenlabs: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return voiceagent.Credential{}, fmt.Errorf("elevenlabs: request credential: status %d: %s", resp.StatusCode, body)
	}

	var parsed signedURLResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return voiceagent.Credential{}, fmt.Errorf("elevenlabs: decode response: %w", err)
	}
	if parsed.SignedURL == "" {
		return voiceagent.Credential{}, errors.New("elevenlabs: response contains no signed URL")
	}

	return voiceagent.Credential{SignedURL: parsed.SignedURL}, nil
}

// StartSession mints a credential, dials the conversation WebSocket, and
// sends the initiation overrides. The returned Session is live once the
// initiation message has been written.
func (p *Provider) StartSession(ctx context.Context, cfg voiceagent.SessionConfig) (voiceagent.Session, error) {
	cred, err := p.RequestCredential(ctx)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.Dial(ctx, cred.SignedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:    conn,
		audioCh: make(chan []byte, 64),
		events:  make(chan voiceagent.Event, 16),
		ctx:     sessCtx,
		cancel:  sessCancel,
	}

	if err := sess.sendInitiation(cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "initiation failed")
		return nil, fmt.Errorf("elevenlabs: initiation: %w", err)
	}

	go sess.receiveLoop()

	return sess, nil
}

// ---- protocol message types (outgoing) ----

type initiationMessage struct {
	Type             string            `json:"type"`
	ConfigOverride   *configOverride   `json:"conversation_config_override,omitempty"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

type configOverride struct {
	Agent *agentOverride `json:"agent,omitempty"`
	TTS   *ttsOverride   `json:"tts,omitempty"`
}

type agentOverride struct {
	Prompt       *promptOverride `json:"prompt,omitempty"`
	FirstMessage string          `json:"first_message,omitempty"`
}

type promptOverride struct {
	Prompt string `json:"prompt"`
}

type ttsOverride struct {
	VoiceID string `json:"voice_id"`
}

type userAudioMessage struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}

type pongMessage struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// ---- protocol message types (incoming) ----

type serverEvent struct {
	Type string `json:"type"`

	AudioEvent *struct {
		AudioBase64 string `json:"audio_base_64"`
	} `json:"audio_event,omitempty"`

	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event,omitempty"`

	UserTranscriptEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcript_event,omitempty"`

	PingEvent *struct {
		EventID int `json:"event_id"`
	} `json:"ping_event,omitempty"`
}

// ---- session ----

type session struct {
	conn    *websocket.Conn
	audioCh chan []byte
	events  chan voiceagent.Event

	mu     sync.Mutex
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// newInitiationMessage builds the conversation_initiation_client_data message
// with the persona, first message, and voice overrides from cfg.
func newInitiationMessage(cfg voiceagent.SessionConfig) initiationMessage {
	msg := initiationMessage{
		Type:             "conversation_initiation_client_data",
		DynamicVariables: cfg.DynamicVariables,
	}

	var override configOverride
	if cfg.Prompt != "" || cfg.FirstMessage != "" {
		override.Agent = &agentOverride{FirstMessage: cfg.FirstMessage}
		if cfg.Prompt != "" {
			override.Agent.Prompt = &promptOverride{Prompt: cfg.Prompt}
		}
	}
	if cfg.VoiceID != "" {
		override.TTS = &ttsOverride{VoiceID: cfg.VoiceID}
	}
	if override.Agent != nil || override.TTS != nil {
		msg.ConfigOverride = &override
	}
	return msg
}

// sendInitiation writes the initiation message for cfg.
func (s *session) sendInitiation(cfg voiceagent.SessionConfig) error {
	return s.writeJSON(newInitiationMessage(cfg))
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them. It owns
// audioCh and events: it closes both when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "audio":
		if evt.AudioEvent == nil || evt.AudioEvent.AudioBase64 == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.AudioEvent.AudioBase64)
		if err != nil || len(audioData) == 0 {
			return
		}
		select {
		case s.audioCh <- audioData:
		case <-s.ctx.Done():
		}

	case "agent_response":
		if evt.AgentResponseEvent == nil || evt.AgentResponseEvent.AgentResponse == "" {
			return
		}
		s.emit(voiceagent.Event{
			Type: voiceagent.EventAgentResponse,
			Text: evt.AgentResponseEvent.AgentResponse,
		})

	case "user_transcript":
		if evt.UserTranscriptEvent == nil || evt.UserTranscriptEvent.UserTranscript == "" {
			return
		}
		s.emit(voiceagent.Event{
			Type: voiceagent.EventUserTranscript,
			Text: evt.UserTranscriptEvent.UserTranscript,
		})

	case "interruption":
		s.emit(voiceagent.Event{Type: voiceagent.EventInterruption})

	case "ping":
		if evt.PingEvent == nil {
			return
		}
		_ = s.writeJSON(pongMessage{Type: "pong", EventID: evt.PingEvent.EventID})
	}
}

func (s *session) emit(evt voiceagent.Event) {
	select {
	case s.events <- evt:
	case <-s.ctx.Done():
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.audioCh)
		close(s.events)
	})
}

// ---- Session methods ----

// SendAudio delivers a raw PCM16 chunk of patient audio to the agent.
func (s *session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("elevenlabs: session closed")
	}
	s.mu.Unlock()

	return s.writeJSON(userAudioMessage{
		UserAudioChunk: base64.StdEncoding.EncodeToString(chunk),
	})
}

// Audio returns the channel on which the agent's synthesised speech arrives.
func (s *session) Audio() <-chan []byte { return s.audioCh }

// Events returns the channel on which non-audio session events arrive.
func (s *session) Events() <-chan voiceagent.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// End terminates the session and releases all resources. Idempotent.
func (s *session) End() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session ended")
	return nil
}
