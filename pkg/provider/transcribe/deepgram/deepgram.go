// Package deepgram provides a Deepgram-backed transcription provider. Live
// recognition uses the Deepgram streaming WebSocket API; completed recordings
// go through the pre-recorded REST API. It implements transcribe.Provider.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/carescript/carescript/pkg/provider/transcribe"
	"github.com/coder/websocket"
)

const (
	streamEndpoint = "wss://api.deepgram.com/v1/listen"
	batchEndpoint  = "https://api.deepgram.com/v1/listen"

	defaultModel      = "nova-3-medical"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3-medical", "nova-3").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithHTTPClient replaces the HTTP client used for batch transcription.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// Provider implements transcribe.Provider backed by the Deepgram APIs.
type Provider struct {
	apiKey     string
	model      string
	language   string
	sampleRate int

	httpClient *http.Client
	streamURL  string
	batchURL   string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		httpClient: http.DefaultClient,
		streamURL:  streamEndpoint,
		batchURL:   batchEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with Deepgram.
// Diarization is always requested so downstream consumers can attribute
// utterances to speakers.
func (p *Provider) StartStream(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.StreamHandle, error) {
	wsURL, err := p.buildStreamURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:     conn,
		partials: make(chan transcribe.Segment, 64),
		finals:   make(chan transcribe.Segment, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

// buildStreamURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildStreamURL(cfg transcribe.StreamConfig) (string, error) {
	u, err := url.Parse(p.streamURL)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("diarize", "true")
	q.Set("interim_results", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	for _, term := range cfg.Keyterms {
		q.Add("keyterm", term)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TranscribeBatch sends a completed recording to the Deepgram pre-recorded API
// and returns the full transcript with per-word speaker labels and timings.
func (p *Provider) TranscribeBatch(ctx context.Context, audio []byte, cfg transcribe.BatchConfig) (*transcribe.BatchResult, error) {
	reqURL, err := p.buildBatchURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: transcribe: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: transcribe: status %d: %s", resp.StatusCode, body)
	}

	result, err := parseBatchResponse(body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	return result, nil
}

// buildBatchURL constructs the pre-recorded endpoint URL for the given config.
func (p *Provider) buildBatchURL(cfg transcribe.BatchConfig) (string, error) {
	u, err := url.Parse(p.batchURL)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("diarize", "true")
	q.Set("utterances", "true")
	q.Set("filler_words", "true")
	for _, term := range cfg.Keyterms {
		q.Add("keyterm", term)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// streamResponse is the JSON structure returned by Deepgram for a streaming
// Results event.
type streamResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word    string  `json:"word"`
				Start   float64 `json:"start"`
				End     float64 `json:"end"`
				Speaker *int    `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming session. It implements transcribe.StreamHandle.
type session struct {
	conn     *websocket.Conn
	partials chan transcribe.Segment
	finals   chan transcribe.Segment
	audio    chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// Partials returns the channel of interim segments.
func (s *session) Partials() <-chan transcribe.Segment { return s.partials }

// Finals returns the channel of final segments.
func (s *session) Finals() <-chan transcribe.Segment { return s.finals }

// Close terminates the session cleanly.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Send a close message to Deepgram to flush pending audio.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// partials and finals channels.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation, exit gracefully.
			return
		}

		seg, ok := parseStreamResponse(msg)
		if !ok {
			continue
		}

		if seg.IsFinal {
			select {
			case s.finals <- seg:
			case <-s.done:
			}
		} else {
			select {
			case s.partials <- seg:
			case <-s.done:
			}
		}
	}
}

// parseStreamResponse parses a raw Deepgram WebSocket message into a Segment.
// Returns (Segment, true) on success, or (zero, false) if the message should
// be ignored.
func parseStreamResponse(data []byte) (transcribe.Segment, bool) {
	var resp streamResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return transcribe.Segment{}, false
	}
	if resp.Type != "Results" {
		return transcribe.Segment{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return transcribe.Segment{}, false
	}

	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return transcribe.Segment{}, false
	}

	seg := transcribe.Segment{
		Text:    alt.Transcript,
		IsFinal: resp.IsFinal,
	}
	if len(alt.Words) > 0 {
		seg.StartTime = alt.Words[0].Start
		seg.EndTime = alt.Words[len(alt.Words)-1].End
		seg.Timed = true
		if sp := alt.Words[0].Speaker; sp != nil {
			seg.SpeakerID = speakerLabel(*sp)
		}
	}
	return seg, true
}

// batchResponse is the JSON structure returned by the pre-recorded API.
type batchResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string `json:"transcript"`
				Words      []struct {
					Word           string  `json:"word"`
					PunctuatedWord string  `json:"punctuated_word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					Speaker        *int    `json:"speaker"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// parseBatchResponse converts a pre-recorded API response into a BatchResult
// with one timed segment per word.
func parseBatchResponse(data []byte) (*transcribe.BatchResult, error) {
	var resp batchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return nil, errors.New("response contains no transcription results")
	}

	ch := resp.Results.Channels[0]
	alt := ch.Alternatives[0]

	segments := make([]transcribe.Segment, 0, len(alt.Words))
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		seg := transcribe.Segment{
			Text:      text,
			StartTime: w.Start,
			EndTime:   w.End,
			Timed:     true,
			IsFinal:   true,
		}
		if w.Speaker != nil {
			seg.SpeakerID = speakerLabel(*w.Speaker)
		}
		segments = append(segments, seg)
	}

	return &transcribe.BatchResult{
		Text:             alt.Transcript,
		Segments:         segments,
		DetectedLanguage: ch.DetectedLanguage,
	}, nil
}

// speakerLabel formats a diarization index as a stable speaker identifier.
func speakerLabel(n int) string {
	return fmt.Sprintf("speaker_%d", n)
}
