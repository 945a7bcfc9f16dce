package resilience

import (
	"context"

	"github.com/carescript/carescript/pkg/provider/voiceagent"
)

// VoiceAgentGroup implements [voiceagent.Provider] behind a circuit breaker.
// Interventions retrigger on a cooldown cycle, so a voice agent backend that
// is down would otherwise be hammered every cycle; the breaker rejects
// session starts immediately while the backend recovers.
//
// Unlike transcription, a voice agent fallback speaks with a different agent
// identity and voice, so the group is usually configured with the primary
// alone and acts as a pure breaker.
type VoiceAgentGroup struct {
	group *FallbackGroup[voiceagent.Provider]
}

// Compile-time interface assertion.
var _ voiceagent.Provider = (*VoiceAgentGroup)(nil)

// NewVoiceAgentGroup creates a [VoiceAgentGroup] with primary as the
// preferred backend.
func NewVoiceAgentGroup(primary voiceagent.Provider, primaryName string, cfg FallbackConfig) *VoiceAgentGroup {
	return &VoiceAgentGroup{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional voice agent provider as a fallback.
func (g *VoiceAgentGroup) AddFallback(name string, provider voiceagent.Provider) {
	g.group.AddFallback(name, provider)
}

// RequestCredential mints a session credential from the first healthy backend.
func (g *VoiceAgentGroup) RequestCredential(ctx context.Context) (voiceagent.Credential, error) {
	return ExecuteWithResult(g.group, func(p voiceagent.Provider) (voiceagent.Credential, error) {
		return p.RequestCredential(ctx)
	})
}

// StartSession opens an agent session against the first healthy backend.
// Failover covers session establishment only; an open session stays pinned
// to the backend that opened it.
func (g *VoiceAgentGroup) StartSession(ctx context.Context, cfg voiceagent.SessionConfig) (voiceagent.Session, error) {
	return ExecuteWithResult(g.group, func(p voiceagent.Provider) (voiceagent.Session, error) {
		return p.StartSession(ctx, cfg)
	})
}
