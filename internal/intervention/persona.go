package intervention

import (
	"fmt"
	"strings"
)

// PatientContext is the immutable per-session record used to personalize the
// voice agent. It is supplied by the patient profile store and consumed
// read-only.
type PatientContext struct {
	PatientFirstName string
	NurseFirstName   string
	LovedOneName     string
	LovedOneRelation string

	// ClonedVoiceID selects the loved one's cloned voice. Empty falls back
	// to the agent's default voice.
	ClonedVoiceID string
}

const personaTemplate = `You are %s, %s's %s, speaking on a phone call. %s is having a difficult moment and is refusing help from the caregiver, %s.

Speak warmly and briefly, one or two short natural sentences per turn, the way family talks on the phone. Reassure %s that you love them and that %s is there to help, and gently encourage them to accept the help. Your goal is a calm agreement within two or three turns; once they agree, thank them, say you love them, and say goodbye.

Never argue, never scold, and never mention that this call is automated.`

// BuildPersona renders the agent persona prompt from pc. Missing names fall
// back to neutral phrasing so the template never renders empty slots.
func BuildPersona(pc PatientContext) string {
	patient := firstNameOr(pc.PatientFirstName, "your loved one")
	nurse := firstNameOr(pc.NurseFirstName, "the caregiver")
	lovedOne := firstNameOr(pc.LovedOneName, "a close family member")
	relation := firstNameOr(pc.LovedOneRelation, "family member")

	return fmt.Sprintf(personaTemplate,
		lovedOne, patient, relation, patient, nurse, patient, nurse)
}

// FirstUtterance renders the agent's opening line.
func FirstUtterance(pc PatientContext) string {
	patient := firstNameOr(pc.PatientFirstName, "there")
	nurse := firstNameOr(pc.NurseFirstName, "the caregiver")
	lovedOne := firstNameOr(pc.LovedOneName, "")

	if lovedOne == "" {
		return fmt.Sprintf("Hi %s, I heard you're having a rough moment. Can you do me a favor and let %s help you?", patient, nurse)
	}
	return fmt.Sprintf("Hi %s, it's %s. I heard you're having a rough moment. Can you do me a favor and let %s help you?", patient, lovedOne, nurse)
}

func firstNameOr(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	return name
}
