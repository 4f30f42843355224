// ABOUTME: Client-facing text for escalations
// ABOUTME: Transfer notice shown to the client and the system message stored with the derivation

package triage

import (
	"fmt"
	"strings"

	"github.com/2389/prism-gateway/internal/store"
)

// SystemSender labels messages written by the routing engine itself
const SystemSender = "Sistema Prism"

// FallbackResponse is sent when the assistant cannot produce a reply
const FallbackResponse = "Disculpa, estoy experimentando dificultades técnicas. Un especialista te atenderá pronto."

// AssistantSender labels replies written by the language model
const AssistantSender = "Asistente Prism"

const humanFollowUp = "\n\nUn especialista humano se pondrá en contacto contigo pronto."

// TransferNotice formats the message telling the client they were handed to
// an area. area may be nil when no specific area was chosen.
func TransferNotice(area *store.Area) string {
	if area == nil {
		return "📋 Tu consulta fue transferida a un especialista." + humanFollowUp
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 Te he derivado al área de **%s**", area.Name)
	if area.Specialist != "" {
		fmt.Fprintf(&b, "\n👨‍💼 Especialista: %s", area.Specialist)
	}
	if area.ResponseMinutes != nil {
		fmt.Fprintf(&b, "\n⏱️ Tiempo estimado: %d minutos", *area.ResponseMinutes)
	}
	b.WriteString(humanFollowUp)
	return b.String()
}

// DerivationRecord is the system message persisted when a conversation is escalated.
// area may be nil when no specific area was chosen.
func DerivationRecord(area *store.Area) string {
	if area == nil {
		return "🤖➡️👨‍💼 La conversación ha sido transferida a un especialista"
	}
	msg := "🤖➡️👨‍💼 La conversación ha sido transferida al área de " + area.Name
	if area.Specialist != "" {
		msg += "\nEspecialista: " + area.Specialist
	}
	return msg
}
