// ABOUTME: System prompt and model context construction for triage
// ABOUTME: Lists derivable areas and tells the model how to request a derivation

package triage

import (
	"fmt"
	"strings"

	"github.com/2389/prism-gateway/internal/llm"
	"github.com/2389/prism-gateway/internal/store"
)

// Sentinel is the marker the model emits, followed by an area name, to request escalation.
const Sentinel = "🔄 DERIVAR:"

// DefaultBasePrompt is used when neither the stored settings nor the configuration provide one.
const DefaultBasePrompt = `Eres Prism, el asistente virtual de atención al cliente de una firma de consultoría contable, legal, financiera y tributaria.

Tu objetivo es:
1. Responder preguntas generales sobre los servicios de la firma
2. Derivar consultas específicas o técnicas al área correspondiente
3. Ser profesional, amigable y eficiente`

const formattingInstructions = `

INSTRUCCIONES IMPORTANTES:
1. Si la consulta es general sobre servicios, responde directamente
2. Si la consulta es específica o técnica, indica que derivarás al especialista
3. Si derivas, menciona el área específica y el tiempo estimado de respuesta
4. Sé conciso pero completo en tus respuestas
5. Siempre mantén un tono profesional y cordial

FORMATO DE DERIVACIÓN:
Si decides derivar, incluye en tu respuesta una línea: "` + Sentinel + ` [nombre_del_área]"`

// buildSystemPrompt assembles base prompt, one block per area and the formatting rules.
func buildSystemPrompt(base, clientName string, areas []*store.Area) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))

	if clientName != "" {
		fmt.Fprintf(&b, "\n\nEstás conversando con %s.", clientName)
	}

	if len(areas) > 0 {
		b.WriteString("\n\nÁREAS DE DERIVACIÓN:\n")
		for _, a := range areas {
			fmt.Fprintf(&b, "\n🔹 %s:\n", a.Name)
			fmt.Fprintf(&b, "   Instrucciones: %s\n", strings.TrimSpace(a.Instructions))
			if a.Specialist != "" {
				fmt.Fprintf(&b, "   Especialista: %s\n", a.Specialist)
			}
			if a.ResponseMinutes != nil {
				fmt.Fprintf(&b, "   Tiempo estimado: %d minutos\n", *a.ResponseMinutes)
			}
		}
	}

	b.WriteString(formattingInstructions)
	return b.String()
}

// buildConversation turns prior messages plus the new one into model turns.
// System notices are not part of the dialogue and are skipped.
func buildConversation(history []*store.Message, current string) []llm.Turn {
	turns := make([]llm.Turn, 0, len(history)+1)
	for _, msg := range history {
		switch msg.Type {
		case store.MessageTypeClient:
			turns = append(turns, llm.Turn{Role: llm.RoleUser, Content: msg.Content})
		case store.MessageTypeAssistant:
			turns = append(turns, llm.Turn{Role: llm.RoleAssistant, Content: msg.Content})
		case store.MessageTypeHuman:
			turns = append(turns, llm.Turn{Role: llm.RoleAssistant, Content: "[" + msg.Sender + "] " + msg.Content})
		}
	}
	return append(turns, llm.Turn{Role: llm.RoleUser, Content: current})
}
