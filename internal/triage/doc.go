// Package triage decides, for each client message, whether the assistant
// answers and whether the conversation is handed to a human area.
//
// Evaluate builds a system prompt listing the areas open for derivation,
// asks the language model for a reply and inspects it:
//
//  1. A "🔄 DERIVAR: <area>" directive naming a known area escalates with
//     confidence 0.9.
//  2. Otherwise, the area whose instruction keywords appear at least twice in
//     the reply is chosen, with confidence 0.2 per hit capped at 0.8.
//  3. Otherwise the reply stands.
//
// When the model fails or returns nothing, the client gets FallbackResponse
// and the conversation escalates without an area.
package triage
