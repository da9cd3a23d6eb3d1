package agent

import (
	"fmt"
	"strings"

	"github.com/hyperjump/dalil/internal/models"
)

const (
	noDocumentAnswer = "Je n'ai pas trouvé de document pertinent dans la base locale."

	refusalTemplate = "Je ne peux pas traiter des données personnelles/sensibles ici. " +
		"Merci de retirer les identifiants (CIN, téléphone, email) ou contactez un agent. Raison: %s"

	escalationAnswer = "Je vous redirige vers un agent humain pour ce cas. " +
		"Veuillez fournir votre demande sans données sensibles, ou via le canal officiel."

	promptTemplate = "You are a public administration assistant. Answer using ONLY the context. " +
		"If the context is insufficient, say so.\n\nUser: %s\n\nContext:\n%s\n\nAnswer:"

	contextSeparator = "\n\n---\n\n"
)

// RefusalAnswer is the fixed refusal message carrying the classifier reason.
func RefusalAnswer(reason string) string {
	return fmt.Sprintf(refusalTemplate, reason)
}

// EscalationAnswer is the fixed hand-off message.
func EscalationAnswer() string {
	return escalationAnswer
}

// ExtractiveAnswer quotes the best passage verbatim and lists every retrieved
// passage as a citation line, in ranking order.
func ExtractiveAnswer(results []models.RetrievedResult) string {
	if len(results) == 0 {
		return noDocumentAnswer
	}
	var b strings.Builder
	b.WriteString("Réponse (basée sur les documents locaux):\n\n")
	b.WriteString(results[0].Text)
	b.WriteString("\n\nSources:\n")
	for i, r := range results {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s (chunk %d)", r.Source, r.ChunkID)
	}
	return b.String()
}

// FormatContext renders the retrieved passages as the grounding context block.
func FormatContext(results []models.RetrievedResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[source=%s chunk=%d score=%.3f]\n%s", r.Source, r.ChunkID, r.Score, r.Text)
	}
	return strings.Join(parts, contextSeparator)
}

// GroundingPrompt builds the generation prompt for query over results.
func GroundingPrompt(query string, results []models.RetrievedResult) string {
	return fmt.Sprintf(promptTemplate, query, FormatContext(results))
}
