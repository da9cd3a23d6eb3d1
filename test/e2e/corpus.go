// Package e2e runs the assistant end to end over a small corpus of procedures.
package e2e

import (
	"os"
	"path/filepath"
)

// Procedure is one fixture document of the corpus.
type Procedure struct {
	File    string
	Content string
}

// QueryCase is a question with the expected agent action and, for retrieval,
// the source that must rank first.
type QueryCase struct {
	Name      string
	Query     string
	Action    string
	TopSource string
}

// Procedures covers identity, taxation and urbanism.
var Procedures = []Procedure{
	{
		File: "cin_renouvellement.txt",
		Content: "Renouvellement de la carte d'identité nationale (CIN).\n\n" +
			"Le citoyen se présente au poste de police ou à la garde nationale de sa circonscription.\n\n" +
			"Pièces requises: ancienne carte d'identité, extrait de naissance, deux photos d'identité récentes, timbre fiscal.\n\n" +
			"Délai de délivrance: environ deux semaines.",
	},
	{
		File: "impots_declaration.md",
		Content: "# Déclaration annuelle de l'impôt sur le revenu\n\n" +
			"La déclaration est déposée auprès de la recette des finances ou en ligne.\n\n" +
			"Les contribuables joignent les justificatifs de revenus et de retenues à la source.\n\n" +
			"Pénalités de retard applicables après la date limite.",
	},
	{
		File: "permis_batir.docx",
		Content: "Demande de permis de bâtir auprès de la municipalité.\n\n" +
			"Dossier: plan de situation, plans architecturaux signés, certificat de propriété, étude de sol.\n\n" +
			"La commission technique examine le dossier avant la délivrance du permis.",
	},
	{
		File:    "frais_timbres.xlsx",
		Content: "Tarifs des timbres fiscaux pour les documents administratifs",
	},
}

// QueryCases exercises each agent action over Procedures.
var QueryCases = []QueryCase{
	{
		Name:      "identity card renewal",
		Query:     "Quelles pièces pour le renouvellement de la carte d'identité nationale CIN ?",
		Action:    "retrieve_document",
		TopSource: "cin_renouvellement.txt",
	},
	{
		Name:      "income tax declaration",
		Query:     "Où déposer la déclaration annuelle de l'impôt sur le revenu ?",
		Action:    "retrieve_document",
		TopSource: "impots_declaration.md",
	},
	{
		Name:      "building permit",
		Query:     "Quel dossier pour un permis de bâtir à la municipalité ?",
		Action:    "retrieve_document",
		TopSource: "permis_batir.docx",
	},
	{
		Name:   "personal identifier refused",
		Query:  "Mon numéro CIN est 09876543, pouvez-vous vérifier mon dossier ?",
		Action: "refuse",
	},
	{
		Name:   "complaint escalated",
		Query:  "Je veux déposer une plainte contre la municipalité",
		Action: "escalate",
	},
}

// WriteCorpus writes every procedure under dir in its own format.
func WriteCorpus(dir string) error {
	for _, p := range Procedures {
		data, err := FileContent(filepath.Ext(p.File), p.Content)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, p.File), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}
