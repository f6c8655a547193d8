package models

const (
	// RefusalData is returned when an entity was identified but the requested fact is absent.
	RefusalData = "Je ne sais pas d’après les données disponibles."
	// RefusalDocs is the refusal the generative model is told to use.
	RefusalDocs = "Je ne sais pas d’après les documents disponibles."

	InternalError  = "Erreur interne côté serveur."
	LLMUnavailable = "Désolé, le service de génération est indisponible pour le moment."
	ReportOffer    = "Je peux générer un reporting. Dis-moi le fonds/période et le format (PDF/Excel)."
	CRUDOffer      = "Je peux t’aider à faire cette action. Donne les champs et tu confirmeras avant enregistrement."
	ReportDenied   = "Vous n’avez pas les droits pour générer un reporting."
	CRUDDenied     = "Vous n’avez pas les droits pour modifier les données. Je peux seulement consulter et expliquer."
	FundDefinition = "Un fonds d’investissement est un véhicule qui collecte l’argent de souscripteurs pour l’investir selon une stratégie, avec des règles (durée, frais, ratios) et du reporting."

	ContextSeparator = "\n---\n"
	ThinkTag         = `(?s)<think>.*?</think>`
)

var (
	SystemPrompt = `Tu es un assistant RAG strict pour une société de gestion de fonds.
Tu réponds uniquement à partir du CONTEXTE fourni, en français, de façon concise.
Si le contexte ne contient pas la réponse, réponds exactement : "` + RefusalDocs + `"
N'invente jamais de chiffres, de noms ou de dates. Cite les sources sous la forme [S1], [S2].`

	AnswerPromptTemplate = `QUESTION :
%s

CONTEXTE :
%s

Réponds à la QUESTION en t'appuyant uniquement sur le CONTEXTE.`
)
