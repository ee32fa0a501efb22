package analysis

import "github.com/google/jsonschema-go/jsonschema"

// SystemicSchema returns the response schema of the systemic extraction.
func SystemicSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"genogramMermaid": {
				Type:        "string",
				Description: "Mermaid graph TD definition of the family genogram.",
			},
			"ledger": {
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"merits": ledgerList(KindMerit),
					"debts":  ledgerList(KindDebt),
				},
				Required: []string{"merits", "debts"},
			},
			"sentiments": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"member": {Type: "string"},
						"sentiment": {
							Type: "string",
							Enum: []any{SentimentPositive, SentimentNeutral, SentimentNegative, SentimentConflict},
						},
						"score": {
							Type:        "number",
							Description: "Emotional charge from -1 (hostile) to 1 (warm).",
						},
					},
					Required: []string{"member", "sentiment", "score"},
				},
			},
		},
		Required: []string{"genogramMermaid", "ledger", "sentiments"},
	}
}

func ledgerList(kind string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "array",
		Items: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"description": {Type: "string"},
				"type":        {Type: "string", Enum: []any{kind}},
				"value":       {Type: "number"},
			},
			Required: []string{"description", "type", "value"},
		},
	}
}

// InsightSchema returns the response schema of the insight request.
func InsightSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"loyalty": {Type: "string", Description: "The invisible loyalty at play."},
			"debt":    {Type: "string", Description: "The unpaid existential debt."},
			"action":  {Type: "string", Description: "A concrete reparative action."},
		},
		Required: []string{"loyalty", "debt", "action"},
	}
}
