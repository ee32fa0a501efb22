// Package analysis extracts structured family-systems data from a
// conversation: a genogram diagram, a ledger of merits and debts, per-person
// sentiment scores and, on request, a three-point clinical insight.
//
// Both extractions are best-effort enrichments. Any failure (transport error,
// malformed JSON, schema mismatch) yields no result, and the [Dashboard] keeps
// whatever it showed before.
package analysis

// Ledger entry kinds.
const (
	KindMerit = "merit"
	KindDebt  = "debt"
)

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
	SentimentConflict = "conflict"
)

// LedgerEntry is one merit or debt in the relational ledger.
type LedgerEntry struct {
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Value       float64 `json:"value"`
}

// Ledger is the relational balance of merits and debts.
type Ledger struct {
	Merits []LedgerEntry `json:"merits"`
	Debts  []LedgerEntry `json:"debts"`
}

// Sentiment scores one family member. Score lies in [-1, 1].
type Sentiment struct {
	Member    string  `json:"member"`
	Sentiment string  `json:"sentiment"`
	Score     float64 `json:"score"`
}

// SystemicData is the result of the systemic extraction.
type SystemicData struct {
	// GenogramMermaid is a Mermaid graph definition of the family system.
	GenogramMermaid string      `json:"genogramMermaid"`
	Ledger          Ledger      `json:"ledger"`
	Sentiments      []Sentiment `json:"sentiments"`
}

// Insight is the three-point clinical reading of a session.
type Insight struct {
	Loyalty string `json:"loyalty"`
	Debt    string `json:"debt"`
	Action  string `json:"action"`
}
