package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	// ErrNoDiagram is returned when a systemic result has no genogram.
	ErrNoDiagram = errors.New("analysis: missing genogram diagram")

	// ErrIncompleteInsight is returned when an insight field is blank.
	ErrIncompleteInsight = errors.New("analysis: incomplete insight")
)

// unmarshalJSON decodes data into v. Output wrapped in a Markdown code fence
// is unwrapped first, and a syntax error triggers one repair attempt.
func unmarshalJSON(data string, v any) error {
	data = stripFence(data)
	err := json.Unmarshal([]byte(data), v)
	if err == nil {
		return nil
	}
	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(data)
	if rerr != nil {
		return fmt.Errorf("repair json: %w", errors.Join(err, rerr))
	}
	return json.Unmarshal([]byte(fixed), v)
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // drop the info string ("json")
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// decodeSystemic parses and normalizes a systemic extraction.
func decodeSystemic(content string) (*SystemicData, error) {
	var d SystemicData
	if err := unmarshalJSON(content, &d); err != nil {
		return nil, err
	}
	d.GenogramMermaid = strings.TrimSpace(d.GenogramMermaid)
	if d.GenogramMermaid == "" {
		return nil, ErrNoDiagram
	}
	if d.Ledger.Merits == nil {
		d.Ledger.Merits = []LedgerEntry{}
	}
	if d.Ledger.Debts == nil {
		d.Ledger.Debts = []LedgerEntry{}
	}
	if d.Sentiments == nil {
		d.Sentiments = []Sentiment{}
	}
	for i := range d.Sentiments {
		d.Sentiments[i].Score = min(max(d.Sentiments[i].Score, -1), 1)
	}
	return &d, nil
}

// decodeInsight parses an insight and requires every field.
func decodeInsight(content string) (*Insight, error) {
	var in Insight
	if err := unmarshalJSON(content, &in); err != nil {
		return nil, err
	}
	in.Loyalty = strings.TrimSpace(in.Loyalty)
	in.Debt = strings.TrimSpace(in.Debt)
	in.Action = strings.TrimSpace(in.Action)
	if in.Loyalty == "" || in.Debt == "" || in.Action == "" {
		return nil, ErrIncompleteInsight
	}
	return &in, nil
}
