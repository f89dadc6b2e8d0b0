package models

import "strings"

// Stance is the relation of an evidence item to a claim.
type Stance string

const (
	StanceSupport      Stance = "support"
	StanceRefute       Stance = "refute"
	StanceInsufficient Stance = "insufficient"
)

// stanceSynonyms maps raw stance labels, including the Chinese variants the
// LM tends to emit, to the three canonical values.
var stanceSynonyms = map[string]Stance{
	"support":      StanceSupport,
	"supports":     StanceSupport,
	"supported":    StanceSupport,
	"支持":           StanceSupport,
	"证实":           StanceSupport,
	"属实":           StanceSupport,
	"refute":       StanceRefute,
	"refutes":      StanceRefute,
	"refuted":      StanceRefute,
	"contradict":   StanceRefute,
	"反驳":           StanceRefute,
	"驳斥":           StanceRefute,
	"否定":           StanceRefute,
	"辟谣":           StanceRefute,
	"不实":           StanceRefute,
	"insufficient": StanceInsufficient,
	"unknown":      StanceInsufficient,
	"neutral":      StanceInsufficient,
	"不足":           StanceInsufficient,
	"证据不足":         StanceInsufficient,
	"无法判断":         StanceInsufficient,
	"存疑":           StanceInsufficient,
}

// stanceSubstringOrder fixes the substring-match priority. Refute synonyms
// go first: negated phrasings like "不属实" embed a support synonym.
var stanceSubstringOrder = []Stance{StanceRefute, StanceSupport, StanceInsufficient}

// NormalizeStance maps a raw stance string to a canonical value. Unknown
// input lands on insufficient. Matching is exact first, then substring so
// phrasings like "证据不足，无法判断" still resolve.
func NormalizeStance(raw string) Stance {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return StanceInsufficient
	}
	if s, ok := stanceSynonyms[key]; ok {
		return s
	}
	for _, want := range stanceSubstringOrder {
		for syn, s := range stanceSynonyms {
			if s == want && strings.Contains(key, syn) {
				return s
			}
		}
	}
	return StanceInsufficient
}

// Claim is one atomic checkable statement extracted from the input text.
// IDs take the form "c1", "c2", ... and are stable within a task.
type Claim struct {
	ClaimID        string  `json:"claim_id"`
	ClaimText      string  `json:"claim_text"`
	Entity         string  `json:"entity,omitempty"`
	Time           string  `json:"time,omitempty"` // YYYY-MM-DD or empty
	Location       string  `json:"location,omitempty"`
	Value          string  `json:"value,omitempty"`
	SourceSentence string  `json:"source_sentence,omitempty"`
	Score          float64 `json:"score,omitempty"`
}

// NormalizeClaimText collapses whitespace and caps claim text at 220 runes.
func NormalizeClaimText(raw string) string {
	text := strings.Join(strings.Fields(raw), " ")
	runes := []rune(text)
	if len(runes) > 220 {
		text = string(runes[:220])
	}
	return text
}

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
