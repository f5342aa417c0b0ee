package intel

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const maxReasoningChars = 500

// extractJSON returns the first balanced JSON value opening with open ('{'
// or '['). Brackets inside string literals are ignored. Models routinely wrap
// answers in prose or markdown fences, so the surrounding text is discarded.
func extractJSON(text string, open byte) (string, bool) {
	var closing byte
	switch open {
	case '{':
		closing = '}'
	case '[':
		closing = ']'
	default:
		return "", false
	}

	for start := strings.IndexByte(text, open); start >= 0; {
		if end := balancedEnd(text, start, open, closing); end > 0 {
			candidate := text[start:end]
			if json.Valid([]byte(candidate)) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], open)
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// ExtractObject returns the first balanced JSON object in a model reply.
func ExtractObject(text string) (string, bool) {
	return extractJSON(text, '{')
}

// balancedEnd returns the index just past the bracket closing text[start],
// or -1 when the value is unterminated.
func balancedEnd(text string, start int, open, closing byte) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// rawAnalysis is the loose shape accepted from providers. Numbers may arrive
// as strings.
type rawAnalysis struct {
	Mint                   string      `json:"mint"`
	Action                 string      `json:"action"`
	Confidence             json.Number `json:"confidence"`
	Reasoning              string      `json:"reasoning"`
	PotentialUpsidePercent json.Number `json:"potential_upside_percent"`
	RiskLevel              string      `json:"risk_level"`
}

// parseAnalysis validates a single-token answer.
func parseAnalysis(text string) (Analysis, error) {
	body, ok := extractJSON(text, '{')
	if !ok {
		return Analysis{}, fmt.Errorf("no JSON object in reply: %w", ErrProviderBadReply)
	}
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Analysis{}, fmt.Errorf("decode reply: %v: %w", err, ErrProviderBadReply)
	}
	return raw.validate()
}

func (r rawAnalysis) validate() (Analysis, error) {
	action, ok := ParseAction(r.Action)
	if !ok {
		return Analysis{}, fmt.Errorf("unknown action %q: %w", r.Action, ErrProviderBadReply)
	}
	conf, err := numberOr(r.Confidence, math.NaN())
	if err != nil || math.IsNaN(conf) {
		return Analysis{}, fmt.Errorf("missing confidence: %w", ErrProviderBadReply)
	}
	upside, err := numberOr(r.PotentialUpsidePercent, 0)
	if err != nil {
		return Analysis{}, fmt.Errorf("bad upside: %w", ErrProviderBadReply)
	}
	return Analysis{
		Mint:                   r.Mint,
		Action:                 action,
		Confidence:             normalizeConfidence(conf),
		Reasoning:              truncate(strings.TrimSpace(r.Reasoning), maxReasoningChars),
		PotentialUpsidePercent: clamp(upside, -100, 1000),
		RiskLevel:              normalizeRisk(r.RiskLevel),
	}, nil
}

// parseBatch validates a batch answer. Entries for mints that were not asked
// about are dropped; malformed entries are skipped, and a reply with no
// usable entry at all is rejected.
func parseBatch(text string, asked map[string]struct{}) (map[string]Recommendation, error) {
	body, ok := extractJSON(text, '[')
	if !ok {
		// Some models wrap the array in an object.
		obj, okObj := extractJSON(text, '{')
		if !okObj {
			return nil, fmt.Errorf("no JSON array in reply: %w", ErrProviderBadReply)
		}
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal([]byte(obj), &wrapper); err != nil {
			return nil, fmt.Errorf("decode reply: %v: %w", err, ErrProviderBadReply)
		}
		for _, v := range wrapper {
			if len(v) > 0 && v[0] == '[' {
				body, ok = string(v), true
				break
			}
		}
		if !ok {
			return nil, fmt.Errorf("no JSON array in reply: %w", ErrProviderBadReply)
		}
	}

	var raws []rawAnalysis
	if err := json.Unmarshal([]byte(body), &raws); err != nil {
		return nil, fmt.Errorf("decode batch: %v: %w", err, ErrProviderBadReply)
	}

	out := make(map[string]Recommendation, len(raws))
	for _, r := range raws {
		if _, ok := asked[r.Mint]; !ok {
			continue
		}
		a, err := r.validate()
		if err != nil {
			continue
		}
		out[r.Mint] = Recommendation{
			Mint:       r.Mint,
			Action:     a.Action,
			Confidence: a.Confidence,
			Reasoning:  a.Reasoning,
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("batch reply had no usable entries: %w", ErrProviderBadReply)
	}
	return out, nil
}

func numberOr(n json.Number, def float64) (float64, error) {
	if n == "" {
		return def, nil
	}
	s := strings.TrimSuffix(strings.TrimSpace(n.String()), "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("non-finite number")
	}
	return f, nil
}

// normalizeConfidence accepts 0..1 or 0..100 and returns 0..1.
func normalizeConfidence(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	return clamp(v, 0, 1)
}

func normalizeRisk(s string) string {
	switch r := normalize(s); r {
	case "low", "medium", "high":
		return r
	default:
		return "medium"
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
