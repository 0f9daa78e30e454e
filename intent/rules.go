package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// RuleClassifier classifies messages with keyword and regex tables.
// It is a total function: every input maps to an intent, and Classify
// never returns an error.
type RuleClassifier struct{}

// NewRuleClassifier constructs a RuleClassifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

// Keyword tables checked as whole words. Order matters: cancel beats
// negation so "no, cancel that" abandons the request instead of
// answering the pending question.
var (
	cancelPattern  = regexp.MustCompile(`(?i)\b(cancel|nevermind|never mind|forget it|stop|quit|abort)\b`)
	restartPattern = regexp.MustCompile(`(?i)\b(start over|restart|start again|begin again|new request)\b`)
	retryPattern   = regexp.MustCompile(`(?i)\b(try again|retry|try once more|one more time)\b`)

	negationPattern    = regexp.MustCompile(`(?i)\b(no|nope|nah|not|wrong|incorrect|don't|dont)\b`)
	affirmationPattern = regexp.MustCompile(`(?i)\b(yes|yeah|yep|yup|sure|correct|right|ok|okay|confirm|confirmed|sounds good|please do|go ahead)\b`)

	refillKeywordPattern = regexp.MustCompile(`(?i)\b(refill|refills|prescription|more of my|running low|running out|out of my)\b`)
)

// refillQueryPatterns extract the medication query from a refill
// request. Checked in order; the first match wins.
var refillQueryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brefill\s+(?:of|for|on)\s+(?:my\s+|the\s+)?(.+)`),
	regexp.MustCompile(`(?i)\brefill\s+(?:my\s+|the\s+)?(.+)`),
	regexp.MustCompile(`(?i)\b(?:running low on|running out of|out of|need more)\s+(?:my\s+|the\s+)?(.+)`),
	regexp.MustCompile(`(?i)\b(?:a|an|my|the)\s+([a-z][a-z0-9 -]*?)\s+refills?\b`), // "a lisinopril refill"
}

// dosagePattern matches dosage strings like "10 mg", "0.5mg", "75 mcg".
var dosagePattern = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(mg|mcg|g|ml|units?)\b`)

// ordinalWords maps position words to zero-based option indexes.
var ordinalWords = map[string]int{
	"first": 0, "1st": 0,
	"second": 1, "2nd": 1,
	"third": 2, "3rd": 2,
	"fourth": 3, "4th": 3,
	"fifth": 4, "5th": 4,
}

// genericTokens are words too common to identify one option by name.
var genericTokens = map[string]bool{
	"pharmacy": true, "pharmacies": true, "drugstore": true, "store": true,
	"medication": true, "medicine": true, "pills": true, "pill": true,
	"please": true, "want": true, "take": true, "that": true, "this": true,
	"the": true, "one": true, "option": true, "number": true,
}

// Classify implements Classifier. The confidence reflects how specific
// the matched signal was; it never returns an error.
func (r *RuleClassifier) Classify(_ context.Context, text string, turn Turn) (Intent, float64, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return IntentUnknown, 0, nil
	}

	switch {
	case cancelPattern.MatchString(trimmed):
		return IntentCancel, 1.0, nil
	case restartPattern.MatchString(trimmed):
		return IntentRestart, 1.0, nil
	case retryPattern.MatchString(trimmed):
		return IntentRetry, 1.0, nil
	}

	// Option picks are checked before yes/no: "the second one, yes"
	// is a pick, not a bare affirmation.
	if len(turn.Candidates) > 0 {
		if _, ok := MatchOption(trimmed, turn.Candidates); ok {
			return IntentMedicationName, 0.9, nil
		}
	}
	if len(turn.Pharmacies) > 0 {
		if _, ok := MatchOption(trimmed, turn.Pharmacies); ok {
			return IntentPharmacyChoice, 0.9, nil
		}
	}

	switch {
	case negationPattern.MatchString(trimmed):
		return IntentNegation, 0.9, nil
	case affirmationPattern.MatchString(trimmed):
		return IntentAffirmation, 0.9, nil
	}

	if refillKeywordPattern.MatchString(trimmed) {
		if ExtractMedicationQuery(trimmed) != "" {
			return IntentRefillRequest, 0.9, nil
		}
		return IntentRefillRequest, 0.7, nil
	}

	// When the conversation just asked which medication, free text is
	// the answer.
	if turn.ExpectingMedication {
		return IntentMedicationName, 0.6, nil
	}

	return IntentUnknown, 0, nil
}

// ExtractMedicationQuery pulls the medication search phrase out of a
// refill request. Returns an empty string when no query phrase is found;
// callers treat the whole message as the query in that case.
func ExtractMedicationQuery(text string) string {
	for _, p := range refillQueryPatterns {
		if m := p.FindStringSubmatch(text); len(m) > 1 {
			if q := cleanQuery(m[1]); q != "" {
				return q
			}
		}
	}
	return ""
}

// ExtractDosage finds a dosage mention like "10 mg" and returns it in
// normalized "value unit" form.
func ExtractDosage(text string) (string, bool) {
	m := dosagePattern.FindStringSubmatch(text)
	if len(m) < 3 {
		return "", false
	}
	return fmt.Sprintf("%s %s", m[1], strings.ToLower(m[2])), true
}

// MatchOption resolves a message against a presented option list and
// returns the zero-based index. It tries ordinal words ("the second
// one"), bare position digits, then name tokens. A message matching
// more than one option by name resolves to nothing.
func MatchOption(text string, options []string) (int, bool) {
	if len(options) == 0 {
		return 0, false
	}

	lower := strings.ToLower(text)
	tokens := tokenize(lower)

	// Ordinal words and bare digits.
	for _, tok := range tokens {
		if idx, ok := ordinalWords[tok]; ok {
			if idx < len(options) {
				return idx, true
			}
			return 0, false
		}
		if len(tok) == 1 && tok[0] >= '1' && tok[0] <= '9' {
			idx := int(tok[0] - '1')
			if idx < len(options) {
				return idx, true
			}
			return 0, false
		}
	}

	// Name match: option name contained in the message, or a
	// non-generic message token contained in the option name.
	var matches []int
	for i, opt := range options {
		optLower := strings.ToLower(opt)
		if strings.Contains(lower, optLower) {
			matches = append(matches, i)
			continue
		}
		for _, tok := range tokens {
			if len(tok) < 4 || genericTokens[tok] {
				continue
			}
			if strings.Contains(optLower, tok) {
				matches = append(matches, i)
				break
			}
		}
	}

	if len(matches) == 1 {
		return matches[0], true
	}
	return 0, false
}

// cleanQuery strips trailing punctuation and filler from an extracted
// medication query.
func cleanQuery(q string) string {
	q = strings.TrimSpace(q)
	q = strings.TrimRight(q, ".!?,;")
	q = strings.TrimSuffix(q, " please")
	q = strings.TrimPrefix(q, "please ")
	return strings.Join(strings.Fields(q), " ")
}

// tokenize splits a lowercased message into word tokens.
func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})
}
