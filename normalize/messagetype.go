package normalize

import (
	"regexp"
	"sort"
	"strings"
)

// MessageTypes is the closed set of structured message-type tokens the
// detector votes over (HL7 v2 message families).
var MessageTypes = []string{"adt", "oru", "orm", "siu", "mdm", "dft", "vxu", "ack"}

// PrimaryTypeThreshold is the minimum score a token needs before it is
// asserted as the primary message type. Below it, detection stays
// advisory; this prevents false-positive domain narrowing from a single
// weak mention.
const PrimaryTypeThreshold = 2.5

// Evidence collects the text sources the detector scores.
type Evidence struct {
	Instructions   string
	Context        string
	ExpectedOutput string
	Attachments    []Attachment
	References     []ReferenceDocument
}

// Per-source vote weights. An MSH-9 field parsed out of structured
// attachment content is the strongest possible evidence.
const (
	weightInstructions  = 2.0
	weightContext       = 1.0
	weightExpected      = 1.0
	weightFilename      = 1.5
	weightContentSample = 2.5
	weightMSHField      = 4.0
	weightRefTitle      = 1.0
	weightRefSnippet    = 0.75
)

// contentSampleLength bounds how much attachment content the detector
// inspects.
const contentSampleLength = 2000

// aliases maps free-text phrases to message-type tokens.
var aliases = map[string]string{
	"admission":       "adt",
	"admit":           "adt",
	"discharge":       "adt",
	"transfer":        "adt",
	"census":          "adt",
	"lab result":      "oru",
	"lab results":     "oru",
	"observation":     "oru",
	"result message":  "oru",
	"order":           "orm",
	"orders":          "orm",
	"appointment":     "siu",
	"scheduling":      "siu",
	"schedule":        "siu",
	"transcription":   "mdm",
	"clinical note":   "mdm",
	"dictation":       "mdm",
	"billing":         "dft",
	"charge":          "dft",
	"financial":       "dft",
	"immunization":    "vxu",
	"vaccine":         "vxu",
	"vaccination":     "vxu",
	"acknowledgment":  "ack",
	"acknowledgement": "ack",
}

var mshTypePattern = regexp.MustCompile(`(?m)^MSH\|[^\n]*?\|([A-Z]{2,3})\^`)

// DetectMessageTypes scores each message-type token against the evidence
// and returns the detected tokens ordered by descending score, plus the
// primary type when the top score clears PrimaryTypeThreshold.
func DetectMessageTypes(ev Evidence) ([]string, string) {
	scores := map[string]float64{}

	vote := func(text string, weight float64) {
		if text == "" {
			return
		}
		lower := strings.ToLower(text)
		for _, token := range MessageTypes {
			if containsToken(lower, token) {
				scores[token] += weight
			}
		}
		for phrase, token := range aliases {
			if strings.Contains(lower, phrase) {
				scores[token] += weight
			}
		}
	}

	vote(ev.Instructions, weightInstructions)
	vote(ev.Context, weightContext)
	vote(ev.ExpectedOutput, weightExpected)
	for _, att := range ev.Attachments {
		vote(att.Filename, weightFilename)
		vote(att.DisplayName, weightFilename)
		sample := att.Content
		if len(sample) > contentSampleLength {
			sample = sample[:contentSampleLength]
		}
		vote(sample, weightContentSample)
		for _, m := range mshTypePattern.FindAllStringSubmatch(sample, -1) {
			token := strings.ToLower(m[1])
			if isKnownType(token) {
				scores[token] += weightMSHField
			}
		}
	}
	for _, ref := range ev.References {
		vote(ref.Title, weightRefTitle)
		vote(ref.Snippet, weightRefSnippet)
	}

	detected := make([]string, 0, len(scores))
	for token := range scores {
		detected = append(detected, token)
	}
	sort.Slice(detected, func(i, j int) bool {
		if scores[detected[i]] != scores[detected[j]] {
			return scores[detected[i]] > scores[detected[j]]
		}
		return detected[i] < detected[j]
	})

	primary := ""
	if len(detected) > 0 && scores[detected[0]] >= PrimaryTypeThreshold {
		primary = detected[0]
	}
	return detected, primary
}

// containsToken matches a message-type token on word boundaries so that,
// for example, "track" does not vote for "ack".
func containsToken(lower, token string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], token)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordByte(lower[i-1])
		afterIdx := i + len(token)
		after := afterIdx >= len(lower) || !isWordByte(lower[afterIdx])
		if before && after {
			return true
		}
		idx = i + len(token)
	}
}

func isKnownType(token string) bool {
	for _, t := range MessageTypes {
		if t == token {
			return true
		}
	}
	return false
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}
