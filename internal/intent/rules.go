package intent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reEmail    = regexp.MustCompile(`(?i)[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}`)
	rePhone    = regexp.MustCompile(`(?i)(?:phone|mobile|cell|number|text me at)[:\s]*(\+?\d[\d\s().-]{6,}\d)|(\+\d{7,15})`)
	reDOB      = regexp.MustCompile(`(?i)(?:born(?: on)?|dob|birth(?:day| date)?(?: is)?)[:\s]*(\d{4}-\d{2}-\d{2})`)
	reDate     = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	reName     = regexp.MustCompile(`(?i)\b(?:my name is|name is|name:|i am|i'm|this is)\s+([a-z][a-z'.-]*(?:\s+[a-z][a-z'.-]*){0,3}?)\s*(?:[,;.]|\s+(?:and|born|dob|my)\b|$)`)
	reDoctor   = regexp.MustCompile(`(?i)\b(dr\.?\s+[a-z][a-z'-]*)`)
	reLocation = regexp.MustCompile(`(?i)(?:location[:\s]+|at the\s+|in the\s+)([a-z][a-z-]*(?:\s+[a-z][a-z-]*){0,2}?)(?:\s+(?:clinic|office|location|branch))?\s*(?:[,;.]|\s+(?:with|on|and|for)\b|$)`)
	reChoice   = regexp.MustCompile(`(?i)^(?:option|slot|number|#)?\s*(\d{1,2})[.)]?$`)
	reClock    = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	reWord     = regexp.MustCompile(`[a-z]+`)
)

var (
	affirmWords = map[string]bool{"yes": true, "y": true, "yeah": true, "yep": true, "confirm": true, "confirmed": true, "ok": true, "okay": true, "sure": true, "correct": true}
	denyWords   = map[string]bool{"no": true, "n": true, "nope": true, "decline": true, "wrong": true}
	cancelWords = map[string]bool{"cancel": true, "stop": true, "quit": true, "abort": true}
	moreWords   = map[string]bool{"more": true, "other": true, "others": true, "later": true, "different": true, "none": true, "another": true}
)

// RuleExtractor recognizes a fixed vocabulary with regular expressions. It
// needs no network and backs the model-based extractors.
type RuleExtractor struct{}

func NewRuleExtractor() *RuleExtractor { return &RuleExtractor{} }

func (RuleExtractor) Parse(_ context.Context, text string) (Intent, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return Intent{}, ErrUnrecognized
	}
	in := Intent{Raw: raw}

	words := reWord.FindAllString(strings.ToLower(raw), -1)
	first := ""
	if len(words) > 0 {
		first = words[0]
	}

	if m := reChoice.FindStringSubmatch(raw); m != nil {
		n, _ := strconv.Atoi(m[1])
		in.Kind = KindSelect
		in.Choice = n
		return in, nil
	}

	switch {
	case cancelWords[first]:
		in.Kind = KindCancel
		in.Reason = rest(raw, first)
		return in, nil
	case denyWords[first]:
		in.Kind = KindDeny
		in.Reason = rest(raw, first)
		return in, nil
	case affirmWords[first] && len(words) <= 3:
		in.Kind = KindAffirm
		return in, nil
	}

	if m := reEmail.FindString(raw); m != "" {
		in.Email = strings.ToLower(m)
	}
	if m := rePhone.FindStringSubmatch(raw); m != nil {
		in.Phone = normalizePhone(strings.TrimSpace(m[1] + m[2]))
	}
	if m := reDOB.FindStringSubmatch(raw); m != nil {
		if d, err := time.Parse("2006-01-02", m[1]); err == nil {
			in.DOB = d
		}
	}
	if m := reName.FindStringSubmatch(raw); m != nil {
		in.FullName = strings.TrimSpace(m[1])
	}
	if m := reDoctor.FindStringSubmatch(raw); m != nil {
		in.Doctor = Slug(m[1])
	}
	if m := reLocation.FindStringSubmatch(raw); m != nil {
		in.Location = Slug(m[1])
	}

	// a bare date is a DOB only when we also got a name in the same breath
	if in.DOB.IsZero() {
		if m := reDate.FindStringSubmatch(raw); m != nil {
			if d, err := time.Parse("2006-01-02", m[1]); err == nil {
				if in.FullName != "" {
					in.DOB = d
				} else {
					in.Date = d
				}
			}
		}
	}

	if m := reClock.FindStringSubmatch(raw); m != nil && !in.HasFields() {
		h, _ := strconv.Atoi(m[1])
		in.Clock = fmt.Sprintf("%02d:%s", h, m[2])
		in.Kind = KindSelect
		return in, nil
	}

	if in.HasFields() {
		in.Kind = KindInform
		return in, nil
	}

	for _, w := range words {
		if moreWords[w] {
			in.Kind = KindMoreSlots
			return in, nil
		}
	}
	if !in.Date.IsZero() {
		in.Kind = KindMoreSlots
		return in, nil
	}
	if affirmWords[first] {
		in.Kind = KindAffirm
		return in, nil
	}
	return Intent{}, ErrUnrecognized
}

// rest returns what follows the leading keyword, e.g. the reason in "NO can't make it".
func rest(raw, keyword string) string {
	idx := strings.Index(strings.ToLower(raw), keyword)
	if idx < 0 {
		return ""
	}
	return strings.Trim(strings.TrimSpace(raw[idx+len(keyword):]), ",.:;- ")
}

func normalizePhone(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r == '+' && i == 0 || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
