package intent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleExtractor(t *testing.T) {
	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		text string
		want Intent
	}{
		{"My name is Jane Doe, born 1990-01-01", Intent{Kind: KindInform, FullName: "Jane Doe", DOB: dob}},
		{"I'm Jane Doe born on 1990-01-01", Intent{Kind: KindInform, FullName: "Jane Doe", DOB: dob}},
		{"dob: 1990-01-01", Intent{Kind: KindInform, DOB: dob}},
		{"I'd like Dr. Reed at the Downtown clinic", Intent{Kind: KindInform, Doctor: "dr-reed", Location: "downtown"}},
		{"at the Downtown clinic with Dr. Reed", Intent{Kind: KindInform, Doctor: "dr-reed", Location: "downtown"}},
		{"location: uptown", Intent{Kind: KindInform, Location: "uptown"}},
		{"you can reach me at jane@Example.com or phone 555-010-1234", Intent{Kind: KindInform, Email: "jane@example.com", Phone: "5550101234"}},
		{"+15550001111", Intent{Kind: KindInform, Phone: "+15550001111"}},
		{"2", Intent{Kind: KindSelect, Choice: 2}},
		{"option 3", Intent{Kind: KindSelect, Choice: 3}},
		{"the 9:30 one please", Intent{Kind: KindSelect, Clock: "09:30"}},
		{"yes", Intent{Kind: KindAffirm}},
		{"Yes please!", Intent{Kind: KindAffirm}},
		{"no", Intent{Kind: KindDeny}},
		{"NO I'm travelling", Intent{Kind: KindDeny, Reason: "I'm travelling"}},
		{"cancel", Intent{Kind: KindCancel}},
		{"none of those work, anything later?", Intent{Kind: KindMoreSlots}},
		{"how about from 2026-03-10", Intent{Kind: KindMoreSlots, Date: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := NewRuleExtractor().Parse(context.Background(), tt.text)
			require.NoError(t, err)
			tt.want.Raw = got.Raw
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRuleExtractorUnrecognized(t *testing.T) {
	for _, text := range []string{"", "   ", "what's the weather like"} {
		_, err := NewRuleExtractor().Parse(context.Background(), text)
		assert.ErrorIs(t, err, ErrUnrecognized, text)
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "dr-reed", Slug("Dr. Reed"))
	assert.Equal(t, "downtown-clinic", Slug("  Downtown Clinic "))
}
