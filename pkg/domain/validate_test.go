package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestNormalizeContentBounds(t *testing.T) {
	tests := []struct {
		name    string
		content string
		valid   bool
	}{
		{"four bytes", "1234", false},
		{"five bytes", "12345", true},
		{"max bytes", strings.Repeat("X", MaxContentBytes), true},
		{"over max", strings.Repeat("X", MaxContentBytes+1), false},
		{"blank", "            ", false},
		{"padded short", "   1234   ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CreateParams{Content: tt.content}
			err := c.Normalize()
			if tt.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.valid {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("expected validation error, got %v", err)
				}
				if _, ok := ve.Fields["content"]; !ok {
					t.Errorf("expected content field error, got %v", ve.Fields)
				}
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	c := CreateParams{Title: "  someTitle  ", Content: "validContent"}
	if err := c.Normalize(); err != nil {
		t.Fatal(err)
	}
	if c.Title != "someTitle" {
		t.Errorf("title not trimmed: %q", c.Title)
	}

	c = CreateParams{Title: "              ", Content: "validContent"}
	if err := c.Normalize(); err != nil {
		t.Fatalf("blank title should be treated as absent: %v", err)
	}
	if c.Title != "" {
		t.Errorf("blank title should be empty, got %q", c.Title)
	}

	c = CreateParams{Title: strings.Repeat("X", MaxTitleLength+1), Content: "validContent"}
	err := c.Normalize()
	if err == nil {
		t.Fatal("expected oversized title to be rejected")
	}
	if Status(err) != 400 {
		t.Errorf("status = %d, want 400", Status(err))
	}
	if ToResp(err).Error.Fields["title"] == "" {
		t.Errorf("expected title field detail")
	}
}

func TestNormalizeDefaults(t *testing.T) {
	c := CreateParams{Content: "validContent"}
	if err := c.Normalize(); err != nil {
		t.Fatal(err)
	}
	if c.Exposure != ExposurePublic {
		t.Errorf("exposure = %s, want PUBLIC", c.Exposure)
	}
	if c.Expiry != ExpiryOneDay {
		t.Errorf("expiry = %s, want ONE_DAY", c.Expiry)
	}

	c = CreateParams{Content: "validContent", Exposure: "SECRET", Expiry: "TOMORROW"}
	err := c.Normalize()
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(ve.Fields) != 2 {
		t.Errorf("expected exposure and expiry errors, got %v", ve.Fields)
	}
	if !errors.Is(err, ErrValidation) {
		t.Errorf("validation error should match ErrValidation")
	}
}

func TestExpiryFrom(t *testing.T) {
	created := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		expiry Expiry
		want   time.Time
	}{
		{ExpiryOneHour, created.Add(time.Hour)},
		{ExpiryOneDay, created.Add(24 * time.Hour)},
		{ExpiryOneWeek, created.Add(7 * 24 * time.Hour)},
		{ExpiryOneMonth, created.AddDate(0, 1, 0)},
		{ExpiryThreeMonths, created.AddDate(0, 3, 0)},
		{ExpiryOneYear, created.AddDate(1, 0, 0)},
	}
	for _, tt := range tests {
		got := tt.expiry.From(created)
		if got == nil || !got.Equal(tt.want) {
			t.Errorf("%s: got %v, want %v", tt.expiry, got, tt.want)
		}
	}
	if ExpiryNever.From(created) != nil {
		t.Error("NEVER should yield no expiry")
	}
}

func TestIsExpiredAt(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)
	if !(&Paste{DateOfExpiry: &past}).IsExpiredAt(now) {
		t.Error("paste with past expiry should be expired")
	}
	if (&Paste{DateOfExpiry: &future}).IsExpiredAt(now) {
		t.Error("paste with future expiry should not be expired")
	}
	if (&Paste{}).IsExpiredAt(now) {
		t.Error("permanent paste should never expire")
	}
}
