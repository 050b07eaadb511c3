package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Normalize trims the title and fills in defaults for exposure and expiry.
// It returns the rejected fields, if any.
func (c *CreateParams) Normalize() error {
	var ve ValidationError
	c.Title = strings.TrimSpace(c.Title)
	if n := utf8.RuneCountInString(c.Title); n > MaxTitleLength {
		ve.Add("title", fmt.Sprintf("must be at most %d characters", MaxTitleLength))
	}
	trimmed := strings.TrimSpace(c.Content)
	switch n := len(trimmed); {
	case n == 0:
		ve.Add("content", "must not be blank")
	case n < MinContentBytes || n > MaxContentBytes:
		ve.Add("content", fmt.Sprintf("length must be between %d and %d bytes", MinContentBytes, MaxContentBytes))
	}
	exposure, ok := ParseExposure(string(c.Exposure))
	if !ok {
		ve.Add("exposure", "must be one of PUBLIC, UNLISTED, ONCE")
	}
	c.Exposure = exposure
	expiry, ok := ParseExpiry(string(c.Expiry))
	if !ok {
		ve.Add("expiry", "must be one of ONE_HOUR, ONE_DAY, ONE_WEEK, ONE_MONTH, THREE_MONTHS, ONE_YEAR, NEVER")
	}
	c.Expiry = expiry
	return ve.OrNil()
}
