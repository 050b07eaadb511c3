package domain

import (
	"time"
)

const (
	IDLength        = 40
	MaxTitleLength  = 255
	MinContentBytes = 5
	MaxContentBytes = 4096
)

type Exposure string

const (
	ExposurePublic   Exposure = "PUBLIC"
	ExposureUnlisted Exposure = "UNLISTED"
	ExposureOnce     Exposure = "ONCE"
)

func ParseExposure(s string) (Exposure, bool) {
	switch e := Exposure(s); e {
	case ExposurePublic, ExposureUnlisted, ExposureOnce:
		return e, true
	case "":
		return ExposurePublic, true
	}
	return "", false
}

type Expiry string

const (
	ExpiryOneHour     Expiry = "ONE_HOUR"
	ExpiryOneDay      Expiry = "ONE_DAY"
	ExpiryOneWeek     Expiry = "ONE_WEEK"
	ExpiryOneMonth    Expiry = "ONE_MONTH"
	ExpiryThreeMonths Expiry = "THREE_MONTHS"
	ExpiryOneYear     Expiry = "ONE_YEAR"
	ExpiryNever       Expiry = "NEVER"
)

func ParseExpiry(s string) (Expiry, bool) {
	switch e := Expiry(s); e {
	case ExpiryOneHour, ExpiryOneDay, ExpiryOneWeek, ExpiryOneMonth, ExpiryThreeMonths, ExpiryOneYear, ExpiryNever:
		return e, true
	case "":
		return ExpiryOneDay, true
	}
	return "", false
}

// From returns the expiry instant relative to created, or nil for NEVER.
func (e Expiry) From(created time.Time) *time.Time {
	var t time.Time
	switch e {
	case ExpiryOneHour:
		t = created.Add(time.Hour)
	case ExpiryOneDay:
		t = created.Add(24 * time.Hour)
	case ExpiryOneWeek:
		t = created.Add(7 * 24 * time.Hour)
	case ExpiryOneMonth:
		t = created.AddDate(0, 1, 0)
	case ExpiryThreeMonths:
		t = created.AddDate(0, 3, 0)
	case ExpiryOneYear:
		t = created.AddDate(1, 0, 0)
	default:
		return nil
	}
	return &t
}

type Paste struct {
	ID            string
	Title         string
	Content       string
	Exposure      Exposure
	IsEncrypted   bool
	DateCreated   time.Time
	DateOfExpiry  *time.Time
	RemoteAddress string
	Consumed      bool
}

func (p *Paste) IsPermanent() bool {
	return p.DateOfExpiry == nil
}
func (p *Paste) IsExpiredAt(now time.Time) bool {
	return p.DateOfExpiry != nil && !now.Before(*p.DateOfExpiry)
}
func (p *Paste) SizeInBytes() int {
	return len(p.Content)
}

type CreateParams struct {
	Title         string
	Content       string
	Exposure      Exposure
	IsEncrypted   bool
	Expiry        Expiry
	RemoteAddress string
}

// View is a paste as returned to one particular caller.
type View struct {
	Paste      *Paste
	IsErasable bool
}
