package api

import (
	"time"

	"binpastes/pkg/domain"
	"binpastes/svc/search"
)

type CreateReq struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	Exposure    string `json:"exposure"`
	IsEncrypted bool   `json:"isEncrypted"`
	Expiry      string `json:"expiry"`
}

type PasteView struct {
	ID           string     `json:"id"`
	Title        string     `json:"title,omitempty"`
	Content      string     `json:"content"`
	SizeInBytes  int        `json:"sizeInBytes"`
	IsPublic     bool       `json:"isPublic"`
	IsErasable   bool       `json:"isErasable"`
	IsEncrypted  bool       `json:"isEncrypted"`
	IsPermanent  bool       `json:"isPermanent"`
	IsOneTime    bool       `json:"isOneTime"`
	DateCreated  time.Time  `json:"dateCreated"`
	DateOfExpiry *time.Time `json:"dateOfExpiry,omitempty"`
}

type PasteSummary struct {
	ID           string     `json:"id"`
	Title        string     `json:"title,omitempty"`
	SizeInBytes  int        `json:"sizeInBytes"`
	IsEncrypted  bool       `json:"isEncrypted"`
	DateCreated  time.Time  `json:"dateCreated"`
	DateOfExpiry *time.Time `json:"dateOfExpiry,omitempty"`
}

type SearchHit struct {
	PasteSummary
	Highlight string `json:"highlight"`
}

type ListResp struct {
	Pastes []PasteSummary `json:"pastes"`
}
type SearchResp struct {
	Pastes []SearchHit `json:"pastes"`
}

func toView(v *domain.View) PasteView {
	p := v.Paste
	return PasteView{
		ID:           p.ID,
		Title:        p.Title,
		Content:      p.Content,
		SizeInBytes:  p.SizeInBytes(),
		IsPublic:     p.Exposure == domain.ExposurePublic,
		IsErasable:   v.IsErasable,
		IsEncrypted:  p.IsEncrypted,
		IsPermanent:  p.IsPermanent(),
		IsOneTime:    p.Exposure == domain.ExposureOnce,
		DateCreated:  p.DateCreated,
		DateOfExpiry: p.DateOfExpiry,
	}
}
func toSummary(p *domain.Paste) PasteSummary {
	return PasteSummary{
		ID:           p.ID,
		Title:        p.Title,
		SizeInBytes:  p.SizeInBytes(),
		IsEncrypted:  p.IsEncrypted,
		DateCreated:  p.DateCreated,
		DateOfExpiry: p.DateOfExpiry,
	}
}
func toHit(h search.Hit) SearchHit {
	return SearchHit{PasteSummary: toSummary(h.Paste), Highlight: h.Highlight}
}
