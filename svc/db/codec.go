package db

import (
	"encoding/json"
	"time"

	"binpastes/pkg/domain"
)

type record struct {
	ID            string          `json:"id"`
	Title         string          `json:"title,omitempty"`
	Content       string          `json:"content"`
	Exposure      domain.Exposure `json:"exposure"`
	IsEncrypted   bool            `json:"is_encrypted"`
	DateCreated   time.Time       `json:"date_created"`
	DateOfExpiry  *time.Time      `json:"date_of_expiry,omitempty"`
	RemoteAddress string          `json:"remote_address"`
	Consumed      bool            `json:"consumed"`
}

func encodePaste(p *domain.Paste) ([]byte, error) {
	return json.Marshal(record{
		ID:            p.ID,
		Title:         p.Title,
		Content:       p.Content,
		Exposure:      p.Exposure,
		IsEncrypted:   p.IsEncrypted,
		DateCreated:   p.DateCreated.UTC(),
		DateOfExpiry:  utcPtr(p.DateOfExpiry),
		RemoteAddress: p.RemoteAddress,
		Consumed:      p.Consumed,
	})
}
func decodePaste(data []byte) (*domain.Paste, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &domain.Paste{
		ID:            r.ID,
		Title:         r.Title,
		Content:       r.Content,
		Exposure:      r.Exposure,
		IsEncrypted:   r.IsEncrypted,
		DateCreated:   r.DateCreated,
		DateOfExpiry:  r.DateOfExpiry,
		RemoteAddress: r.RemoteAddress,
		Consumed:      r.Consumed,
	}, nil
}
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
