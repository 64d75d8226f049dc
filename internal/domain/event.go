package domain

import (
	"bytes"
	"encoding/json"
)

type EventType string

const (
	EventEdit    EventType = "edit"
	EventNewPage EventType = "new_page"
	EventNewUser EventType = "new_user"
	EventUnknown EventType = "unknown"
)

// RefinedEvent is the compact record delivered to subscribers. ID, Timestamp
// and Bot keep the JSON value the upstream feed sent.
type RefinedEvent struct {
	ID             json.RawMessage `json:"id"`
	Domain         string          `json:"domain"`
	WikiType       string          `json:"wiki_type"`
	EventType      EventType       `json:"event_type"`
	Code           string          `json:"code"`
	Language       string          `json:"language"`
	Title          string          `json:"title"`
	TitleURL       string          `json:"title_url"`
	Timestamp      json.RawMessage `json:"timestamp"`
	User           string          `json:"user"`
	Bot            json.RawMessage `json:"bot"`
	ChangeInLength int64           `json:"change_in_length"`
}

func (e RefinedEvent) IsBot() bool {
	return bytes.Equal(bytes.TrimSpace(e.Bot), []byte("true"))
}
