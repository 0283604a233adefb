package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/zoff-tech/petsync/pkg/notify"
)

// EventType names the server-sent events the channel understands.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventTagScanned       EventType = "tag_scanned"
	EventSightingReported EventType = "sighting_reported"
	EventPetFound         EventType = "pet_found"
	EventAlertCreated     EventType = "alert_created"
	EventAlertUpdated     EventType = "alert_updated"
)

type ConnectionEvent struct {
	Message string `json:"message,omitempty"`
}

type TagScannedEvent struct {
	TagID     string  `json:"tag_id"`
	PetID     string  `json:"pet_id"`
	PetName   string  `json:"petName"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type SightingReportedEvent struct {
	AlertID   string  `json:"alert_id"`
	PetID     string  `json:"pet_id"`
	PetName   string  `json:"petName"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type PetFoundEvent struct {
	PetID     string  `json:"pet_id"`
	PetName   string  `json:"petName"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Address   string  `json:"address,omitempty"`
}

type AlertCreatedEvent struct {
	AlertID   string  `json:"alert_id"`
	PetID     string  `json:"pet_id"`
	PetName   string  `json:"petName"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type AlertUpdatedEvent struct {
	AlertID string `json:"alert_id"`
	PetID   string `json:"pet_id"`
	PetName string `json:"petName"`
	Active  bool   `json:"active"`
}

// Handlers holds one optional callback per event type. Nil callbacks drop
// the event after decoding.
type Handlers struct {
	Connected        func(ConnectionEvent)
	TagScanned       func(TagScannedEvent)
	SightingReported func(SightingReportedEvent)
	PetFound         func(PetFoundEvent)
	AlertCreated     func(AlertCreatedEvent)
	AlertUpdated     func(AlertUpdatedEvent)
}

// dispatch decodes one named event and invokes its handler. The returned
// notification, when non-nil, goes to the side channel.
func (h *Handlers) dispatch(name EventType, data string) (*notify.Notification, error) {
	switch name {
	case EventConnected:
		var ev ConnectionEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, err
		}
		if h.Connected != nil {
			h.Connected(ev)
		}
		return nil, nil
	case EventTagScanned:
		var ev TagScannedEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, err
		}
		if h.TagScanned != nil {
			h.TagScanned(ev)
		}
		return &notify.Notification{
			Kind:  string(name),
			Title: "Tag scanned",
			Body:  fmt.Sprintf("%s's tag was scanned near %s", ev.PetName, ev.Address),
			Data:  map[string]string{"pet_id": ev.PetID, "tag_id": ev.TagID},
		}, nil
	case EventSightingReported:
		var ev SightingReportedEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, err
		}
		if h.SightingReported != nil {
			h.SightingReported(ev)
		}
		return &notify.Notification{
			Kind:  string(name),
			Title: "New sighting",
			Body:  fmt.Sprintf("%s was sighted near %s", ev.PetName, ev.Address),
			Data:  map[string]string{"alert_id": ev.AlertID, "pet_id": ev.PetID},
		}, nil
	case EventPetFound:
		var ev PetFoundEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, err
		}
		if h.PetFound != nil {
			h.PetFound(ev)
		}
		return &notify.Notification{
			Kind:  string(name),
			Title: "Pet found",
			Body:  fmt.Sprintf("%s has been found!", ev.PetName),
			Data:  map[string]string{"pet_id": ev.PetID},
		}, nil
	case EventAlertCreated:
		var ev AlertCreatedEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, err
		}
		if h.AlertCreated != nil {
			h.AlertCreated(ev)
		}
		return &notify.Notification{
			Kind:  string(name),
			Title: "Missing pet nearby",
			Body:  fmt.Sprintf("%s is missing near %s", ev.PetName, ev.Address),
			Data:  map[string]string{"alert_id": ev.AlertID, "pet_id": ev.PetID},
		}, nil
	case EventAlertUpdated:
		var ev AlertUpdatedEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil, err
		}
		if h.AlertUpdated != nil {
			h.AlertUpdated(ev)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", name)
	}
}
