package action

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type tags a queued mutation with the remote operation it maps to.
type Type string

const (
	TypeMarkPetLost    Type = "mark-pet-lost"
	TypeMarkPetFound   Type = "mark-pet-found"
	TypeReportSighting Type = "report-sighting"
	TypeCreateAlert    Type = "create-alert"
	TypeUpdatePet      Type = "update-pet"
)

// ErrUnknownType indicates a payload envelope carrying a type tag this
// build does not know. It is a logic error, never a transient one.
var ErrUnknownType = errors.New("unknown action type")

// Status is the durable state of a queued action.
type Status string

const (
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

// QueuedAction is a durable record of a locally-originated mutation
// awaiting remote execution. Payload holds the encoded envelope.
type QueuedAction struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Payload    []byte    `json:"payload"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Payload is the tagged-variant parameter set of a queued action.
type Payload interface {
	ActionType() Type
}

type MarkPetLostPayload struct {
	PetID       string  `json:"pet_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Address     string  `json:"address,omitempty"`
	Description string  `json:"description,omitempty"`
}

func (MarkPetLostPayload) ActionType() Type { return TypeMarkPetLost }

type MarkPetFoundPayload struct {
	PetID string `json:"pet_id"`
}

func (MarkPetFoundPayload) ActionType() Type { return TypeMarkPetFound }

type ReportSightingPayload struct {
	AlertID   string  `json:"alert_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	Note      string  `json:"note,omitempty"`
}

func (ReportSightingPayload) ActionType() Type { return TypeReportSighting }

type CreateAlertPayload struct {
	PetID        string  `json:"pet_id"`
	LocalAlertID string  `json:"local_alert_id,omitempty"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	Address      string  `json:"address,omitempty"`
	Description  string  `json:"description,omitempty"`
}

func (CreateAlertPayload) ActionType() Type { return TypeCreateAlert }

// UpdatePetPayload carries only the fields present in the update; nil
// means "leave unchanged" and is omitted from the remote call.
type UpdatePetPayload struct {
	PetID       string  `json:"pet_id"`
	Name        *string `json:"name,omitempty"`
	Species     *string `json:"species,omitempty"`
	Breed       *string `json:"breed,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (UpdatePetPayload) ActionType() Type { return TypeUpdatePet }

// envelope is the durable encoding of a payload: the type tag travels
// with the parameters so a record is self-describing on disk.
type envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes a payload into its tagged JSON envelope.
func Encode(p Payload) ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.ActionType(), err)
	}
	data, err := json.Marshal(envelope{Type: p.ActionType(), Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s envelope: %w", p.ActionType(), err)
	}
	return data, nil
}

// Decode parses a tagged envelope back into its typed payload.
func Decode(data []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode action envelope: %w", err)
	}

	var p Payload
	switch env.Type {
	case TypeMarkPetLost:
		p = &MarkPetLostPayload{}
	case TypeMarkPetFound:
		p = &MarkPetFoundPayload{}
	case TypeReportSighting:
		p = &ReportSightingPayload{}
	case TypeCreateAlert:
		p = &CreateAlertPayload{}
	case TypeUpdatePet:
		p = &UpdatePetPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if err := json.Unmarshal(env.Payload, p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}
	return p, nil
}
