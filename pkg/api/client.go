package api

import (
	"context"

	"github.com/zoff-tech/petsync/pkg/model"
)

// AlertRequest creates a lost-pet alert.
type AlertRequest struct {
	PetID       string  `json:"pet_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Address     string  `json:"address,omitempty"`
	Description string  `json:"description,omitempty"`
}

// SightingRequest reports a sighting against an alert.
type SightingRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
	Note      string  `json:"note,omitempty"`
}

// PetUpdate is a partial update; nil fields are omitted from the request.
type PetUpdate struct {
	Name        *string `json:"name,omitempty"`
	Species     *string `json:"species,omitempty"`
	Breed       *string `json:"breed,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Client executes domain operations against the backend. Every call may
// raise a typed *Error; an unauthorized response invalidates the stored
// credential as a side effect.
type Client interface {
	GetPets(ctx context.Context) ([]model.Pet, error)
	GetAlerts(ctx context.Context) ([]model.Alert, error)
	GetSuccessStories(ctx context.Context) ([]model.SuccessStory, error)
	CreateAlert(ctx context.Context, req AlertRequest) (*model.Alert, error)
	MarkPetFound(ctx context.Context, petID string) (*model.Pet, error)
	UpdatePet(ctx context.Context, petID string, update PetUpdate) (*model.Pet, error)
	ReportSighting(ctx context.Context, alertID string, req SightingRequest) (*model.Sighting, error)
}

// TokenStore supplies the bearer credential and accepts invalidation when
// the backend rejects it. Secure storage internals live with the caller.
type TokenStore interface {
	Token() (string, error)
	Invalidate()
}
