package model

import "time"

// Pet mirrors the remote pet record, plus local sync bookkeeping.
type Pet struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Name         string    `json:"name"`
	Species      string    `json:"species"`
	Breed        string    `json:"breed,omitempty"`
	Description  string    `json:"description,omitempty"`
	IsMissing    bool      `json:"is_missing"`
	TagID        string    `json:"tag_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastSyncedAt time.Time `json:"last_synced_at,omitempty"`
}

// Alert mirrors the remote lost-pet alert record. LocalOnly marks a
// placeholder created optimistically before the server assigned an id.
type Alert struct {
	ID           string    `json:"id"`
	PetID        string    `json:"pet_id"`
	PetName      string    `json:"pet_name,omitempty"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Address      string    `json:"address,omitempty"`
	Description  string    `json:"description,omitempty"`
	Active       bool      `json:"active"`
	LocalOnly    bool      `json:"local_only,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastSyncedAt time.Time `json:"last_synced_at,omitempty"`
}

// SuccessStory mirrors a resolved-reunion story shared by an owner.
type SuccessStory struct {
	ID           string    `json:"id"`
	PetID        string    `json:"pet_id"`
	PetName      string    `json:"pet_name,omitempty"`
	Title        string    `json:"title"`
	Body         string    `json:"body,omitempty"`
	Public       bool      `json:"public"`
	Confirmed    bool      `json:"confirmed"`
	CreatedAt    time.Time `json:"created_at"`
	LastSyncedAt time.Time `json:"last_synced_at,omitempty"`
}

// Sighting is a finder's report attached to an alert. Sightings are not
// cached locally; the type exists for the remote contract.
type Sighting struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Address   string    `json:"address,omitempty"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
