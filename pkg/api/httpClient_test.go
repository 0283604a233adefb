package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoff-tech/petsync/pkg/model"
)

type fakeTokenStore struct {
	token       string
	invalidated bool
}

func (f *fakeTokenStore) Token() (string, error) { return f.token, nil }
func (f *fakeTokenStore) Invalidate()            { f.invalidated = true }

func TestGetPets_DecodesAndSendsBearer(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]model.Pet{{ID: "P1", Name: "Max"}})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, &fakeTokenStore{token: "tok-123"})
	pets, err := client.GetPets(context.Background())
	require.NoError(t, err)
	require.Len(t, pets, 1)
	assert.Equal(t, "Max", pets[0].Name)
	assert.Equal(t, "Bearer tok-123", gotAuth)
}

func TestUnauthorized_InvalidatesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tokens := &fakeTokenStore{token: "stale"}
	client := NewHTTPClient(server.URL, tokens)
	_, err := client.GetAlerts(context.Background())

	assert.True(t, IsKind(err, KindUnauthorized))
	assert.True(t, tokens.invalidated)
	assert.False(t, Retryable(err))
}

func TestServerError_CarriesMessageAndIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"message": "maintenance window"})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, &fakeTokenStore{})
	_, err := client.GetPets(context.Background())

	require.Error(t, err)
	assert.True(t, IsKind(err, KindServerError))
	assert.Contains(t, err.Error(), "maintenance window")
	assert.True(t, Retryable(err))
}

func TestDecodingError_OnMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, &fakeTokenStore{})
	_, err := client.GetPets(context.Background())
	assert.True(t, IsKind(err, KindDecodingError))
	assert.False(t, Retryable(err))
}

func TestNetworkError_OnUnreachableHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // closed before use

	client := NewHTTPClient(server.URL, &fakeTokenStore{})
	_, err := client.GetPets(context.Background())
	assert.True(t, IsKind(err, KindNetworkError))
	assert.True(t, Retryable(err))
}

func TestUpdatePet_SendsOnlyPresentFields(t *testing.T) {
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(model.Pet{ID: "P1", Name: "Maxine"})
	}))
	defer server.Close()

	name := "Maxine"
	client := NewHTTPClient(server.URL, &fakeTokenStore{})
	pet, err := client.UpdatePet(context.Background(), "P1", PetUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Maxine", pet.Name)

	assert.Equal(t, "Maxine", gotBody["name"])
	_, hasSpecies := gotBody["species"]
	assert.False(t, hasSpecies, "absent fields must not appear in the request")
}

func TestMarkPetFound_HitsFoundRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pets/P1/found", r.URL.Path)
		json.NewEncoder(w).Encode(model.Pet{ID: "P1", IsMissing: false})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, &fakeTokenStore{})
	pet, err := client.MarkPetFound(context.Background(), "P1")
	require.NoError(t, err)
	assert.False(t, pet.IsMissing)
}
