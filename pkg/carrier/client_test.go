package carrier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airmesh-mobile/airmesh-backend/pkg/config"
)

func testConfig(baseURL string) config.CarrierConfig {
	return config.CarrierConfig{
		BaseURL:           baseURL,
		APIKey:            "key",
		AuthToken:         "token",
		Timeout:           5 * time.Second,
		DefaultCountry:    "US",
		PreferredAreaCode: "212",
	}
}

func TestCreateUserCreated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/users", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "key", user)
		require.Equal(t, "token", pass)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "ada@example.com", body["email"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"usr_123"}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	result, err := client.CreateUser(context.Background(), CreateUserParams{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, result.Outcome)
	assert.Equal(t, "usr_123", result.UserID)
}

func TestCreateUserAlreadyExistsConflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"USER_ALREADY_EXISTS","message":"user already exists"}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	result, err := client.CreateUser(context.Background(), CreateUserParams{Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, result.Outcome)
	assert.Empty(t, result.UserID)
}

func TestCreateUserAlreadyExistsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"INVALID_ARGUMENT","message":"a user with this email already exists"}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	result, err := client.CreateUser(context.Background(), CreateUserParams{Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyExists, result.Outcome)
}

func TestCreateUserServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"boom"}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.CreateUser(context.Background(), CreateUserParams{Email: "ada@example.com"})
	require.Error(t, err)
}

func TestFindUserByEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users", r.URL.Path)
		require.Equal(t, "ada@example.com", r.URL.Query().Get("email"))
		_, _ = w.Write([]byte(`{"users":[{"id":"usr_123"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	id, err := client.FindUserByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "usr_123", id)
}

func TestFindUserByEmailNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"users":[]}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.FindUserByEmail(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestActivateLine(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/lines", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "LINE_TYPE_MOBILITY", body["lineType"])
		require.Equal(t, "SIM_TYPE_ESIM", body["simType"])
		require.Equal(t, "usr_123", body["userId"])
		require.Equal(t, "US", body["countryCode"])
		require.Equal(t, "212", body["preferredAreaCode"])

		_, _ = w.Write([]byte(`{
			"id": "line_9",
			"status": "ACTIVE",
			"iccid": "8910300000003540720",
			"phoneNumbers": [{"phoneNumber": "+12125551212"}],
			"sim": {"activationUrl": "rsp.oxio.com", "activationCode": "K2-ABCDEF"}
		}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	result, err := client.ActivateLine(context.Background(), ActivateLineParams{CarrierUserID: "usr_123"})
	require.NoError(t, err)
	assert.Equal(t, "line_9", result.LineID)
	assert.Equal(t, "+12125551212", result.PhoneNumber)
	assert.Equal(t, "8910300000003540720", result.ICCID)
	assert.Equal(t, "rsp.oxio.com", result.SIM.ActivationURL)
	assert.Equal(t, "K2-ABCDEF", result.SIM.ActivationCode)
	assert.NotEmpty(t, result.RawResponse)
}

func TestActivateLineMissingOptionalFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"line_9","status":"PENDING","sim":{}}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	result, err := client.ActivateLine(context.Background(), ActivateLineParams{CarrierUserID: "usr_123"})
	require.NoError(t, err)
	assert.Equal(t, "line_9", result.LineID)
	assert.Empty(t, result.PhoneNumber)
	assert.Empty(t, result.ICCID)
}

func TestGetLines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/lines", r.URL.Path)
		require.Equal(t, "usr_123", r.URL.Query().Get("userId"))
		_, _ = w.Write([]byte(`{"lines":[
			{"id":"line_1","status":"ACTIVE","iccid":"89103000001","phoneNumbers":[{"phoneNumber":"+12125550001"}],"sim":{"activationUrl":"rsp.oxio.com","activationCode":"K2-A"}},
			{"id":"line_2","status":"ACTIVE","sim":{}}
		]}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	lines, err := client.GetLines(context.Background(), "usr_123")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "89103000001", lines[0].ICCID)
	assert.Equal(t, "+12125550001", lines[0].PhoneNumber)
	assert.Empty(t, lines[1].ICCID)
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(config.CarrierConfig{APIKey: "k", AuthToken: "t"})
	require.ErrorIs(t, err, errBaseURLRequired)

	_, err = NewClient(config.CarrierConfig{BaseURL: "https://api.example.com"})
	require.ErrorIs(t, err, errCredentialsRequired)
}
