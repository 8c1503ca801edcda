package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/airmesh-mobile/airmesh-backend/pkg/config"
	pkgerrors "github.com/airmesh-mobile/airmesh-backend/pkg/errors"
)

const (
	defaultTimeout             = 30 * time.Second
	lineTypeMobile             = "LINE_TYPE_MOBILITY"
	simTypeEmbedded            = "SIM_TYPE_ESIM"
	responseBodyReadLimit      = 1 << 20
	errorBodyReadLimit   int64 = 2048
)

var (
	errBaseURLRequired     = errors.New("carrier base url is required")
	errCredentialsRequired = errors.New("carrier api key and auth token are required")
)

// Client talks to the OXIO provisioning API. All calls authenticate with
// HTTP Basic Auth built from the configured API key and token.
type Client struct {
	httpClient        *http.Client
	baseURL           string
	apiKey            string
	authToken         string
	brandID           string
	defaultCountry    string
	preferredAreaCode string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured carrier base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the OXIO client from configuration.
func NewClient(cfg config.CarrierConfig, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	authToken := strings.TrimSpace(cfg.AuthToken)
	if apiKey == "" || authToken == "" {
		return nil, errCredentialsRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		httpClient:        &http.Client{Timeout: timeout},
		baseURL:           baseURL,
		apiKey:            apiKey,
		authToken:         authToken,
		brandID:           strings.TrimSpace(cfg.BrandID),
		defaultCountry:    strings.TrimSpace(cfg.DefaultCountry),
		preferredAreaCode: strings.TrimSpace(cfg.PreferredAreaCode),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}

	return client, nil
}

// CreateUser provisions a carrier-side user. The carrier rejects duplicate
// emails with a conflict rather than returning the existing record, so the
// result is a typed variant callers must switch on.
func (c *Client) CreateUser(ctx context.Context, params CreateUserParams) (CreateUserResult, error) {
	if c == nil {
		return CreateUserResult{}, pkgerrors.New(pkgerrors.CodeDependency, "carrier client not configured")
	}
	if strings.TrimSpace(params.Email) == "" {
		return CreateUserResult{}, pkgerrors.New(pkgerrors.CodeValidation, "carrier user email is required")
	}

	body := map[string]any{
		"firstName": params.FirstName,
		"lastName":  params.LastName,
		"email":     params.Email,
	}
	if params.ExternalID != "" {
		body["externalId"] = params.ExternalID
	}
	if c.brandID != "" {
		body["brandId"] = c.brandID
	}

	resp, raw, err := c.do(ctx, http.MethodPost, "users", body)
	if err != nil {
		return CreateUserResult{}, err
	}

	switch {
	case resp.StatusCode == http.StatusConflict:
		return CreateUserResult{Outcome: OutcomeAlreadyExists}, nil
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		var apiResp struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(raw, &apiResp); err != nil {
			return CreateUserResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode create user response")
		}
		if apiResp.ID == "" {
			return CreateUserResult{}, pkgerrors.New(pkgerrors.CodeDependency, "create user response missing id")
		}
		return CreateUserResult{Outcome: OutcomeCreated, UserID: apiResp.ID}, nil
	default:
		if isAlreadyExistsBody(raw) {
			return CreateUserResult{Outcome: OutcomeAlreadyExists}, nil
		}
		return CreateUserResult{}, statusError(resp.StatusCode, raw, "create user request failed")
	}
}

// FindUserByEmail resolves the carrier user ID for an email address. It
// returns ErrNotFound when the carrier has no matching user.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (string, error) {
	if c == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "carrier client not configured")
	}
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}

	path := "users?email=" + url.QueryEscape(trimmed)
	resp, raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, raw, "find user request failed")
	}

	var apiResp struct {
		Users []struct {
			ID string `json:"id"`
		} `json:"users"`
	}
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode find user response")
	}
	if len(apiResp.Users) == 0 {
		return "", ErrNotFound
	}
	return apiResp.Users[0].ID, nil
}

// ActivateLine provisions a mobile line with an embedded SIM for the
// carrier user. Phone number and ICCID may be absent from the response;
// callers decide how to handle the gaps. The raw body is returned for
// audit persistence.
func (c *Client) ActivateLine(ctx context.Context, params ActivateLineParams) (*ActivateLineResult, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "carrier client not configured")
	}
	if strings.TrimSpace(params.CarrierUserID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "carrier user id is required")
	}

	country := params.Country
	if country == "" {
		country = c.defaultCountry
	}
	areaCode := params.PreferredAreaCode
	if areaCode == "" {
		areaCode = c.preferredAreaCode
	}

	body := map[string]any{
		"lineType":          lineTypeMobile,
		"countryCode":       country,
		"simType":           simTypeEmbedded,
		"userId":            params.CarrierUserID,
		"preferredAreaCode": areaCode,
	}
	if c.brandID != "" {
		body["brandId"] = c.brandID
	}

	resp, raw, err := c.do(ctx, http.MethodPost, "lines", body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, statusError(resp.StatusCode, raw, "activate line request failed")
	}

	var apiResp lineEnvelope
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode activate line response")
	}

	line := apiResp.toLine()
	if line.LineID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "activate line response missing line id")
	}

	return &ActivateLineResult{Line: line, RawResponse: raw}, nil
}

// GetLines lists the carrier's provisioned lines for a user. Used by the
// reconciliation job to re-derive local state.
func (c *Client) GetLines(ctx context.Context, carrierUserID string) ([]Line, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "carrier client not configured")
	}
	trimmed := strings.TrimSpace(carrierUserID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "carrier user id is required")
	}

	path := "lines?userId=" + url.QueryEscape(trimmed)
	resp, raw, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, raw, "get lines request failed")
	}

	var apiResp struct {
		Lines []lineEnvelope `json:"lines"`
	}
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode get lines response")
	}

	lines := make([]Line, 0, len(apiResp.Lines))
	for _, env := range apiResp.Lines {
		lines = append(lines, env.toLine())
	}
	return lines, nil
}

// lineEnvelope mirrors the carrier's line payload. Phone numbers arrive as
// a list; the first entry is the primary number.
type lineEnvelope struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ICCID        string `json:"iccid"`
	PhoneNumbers []struct {
		PhoneNumber string `json:"phoneNumber"`
	} `json:"phoneNumbers"`
	SIM struct {
		ActivationURL  string `json:"activationUrl"`
		ActivationCode string `json:"activationCode"`
	} `json:"sim"`
}

func (e lineEnvelope) toLine() Line {
	line := Line{
		LineID: e.ID,
		Status: e.Status,
		ICCID:  e.ICCID,
		SIM: SIM{
			ActivationURL:  e.SIM.ActivationURL,
			ActivationCode: e.SIM.ActivationCode,
		},
	}
	if len(e.PhoneNumbers) > 0 {
		line.PhoneNumber = e.PhoneNumbers[0].PhoneNumber
	}
	return line
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal carrier request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build carrier request")
	}

	req.SetBasicAuth(c.apiKey, c.authToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute carrier request")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read carrier response")
	}

	return resp, raw, nil
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}

// isAlreadyExistsBody catches carriers that report duplicate users with a
// 4xx other than 409 but a recognizable error body.
func isAlreadyExistsBody(raw []byte) bool {
	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &apiErr); err != nil {
		return false
	}
	code := strings.ToUpper(apiErr.Code)
	if code == "USER_ALREADY_EXISTS" || code == "ALREADY_EXISTS" {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "already exists")
}

func statusError(status int, raw []byte, msg string) error {
	detail := strings.TrimSpace(string(raw))
	if len(detail) > int(errorBodyReadLimit) {
		detail = detail[:errorBodyReadLimit]
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", status, detail), msg)
}
