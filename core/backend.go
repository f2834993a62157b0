package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// GraphQLError is the first entry of a GraphQL "errors" array.
type GraphQLError struct {
	Message string
	Path    []any
}

func (e *GraphQLError) Error() string {
	return e.Message
}

// ErrResponseTooLarge is returned by Forward when the backend's body exceeds
// the forwarding limit.
var ErrResponseTooLarge = errors.New("graphql response too large")

// GraphQLClient calls the admin GraphQL backend.
type GraphQLClient struct {
	client      *http.Client
	endpoint    string
	authScheme  string
	maxResponse int64
}

// NewGraphQLClient builds a client; authScheme prefixes the bearer token in
// the Authorization header ("JWT" for django-graphql-jwt, "Bearer" otherwise).
func NewGraphQLClient(endpoint, authScheme string, timeout time.Duration) *GraphQLClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if authScheme == "" {
		authScheme = "JWT"
	}
	return &GraphQLClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		endpoint:    endpoint,
		authScheme:  authScheme,
		maxResponse: maxForwardBody,
	}
}

const userFields = `
      id
      username
      email
      firstName
      lastName
      isActive
      profile {
        id
        role
        bio
        avatarUrl
      }`

const tokenAuthMutation = `mutation TokenAuth($username: String!, $password: String!) {
  tokenAuth(username: $username, password: $password) {
    token
    refreshToken
    user {` + userFields + `
    }
  }
}`

const currentUserQuery = `query GetCurrentUser {
  me {` + userFields + `
  }
}`

const updateProfileMutation = `mutation UpdateUserProfile($firstName: String, $lastName: String, $email: String, $bio: String, $phone: String, $dateOfBirth: Date) {
  updateUserProfile(firstName: $firstName, lastName: $lastName, email: $email, bio: $bio, phone: $phone, dateOfBirth: $dateOfBirth) {
    success
    errors
  }
}`

const requestPasswordResetMutation = `mutation RequestPasswordReset($email: String!) {
  requestPasswordReset(email: $email) {
    success
    message
    errors
  }
}`

const resetPasswordMutation = `mutation ResetPassword($uid: String!, $token: String!, $username: String!, $newPassword: String!) {
  resetPassword(uid: $uid, token: $token, username: $username, newPassword: $newPassword) {
    success
    message
    errors
  }
}`

type graphqlRequest struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Path    []any  `json:"path"`
	} `json:"errors"`
}

// Authenticate runs the tokenAuth mutation.
func (c *GraphQLClient) Authenticate(ctx context.Context, username, password string) (AuthPayload, error) {
	var out struct {
		TokenAuth *AuthPayload `json:"tokenAuth"`
	}
	vars := map[string]any{"username": username, "password": password}
	if err := c.do(ctx, "", "TokenAuth", tokenAuthMutation, vars, &out); err != nil {
		return AuthPayload{}, err
	}
	if out.TokenAuth == nil {
		return AuthPayload{}, &GraphQLError{Message: msgLoginFailed}
	}
	return *out.TokenAuth, nil
}

// FetchCurrentUser runs the me query with the caller's token.
func (c *GraphQLClient) FetchCurrentUser(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrNoToken
	}
	var out struct {
		Me *User `json:"me"`
	}
	if err := c.do(ctx, token, "GetCurrentUser", currentUserQuery, nil, &out); err != nil {
		return User{}, err
	}
	if out.Me == nil {
		return User{}, ErrNoToken
	}
	return *out.Me, nil
}

// UpdateUserProfile sends only the fields that are set.
func (c *GraphQLClient) UpdateUserProfile(ctx context.Context, token string, in ProfileUpdate) (ProfileResult, error) {
	vars := map[string]any{}
	set := func(name string, v *string) {
		if v != nil {
			vars[name] = *v
		}
	}
	set("firstName", in.FirstName)
	set("lastName", in.LastName)
	set("email", in.Email)
	set("bio", in.Bio)
	set("phone", in.Phone)
	set("dateOfBirth", in.DateOfBirth)

	var out struct {
		UpdateUserProfile *ProfileResult `json:"updateUserProfile"`
	}
	if err := c.do(ctx, token, "UpdateUserProfile", updateProfileMutation, vars, &out); err != nil {
		return ProfileResult{}, err
	}
	if out.UpdateUserProfile == nil {
		return ProfileResult{}, errors.New("empty updateUserProfile payload")
	}
	return *out.UpdateUserProfile, nil
}

// RequestPasswordReset asks the backend to mail a reset link.
func (c *GraphQLClient) RequestPasswordReset(ctx context.Context, email string) (PasswordResult, error) {
	var out struct {
		RequestPasswordReset *PasswordResult `json:"requestPasswordReset"`
	}
	if err := c.do(ctx, "", "RequestPasswordReset", requestPasswordResetMutation, map[string]any{"email": email}, &out); err != nil {
		return PasswordResult{}, err
	}
	if out.RequestPasswordReset == nil {
		return PasswordResult{}, errors.New("empty requestPasswordReset payload")
	}
	return *out.RequestPasswordReset, nil
}

// ResetPassword completes a reset with the uid/token pair from the mailed link.
func (c *GraphQLClient) ResetPassword(ctx context.Context, uid, token, username, newPassword string) (PasswordResult, error) {
	vars := map[string]any{"uid": uid, "token": token, "username": username, "newPassword": newPassword}
	var out struct {
		ResetPassword *PasswordResult `json:"resetPassword"`
	}
	if err := c.do(ctx, "", "ResetPassword", resetPasswordMutation, vars, &out); err != nil {
		return PasswordResult{}, err
	}
	if out.ResetPassword == nil {
		return PasswordResult{}, errors.New("empty resetPassword payload")
	}
	return *out.ResetPassword, nil
}

// Forward posts a GraphQL request on behalf of the signed-in user and
// returns the backend's status and body untouched. A body larger than the
// limit is an error, never a truncated document.
func (c *GraphQLClient) Forward(ctx context.Context, token string, body []byte) (int, []byte, error) {
	req, err := c.newRequest(ctx, token, body)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponse+1))
	if err != nil {
		return 0, nil, err
	}
	if int64(len(out)) > c.maxResponse {
		return 0, nil, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, c.maxResponse)
	}
	return resp.StatusCode, out, nil
}

const maxForwardBody = 16 * 1024 * 1024

func (c *GraphQLClient) newRequest(ctx context.Context, token string, body []byte) (*http.Request, error) {
	if c.endpoint == "" {
		return nil, errors.New("graphql url not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", c.authScheme+" "+token)
	}
	return req, nil
}

func (c *GraphQLClient) do(ctx context.Context, token, opName, query string, vars map[string]any, out any) error {
	b, err := json.Marshal(graphqlRequest{OperationName: opName, Query: query, Variables: vars})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, token, b)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("graphql %s: %w", opName, err)
	}
	defer resp.Body.Close()
	log.Printf("graphql op=%s status=%d elapsed=%s", opName, resp.StatusCode, time.Since(start).Round(time.Millisecond))

	var body graphqlResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)
	if decodeErr == nil && len(body.Errors) > 0 {
		return &GraphQLError{Message: body.Errors[0].Message, Path: body.Errors[0].Path}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("graphql %s returned status %d", opName, resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("graphql %s: decode response: %w", opName, decodeErr)
	}
	if len(body.Data) == 0 || strings.TrimSpace(string(body.Data)) == "null" {
		return fmt.Errorf("graphql %s: empty data", opName)
	}
	if err := json.Unmarshal(body.Data, out); err != nil {
		return fmt.Errorf("graphql %s: decode data: %w", opName, err)
	}
	return nil
}
