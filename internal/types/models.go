// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Session is the current proof of authentication: the access token, its
// refresh token, the expiry instant, and the identity it was issued to.
// A Session is replaced wholesale on every successful refresh.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user,omitempty"`
}

// RemainingFor returns the time left before the session expires, which is
// negative once the expiry instant has passed.
func (s *Session) RemainingFor(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

type AuthEventType string

const (
	AuthSignedIn       AuthEventType = "SIGNED_IN"
	AuthSignedOut      AuthEventType = "SIGNED_OUT"
	AuthTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
)

// AuthEvent is a discrete auth-change notification from the credential
// store. Session is nil for SIGNED_OUT.
type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}

// Thread is a conversation's persistent identity. A thread is owned by at
// most one project; an empty ProjectID is the standalone case.
type Thread struct {
	ThreadID  ThreadID  `json:"thread_id"`
	ProjectID ProjectID `json:"project_id,omitempty"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RawMessage is a message record as the backend returns it. Any field may
// be missing; normalization fills defaults rather than failing the batch.
type RawMessage struct {
	MessageID string          `json:"message_id,omitempty"`
	ThreadID  string          `json:"thread_id,omitempty"`
	Type      string          `json:"type,omitempty"`
	IsLLM     bool            `json:"is_llm_message,omitempty"`
	Content   string          `json:"content,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// Message is the normalized form held in a thread's message list, ordered
// by CreatedAt ascending. MessageID is empty only for records the server
// has not acknowledged.
type Message struct {
	MessageID MessageID       `json:"message_id,omitempty"`
	ThreadID  ThreadID        `json:"thread_id"`
	Type      string          `json:"type"`
	IsLLM     bool            `json:"is_llm_message"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// InitiateRequest continues an existing thread with a new user prompt.
type InitiateRequest struct {
	Prompt    string   `json:"prompt"`
	ModelName string   `json:"model_name,omitempty"`
	AgentID   string   `json:"agent_id,omitempty"`
	ThreadID  ThreadID `json:"thread_id"`
	Instance  string   `json:"instance,omitempty"`
	SendID    SendID   `json:"send_id,omitempty"`
}

// InitiateAck is the backend's acknowledgement of a dispatch. The user's
// message and the generated reply are picked up by the next full fetch.
type InitiateAck struct {
	AgentRunID string   `json:"agent_run_id"`
	ThreadID   ThreadID `json:"thread_id"`
}
