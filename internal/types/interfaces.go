// internal/types/interfaces.go
package types

import (
	"context"
)

// CredentialStore is the external credential collaborator. CurrentSession
// and RefreshSession return (nil, nil) semantics only through CurrentSession:
// a nil session with a nil error means signed out.
type CredentialStore interface {
	CurrentSession(ctx context.Context) (*Session, error)
	RefreshSession(ctx context.Context) (*Session, error)
	SignOut(ctx context.Context) error
	// OnAuthChange registers a handler for auth-change events and returns
	// an unsubscribe func. Handlers must not assume they run synchronously
	// with the action that triggered the event.
	OnAuthChange(handler func(AuthEvent)) (unsubscribe func())
}

type ThreadAPI interface {
	GetThread(ctx context.Context, id ThreadID) (*Thread, error)
	ListThreads(ctx context.Context) ([]*Thread, error)
}

type ConversationAPI interface {
	GetMessages(ctx context.Context, id ThreadID) ([]RawMessage, error)
	Initiate(ctx context.Context, req *InitiateRequest) (*InitiateAck, error)
}
