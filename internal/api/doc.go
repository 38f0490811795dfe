// Package api is the HTTP request layer for the backend's auth, thread,
// and conversation endpoints.
package api

import "github.com/user/threadline/internal/types"

// Compile-time interface compliance checks.
var _ types.CredentialStore = (*AuthClient)(nil)
var _ types.ThreadAPI = (*Client)(nil)
var _ types.ConversationAPI = (*Client)(nil)
