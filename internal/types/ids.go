// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type ThreadID string
type ProjectID string
type MessageID string
type SendID string

// NewSendID returns a client-generated identifier attached to a dispatch so
// the backend can deduplicate a resubmitted send.
func NewSendID() SendID {
	return SendID(uuid.New().String())
}
