// internal/thread/resolver.go
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/user/threadline/internal/types"
)

// ErrEmptyThreadID is returned when a resolution is requested with no
// thread identifier.
var ErrEmptyThreadID = errors.New("empty thread id")

// Target is the canonical view a thread identifier maps to.
type Target int

const (
	// TargetConversation is the standalone conversation view.
	TargetConversation Target = iota
	// TargetProject is the project-scoped thread view.
	TargetProject
)

func (t Target) String() string {
	if t == TargetProject {
		return "project"
	}
	return "conversation"
}

// Resolution is the settled decision for one view instance. It is computed
// from fully fetched metadata and never from a partial load; a new view
// instance resolves independently.
type Resolution struct {
	ThreadID  types.ThreadID
	ProjectID types.ProjectID
	Target    Target
}

// Redirect reports whether the consumer must replace its navigation target
// with the project-scoped view rather than proceed in place.
func (r *Resolution) Redirect() bool {
	return r.Target == TargetProject
}

// Resolver decides which canonical view a thread identifier maps to.
type Resolver struct {
	api types.ThreadAPI
	log *slog.Logger
}

// NewResolver creates a Resolver over the given thread lookup.
func NewResolver(api types.ThreadAPI, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{api: api, log: log}
}

// Resolve fetches the thread's metadata once and decides the target. A
// lookup failure is terminal for the calling view instance: the error is
// returned and the consumer falls back to a safe view; it is not retried
// here.
func (r *Resolver) Resolve(ctx context.Context, id types.ThreadID) (*Resolution, error) {
	if id == "" {
		return nil, ErrEmptyThreadID
	}

	th, err := r.api.GetThread(ctx, id)
	if err != nil {
		r.log.Warn("thread lookup failed", "thread_id", id, "error", err)
		return nil, fmt.Errorf("resolve thread %s: %w", id, err)
	}

	if th.ProjectID != "" {
		r.log.Debug("thread belongs to project", "thread_id", id, "project_id", th.ProjectID)
		return &Resolution{ThreadID: id, ProjectID: th.ProjectID, Target: TargetProject}, nil
	}
	return &Resolution{ThreadID: id, Target: TargetConversation}, nil
}
