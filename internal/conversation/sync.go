// internal/conversation/sync.go
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/user/threadline/internal/state"
	"github.com/user/threadline/internal/types"
)

var (
	// ErrSendInFlight rejects a submit while a previous dispatch is still
	// settling.
	ErrSendInFlight = errors.New("send already in flight")
	// ErrEmptyPrompt rejects a submit with nothing to send.
	ErrEmptyPrompt = errors.New("empty prompt")
)

// Synchronizer maintains the authoritative, normalized message list for one
// resolved standalone thread. The list is owned exclusively by this
// instance; a refresh is a full replace, never an incremental patch.
type Synchronizer struct {
	api      types.ConversationAPI
	threadID types.ThreadID
	model    string
	agentID  string
	instance string
	cache    *state.MessageCache
	budget   *Budget
	onUpdate func([]types.Message)
	log      *slog.Logger

	mu       sync.Mutex
	messages []types.Message
	fetched  bool
	sending  bool
	// fetchSeq tags each fetch at initiation. A completed fetch is applied
	// only while its tag is still the newest initiated, so the list is
	// last-fetch-wins by start order, not by completion order.
	fetchSeq uint64
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithModel sets the target model name sent with each dispatch.
func WithModel(model string) SyncOption {
	return func(s *Synchronizer) { s.model = model }
}

// WithAgent sets the agent selection sent with each dispatch.
func WithAgent(agentID string) SyncOption {
	return func(s *Synchronizer) { s.agentID = agentID }
}

// WithInstance sets the instance tag sent with each dispatch.
func WithInstance(instance string) SyncOption {
	return func(s *Synchronizer) { s.instance = instance }
}

// WithCache persists each applied list as the thread's last-known-good
// copy, and serves it when the first fetch fails.
func WithCache(cache *state.MessageCache) SyncOption {
	return func(s *Synchronizer) { s.cache = cache }
}

// WithBudget guards submits with a prompt token budget.
func WithBudget(budget *Budget) SyncOption {
	return func(s *Synchronizer) { s.budget = budget }
}

// WithOnUpdate registers a callback fired after every applied list change
// with a copy of the new list, newest entry last. Consumers use it to move
// their focal point to the newest entry.
func WithOnUpdate(fn func([]types.Message)) SyncOption {
	return func(s *Synchronizer) { s.onUpdate = fn }
}

// WithSyncLogger sets the synchronizer's logger.
func WithSyncLogger(log *slog.Logger) SyncOption {
	return func(s *Synchronizer) { s.log = log }
}

// NewSynchronizer creates a Synchronizer bound to one thread view.
func NewSynchronizer(api types.ConversationAPI, threadID types.ThreadID, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		api:      api,
		threadID: threadID,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh fetches the full message list, normalizes it, and replaces the
// local list. If a newer fetch was initiated while this one was in flight,
// this result is dropped. On failure the list is left in its last-known-good
// state; if no fetch ever succeeded, the on-disk cache is served instead.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.fetchSeq++
	seq := s.fetchSeq
	s.mu.Unlock()

	raw, err := s.api.GetMessages(ctx, s.threadID)
	if err != nil {
		s.log.Warn("message fetch failed", "thread_id", s.threadID, "error", err)
		s.serveCacheFallback(seq)
		return fmt.Errorf("fetch messages: %w", err)
	}

	messages := Normalize(raw)

	s.mu.Lock()
	if seq != s.fetchSeq {
		s.mu.Unlock()
		s.log.Debug("superseded fetch result dropped", "thread_id", s.threadID)
		return nil
	}
	s.messages = messages
	s.fetched = true
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Put(s.threadID, messages); err != nil {
			s.log.Warn("message cache write failed", "thread_id", s.threadID, "error", err)
		}
	}
	s.notify(messages)
	return nil
}

// serveCacheFallback installs the cached list after a failed fetch, but
// only when no fetch has ever succeeded and no newer fetch is in flight.
func (s *Synchronizer) serveCacheFallback(seq uint64) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	if s.fetched || seq != s.fetchSeq {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	cached, err := s.cache.Get(s.threadID)
	if err != nil || cached == nil {
		return
	}

	s.mu.Lock()
	if s.fetched || seq != s.fetchSeq {
		s.mu.Unlock()
		return
	}
	s.messages = cached
	s.mu.Unlock()
	s.notify(cached)
}

// Submit dispatches the prompt to the conversation-initiation collaborator
// and, once the dispatch resolves, refetches the full list, which picks up
// both the user's own message and the generated reply. There is no local
// optimistic entry. A failed dispatch lowers the sending flag, leaves the
// list untouched, and returns the error so the caller can surface it with
// the typed content preserved for retry.
func (s *Synchronizer) Submit(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}
	if s.budget != nil {
		if err := s.budget.Check(prompt); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return ErrSendInFlight
	}
	s.sending = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
	}()

	req := &types.InitiateRequest{
		Prompt:    prompt,
		ModelName: s.model,
		AgentID:   s.agentID,
		ThreadID:  s.threadID,
		Instance:  s.instance,
		SendID:    types.NewSendID(),
	}
	ack, err := s.api.Initiate(ctx, req)
	if err != nil {
		return fmt.Errorf("dispatch prompt: %w", err)
	}
	s.log.Debug("prompt dispatched", "thread_id", s.threadID, "agent_run_id", ack.AgentRunID)

	return s.Refresh(ctx)
}

// Messages returns a copy of the current list, newest entry last.
func (s *Synchronizer) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Sending reports whether a dispatch is in flight.
func (s *Synchronizer) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

func (s *Synchronizer) notify(messages []types.Message) {
	if s.onUpdate == nil {
		return
	}
	out := make([]types.Message, len(messages))
	copy(out, messages)
	s.onUpdate(out)
}
