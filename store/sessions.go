// Package store provides ductor's persistence: the JSON session store and
// the sqlite run-history log. All JSON writes go through atomic
// temp-file-then-rename.
package store

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hrygo/ductor/config"
	"github.com/hrygo/ductor/internal/errs"
)

// ProviderSession is provider-local session state.
type ProviderSession struct {
	SessionID    string  `json:"session_id"`
	MessageCount int     `json:"message_count"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	TotalTokens  int     `json:"total_tokens"`
}

// Session is the per-chat session envelope with provider-isolated records.
type Session struct {
	ChatID           int64                       `json:"chat_id"`
	Provider         string                      `json:"provider"`
	Model            string                      `json:"model"`
	CreatedAt        time.Time                   `json:"created_at"`
	LastActive       time.Time                   `json:"last_active"`
	ProviderSessions map[string]*ProviderSession `json:"provider_sessions"`
}

func newSession(chatID int64, provider, model string) *Session {
	now := time.Now().UTC()
	return &Session{
		ChatID:           chatID,
		Provider:         provider,
		Model:            model,
		CreatedAt:        now,
		LastActive:       now,
		ProviderSessions: map[string]*ProviderSession{},
	}
}

// active returns the record for the active provider, creating it on demand.
func (s *Session) active() *ProviderSession {
	if s.ProviderSessions == nil {
		s.ProviderSessions = map[string]*ProviderSession{}
	}
	current, ok := s.ProviderSessions[s.Provider]
	if !ok {
		current = &ProviderSession{}
		s.ProviderSessions[s.Provider] = current
	}
	return current
}

// SessionID returns the session id for the active provider, "" when absent.
func (s *Session) SessionID() string {
	if ps, ok := s.ProviderSessions[s.Provider]; ok {
		return ps.SessionID
	}
	return ""
}

// SetSessionID sets the session id of the active provider.
func (s *Session) SetSessionID(id string) { s.active().SessionID = id }

// MessageCount returns the message count for the active provider.
func (s *Session) MessageCount() int {
	if ps, ok := s.ProviderSessions[s.Provider]; ok {
		return ps.MessageCount
	}
	return 0
}

// TotalCostUSD returns the accumulated cost for the active provider.
func (s *Session) TotalCostUSD() float64 {
	if ps, ok := s.ProviderSessions[s.Provider]; ok {
		return ps.TotalCostUSD
	}
	return 0
}

// TotalTokens returns the accumulated tokens for the active provider.
func (s *Session) TotalTokens() int {
	if ps, ok := s.ProviderSessions[s.Provider]; ok {
		return ps.TotalTokens
	}
	return 0
}

// ClearProvider drops one provider-local record, keeping all others.
func (s *Session) ClearProvider(provider string) {
	delete(s.ProviderSessions, provider)
}

func (s *Session) clone() *Session {
	out := *s
	out.ProviderSessions = make(map[string]*ProviderSession, len(s.ProviderSessions))
	for provider, data := range s.ProviderSessions {
		copied := *data
		out.ProviderSessions[provider] = &copied
	}
	return &out
}

// SessionStore manages session lifecycle with JSON file persistence.
// Single-writer: only the orchestrator mutates sessions.
type SessionStore struct {
	mu   sync.Mutex
	path string
	cfg  *config.Config
}

// NewSessionStore creates a session store backed by the given JSON file.
func NewSessionStore(path string, cfg *config.Config) *SessionStore {
	return &SessionStore{path: path, cfg: cfg}
}

// Resolve returns the session for a chat, reusing it when fresh and creating
// a new envelope when stale or absent. The second return is true when the
// active provider has no session id yet (a "new" CLI call).
func (st *SessionStore) Resolve(chatID int64, provider, model string) (*Session, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if provider == "" {
		provider = st.cfg.Provider
	}
	if model == "" {
		model = st.cfg.Model
	}

	sessions := st.load()
	existing, ok := sessions[key(chatID)]
	if ok && st.isFresh(existing) {
		changed := false
		if existing.Provider != provider {
			slog.Info("Provider switch", "from", existing.Provider, "to", provider)
			existing.Provider = provider
			changed = true
		}
		if existing.Model != model {
			existing.Model = model
			changed = true
		}
		if changed {
			if err := st.save(sessions); err != nil {
				return nil, false, err
			}
		}
		return existing.clone(), existing.SessionID() == "", nil
	}

	created := newSession(chatID, provider, model)
	sessions[key(chatID)] = created
	if err := st.save(sessions); err != nil {
		return nil, false, err
	}
	slog.Info("Session created", "provider", provider, "model", model)
	return created.clone(), true, nil
}

// GetActive returns the current session for a chat without creating one.
func (st *SessionStore) GetActive(chatID int64) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sessions := st.load()
	existing, ok := sessions[key(chatID)]
	if !ok {
		return nil, nil
	}
	return existing.clone(), nil
}

// Reset force-creates a new envelope. The session id stays empty until the
// CLI fills it on the first call.
func (st *SessionStore) Reset(chatID int64, provider, model string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if provider == "" {
		provider = st.cfg.Provider
	}
	if model == "" {
		model = st.cfg.Model
	}
	sessions := st.load()
	created := newSession(chatID, provider, model)
	sessions[key(chatID)] = created
	if err := st.save(sessions); err != nil {
		return nil, err
	}
	slog.Info("Session reset", "chat", chatID)
	return created.clone(), nil
}

// ResetProvider clears one provider-local record and keeps all others intact.
func (st *SessionStore) ResetProvider(chatID int64, provider, model string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sessions := st.load()
	current, ok := sessions[key(chatID)]
	if !ok {
		current = newSession(chatID, provider, model)
	} else {
		current.ClearProvider(provider)
		current.Provider = provider
		current.Model = model
		current.LastActive = time.Now().UTC()
	}
	sessions[key(chatID)] = current
	if err := st.save(sessions); err != nil {
		return nil, err
	}
	slog.Info("Provider session reset", "provider", provider, "model", model)
	return current.clone(), nil
}

// Update merges session state back into the store, increments the active
// provider's message count and accumulates cost and tokens. Counters never
// regress: merges take the per-metric max against the persisted record.
func (st *SessionStore) Update(session *Session, costUSD float64, tokens int) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	sessions := st.load()
	current, ok := sessions[key(session.ChatID)]
	if !ok {
		current = session.clone()
	} else {
		mergeProviderSessions(current, session)
		current.Provider = session.Provider
		current.Model = session.Model
	}

	current.LastActive = time.Now().UTC()
	active := current.active()
	active.MessageCount++
	active.TotalCostUSD += costUSD
	active.TotalTokens += tokens
	sessions[key(session.ChatID)] = current
	if err := st.save(sessions); err != nil {
		return err
	}

	// Keep the caller's snapshot aligned with the persisted aggregate.
	session.Provider = current.Provider
	session.Model = current.Model
	session.LastActive = current.LastActive
	session.ProviderSessions = current.clone().ProviderSessions
	return nil
}

// SyncTarget persists provider/model changes without touching counters.
func (st *SessionStore) SyncTarget(chatID int64, provider, model string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	sessions := st.load()
	current, ok := sessions[key(chatID)]
	if !ok {
		return nil
	}
	changed := false
	if provider != "" && current.Provider != provider {
		current.Provider = provider
		changed = true
	}
	if model != "" && current.Model != model {
		current.Model = model
		changed = true
	}
	if !changed {
		return nil
	}
	return st.save(sessions)
}

// mergeProviderSessions merges incoming provider records while preventing
// stale snapshots from regressing counters. The session id is only
// overwritten by a non-empty value.
func mergeProviderSessions(current, incoming *Session) {
	for provider, data := range incoming.ProviderSessions {
		existing, ok := current.ProviderSessions[provider]
		if !ok {
			copied := *data
			current.ProviderSessions[provider] = &copied
			continue
		}
		if data.SessionID != "" {
			existing.SessionID = data.SessionID
		}
		existing.MessageCount = max(existing.MessageCount, data.MessageCount)
		if data.TotalCostUSD > existing.TotalCostUSD {
			existing.TotalCostUSD = data.TotalCostUSD
		}
		existing.TotalTokens = max(existing.TotalTokens, data.TotalTokens)
	}
}

func (st *SessionStore) isFresh(session *Session) bool {
	now := time.Now().UTC()

	if st.cfg.MaxSessionMessages > 0 && session.MessageCount() >= st.cfg.MaxSessionMessages {
		return false
	}

	if st.cfg.IdleTimeoutMinutes > 0 {
		idle := now.Sub(session.LastActive)
		if idle >= time.Duration(st.cfg.IdleTimeoutMinutes)*time.Minute {
			return false
		}
	}

	if st.cfg.DailyResetEnabled {
		tz := config.ResolveTimezone(st.cfg.UserTimezone)
		nowLocal := now.In(tz)
		lastLocal := session.LastActive.In(tz)
		todayReset := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(),
			st.cfg.DailyResetHour, 0, 0, 0, tz)
		var crossed bool
		if !nowLocal.Before(todayReset) {
			crossed = lastLocal.Before(todayReset)
		} else {
			crossed = lastLocal.Before(todayReset.AddDate(0, 0, -1))
		}
		if crossed {
			return false
		}
	}

	return true
}

func key(chatID int64) string {
	return jsonKey(chatID)
}

func jsonKey(chatID int64) string {
	raw, _ := json.Marshal(chatID)
	return string(raw)
}

func (st *SessionStore) load() map[string]*Session {
	raw, err := os.ReadFile(st.path)
	if err != nil {
		return map[string]*Session{}
	}
	var sessions map[string]*Session
	if err := json.Unmarshal(raw, &sessions); err != nil {
		slog.Warn("Corrupt sessions file, starting fresh", "path", st.path, "error", err)
		return map[string]*Session{}
	}
	for _, s := range sessions {
		if s.ProviderSessions == nil {
			s.ProviderSessions = map[string]*ProviderSession{}
		}
	}
	return sessions
}

func (st *SessionStore) save(sessions map[string]*Session) error {
	if err := config.WriteJSONAtomic(st.path, sessions); err != nil {
		return errs.Wrap(err, errs.KindSession, "failed to persist sessions")
	}
	return nil
}
