package state

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
)

const (
	defaultKeyPrefix     = "conv:"
	defaultKeySuffix     = ":dialogue"
	defaultStoreTTL      = 2 * time.Hour
	defaultTerminalTTL   = 15 * time.Minute
	maxResponseSizeBytes = 2 << 20
)

// saveScript writes the snapshot unless the stored one is terminal in another state.
// KEYS[1] key, ARGV[1] payload, ARGV[2] commit_state, ARGV[3] ttl seconds (0 = none).
const saveScript = `
local cur = redis.call('GET', KEYS[1])
if cur then
  local ok, doc = pcall(cjson.decode, cur)
  if ok and (doc.commit_state == 'COMMITTED' or doc.commit_state == 'ABANDONED') and doc.commit_state ~= ARGV[2] then
    return 0
  end
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
end
return 1`

// StoreOption customizes UpstashRedisStore.
type StoreOption func(*UpstashRedisStore)

func WithKeyPrefix(prefix string) StoreOption {
	return func(s *UpstashRedisStore) {
		trimmed := strings.TrimSpace(prefix)
		if trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

// WithTTL sets the expiry of snapshots for live conversations.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.ttl = ttl
	}
}

// WithTerminalTTL sets the expiry of COMMITTED and ABANDONED snapshots, which only
// need to outlive the replay window.
func WithTerminalTTL(ttl time.Duration) StoreOption {
	return func(s *UpstashRedisStore) {
		s.terminalTTL = ttl
	}
}

func WithHTTPClient(client *http.Client) StoreOption {
	return func(s *UpstashRedisStore) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// UpstashRedisStore persists DialogueState in Upstash Redis via REST.
type UpstashRedisStore struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	keyPrefix   string
	ttl         time.Duration
	terminalTTL time.Duration
}

var _ Store = (*UpstashRedisStore)(nil)

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type UpstashRedisConfig struct {
	URL         string        `envconfig:"URL" split_words:"true"`
	Token       string        `envconfig:"TOKEN" split_words:"true"`
	Timeout     time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"3s"`
	TTL         time.Duration `envconfig:"TTL" split_words:"true" default:"2h"`
	TerminalTTL time.Duration `envconfig:"TERMINAL_TTL" split_words:"true" default:"15m"`
}

// Enabled reports whether the snapshot store should use Upstash.
func (c UpstashRedisConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

func NewUpstashRedisStore(cfg UpstashRedisConfig, opts ...StoreOption) (*UpstashRedisStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("upstash redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid redis rest url: %w", err)
	}

	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("upstash redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	store := &UpstashRedisStore{
		baseURL:     baseURL,
		token:       token,
		httpClient:  &http.Client{Timeout: timeout},
		keyPrefix:   defaultKeyPrefix,
		ttl:         cfg.TTL,
		terminalTTL: cfg.TerminalTTL,
	}
	if store.ttl == 0 {
		store.ttl = defaultStoreTTL
	}
	if store.terminalTTL == 0 {
		store.terminalTTL = defaultTerminalTTL
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	if store.ttl < 0 || store.terminalTTL < 0 {
		return nil, errors.New("ttl must be >= 0")
	}
	return store, nil
}

func (s *UpstashRedisStore) Load(ctx context.Context, conversationID string) (*DialogueState, error) {
	key, err := s.redisKey(conversationID)
	if err != nil {
		return nil, err
	}

	resp, err := s.exec(ctx, []any{"GET", key})
	if err != nil {
		return nil, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return nil, ErrStateNotFound
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode dialogue payload: %w", err)
	}

	var st DialogueState
	if err := json.Unmarshal([]byte(encoded), &st); err != nil {
		return nil, fmt.Errorf("unmarshal dialogue state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dialogue state loaded from store: %w", err)
	}
	return &st, nil
}

// Save writes the snapshot atomically on the Redis side so two processes racing on
// one conversation cannot undo a terminal outcome.
func (s *UpstashRedisStore) Save(ctx context.Context, st *DialogueState) error {
	if st == nil {
		return ErrNilSessionState
	}
	if strings.TrimSpace(st.ConversationID) == "" {
		return ErrInvalidSession
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}

	key, err := s.redisKey(st.ConversationID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal dialogue state: %w", err)
	}

	ttl := s.ttl
	if st.IsTerminal() {
		ttl = s.terminalTTL
	}
	var expiry int64
	if ttl > 0 {
		expiry = ttlSeconds(ttl)
	}

	resp, err := s.exec(ctx, []any{"EVAL", saveScript, 1, key, string(payload), string(st.CommitState), expiry})
	if err != nil {
		return err
	}
	if bytes.Equal(bytes.TrimSpace(resp.Result), []byte("0")) {
		return fmt.Errorf("%w: conversation %s", ErrSnapshotSuperseded, st.ConversationID)
	}
	return nil
}

func (s *UpstashRedisStore) Delete(ctx context.Context, conversationID string) error {
	key, err := s.redisKey(conversationID)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, []any{"DEL", key})
	return err
}

func (s *UpstashRedisStore) redisKey(conversationID string) (string, error) {
	if strings.TrimSpace(conversationID) == "" {
		return "", ErrInvalidSession
	}
	prefix := strings.TrimSpace(s.keyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return prefix + conversationID + defaultKeySuffix, nil
}

func (s *UpstashRedisStore) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	if s == nil {
		return nil, errors.New("nil store")
	}
	if len(command) == 0 {
		return nil, errors.New("empty redis command")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("redis %v: %w", command[0], err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis %v: http status=%d body=%s", command[0], resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}

func ttlSeconds(ttl time.Duration) int64 {
	seconds := ttl / time.Second
	if seconds <= 0 {
		return 1
	}
	if ttl%time.Second != 0 {
		seconds++
	}
	return int64(seconds)
}
