package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"tilegate/config"
	"tilegate/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// expirySkew is subtracted from the upstream expiry so a token is
// refreshed before it can go stale mid-request.
const expirySkew = 60 * time.Second

var ErrUnavailable = errors.New("upstream unavailable")

// Session owns the process-wide upstream credential. Reads of a valid
// cached token take only a read lock; at most one credential exchange is
// in flight at a time and concurrent requesters reuse its result.
type Session struct {
	cfg    config.UpstreamCfg
	logger zerolog.Logger
	client *http.Client

	// onExchange is an optional hook, used to count exchanges.
	onExchange func()

	mutex     sync.RWMutex
	token     string
	expiresAt time.Time
}

func NewSession(logger zerolog.Logger, cfg config.UpstreamCfg) *Session {
	return &Session{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout()) * time.Second,
		},
	}
}

func (s *Session) SetExchangeHook(fn func()) { s.onExchange = fn }

// Token returns the cached credential while it is still valid, otherwise
// performs the exchange. Callers that hit a token-rejected upstream reply
// must Invalidate and call Token again exactly once.
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mutex.RLock()
	token, valid := s.token, s.validLocked()
	s.mutex.RUnlock()

	if valid {
		return token, nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Another request may have finished the exchange while this one
	// waited on the lock.
	if s.validLocked() {
		return s.token, nil
	}

	if err := s.exchangeLocked(ctx); err != nil {
		return "", err
	}
	return s.token, nil
}

// Invalidate drops the cached credential iff it still equals tok, so a
// concurrent request that already refreshed is not penalized.
func (s *Session) Invalidate(tok string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.token == tok {
		s.token = ""
		s.expiresAt = time.Time{}
	}
}

func (s *Session) validLocked() bool {
	return s.token != "" && time.Now().Before(s.expiresAt.Add(-expirySkew))
}

func (s *Session) exchangeLocked(ctx context.Context) error {
	tokenURL := strings.TrimRight(s.cfg.Portal, "/") + "/sharing/rest/generateToken"

	form := url.Values{}
	form.Set("f", "json")
	form.Set("username", s.cfg.Username.Get())
	form.Set("password", s.cfg.Password.Get())
	form.Set("client", "referer")
	form.Set("referer", s.cfg.Referer)
	form.Set("expiration", strconv.Itoa(s.cfg.TokenExpiration()))

	req, err := http.NewRequest(http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "failed to build token request")
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if s.onExchange != nil {
		s.onExchange()
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Msg("credential exchange failed")
		return ErrUnavailable
	}
	defer resp.Body.Close()

	var reply models.TokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		s.logger.Error().Err(err).Msg("malformed credential exchange response")
		return ErrUnavailable
	}

	if reply.Error != nil {
		s.logger.Error().
			Int("code", reply.Error.Code).
			Str("message", reply.Error.Message).
			Msg("credential exchange rejected")
		return ErrUnavailable
	}

	if reply.Token == "" || reply.Expires == 0 {
		s.logger.Error().Msg("credential exchange response missing token or expiry")
		return ErrUnavailable
	}

	s.token = reply.Token
	s.expiresAt = time.Unix(0, reply.Expires*int64(time.Millisecond))

	s.logger.Debug().Time("expires_at", s.expiresAt).Msg("upstream credential refreshed")
	return nil
}
