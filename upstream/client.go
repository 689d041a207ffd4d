package upstream

import (
	"context"
	"encoding/json"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"tilegate/config"
	"tilegate/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrNotFound is a pass-through upstream 404, e.g. an out-of-range tile.
var ErrNotFound = errors.New("upstream resource not found")

// ErrRejected means upstream refused the translated query, usually a
// malformed client where clause. Details stay in the server log.
var ErrRejected = errors.New("query rejected by upstream")

// Client performs authenticated calls against the private mapping
// service. Every call is bounded by the request context plus the
// configured timeout; token-rejected replies trigger one credential
// refresh and one retry before a failure is surfaced.
type Client struct {
	session *Session
	logger  zerolog.Logger
	http    *http.Client
}

func NewClient(logger zerolog.Logger, cfg config.UpstreamCfg, session *Session) *Client {
	return &Client{
		session: session,
		logger:  logger,
		http: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout()) * time.Second,
		},
	}
}

// QueryFeatures runs a translated feature query and decodes the feature
// set. The caller passes fully translated params, the client only adds
// the credential.
func (c *Client) QueryFeatures(ctx context.Context, endpoint string, params url.Values) (*models.FeatureSet, error) {
	set, err := c.queryOnce(ctx, endpoint, params, false)
	if err == errTokenRejected {
		set, err = c.queryOnce(ctx, endpoint, params, true)
		if err == errTokenRejected {
			err = ErrUnavailable
		}
	}
	return set, err
}

var errTokenRejected = errors.New("upstream token rejected")

func (c *Client) queryOnce(ctx context.Context, endpoint string, params url.Values, retry bool) (*models.FeatureSet, error) {
	token, err := c.session.Token(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	for key, vals := range params {
		query[key] = vals
	}
	query.Set("f", "json")
	query.Set("token", token)

	req, err := http.NewRequest(http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build feature query")
	}

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		c.logger.Error().Err(err).Msg("feature query failed")
		return nil, ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error().Int("status", resp.StatusCode).Msg("feature query returned non-200")
		return nil, ErrUnavailable
	}

	set := new(models.FeatureSet)
	if err = json.NewDecoder(resp.Body).Decode(set); err != nil {
		c.logger.Error().Err(err).Msg("malformed feature query response")
		return nil, ErrUnavailable
	}

	if set.Error != nil {
		if set.Error.TokenRejected() {
			if !retry {
				c.session.Invalidate(token)
				return nil, errTokenRejected
			}
			c.logger.Error().Int("code", set.Error.Code).Msg("feature query rejected after refresh")
			return nil, ErrUnavailable
		}

		c.logger.Warn().
			Int("code", set.Error.Code).
			Str("message", set.Error.Message).
			Msg("upstream rejected feature query")

		if set.Error.Code >= 500 {
			return nil, ErrUnavailable
		}
		return nil, ErrRejected
	}

	return set, nil
}

// Resource is a streamed upstream payload: a tile, sprite sheet, glyph
// range or style document. Callers own Body and must close it.
type Resource struct {
	Body        io.ReadCloser
	ContentType string
}

// Fetch streams an upstream resource. A 404 surfaces as ErrNotFound so
// handlers can pass it through; a token-rejected status triggers one
// refresh-and-retry. Cancelling ctx aborts the transfer.
func (c *Client) Fetch(ctx context.Context, rawurl string, params url.Values) (*Resource, error) {
	res, err := c.fetchOnce(ctx, rawurl, params, false)
	if err == errTokenRejected {
		res, err = c.fetchOnce(ctx, rawurl, params, true)
		if err == errTokenRejected {
			err = ErrUnavailable
		}
	}
	return res, err
}

func (c *Client) fetchOnce(ctx context.Context, rawurl string, params url.Values, retry bool) (*Resource, error) {
	token, err := c.session.Token(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	for key, vals := range params {
		query[key] = vals
	}
	query.Set("token", token)

	req, err := http.NewRequest(http.MethodGet, rawurl+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build resource request")
	}

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		c.logger.Error().Err(err).Msg("resource fetch failed")
		return nil, ErrUnavailable
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &Resource{
			Body:        resp.Body,
			ContentType: resp.Header.Get("Content-Type"),
		}, nil

	case http.StatusNotFound:
		drain(resp.Body)
		return nil, ErrNotFound

	case 498, 499, http.StatusUnauthorized, http.StatusForbidden:
		drain(resp.Body)
		if !retry {
			c.session.Invalidate(token)
			return nil, errTokenRejected
		}
		c.logger.Error().Int("status", resp.StatusCode).Msg("resource fetch rejected after refresh")
		return nil, ErrUnavailable

	default:
		drain(resp.Body)
		c.logger.Error().Int("status", resp.StatusCode).Msg("resource fetch returned non-200")
		return nil, ErrUnavailable
	}
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(ioutil.Discard, body)
	_ = body.Close()
}
