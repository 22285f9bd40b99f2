// Package session issues short-lived credentials for the upstream realtime
// speech service. The broker holds the long-lived API key server-side and
// mints an ephemeral client secret per session, so the key itself never
// reaches a capture client.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	caperr "github.com/lingostream/capture/internal/errors"
	"github.com/lingostream/capture/internal/resilience"
)

const (
	// DefaultModel is the realtime model used when a request names none.
	DefaultModel = "gpt-4o-realtime-preview"

	// ActionCreate is the only action the broker accepts.
	ActionCreate = "createSession"

	mintTimeout = 10 * time.Second
)

// Credential is one minted session secret. Token is the ephemeral client
// secret, never the broker's own API key.
type Credential struct {
	ID       string
	Token    string
	IssuedAt time.Time
	Model    string
}

// Grant pairs a credential with the realtime endpoint it is valid for.
type Grant struct {
	Credential Credential
	Endpoint   string
}

// Broker mints session credentials against the upstream service. Mint calls
// run behind a retry policy and a circuit breaker so a flapping upstream
// neither stalls clients nor gets hammered.
type Broker struct {
	apiKey      string
	model       string
	realtimeURL string
	mintURL     string
	hc          *http.Client
	breaker     *resilience.Breaker
	retryCfg    resilience.RetryConfig
}

// Opts configures a broker.
type Opts struct {
	APIKey      string
	Model       string // default model when a request names none
	RealtimeURL string // websocket endpoint granted to clients
	MintURL     string // upstream HTTPS endpoint that mints client secrets
	HTTPClient  *http.Client
}

// NewBroker creates a broker. An empty API key is allowed here; it surfaces
// as a ConfigurationError at request time so the service can start without
// credentials and report the problem per call.
func NewBroker(o Opts) *Broker {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: mintTimeout}
	}
	return &Broker{
		apiKey:      o.APIKey,
		model:       o.Model,
		realtimeURL: o.RealtimeURL,
		mintURL:     o.MintURL,
		hc:          o.HTTPClient,
		breaker:     resilience.NewBreaker(resilience.DefaultConfig()),
		retryCfg:    resilience.MintRetryConfig(),
	}
}

type mintRequest struct {
	Model string `json:"model"`
}

type mintResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

// RequestSession validates the action, mints a credential, and returns the
// grant. model overrides the broker default when non-empty.
func (b *Broker) RequestSession(ctx context.Context, action, model string) (*Grant, error) {
	if action != ActionCreate {
		return nil, caperr.Newf(caperr.KindInvalidRequest, "unknown action %q", action)
	}
	if b.apiKey == "" {
		return nil, caperr.New(caperr.KindConfigurationError)
	}
	if model == "" {
		model = b.model
	}

	token, err := b.mint(ctx, model)
	if err != nil {
		return nil, err
	}

	cred := Credential{
		ID:       uuid.NewString(),
		Token:    token,
		IssuedAt: time.Now(),
		Model:    model,
	}
	slog.Info("session credential issued", "id", cred.ID, "model", model)
	return &Grant{Credential: cred, Endpoint: b.endpoint(model)}, nil
}

// mint exchanges the API key for an ephemeral client secret. The secret and
// the key never appear in logs.
func (b *Broker) mint(ctx context.Context, model string) (string, error) {
	var token string
	err := b.breaker.Execute(func() error {
		return resilience.Retry(ctx, b.retryCfg, func() error {
			t, err := b.mintOnce(ctx, model)
			if err != nil {
				return err
			}
			token = t
			return nil
		})
	})
	return token, err
}

func (b *Broker) mintOnce(ctx context.Context, model string) (string, error) {
	body, err := json.Marshal(mintRequest{Model: model})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.mintURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "realtime=v1")

	resp, err := b.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &resilience.StatusError{Status: resp.StatusCode, Body: string(raw)}
	}

	var mr mintResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return "", err
	}
	if mr.ClientSecret.Value == "" {
		return "", &resilience.StatusError{Status: resp.StatusCode, Body: "missing client secret"}
	}
	return mr.ClientSecret.Value, nil
}

func (b *Broker) endpoint(model string) string {
	return b.realtimeURL + "?model=" + url.QueryEscape(model)
}
