// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package channel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/beamline-hub/blh-core/pkg/constants"
	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/metrics"
	"github.com/cenkalti/backoff"
	"github.com/goccy/go-json"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"
)

var restHTTPClient *http.Client
var initRestClientOnce sync.Once

// GetClient returns the pooled HTTP client shared by every REST channel.
// Tests intercept it to stub the endpoint.
func GetClient() *http.Client {
	// Prevent init race
	initRestClientOnce.Do(func() {
		// Create a custom transport with HTTP/2 disabled
		transport := &http.Transport{
			ForceAttemptHTTP2: false,
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
			Proxy:             http.ProxyFromEnvironment,
		}

		restHTTPClient = &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		}
	})

	return restHTTPClient
}

// valueEnvelope is the wire format of the REST value endpoint. Reads return
// it, writes send it.
type valueEnvelope struct {
	Value any `json:"value"`
}

// executeEnvelope is the wire format of a command execution request.
type executeEnvelope struct {
	Args []any `json:"args"`
}

// RestAdapter serves the "rest" protocol: every binding address is a path on
// a JSON-over-HTTP control endpoint. Reads GET the path, writes PUT it and
// command executions POST it.
//
// Subscriptions poll. Each successful poll refreshes a last-good-value cache
// with a freshness TTL; when the endpoint stops answering and the cached
// reading ages out, subscribers get the last known value flagged stale.
type RestAdapter struct {
	baseURL      string
	pollInterval time.Duration
	stalenessTTL time.Duration
	freshness    *expiremap.ExpireMap[string, any]
	logger       *zap.SugaredLogger
}

// NewRestAdapter returns an adapter for the endpoint at baseURL.
func NewRestAdapter(baseURL string) *RestAdapter {
	return &RestAdapter{
		baseURL:      baseURL,
		pollInterval: constants.StatePollInterval,
		stalenessTTL: constants.ChannelStalenessTTL,
		freshness:    expiremap.NewEx[string, any](constants.ChannelStalenessTTL, constants.ChannelStalenessTTL),
		logger:       logger.For(logger.ComponentChannelService),
	}
}

// WithPollInterval sets the subscription poll cadence.
func (a *RestAdapter) WithPollInterval(d time.Duration) *RestAdapter {
	a.pollInterval = d

	return a
}

// WithStalenessTTL sets how long a cached reading stays fresh.
func (a *RestAdapter) WithStalenessTTL(ttl time.Duration) *RestAdapter {
	a.stalenessTTL = ttl
	a.freshness = expiremap.NewEx[string, any](ttl, ttl)

	return a
}

func (a *RestAdapter) Protocol() string {
	return ProtocolRest
}

func (a *RestAdapter) Channel(name, address string) (Channel, error) {
	return &restChannel{a: a, name: name, address: address}, nil
}

func (a *RestAdapter) Command(name, address string) (Command, error) {
	return &restCommand{a: a, name: name, address: address}, nil
}

// LastGood returns the cached reading for a binding address while it is
// still fresh.
func (a *RestAdapter) LastGood(address string) (any, bool) {
	v, ok := a.freshness.Load(address)
	if !ok {
		return nil, false
	}

	return *v, true
}

// request performs one HTTP exchange against the endpoint and decodes the
// JSON response into R. Client errors (4xx) are permanent: retrying an
// address the endpoint rejects cannot succeed.
func request[R any](ctx context.Context, client *http.Client, method, url string, body any) (*R, error) {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, backoff.Permanent(fmt.Errorf("endpoint rejected %s %s: %s", method, url, resp.Status))
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("endpoint error on %s %s: %s", method, url, resp.Status)
	}

	if resp.StatusCode == http.StatusNoContent {
		return new(R), nil
	}

	var decoded R
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		// Write acknowledgements may come back with an empty body.
		if errors.Is(err, io.EOF) {
			return &decoded, nil
		}

		return nil, fmt.Errorf("failed to decode response from %s: %w", url, err)
	}

	return &decoded, nil
}

// retryPolicy builds the pacing for one channel operation.
func retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = constants.RestChannelInitialBackoff
	b.MaxInterval = constants.RestChannelMaxBackoff

	return backoff.WithMaxRetries(backoff.WithContext(b, ctx), constants.RestChannelMaxRetries)
}

type restChannel struct {
	a       *RestAdapter
	name    string
	address string

	mu            sync.Mutex
	subscribers   []chan Update
	lastValue     any
	hasValue      bool
	staleSignaled bool
	cancelPoll    context.CancelFunc
	closed        bool
}

func (c *restChannel) Name() string {
	return c.name
}

func (c *restChannel) url() string {
	return c.a.baseURL + c.address
}

// fetchOnce performs a single read without retry pacing. The poll loop uses
// it directly: a failed poll is expected during endpoint hiccups and the
// staleness TTL decides when subscribers hear about it.
func (c *restChannel) fetchOnce(ctx context.Context) (any, error) {
	readCtx, cancel := context.WithTimeout(ctx, constants.ChannelReadTimeout)
	defer cancel()

	envelope, err := request[valueEnvelope](readCtx, GetClient(), http.MethodGet, c.url(), nil)
	if err != nil {
		return nil, err
	}

	c.a.freshness.Set(c.address, envelope.Value)

	return envelope.Value, nil
}

func (c *restChannel) GetValue(ctx context.Context) (value any, err error) {
	start := time.Now()
	defer func() { metrics.RecordChannelOp(ProtocolRest, "get", err, time.Since(start)) }()

	err = backoff.Retry(func() error {
		v, fetchErr := c.fetchOnce(ctx)
		if fetchErr != nil {
			return fetchErr
		}

		value = v

		return nil
	}, retryPolicy(ctx))
	if err != nil {
		return nil, &hwerr.CommunicationError{Err: err, Channel: c.name}
	}

	return value, nil
}

func (c *restChannel) SetValue(ctx context.Context, value any) (err error) {
	start := time.Now()
	defer func() { metrics.RecordChannelOp(ProtocolRest, "set", err, time.Since(start)) }()

	err = backoff.Retry(func() error {
		writeCtx, cancel := context.WithTimeout(ctx, constants.ChannelWriteTimeout)
		defer cancel()

		_, writeErr := request[valueEnvelope](writeCtx, GetClient(), http.MethodPut, c.url(), valueEnvelope{Value: value})

		return writeErr
	}, retryPolicy(ctx))
	if err != nil {
		return &hwerr.CommunicationError{Err: err, Channel: c.name}
	}

	return nil
}

// Subscribe starts the poll loop on first use and returns an update stream.
func (c *restChannel) Subscribe() <-chan Update {
	ch := make(chan Update, subscriberBuffer)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		close(ch)

		return ch
	}

	c.subscribers = append(c.subscribers, ch)

	if c.cancelPoll == nil {
		pollCtx, cancel := context.WithCancel(context.Background())
		c.cancelPoll = cancel

		go c.poll(pollCtx)
	}

	return ch
}

func (c *restChannel) poll(ctx context.Context) {
	ticker := time.NewTicker(c.a.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		value, err := c.fetchOnce(ctx)
		metrics.RecordChannelOp(ProtocolRest, "poll", err, time.Since(start))

		c.mu.Lock()

		if c.closed {
			c.mu.Unlock()

			return
		}

		switch {
		case err == nil:
			changed := !c.hasValue || !reflect.DeepEqual(c.lastValue, value)
			recovered := c.staleSignaled
			c.lastValue = value
			c.hasValue = true
			c.staleSignaled = false

			if changed || recovered {
				c.emit(Update{Value: value})
			}
		case ctx.Err() != nil:
			c.mu.Unlock()

			return
		default:
			if _, fresh := c.a.freshness.Load(c.address); fresh {
				// Transient failure inside the freshness window. The cached
				// reading still stands.
				break
			}

			if c.hasValue && !c.staleSignaled {
				c.staleSignaled = true
				c.a.logger.Warnf("channel %s went stale: %v", c.name, err)
				c.emit(Update{Value: c.lastValue, Stale: true})
			}
		}

		c.mu.Unlock()
	}
}

// emit delivers an update to every subscriber without blocking. Callers
// hold mu.
func (c *restChannel) emit(u Update) {
	for _, ch := range c.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}

func (c *restChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true

	if c.cancelPoll != nil {
		c.cancelPoll()
		c.cancelPoll = nil
	}

	for _, ch := range c.subscribers {
		close(ch)
	}

	c.subscribers = nil
}

type restCommand struct {
	a       *RestAdapter
	name    string
	address string
}

func (c *restCommand) Name() string {
	return c.name
}

// Execute runs the command with a single attempt. Command executions are not
// idempotent, so there is no retry pacing here.
func (c *restCommand) Execute(ctx context.Context, args ...any) (result any, err error) {
	start := time.Now()
	defer func() { metrics.RecordChannelOp(ProtocolRest, "execute", err, time.Since(start)) }()

	execCtx, cancel := context.WithTimeout(ctx, constants.ChannelWriteTimeout)
	defer cancel()

	if args == nil {
		args = []any{}
	}

	envelope, err := request[valueEnvelope](execCtx, GetClient(), http.MethodPost,
		c.a.baseURL+c.address, executeEnvelope{Args: args})
	if err != nil {
		return nil, &hwerr.CommunicationError{Err: err, Channel: c.name}
	}

	return envelope.Value, nil
}
