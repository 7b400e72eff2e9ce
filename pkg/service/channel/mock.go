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
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/beamline-hub/blh-core/pkg/hwerr"
	"github.com/beamline-hub/blh-core/pkg/logger"
	"github.com/beamline-hub/blh-core/pkg/metrics"
	"go.uber.org/zap"
)

const subscriberBuffer = 16

// ErrSimulatedFailure is returned by simulator operations that fail because
// of the configured failure rate.
var ErrSimulatedFailure = errors.New("simulated channel failure")

// Simulator is the in-process control system behind the "mock" protocol. It
// backs simulation mode and the test suites: points can be seeded, scripted
// to return a fixed sequence of readings, ramped toward a target like a real
// axis, delayed, or forced to fail.
type Simulator struct {
	// FailureRate makes a random fraction of operations fail, 0.0 to 1.0.
	FailureRate float64
	// Latency is added to every operation before it executes.
	Latency time.Duration

	mu           sync.Mutex
	points       map[string]*simPoint
	commands     map[string]func(args ...any) (any, error)
	invocations  map[string][][]any
	rampSteps    int
	rampInterval time.Duration
	logger       *zap.SugaredLogger
}

type simPoint struct {
	value       any
	script      []any
	fail        error
	subscribers map[chan Update]struct{}
	cancelRamp  context.CancelFunc
}

// NewSimulator returns a simulator with no points, no latency and
// instantaneous writes.
func NewSimulator() *Simulator {
	return &Simulator{
		points:      make(map[string]*simPoint),
		commands:    make(map[string]func(args ...any) (any, error)),
		invocations: make(map[string][][]any),
		logger:      logger.For(logger.ComponentChannelService),
	}
}

// WithLatency adds a fixed delay to every operation.
func (s *Simulator) WithLatency(d time.Duration) *Simulator {
	s.Latency = d

	return s
}

// WithFailureRate makes a random fraction of operations fail.
func (s *Simulator) WithFailureRate(rate float64) *Simulator {
	s.FailureRate = rate

	return s
}

// WithRamp makes numeric writes travel to their target in steps increments
// spaced interval apart, emitting an update per increment, instead of jumping
// there. This is what makes a simulated motor look busy while it moves.
func (s *Simulator) WithRamp(steps int, interval time.Duration) *Simulator {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rampSteps = steps
	s.rampInterval = interval

	return s
}

// SetPoint seeds or replaces the value of a point without emitting updates.
func (s *Simulator) SetPoint(address string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.point(address).value = value
}

// ScriptPoint queues readings that successive GetValue calls return in order.
// Each reading also becomes the point value, so once the script is exhausted
// the point keeps reporting the last scripted reading.
func (s *Simulator) ScriptPoint(address string, values ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.point(address)
	p.script = append(p.script, values...)
}

// FailPoint forces every operation on a point to fail with err until cleared
// with a nil err.
func (s *Simulator) FailPoint(address string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.point(address).fail = err
}

// OnCommand installs the handler invoked when the command at address
// executes. Without a handler the execution is recorded and returns nil.
func (s *Simulator) OnCommand(address string, handler func(args ...any) (any, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commands[address] = handler
}

// Invocations returns the argument lists of every execution recorded for the
// command at address, in order.
func (s *Simulator) Invocations(address string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([][]any(nil), s.invocations[address]...)
}

// Point returns the current value of a point, if it exists.
func (s *Simulator) Point(address string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.points[address]
	if !ok {
		return nil, false
	}

	return p.value, true
}

func (s *Simulator) Protocol() string {
	return ProtocolMock
}

func (s *Simulator) Channel(name, address string) (Channel, error) {
	return &simChannel{sim: s, name: name, address: address}, nil
}

func (s *Simulator) Command(name, address string) (Command, error) {
	return &simCommand{sim: s, name: name, address: address}, nil
}

// point returns the point at address, creating it if needed. Callers hold mu.
func (s *Simulator) point(address string) *simPoint {
	p, ok := s.points[address]
	if !ok {
		p = &simPoint{subscribers: make(map[chan Update]struct{})}
		s.points[address] = p
	}

	return p
}

// simulate applies the configured latency and failure rate, honouring
// context cancellation during the delay.
func (s *Simulator) simulate(ctx context.Context, name, address string) error {
	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.FailureRate > 0 && rand.Float64() < s.FailureRate {
		return &hwerr.CommunicationError{
			Err:     ErrSimulatedFailure,
			Channel: name,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.points[address]; ok && p.fail != nil {
		return &hwerr.CommunicationError{Err: p.fail, Channel: name}
	}

	return nil
}

// emit delivers an update to every subscriber of p without blocking. Slow
// subscribers lose intermediate updates. Callers hold mu.
func (p *simPoint) emit(u Update) {
	for ch := range p.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
}

type simChannel struct {
	sim     *Simulator
	name    string
	address string

	mu   sync.Mutex
	subs []chan Update
}

func (c *simChannel) Name() string {
	return c.name
}

func (c *simChannel) GetValue(ctx context.Context) (value any, err error) {
	start := time.Now()
	defer func() { metrics.RecordChannelOp(ProtocolMock, "get", err, time.Since(start)) }()

	if err := c.sim.simulate(ctx, c.name, c.address); err != nil {
		return nil, err
	}

	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	p := c.sim.point(c.address)
	if len(p.script) > 0 {
		p.value = p.script[0]
		p.script = p.script[1:]
	}

	return p.value, nil
}

func (c *simChannel) SetValue(ctx context.Context, value any) (err error) {
	start := time.Now()
	defer func() { metrics.RecordChannelOp(ProtocolMock, "set", err, time.Since(start)) }()

	if err := c.sim.simulate(ctx, c.name, c.address); err != nil {
		return err
	}

	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	p := c.sim.point(c.address)
	if p.cancelRamp != nil {
		p.cancelRamp()
		p.cancelRamp = nil
	}

	current, currentOK := asFloat(p.value)
	target, targetOK := asFloat(value)
	if c.sim.rampSteps > 0 && currentOK && targetOK && current != target {
		rampCtx, cancel := context.WithCancel(context.Background())
		p.cancelRamp = cancel
		go c.sim.ramp(rampCtx, c.address, current, target, value)

		return nil
	}

	p.value = value
	p.emit(Update{Value: value})

	return nil
}

// ramp walks a point from current to target in rampSteps increments, emitting
// an update per increment. A new write to the same point cancels the ramp.
func (s *Simulator) ramp(ctx context.Context, address string, current, target float64, targetValue any) {
	s.mu.Lock()
	steps := s.rampSteps
	interval := s.rampInterval
	s.mu.Unlock()

	delta := (target - current) / float64(steps)

	for i := 1; i <= steps; i++ {
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}

		s.mu.Lock()

		if ctx.Err() != nil {
			s.mu.Unlock()

			return
		}

		p := s.point(address)
		if i == steps {
			p.value = targetValue
			p.cancelRamp = nil
		} else {
			p.value = current + delta*float64(i)
		}

		p.emit(Update{Value: p.value})
		s.mu.Unlock()
	}
}

func (c *simChannel) Subscribe() <-chan Update {
	ch := make(chan Update, subscriberBuffer)

	c.sim.mu.Lock()
	c.sim.point(c.address).subscribers[ch] = struct{}{}
	c.sim.mu.Unlock()

	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()

	return ch
}

func (c *simChannel) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	p, ok := c.sim.points[c.address]
	for _, ch := range subs {
		if ok {
			delete(p.subscribers, ch)
		}

		close(ch)
	}
}

type simCommand struct {
	sim     *Simulator
	name    string
	address string
}

func (c *simCommand) Name() string {
	return c.name
}

func (c *simCommand) Execute(ctx context.Context, args ...any) (result any, err error) {
	start := time.Now()
	defer func() { metrics.RecordChannelOp(ProtocolMock, "execute", err, time.Since(start)) }()

	if err := c.sim.simulate(ctx, c.name, c.address); err != nil {
		return nil, err
	}

	c.sim.mu.Lock()
	c.sim.invocations[c.address] = append(c.sim.invocations[c.address], args)
	handler := c.sim.commands[c.address]
	c.sim.mu.Unlock()

	if handler == nil {
		return nil, nil
	}

	return handler(args...)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}

	return 0, false
}
