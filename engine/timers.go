//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gambit-run/gambit/log"
	"github.com/gambit-run/gambit/model"
)

// defaultHandlerDelay is the initial delay of busy and idle handlers when
// the deck does not set delayMs.
const defaultHandlerDelay = 800 * time.Millisecond

// busyTimers drives the onBusy handler while one tool call is in flight.
type busyTimers struct {
	timer *time.Timer
	once  sync.Once
	done  chan struct{}
}

// startBusy schedules the busy handler for a tool dispatch. Returns nil when
// the deck has no busy slot; stop is nil-safe.
func (r *run) startBusy(ctx context.Context, actionName string, args any) *busyTimers {
	ref := r.deck.Handlers.Busy()
	if ref == nil {
		return nil
	}

	delay := defaultHandlerDelay
	if ref.DelayMs != nil {
		delay = time.Duration(*ref.DelayMs) * time.Millisecond
	}

	b := &busyTimers{done: make(chan struct{})}
	started := time.Now()
	fire := func() {
		r.fireBusy(ctx, ref.Path, actionName, args, time.Since(started).Milliseconds())
	}
	b.timer = time.AfterFunc(delay, func() {
		select {
		case <-b.done:
			return
		default:
		}
		fire()
		if ref.RepeatMs == nil || *ref.RepeatMs <= 0 {
			return
		}
		ticker := time.NewTicker(time.Duration(*ref.RepeatMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-b.done:
				return
			case <-ticker.C:
				fire()
			}
		}
	})
	return b
}

// stop cancels pending and repeating fires. A fire already in progress
// completes.
func (b *busyTimers) stop() {
	if b == nil {
		return
	}
	b.once.Do(func() { close(b.done) })
	b.timer.Stop()
}

// fireBusy runs the busy handler deck and surfaces its message: streamed
// when a stream sink exists, logged otherwise, and always appended to the
// conversation as an assistant note.
func (r *run) fireBusy(ctx context.Context, handlerPath, actionName string, args any, elapsedMs int64) {
	input := map[string]any{
		"kind":  "busy",
		"label": r.deck.Label,
		"source": map[string]any{
			"deckPath":   r.deck.Path,
			"actionName": actionName,
		},
		"trigger": map[string]any{
			"reason":    "timeout",
			"elapsedMs": elapsedMs,
		},
		"childInput": args,
	}
	out, err := r.runHandler(ctx, handlerPath, input)
	if err != nil {
		log.Warnf("busy handler %s failed: %v", handlerPath, err)
		return
	}
	message := handlerMessage(out)
	if message == "" {
		return
	}
	if r.in.OnStreamText != nil {
		r.in.OnStreamText(message)
	} else {
		log.Infof("busy: %s", message)
	}
	r.appendMessages(model.NewAssistantMessage(fmt.Sprintf("%s (elapsed %dms)", message, elapsedMs)))
	r.persistState()
}

// idleController fires the onIdle handler after a quiet period. It is
// touched on stream chunks and model/tool boundaries, paused while a child
// deck executes, and stopped on deck completion. All methods are nil-safe.
type idleController struct {
	mu      sync.Mutex
	timer   *time.Timer
	delay   time.Duration
	paused  int
	stopped bool
	last    time.Time
	fire    func(elapsedMs int64)
}

func (r *run) startIdle(ctx context.Context) *idleController {
	if r.deck.Handlers == nil || r.deck.Handlers.OnIdle == nil {
		return nil
	}
	ref := r.deck.Handlers.OnIdle

	delay := defaultHandlerDelay
	if ref.DelayMs != nil {
		delay = time.Duration(*ref.DelayMs) * time.Millisecond
	}

	ic := &idleController{delay: delay, last: time.Now()}
	ic.fire = func(elapsedMs int64) { r.fireIdle(ctx, ref.Path, elapsedMs) }
	ic.mu.Lock()
	ic.arm()
	ic.mu.Unlock()
	return ic
}

// arm schedules the next fire. Callers hold mu.
func (ic *idleController) arm() {
	ic.timer = time.AfterFunc(ic.delay, ic.onTimer)
}

func (ic *idleController) onTimer() {
	ic.mu.Lock()
	if ic.stopped || ic.paused > 0 {
		ic.mu.Unlock()
		return
	}
	elapsed := time.Since(ic.last).Milliseconds()
	ic.mu.Unlock()

	ic.fire(elapsed)

	ic.mu.Lock()
	if !ic.stopped && ic.paused == 0 {
		ic.arm()
	}
	ic.mu.Unlock()
}

func (ic *idleController) touch() {
	if ic == nil {
		return
	}
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.last = time.Now()
	if ic.stopped || ic.paused > 0 {
		return
	}
	if ic.timer != nil {
		ic.timer.Stop()
	}
	ic.arm()
}

func (ic *idleController) pause() {
	if ic == nil {
		return
	}
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.paused++
	if ic.timer != nil {
		ic.timer.Stop()
	}
}

func (ic *idleController) resume() {
	if ic == nil {
		return
	}
	ic.mu.Lock()
	defer ic.mu.Unlock()
	if ic.paused > 0 {
		ic.paused--
	}
	if ic.stopped || ic.paused > 0 {
		return
	}
	ic.last = time.Now()
	ic.arm()
}

func (ic *idleController) stop() {
	if ic == nil {
		return
	}
	ic.mu.Lock()
	defer ic.mu.Unlock()
	ic.stopped = true
	if ic.timer != nil {
		ic.timer.Stop()
	}
}

// fireIdle runs the idle handler deck and appends its message as an
// assistant note.
func (r *run) fireIdle(ctx context.Context, handlerPath string, elapsedMs int64) {
	input := map[string]any{
		"kind":  "idle",
		"label": r.deck.Label,
		"source": map[string]any{
			"deckPath": r.deck.Path,
		},
		"trigger": map[string]any{
			"reason":    "idle",
			"elapsedMs": elapsedMs,
		},
	}
	out, err := r.runHandler(ctx, handlerPath, input)
	if err != nil {
		log.Warnf("idle handler %s failed: %v", handlerPath, err)
		return
	}
	message := handlerMessage(out)
	if message == "" {
		return
	}
	if r.in.OnStreamText != nil {
		r.in.OnStreamText(message)
	} else {
		log.Infof("idle: %s", message)
	}
	r.appendMessages(model.NewAssistantMessage(fmt.Sprintf("%s (idle for %dms)", message, elapsedMs)))
	r.persistState()
}

// runHandler recurses into a lifecycle handler deck.
func (r *run) runHandler(ctx context.Context, path string, input map[string]any) (any, error) {
	return Run(ctx, RunInput{
		Path:               path,
		ParentPath:         r.deck.Path,
		Input:              input,
		InputProvided:      true,
		Provider:           r.in.Provider,
		Router:             r.in.Router,
		Guardrails:         &r.rails,
		Depth:              r.in.Depth + 1,
		ParentActionCallID: r.callID,
		RunID:              r.runID,
		DefaultModel:       r.in.DefaultModel,
		ModelOverride:      r.in.ModelOverride,
		Tracer:             r.tracer,
	})
}

// handlerMessage extracts the displayable message of a handler result: a
// plain string, an object with a message field, or a respond envelope.
func handlerMessage(out any) string {
	switch v := out.(type) {
	case string:
		return v
	case map[string]any:
		if s, ok := v["message"].(string); ok {
			return s
		}
	case *Respond:
		if v == nil {
			return ""
		}
		if s, ok := v.Payload.(string); ok && s != "" {
			return s
		}
		return v.Message
	}
	return ""
}
