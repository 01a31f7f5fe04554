// Package syncer converts opaque remote-change events into typed,
// de-duplicated update signals consumed by feature stores.
//
// Failure containment: a malformed event is logged and dropped before any
// publish, so stream subscribers only ever see well-formed identifiers, and
// nothing escapes HandleChange.
package syncer

import (
	"context"
	"sync"
	"time"

	logx "pulsesync/pkg/logx"
)

// Router subscribes to the remote-change feed and fans events out to the
// update streams, invalidating caches on the way.
type Router struct {
	log     logx.Logger
	feed    Feed
	streams *Streams

	// profileCache, when set, is evicted on user-profile changes.
	profileCache Invalidator

	invalidateTimeout time.Duration

	mu    sync.Mutex
	unsub func()
}

// NewRouter wires a router. profileCache may be nil.
func NewRouter(feed Feed, streams *Streams, profileCache Invalidator, log logx.Logger) *Router {
	if streams == nil {
		streams = NewStreams()
	}
	return &Router{
		log:               log,
		feed:              feed,
		streams:           streams,
		profileCache:      profileCache,
		invalidateTimeout: 3 * time.Second,
	}
}

// Streams returns the update streams this router publishes to.
func (r *Router) Streams() *Streams { return r.streams }

// Start subscribes to the change feed. Calling Start while already started is
// a no-op.
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsub != nil {
		return nil
	}
	unsub, err := r.feed.Subscribe(r.HandleChange)
	if err != nil {
		return err
	}
	r.unsub = unsub
	r.log.Info("change router started")
	return nil
}

// Stop unsubscribes from the feed. Safe to call when not started.
func (r *Router) Stop() {
	r.mu.Lock()
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()
	if unsub != nil {
		unsub()
		r.log.Info("change router stopped")
	}
}

// Started reports whether the feed subscription is active.
func (r *Router) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsub != nil
}

// HandleChange dispatches one event by record type. It never returns an error
// and never panics; bad events are logged and dropped without publishing.
func (r *Router) HandleChange(ev ChangeEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic routing change event",
				logx.String("record_type", ev.RecordType), logx.Any("panic", rec))
		}
	}()

	switch ev.RecordType {
	case RecordUserProfile:
		r.invalidateProfile(ev.RecordID)
		r.streams.Profile.Publish(ev.RecordID)

	case RecordSocialFollowing:
		// Extract every required field before the first publish so a bad
		// payload never publishes partially.
		follower, ok := payloadString(ev.Payload, fieldFollowerID)
		if !ok {
			r.dropMalformed(ev, fieldFollowerID)
			return
		}
		following, ok := payloadString(ev.Payload, fieldFollowingID)
		if !ok {
			r.dropMalformed(ev, fieldFollowingID)
			return
		}
		r.streams.Profile.Publish(follower)
		r.streams.Profile.Publish(following)
		r.streams.Feed.Publish("")

	case RecordWorkoutKudos:
		workoutID, ok := payloadString(ev.Payload, fieldWorkoutID)
		if !ok {
			r.dropMalformed(ev, fieldWorkoutID)
			return
		}
		r.streams.Kudos.Publish(workoutID)

	case RecordWorkoutComments:
		workoutID, ok := payloadString(ev.Payload, fieldWorkoutID)
		if !ok {
			r.dropMalformed(ev, fieldWorkoutID)
			return
		}
		r.streams.Comment.Publish(workoutID)

	case RecordWorkoutChallenges:
		r.streams.Challenge.Publish(ev.RecordID)

	case RecordActivityFeed, RecordWorkoutHistory:
		r.streams.Feed.Publish("")

	default:
		// Unknown record types are not an error.
		r.log.Trace("ignoring change event", logx.String("record_type", ev.RecordType))
	}
}

func (r *Router) invalidateProfile(id string) {
	if r.profileCache == nil || id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.invalidateTimeout)
	defer cancel()
	if err := r.profileCache.Invalidate(ctx, "profile:"+id); err != nil {
		r.log.Warn("profile cache invalidation failed", logx.String("id", id), logx.Err(err))
	}
}

func (r *Router) dropMalformed(ev ChangeEvent, field string) {
	r.log.Warn("dropping malformed change event",
		logx.String("record_type", ev.RecordType),
		logx.String("record_id", ev.RecordID),
		logx.String("missing_field", field))
}

// payloadString extracts a non-empty string field from an event payload.
func payloadString(payload map[string]any, key string) (string, bool) {
	if payload == nil {
		return "", false
	}
	v, ok := payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
