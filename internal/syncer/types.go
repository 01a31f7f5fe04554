package syncer

import (
	"context"

	"pulsesync/internal/stream"
)

// ChangeType classifies a remote record change.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// ChangeEvent is one remote-change notification from the sync backend.
// Events are ephemeral and never stored.
type ChangeEvent struct {
	RecordType string
	RecordID   string
	ChangeType ChangeType
	Payload    map[string]any
}

// Record types the router dispatches on. Anything else is ignored.
const (
	RecordUserProfile       = "user-profile"
	RecordSocialFollowing   = "social-following"
	RecordWorkoutKudos      = "workout-kudos"
	RecordWorkoutComments   = "workout-comments"
	RecordWorkoutChallenges = "workout-challenges"
	RecordActivityFeed      = "activity-feed"
	RecordWorkoutHistory    = "workout-history"
)

// Payload fields required by specific record types.
const (
	fieldFollowerID  = "followerID"
	fieldFollowingID = "followingID"
	fieldWorkoutID   = "workoutID"
)

// Feed is the externally managed remote-change subscription. Subscribe must
// invoke handler once per incoming event until the returned unsubscribe func
// is called.
type Feed interface {
	Subscribe(handler func(ChangeEvent)) (unsubscribe func(), err error)
}

// Invalidator evicts one cached entity. cache.Cache satisfies it.
type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
}

// Streams bundles the five typed update streams feature stores subscribe to.
// Values are entity identifiers; an empty string on the feed stream means
// "something changed, refresh".
type Streams struct {
	Profile   *stream.Stream[string]
	Feed      *stream.Stream[string]
	Kudos     *stream.Stream[string]
	Comment   *stream.Stream[string]
	Challenge *stream.Stream[string]
}

func NewStreams() *Streams {
	return &Streams{
		Profile:   stream.New[string](),
		Feed:      stream.New[string](),
		Kudos:     stream.New[string](),
		Comment:   stream.New[string](),
		Challenge: stream.New[string](),
	}
}
