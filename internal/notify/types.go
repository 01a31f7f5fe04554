package notify

import (
	"context"
	"fmt"
	"time"
)

// Type is a categorical kind of user-facing notification.
type Type string

const (
	TypeWorkoutCompleted  Type = "workout_completed"
	TypeKudosReceived     Type = "kudos_received"
	TypeNewFollower       Type = "new_follower"
	TypeCommentReceived   Type = "comment_received"
	TypeChallengeInvite   Type = "challenge_invite"
	TypeChallengeComplete Type = "challenge_complete"
	TypeSystem            Type = "system"
)

// Priority orders requests by urgency. Immediate requests bypass the hourly
// cap, quiet hours and batching.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityImmediate
)

// ActionKind is an interactive action attached to a delivered notification.
type ActionKind string

const (
	ActionAccept  ActionKind = "accept"
	ActionDecline ActionKind = "decline"
	ActionReply   ActionKind = "reply"
	ActionView    ActionKind = "view"
	ActionKudos   ActionKind = "kudos"
	ActionDismiss ActionKind = "dismiss"
	ActionJoin    ActionKind = "join"
	ActionVerify  ActionKind = "verify"
)

// Metadata is the tagged payload of a request. Exactly one concrete variant
// (or nil) is attached per request.
type Metadata interface{ isMetadata() }

// WorkoutMetadata accompanies workout-related notifications.
type WorkoutMetadata struct {
	WorkoutID string
	Sport     string
	Duration  time.Duration
	XP        int
}

// SocialMetadata accompanies follower/kudos/comment notifications.
type SocialMetadata struct {
	ActorID    string
	ActorName  string
	WorkoutID  string
	CommentRef string
}

// SystemMetadata accompanies app-level notices.
type SystemMetadata struct {
	Kind string
}

func (WorkoutMetadata) isMetadata() {}
func (SocialMetadata) isMetadata()  {}
func (SystemMetadata) isMetadata()  {}

// Request is one notification to be delivered. It is treated as immutable:
// the scheduler derives modified copies (deferral dates, batch summaries) and
// never mutates the caller's value.
type Request struct {
	ID       string
	Type     Type
	Title    string
	Body     string
	Metadata Metadata
	Priority Priority
	Actions  []ActionKind

	// GroupID clusters groupable requests into one summary.
	GroupID string

	// DeliverAt, when non-zero, is the earliest user-visible delivery instant.
	// The scheduler sets it for quiet-hours deferrals.
	DeliverAt time.Time

	// Count is 1 for plain requests and N for a batch summary coalescing N.
	Count int
}

// ClockTime is a time of day, independent of date and zone.
type ClockTime struct {
	Hour   int
	Minute int
}

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c ClockTime) minutes() int { return c.Hour*60 + c.Minute }

// on returns the clock time placed on day's date.
func (c ClockTime) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

// Preferences is the hot-swappable scheduler configuration.
type Preferences struct {
	PushEnabled bool

	// Enabled overrides per-type delivery. Missing types default to enabled.
	Enabled map[Type]bool

	// MaxPerHour caps scheduler acceptances in the trailing hour. Zero means
	// no cap.
	MaxPerHour int

	QuietHoursEnabled bool
	QuietStart        ClockTime
	QuietEnd          ClockTime
}

// DefaultPreferences enables everything with a moderate hourly cap and no
// quiet hours.
func DefaultPreferences() Preferences {
	return Preferences{
		PushEnabled: true,
		MaxPerHour:  20,
	}
}

// TypeEnabled reports whether t should be delivered at all.
func (p Preferences) TypeEnabled(t Type) bool {
	if !p.PushEnabled {
		return false
	}
	if p.Enabled == nil {
		return true
	}
	enabled, ok := p.Enabled[t]
	if !ok {
		return true
	}
	return enabled
}

// inQuietHours reports whether now falls inside [QuietStart, QuietEnd),
// supporting windows that wrap across midnight.
func (p Preferences) inQuietHours(now time.Time) bool {
	if !p.QuietHoursEnabled {
		return false
	}
	start, end := p.QuietStart.minutes(), p.QuietEnd.minutes()
	if start == end {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if start < end {
		return cur >= start && cur < end
	}
	// Wrapping window, e.g. 22:00 -> 07:00.
	return cur >= start || cur < end
}

// nextQuietEnd returns the first QuietEnd instant at or after now.
func (p Preferences) nextQuietEnd(now time.Time) time.Time {
	end := p.QuietEnd.on(now)
	if end.Before(now) {
		end = end.Add(24 * time.Hour)
	}
	return end
}

// Sink receives accepted requests for actual delivery. Implementations may
// perform I/O; the scheduler never holds internal locks across Deliver.
type Sink interface {
	Deliver(ctx context.Context, req Request) error
}

// History is the durable notification log the scheduler appends to on
// delivery. A nil History disables logging.
type History interface {
	Append(ctx context.Context, req Request) error
}
