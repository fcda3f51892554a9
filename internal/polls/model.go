package polls

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidPollID indicates that a poll identifier is empty or exceeds storage bounds.
	ErrInvalidPollID = errors.New("polls: invalid poll id")
	// ErrInvalidOptionID indicates that an option identifier is empty or exceeds storage bounds.
	ErrInvalidOptionID = errors.New("polls: invalid option id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("polls: invalid user id")
	// ErrInvalidQuestion indicates that a poll question is empty after trimming.
	ErrInvalidQuestion = errors.New("polls: invalid question")
	// ErrNotEnoughOptions indicates that fewer than two usable option texts were supplied.
	ErrNotEnoughOptions = errors.New("polls: at least two options required")
)

// PollID represents a validated poll identifier.
type PollID string

// NewPollID validates raw input and returns a PollID.
func NewPollID(rawInput string) (PollID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPollID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPollID, maxIdentifierLength)
	}
	return PollID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PollID) String() string {
	return string(id)
}

// OptionID represents a validated option identifier, unique within its poll.
type OptionID string

// NewOptionID validates raw input and returns an OptionID.
func NewOptionID(rawInput string) (OptionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOptionID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOptionID, maxIdentifierLength)
	}
	return OptionID(trimmed), nil
}

// String returns the underlying string identifier.
func (id OptionID) String() string {
	return string(id)
}

// UserID represents a validated opaque visitor identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// Poll models the persisted poll record. Tallies only ever grow; the question and
// option membership are immutable after creation.
type Poll struct {
	PollID           string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	Question         string `gorm:"column:question;type:text;not null"`
	UpvoteCount      int64  `gorm:"column:upvote_count;not null;default:0;index:idx_polls_feed,priority:1"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_polls_feed,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Poll) TableName() string {
	return "polls"
}

// Option models one selectable answer within a poll. Options are owned by their
// poll and carry their creation position so duplicate labels stay distinguishable.
type Option struct {
	PollID    string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	OptionID  string `gorm:"column:option_id;primaryKey;size:190;not null"`
	Label     string `gorm:"column:label;type:text;not null"`
	VoteCount int64  `gorm:"column:vote_count;not null;default:0"`
	Position  int    `gorm:"column:position;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Option) TableName() string {
	return "poll_options"
}

// OptionView is the read-side projection of a poll option.
type OptionView struct {
	ID        OptionID
	Text      string
	VoteCount int64
}

// PollView is the read-side projection of a poll with its options in creation order.
type PollView struct {
	ID               PollID
	Question         string
	UpvoteCount      int64
	CreatedAtSeconds int64
	Options          []OptionView
}

// TotalVotes returns the sum of option tallies for the poll.
func (v PollView) TotalVotes() int64 {
	var total int64
	for _, option := range v.Options {
		total += option.VoteCount
	}
	return total
}
