package polls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// DefaultFeedLimit bounds List results when the caller supplies no limit.
	DefaultFeedLimit = 20

	minimumOptionCount = 2
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps a failure with a dotted operation code for logs and API bodies.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "polls.service.new"
	opCreatePoll = "polls.create_poll"
	opGetPoll    = "polls.get_poll"
	opListPolls  = "polls.list_polls"
	opCastVote   = "polls.cast_vote"
	opCastUpvote = "polls.cast_upvote"
	opHasVoted   = "polls.has_voted"
	opHasUpvoted = "polls.has_upvoted"
	opVoteChoice = "polls.vote_choice"
	opCountPolls = "polls.count_polls"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues unique identifiers for polls and options.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the poll service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns the poll store and the vote/upvote ledger. All tally mutations go
// through single transactions so a tally increment never lands without its
// matching ledger row.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the poll service after validating its dependencies.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create validates the question and option texts and materializes a new poll with
// zeroed tallies. Option texts are trimmed, blanks discarded, and at least two
// usable options must remain. Duplicate option text is permitted; each entry
// becomes a distinct option.
func (s *Service) Create(ctx context.Context, question string, optionTexts []string) (PollID, error) {
	trimmedQuestion := strings.TrimSpace(question)
	if trimmedQuestion == "" {
		return "", newServiceError(opCreatePoll, "invalid_question", ErrInvalidQuestion)
	}

	usable := make([]string, 0, len(optionTexts))
	for _, text := range optionTexts {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			continue
		}
		usable = append(usable, trimmed)
	}
	if len(usable) < minimumOptionCount {
		return "", newServiceError(opCreatePoll, "not_enough_options", ErrNotEnoughOptions)
	}

	rawPollID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreatePoll, "id_generation_failed", err)
		return "", newServiceError(opCreatePoll, "id_generation_failed", err)
	}

	createdAt := s.clock().UTC().Unix()
	poll := Poll{
		PollID:           rawPollID,
		Question:         trimmedQuestion,
		UpvoteCount:      0,
		CreatedAtSeconds: createdAt,
	}

	options := make([]Option, 0, len(usable))
	for position, label := range usable {
		rawOptionID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opCreatePoll, "id_generation_failed", err, zap.String("poll_id", rawPollID))
			return "", newServiceError(opCreatePoll, "id_generation_failed", err)
		}
		options = append(options, Option{
			PollID:    rawPollID,
			OptionID:  rawOptionID,
			Label:     label,
			VoteCount: 0,
			Position:  position,
		})
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&poll).Error; err != nil {
			return newServiceError(opCreatePoll, "poll_insert_failed", err)
		}
		if err := tx.Create(&options).Error; err != nil {
			return newServiceError(opCreatePoll, "option_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreatePoll, "transaction_failed", txErr, zap.String("poll_id", rawPollID))
		return "", txErr
	}

	return PollID(rawPollID), nil
}

// Get returns the poll with its options in creation order. A missing poll is
// reported through the boolean, not an error.
func (s *Service) Get(ctx context.Context, pollID PollID) (PollView, bool, error) {
	var poll Poll
	err := s.db.WithContext(ctx).
		Where("poll_id = ?", pollID.String()).
		Take(&poll).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PollView{}, false, nil
	}
	if err != nil {
		s.logError(opGetPoll, "poll_select_failed", err, zap.String("poll_id", pollID.String()))
		return PollView{}, false, newServiceError(opGetPoll, "poll_select_failed", err)
	}

	options, err := s.loadOptions(ctx, []string{poll.PollID})
	if err != nil {
		s.logError(opGetPoll, "option_select_failed", err, zap.String("poll_id", pollID.String()))
		return PollView{}, false, newServiceError(opGetPoll, "option_select_failed", err)
	}

	return buildView(poll, options[poll.PollID]), true, nil
}

// List returns a snapshot of polls ordered by upvote count descending, breaking
// ties by creation time and then insertion order, truncated to limit. A
// non-positive limit falls back to DefaultFeedLimit.
func (s *Service) List(ctx context.Context, limit int) ([]PollView, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}

	var stored []Poll
	if err := s.db.WithContext(ctx).
		Order("upvote_count DESC, created_at_s ASC, rowid ASC").
		Limit(limit).
		Find(&stored).Error; err != nil {
		s.logError(opListPolls, "query_failed", err)
		return nil, newServiceError(opListPolls, "query_failed", err)
	}

	if len(stored) == 0 {
		return []PollView{}, nil
	}

	pollIDs := make([]string, 0, len(stored))
	for _, poll := range stored {
		pollIDs = append(pollIDs, poll.PollID)
	}
	options, err := s.loadOptions(ctx, pollIDs)
	if err != nil {
		s.logError(opListPolls, "option_select_failed", err)
		return nil, newServiceError(opListPolls, "option_select_failed", err)
	}

	views := make([]PollView, 0, len(stored))
	for _, poll := range stored {
		views = append(views, buildView(poll, options[poll.PollID]))
	}
	return views, nil
}

// CastVote spends the user's single vote on the poll. It returns false without
// mutation when the user already voted or the poll/option does not exist; an
// error is reserved for storage failures. The ledger check, tally increment, and
// ledger append commit as one transaction.
func (s *Service) CastVote(ctx context.Context, userID UserID, pollID PollID, optionID OptionID) (bool, error) {
	counted := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing VoteRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND poll_id = ?", userID.String(), pollID.String()).
			Take(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opCastVote, "ledger_select_failed", err)
		}

		incremented, err := incrementOptionVote(tx, pollID, optionID)
		if err != nil {
			return newServiceError(opCastVote, "tally_update_failed", err)
		}
		if !incremented {
			return nil
		}

		record := VoteRecord{
			UserID:         userID.String(),
			PollID:         pollID.String(),
			OptionID:       optionID.String(),
			VotedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return newServiceError(opCastVote, "ledger_insert_failed", err)
		}

		counted = true
		return nil
	})
	if txErr != nil {
		s.logError(opCastVote, "transaction_failed", txErr,
			zap.String("user_id", userID.String()),
			zap.String("poll_id", pollID.String()),
			zap.String("option_id", optionID.String()))
		return false, txErr
	}
	return counted, nil
}

// CastUpvote spends the user's single upvote on the poll with the same contract
// as CastVote, minus the option dimension.
func (s *Service) CastUpvote(ctx context.Context, userID UserID, pollID PollID) (bool, error) {
	counted := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing UpvoteRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND poll_id = ?", userID.String(), pollID.String()).
			Take(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opCastUpvote, "ledger_select_failed", err)
		}

		incremented, err := incrementUpvote(tx, pollID)
		if err != nil {
			return newServiceError(opCastUpvote, "tally_update_failed", err)
		}
		if !incremented {
			return nil
		}

		record := UpvoteRecord{
			UserID:           userID.String(),
			PollID:           pollID.String(),
			UpvotedAtSeconds: s.clock().UTC().Unix(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return newServiceError(opCastUpvote, "ledger_insert_failed", err)
		}

		counted = true
		return nil
	})
	if txErr != nil {
		s.logError(opCastUpvote, "transaction_failed", txErr,
			zap.String("user_id", userID.String()),
			zap.String("poll_id", pollID.String()))
		return false, txErr
	}
	return counted, nil
}

// HasVoted reports whether the user already holds a vote ledger entry for the poll.
func (s *Service) HasVoted(ctx context.Context, userID UserID, pollID PollID) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&VoteRecord{}).
		Where("user_id = ? AND poll_id = ?", userID.String(), pollID.String()).
		Count(&count).Error; err != nil {
		s.logError(opHasVoted, "query_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("poll_id", pollID.String()))
		return false, newServiceError(opHasVoted, "query_failed", err)
	}
	return count > 0, nil
}

// HasUpvoted reports whether the user already holds an upvote ledger entry for the poll.
func (s *Service) HasUpvoted(ctx context.Context, userID UserID, pollID PollID) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&UpvoteRecord{}).
		Where("user_id = ? AND poll_id = ?", userID.String(), pollID.String()).
		Count(&count).Error; err != nil {
		s.logError(opHasUpvoted, "query_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("poll_id", pollID.String()))
		return false, newServiceError(opHasUpvoted, "query_failed", err)
	}
	return count > 0, nil
}

// VoteChoice returns the option the user voted for, when a vote exists.
func (s *Service) VoteChoice(ctx context.Context, userID UserID, pollID PollID) (OptionID, bool, error) {
	var record VoteRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND poll_id = ?", userID.String(), pollID.String()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		s.logError(opVoteChoice, "query_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("poll_id", pollID.String()))
		return "", false, newServiceError(opVoteChoice, "query_failed", err)
	}
	return OptionID(record.OptionID), true, nil
}

// CountPolls returns the number of stored polls.
func (s *Service) CountPolls(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Poll{}).Count(&count).Error; err != nil {
		s.logError(opCountPolls, "query_failed", err)
		return 0, newServiceError(opCountPolls, "query_failed", err)
	}
	return count, nil
}

// incrementOptionVote bumps the option tally by one inside the caller's
// transaction. A zero rows-affected result means the poll or option is unknown.
func incrementOptionVote(tx *gorm.DB, pollID PollID, optionID OptionID) (bool, error) {
	result := tx.Model(&Option{}).
		Where("poll_id = ? AND option_id = ?", pollID.String(), optionID.String()).
		Update("vote_count", gorm.Expr("vote_count + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// incrementUpvote bumps the poll upvote tally by one inside the caller's transaction.
func incrementUpvote(tx *gorm.DB, pollID PollID) (bool, error) {
	result := tx.Model(&Poll{}).
		Where("poll_id = ?", pollID.String()).
		Update("upvote_count", gorm.Expr("upvote_count + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) loadOptions(ctx context.Context, pollIDs []string) (map[string][]Option, error) {
	var stored []Option
	if err := s.db.WithContext(ctx).
		Where("poll_id IN ?", pollIDs).
		Order("poll_id ASC, position ASC").
		Find(&stored).Error; err != nil {
		return nil, err
	}

	grouped := make(map[string][]Option, len(pollIDs))
	for _, option := range stored {
		grouped[option.PollID] = append(grouped[option.PollID], option)
	}
	return grouped, nil
}

func buildView(poll Poll, options []Option) PollView {
	view := PollView{
		ID:               PollID(poll.PollID),
		Question:         poll.Question,
		UpvoteCount:      poll.UpvoteCount,
		CreatedAtSeconds: poll.CreatedAtSeconds,
		Options:          make([]OptionView, 0, len(options)),
	}
	for _, option := range options {
		view.Options = append(view.Options, OptionView{
			ID:        OptionID(option.OptionID),
			Text:      option.Label,
			VoteCount: option.VoteCount,
		})
	}
	return view
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("poll service error", attrs...)
}
