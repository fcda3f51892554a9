package polls

// VoteRecord is the append-only ledger entry proving a user spent their single
// vote on a poll. The composite primary key enforces at most one row per
// (user, poll) pair independently of the transactional check.
type VoteRecord struct {
	UserID         string `gorm:"column:user_id;primaryKey;size:190;not null"`
	PollID         string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	OptionID       string `gorm:"column:option_id;size:190;not null"`
	VotedAtSeconds int64  `gorm:"column:voted_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (VoteRecord) TableName() string {
	return "vote_ledger"
}

// UpvoteRecord is the append-only ledger entry for a user's one-time upvote of a poll.
type UpvoteRecord struct {
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	PollID           string `gorm:"column:poll_id;primaryKey;size:190;not null"`
	UpvotedAtSeconds int64  `gorm:"column:upvoted_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UpvoteRecord) TableName() string {
	return "upvote_ledger"
}
