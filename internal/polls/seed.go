package polls

import (
	"context"

	"go.uber.org/zap"
)

const opSeedSamplePolls = "polls.seed_sample_polls"

// SamplePoll is a fixture used to populate an empty store with example content.
type SamplePoll struct {
	Question string
	Options  []string
}

// SamplePolls lists the example polls created by the seed command.
var SamplePolls = []SamplePoll{
	{
		Question: "What is the best season of the year?",
		Options:  []string{"Spring", "Summer", "Autumn", "Winter"},
	},
	{
		Question: "Tabs or spaces?",
		Options:  []string{"Tabs", "Spaces", "Whatever the formatter says"},
	},
	{
		Question: "Which breakfast wins?",
		Options:  []string{"Pancakes", "Eggs"},
	},
}

// SeedSamplePolls creates the sample fixtures when the store holds no polls yet.
// It returns the number of polls created; a non-empty store is left untouched.
func (s *Service) SeedSamplePolls(ctx context.Context) (int, error) {
	count, err := s.CountPolls(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.loggerOrDefault().Info("seed skipped, store already populated", zap.Int64("polls", count))
		return 0, nil
	}

	created := 0
	for _, sample := range SamplePolls {
		pollID, err := s.Create(ctx, sample.Question, sample.Options)
		if err != nil {
			s.logError(opSeedSamplePolls, "create_failed", err, zap.String("question", sample.Question))
			return created, err
		}
		created++
		s.loggerOrDefault().Info("sample poll created",
			zap.String("poll_id", pollID.String()),
			zap.String("question", sample.Question))
	}
	return created, nil
}
