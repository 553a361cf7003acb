package feedback

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/guildgym/gymbot/gate"
	"github.com/guildgym/gymbot/types"
	"github.com/guildgym/gymbot/utils"
)

// Item is one piece of user feedback.
type Item struct {
	ID      string `json:"internal_id,omitempty"`
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	Text    string `json:"text"`
	Time    int64  `json:"cr_time,omitempty"`
}

// Service collects guild feedback. Submissions pass through their own
// gate so one user cannot flood the queue; reads are uncached since
// moderators pull the list rarely and want it fresh.
type Service struct {
	storage types.StorageManager
	gate    *gate.SubmissionGate
	logger  types.Logger
}

func NewService(storage types.StorageManager, feedbackGate *gate.SubmissionGate, logger types.Logger) *Service {
	return &Service{
		storage: storage,
		gate:    feedbackGate,
		logger:  logger,
	}
}

// Submit stores one feedback item, if the user's window allows it.
func (s *Service) Submit(ctx context.Context, guildID, userID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", types.ErrFeedbackEmpty
	}

	allowed, _, err := s.gate.Allow(ctx, guildID, userID)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", types.ErrSubmissionLimit
	}

	id, err := s.gate.Record(ctx, guildID, userID, map[string]interface{}{
		"text": text,
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("Feedback submitted",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("feedback_id", id))

	return id, nil
}

// List returns a guild's feedback, newest first.
func (s *Service) List(ctx context.Context, guildID string, limit int) ([]*Item, error) {
	docs, _, err := s.storage.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: types.CollectionFeedback,
		Filter:     map[string]interface{}{"guild_id": guildID},
		Sort:       map[string]int{"cr_time": -1},
		Limit:      limit,
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to list feedback")
	}

	items := make([]*Item, 0, len(docs))
	for _, doc := range docs {
		var item Item
		if err := utils.FromDocument(doc, &item); err != nil {
			continue
		}
		items = append(items, &item)
	}

	return items, nil
}
