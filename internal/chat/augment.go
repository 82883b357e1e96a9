package chat

import (
	"context"
	"log/slog"

	"github.com/kalambet/chatfn/internal/composer"
	"github.com/kalambet/chatfn/internal/engine"
	"github.com/kalambet/chatfn/internal/errs"
	"github.com/kalambet/chatfn/internal/retrieval"
)

const DefaultTopK = 5

// Retriever embeds queries and searches a chat's documents.
type Retriever interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Search(ctx context.Context, chatID string, vector []float32, topK int) ([]retrieval.Passage, error)
}

type Augmenter struct {
	retriever Retriever
	composer  *composer.Composer
	topK      int
	logger    *slog.Logger
}

func NewAugmenter(r Retriever, c *composer.Composer, topK int) *Augmenter {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Augmenter{retriever: r, composer: c, topK: topK, logger: slog.Default()}
}

// BuildContext returns the system message framing the chat documents most
// relevant to query. It returns nil without touching any provider when
// disabled, and nil when the query embeds to nothing or nothing matches.
func (a *Augmenter) BuildContext(ctx context.Context, chatID, query string, enabled bool) (*engine.Message, error) {
	if !enabled {
		return nil, nil
	}

	vec, err := a.retriever.Embed(ctx, query)
	if err != nil {
		return nil, errs.Wrap(errs.ErrAugmentationFailed, err)
	}
	if len(vec) == 0 {
		a.logger.Debug("query embedded to an empty vector, skipping retrieval", "chat_id", chatID)
		return nil, nil
	}

	passages, err := a.retriever.Search(ctx, chatID, vec, a.topK)
	if err != nil {
		return nil, errs.Wrap(errs.ErrAugmentationFailed, err)
	}
	if len(passages) == 0 {
		return nil, nil
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}
	msg := a.composer.ContextMessage(query, texts)
	return &msg, nil
}
