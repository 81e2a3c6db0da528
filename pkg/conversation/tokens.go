package conversation

import (
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// EstimateTokens counts the tokens of a history with the codec matching
// model, falling back to cl100k_base for models tiktoken does not know.
func EstimateTokens(model string, messages []*Message) (int, error) {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			return 0, errors.Wrap(err, "could not load tokenizer")
		}
	}

	total := 0
	for _, m := range messages {
		if m == nil {
			continue
		}
		ids, _, err := codec.Encode(m.Content)
		if err != nil {
			return 0, errors.Wrapf(err, "could not encode message %s", m.ID)
		}
		total += len(ids)
	}
	return total, nil
}
