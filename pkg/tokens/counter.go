package tokens

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
	"github.com/weaviate/tiktoken-go"
)

const DefaultEncoding = "cl100k_base"

// Counter estimates token counts with a tiktoken encoding. Local models use their
// own tokenizers, so the numbers are an approximation for logging.
type Counter struct {
	mu    sync.Mutex
	enc   *tiktoken.Tiktoken
	codec tokenizer.Codec
}

// NewCounter loads encoding from tiktoken and falls back to the codecs compiled
// into tiktoken-go/tokenizer when the BPE ranks cannot be loaded.
func NewCounter(encoding string) (*Counter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err == nil {
		return &Counter{enc: enc}, nil
	}
	codec, cerr := tokenizer.Get(tokenizer.Encoding(encoding))
	if cerr != nil {
		return nil, errors.Wrapf(err, "load tiktoken encoding %s", encoding)
	}
	log.Debug().Err(err).Str("encoding", encoding).Msg("using built-in tokenizer codec")
	return &Counter{codec: codec}, nil
}

func (c *Counter) Count(text string) int {
	if c == nil || text == "" {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.enc != nil:
		return len(c.enc.Encode(text, nil, nil))
	case c.codec != nil:
		ids, _, err := c.codec.Encode(text)
		if err != nil {
			return 0
		}
		return len(ids)
	default:
		return 0
	}
}
