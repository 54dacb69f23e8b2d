// Package llm holds helpers shared by the text generation backends.
package llm

import (
	"errors"
	"io"
	"strings"
	"sync"

	"docrag/internal/domain"
)

// SliceStream replays a fixed list of fragments. Offline models and tests
// use it to satisfy domain.TokenStream.
type SliceStream struct {
	mu     sync.Mutex
	tokens []string
	closed bool
}

func NewSliceStream(tokens ...string) *SliceStream {
	return &SliceStream{tokens: tokens}
}

func (s *SliceStream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.tokens) == 0 {
		return "", io.EOF
	}
	tok := s.tokens[0]
	s.tokens = s.tokens[1:]
	return tok, nil
}

func (s *SliceStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Collect drains ts and returns the concatenated text. The stream is closed
// on return.
func Collect(ts domain.TokenStream) (string, error) {
	defer ts.Close()
	var b strings.Builder
	for {
		tok, err := ts.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(tok)
	}
}
