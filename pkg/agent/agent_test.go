package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auhdhd/knowledge-agent/pkg/llm"
	"github.com/auhdhd/knowledge-agent/pkg/retrieval"
)

type fakeChat struct {
	reply    string
	err      error
	requests []*llm.ChatRequest
}

func (f *fakeChat) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.reply, Model: req.Model}, nil
}

type fakeRetriever struct {
	result *retrieval.Result
	err    error
	calls  int
}

func (f *fakeRetriever) Retrieve(context.Context, string) (*retrieval.Result, error) {
	f.calls++
	return f.result, f.err
}

func TestAsk(t *testing.T) {
	ctx := context.Background()

	t.Run("GroundedAnswer", func(t *testing.T) {
		chat := &fakeChat{reply: "According to the knowledge base, retrieval augments generation."}
		retriever := &fakeRetriever{result: &retrieval.Result{
			Found:   true,
			Context: "Retrieval augments generation with stored context.",
			Sources: []retrieval.Source{{ID: "c1", Document: "kb.txt", Score: 0.92}},
		}}
		ag := New(chat, retriever, nil)

		answer, err := ag.Ask(ctx, "", "What is RAG?")
		require.NoError(t, err)

		assert.True(t, answer.Grounded)
		assert.Equal(t, chat.reply, answer.Text)
		require.Len(t, answer.Sources, 1)
		assert.NotEmpty(t, answer.RequestID)

		// The LLM prompt must carry the instruction and the retrieved
		// context, with the user question after it.
		require.Len(t, chat.requests, 1)
		messages := chat.requests[0].Messages
		assert.Equal(t, llm.RoleSystem, messages[0].Role)
		assert.Equal(t, Instruction, messages[0].Content)
		last := messages[len(messages)-1]
		assert.Contains(t, last.Content, "Retrieval augments generation with stored context.")
		assert.Contains(t, last.Content, "What is RAG?")
	})

	t.Run("NotFoundNeverCallsLLM", func(t *testing.T) {
		chat := &fakeChat{reply: "should not be used"}
		retriever := &fakeRetriever{result: &retrieval.Result{Found: false}}
		ag := New(chat, retriever, nil)

		answer, err := ag.Ask(ctx, "", "What is the airspeed of an unladen swallow?")
		require.NoError(t, err)

		assert.Equal(t, NotFoundReply, answer.Text)
		assert.False(t, answer.Grounded)
		assert.Empty(t, chat.requests)
	})

	t.Run("SmallTalkSkipsRetrieval", func(t *testing.T) {
		chat := &fakeChat{reply: "Hello! How can I help?"}
		retriever := &fakeRetriever{}
		ag := New(chat, retriever, nil)

		answer, err := ag.Ask(ctx, "", "hello!")
		require.NoError(t, err)

		assert.Equal(t, 0, retriever.calls)
		assert.False(t, answer.Grounded)
		assert.Equal(t, "Hello! How can I help?", answer.Text)
	})

	t.Run("RetrievalErrorProducesApology", func(t *testing.T) {
		chat := &fakeChat{}
		retriever := &fakeRetriever{err: errors.New("store unreachable")}
		ag := New(chat, retriever, nil)

		answer, err := ag.Ask(ctx, "", "What is RAG?")
		require.Error(t, err)
		require.NotNil(t, answer)
		assert.Contains(t, answer.Text, "error trying to access my knowledge base")
		assert.Empty(t, chat.requests)
	})

	t.Run("LLMErrorPropagates", func(t *testing.T) {
		chat := &fakeChat{err: errors.New("model overloaded")}
		retriever := &fakeRetriever{result: &retrieval.Result{Found: true, Context: "ctx"}}
		ag := New(chat, retriever, nil)

		_, err := ag.Ask(ctx, "", "What is RAG?")
		require.Error(t, err)
	})

	t.Run("RejectsEmptyQuery", func(t *testing.T) {
		ag := New(&fakeChat{}, &fakeRetriever{}, nil)
		_, err := ag.Ask(ctx, "", "  ")
		require.Error(t, err)
	})
}

func TestSessionHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("CarriesPreviousTurns", func(t *testing.T) {
		chat := &fakeChat{reply: "answer"}
		retriever := &fakeRetriever{result: &retrieval.Result{Found: true, Context: "ctx"}}
		ag := New(chat, retriever, &Config{Model: "m", HistoryLimit: 4})

		_, err := ag.Ask(ctx, "s1", "first question")
		require.NoError(t, err)
		_, err = ag.Ask(ctx, "s1", "second question")
		require.NoError(t, err)

		require.Len(t, chat.requests, 2)
		second := chat.requests[1].Messages
		var sawFirst bool
		for _, msg := range second {
			if msg.Role == llm.RoleUser && msg.Content == "first question" {
				sawFirst = true
			}
		}
		assert.True(t, sawFirst, "second request should include the first turn")
	})

	t.Run("WindowIsBounded", func(t *testing.T) {
		chat := &fakeChat{reply: "answer"}
		retriever := &fakeRetriever{result: &retrieval.Result{Found: true, Context: "ctx"}}
		ag := New(chat, retriever, &Config{Model: "m", HistoryLimit: 2})

		for _, q := range []string{"q1 about topics", "q2 about topics", "q3 about topics", "q4 about topics"} {
			_, err := ag.Ask(ctx, "s1", q)
			require.NoError(t, err)
		}

		last := chat.requests[len(chat.requests)-1].Messages
		// system + at most 2*HistoryLimit history messages + current user turn.
		assert.LessOrEqual(t, len(last), 1+2*2+1)
	})

	t.Run("SessionsAreIsolated", func(t *testing.T) {
		chat := &fakeChat{reply: "answer"}
		retriever := &fakeRetriever{result: &retrieval.Result{Found: true, Context: "ctx"}}
		ag := New(chat, retriever, &Config{Model: "m", HistoryLimit: 4})

		_, err := ag.Ask(ctx, "alice", "alice's question")
		require.NoError(t, err)
		_, err = ag.Ask(ctx, "bob", "bob's question")
		require.NoError(t, err)

		bobMessages := chat.requests[1].Messages
		for _, msg := range bobMessages {
			assert.False(t, strings.Contains(msg.Content, "alice's question"))
		}
	})
}

func TestIsSmallTalk(t *testing.T) {
	cases := map[string]bool{
		"hi":                          true,
		"Hello!":                      true,
		"hey there":                   true,
		"thanks":                      true,
		"how are you?":                true,
		"Good morning":                true,
		"What is a RAG model?":        false,
		"hello protocol handshake in detail please": false,
		"explain chunking":            false,
	}
	for query, want := range cases {
		assert.Equal(t, want, isSmallTalk(query), "query %q", query)
	}
}
