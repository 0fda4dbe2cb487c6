// Package agent implements the knowledge agent: a question-answering
// loop that grounds every knowledge answer in retrieved context and
// refuses to improvise when the knowledge base has nothing relevant.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/auhdhd/knowledge-agent/pkg/llm"
	"github.com/auhdhd/knowledge-agent/pkg/retrieval"
)

// Instruction is the system prompt. The phrasing is tuned for users
// who may be AuDHD: concrete, literal, no filler.
const Instruction = `You are an AI assistant designed to be helpful and understanding, especially for users who may be AuDHD.
Your primary goal is to answer questions based on information retrieved from a knowledge base.

Guidelines for your responses:
- Be clear, concise, and direct.
- Break down complex information into smaller, easy-to-understand parts.
- If asked, provide information step-by-step.
- Use simple language and avoid jargon where possible. If technical terms are necessary, briefly explain them.
- Be patient and literal in interpreting questions.

How to answer:
1. When knowledge base information is provided below, synthesize your answer based only on that information and the user's question. Clearly indicate that the information comes from the knowledge base.
2. Never answer a knowledge question from general knowledge.
3. For greetings or simple conversational exchanges, respond directly and briefly.`

// NotFoundReply is returned when retrieval finds nothing relevant.
const NotFoundReply = "I couldn't find specific information in the knowledge base on that topic."

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knowledge_agent_queries_total",
		Help: "Agent queries by answer path.",
	}, []string{"path"})

	queryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "knowledge_agent_query_latency_seconds",
		Help:    "Full query handling latency including retrieval and the LLM call.",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	})
)

// Config holds agent settings.
type Config struct {
	Model        string `json:"model"`
	MaxTokens    int    `json:"max_tokens"`
	HistoryLimit int    `json:"history_limit"` // turns kept per session; 0 disables history
}

// DefaultConfig returns the agent defaults.
func DefaultConfig() *Config {
	return &Config{
		Model:        "anthropic/claude-3-haiku",
		MaxTokens:    1024,
		HistoryLimit: 10,
	}
}

// Answer is the agent's reply to one query.
type Answer struct {
	Text      string             `json:"text"`
	Grounded  bool               `json:"grounded"` // answer synthesized from retrieved context
	Sources   []retrieval.Source `json:"sources,omitempty"`
	RequestID string             `json:"request_id"`
	Elapsed   time.Duration      `json:"elapsed"`
}

// Agent wires the LLM and the retriever together.
type Agent struct {
	llm       llm.ChatClient
	retriever retrieval.Retriever
	config    *Config
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string][]llm.Message
}

// New creates an agent. A nil config gets defaults.
func New(chat llm.ChatClient, retriever retrieval.Retriever, config *Config) *Agent {
	if config == nil {
		config = DefaultConfig()
	}
	return &Agent{
		llm:       chat,
		retriever: retriever,
		config:    config,
		logger:    slog.Default().With("component", "agent"),
		sessions:  make(map[string][]llm.Message),
	}
}

// Ask answers a single query. sessionID may be empty for stateless
// use; a non-empty ID keeps a bounded conversation window.
func (a *Agent) Ask(ctx context.Context, sessionID, query string) (*Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	start := time.Now()
	answer := &Answer{RequestID: uuid.NewString()}

	if isSmallTalk(query) {
		text, err := a.complete(ctx, sessionID, query, "")
		if err != nil {
			return nil, err
		}
		answer.Text = text
		answer.Elapsed = time.Since(start)
		queriesTotal.WithLabelValues("direct").Inc()
		queryLatency.Observe(answer.Elapsed.Seconds())
		return answer, nil
	}

	result, err := a.retriever.Retrieve(ctx, query)
	if err != nil {
		queriesTotal.WithLabelValues("retrieval_error").Inc()
		a.logger.Error("retrieval failed", "request_id", answer.RequestID, "error", err)
		answer.Text = "I encountered an error trying to access my knowledge base. Please try again."
		answer.Elapsed = time.Since(start)
		return answer, fmt.Errorf("retrieval failed: %w", err)
	}

	if !result.Found {
		// Do not let the model improvise: the knowledge base is the
		// only permitted source for knowledge questions.
		answer.Text = NotFoundReply
		answer.Elapsed = time.Since(start)
		a.remember(sessionID, query, answer.Text)
		queriesTotal.WithLabelValues("not_found").Inc()
		queryLatency.Observe(answer.Elapsed.Seconds())
		return answer, nil
	}

	text, err := a.complete(ctx, sessionID, query, result.Context)
	if err != nil {
		queriesTotal.WithLabelValues("llm_error").Inc()
		return nil, err
	}

	answer.Text = text
	answer.Grounded = true
	answer.Sources = result.Sources
	answer.Elapsed = time.Since(start)
	queriesTotal.WithLabelValues("grounded").Inc()
	queryLatency.Observe(answer.Elapsed.Seconds())

	a.logger.Info("answered query",
		"request_id", answer.RequestID,
		"grounded", true,
		"sources", len(answer.Sources),
		"elapsed", answer.Elapsed,
	)
	return answer, nil
}

// complete runs the LLM with the instruction, optional knowledge
// context, session history, and the user query.
func (a *Agent) complete(ctx context.Context, sessionID, query, knowledgeContext string) (string, error) {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: Instruction}}
	messages = append(messages, a.history(sessionID)...)

	userContent := query
	if knowledgeContext != "" {
		userContent = fmt.Sprintf("Knowledge base information:\n%s\n\nUser question: %s", knowledgeContext, query)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userContent})

	resp, err := a.llm.Chat(ctx, &llm.ChatRequest{
		Model:       a.config.Model,
		Messages:    messages,
		MaxTokens:   a.config.MaxTokens,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("LLM completion failed: %w", err)
	}

	a.remember(sessionID, query, resp.Content)
	return resp.Content, nil
}

func (a *Agent) history(sessionID string) []llm.Message {
	if sessionID == "" || a.config.HistoryLimit <= 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	history := a.sessions[sessionID]
	out := make([]llm.Message, len(history))
	copy(out, history)
	return out
}

func (a *Agent) remember(sessionID, query, reply string) {
	if sessionID == "" || a.config.HistoryLimit <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	history := append(a.sessions[sessionID],
		llm.Message{Role: llm.RoleUser, Content: query},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	)
	// Keep the most recent HistoryLimit turns (two messages per turn).
	if max := a.config.HistoryLimit * 2; len(history) > max {
		history = history[len(history)-max:]
	}
	a.sessions[sessionID] = history
}

var smallTalkPrefixes = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
	"thanks", "thank you", "bye", "goodbye", "how are you",
}

// isSmallTalk spots greetings and other conversational turns that do
// not need the knowledge base. Anything with a question about content
// goes through retrieval.
func isSmallTalk(query string) bool {
	q := strings.ToLower(strings.TrimRight(strings.TrimSpace(query), "!.? "))
	if len(q) > 40 {
		return false
	}
	for _, prefix := range smallTalkPrefixes {
		if q == prefix || strings.HasPrefix(q, prefix+" ") || strings.HasPrefix(q, prefix+",") {
			return true
		}
	}
	return false
}
