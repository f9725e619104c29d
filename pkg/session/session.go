// Package session holds the state of one chat conversation that collects the
// four inputs of a transfer: both tokens and both database ids.
package session

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CreatmanCEO/notion-transfer-bot/pkg/config"
	"github.com/CreatmanCEO/notion-transfer-bot/pkg/models"
)

// State is a step of the conversation.
type State int

const (
	StateAwaitSourceToken State = iota
	StateAwaitDestToken
	StateAwaitSourceDB
	StateAwaitDestDB
	StateReady
	StateRunning
	StateDone
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateAwaitSourceToken:
		return "await_source_token"
	case StateAwaitDestToken:
		return "await_dest_token"
	case StateAwaitSourceDB:
		return "await_source_db"
	case StateAwaitDestDB:
		return "await_dest_db"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	CommandCancel = "/cancel"
	CommandStart  = "/start"

	PromptSourceToken = "Send the integration token of the SOURCE workspace."
	PromptDestToken   = "Send the integration token of the DESTINATION workspace."
	PromptSourceDB    = "Send the id or link of the SOURCE database."
	PromptDestDB      = "Send the id or link of the DESTINATION database."
)

// Reply is what the front end shows after a message. Start is set once the
// user confirmed and the transfer should begin.
type Reply struct {
	Text  string
	Start bool
}

// Session is the state of one conversation.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu     sync.Mutex
	state  State
	params models.TransferParams
}

// New starts a conversation at the first prompt.
func New() *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		state:     StateAwaitSourceToken,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Params returns the inputs collected so far.
func (s *Session) Params() models.TransferParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Closed reports whether the conversation reached a terminal state.
func (s *Session) Closed() bool {
	st := s.State()
	return st == StateDone || st == StateCancelled
}

// Greeting is the first message of a conversation.
func (s *Session) Greeting() string {
	return "This bot copies every page of a Notion database into another database. " +
		"Send " + CommandCancel + " at any time to stop.\n" + PromptSourceToken
}

// Handle advances the conversation with one user message.
func (s *Session) Handle(input string) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	input = strings.TrimSpace(input)
	if strings.EqualFold(input, CommandCancel) {
		if s.state == StateRunning {
			return Reply{Text: "The transfer is running; it stops when the process is interrupted and resumes on the next run."}
		}
		s.state = StateCancelled
		return Reply{Text: "Cancelled. Send " + CommandStart + " to begin again."}
	}

	switch s.state {
	case StateAwaitSourceToken:
		s.params.SourceToken = input
		s.state = StateAwaitDestToken
		return Reply{Text: withTokenWarning(input, PromptDestToken)}
	case StateAwaitDestToken:
		s.params.DestinationToken = input
		s.state = StateAwaitSourceDB
		return Reply{Text: withTokenWarning(input, PromptSourceDB)}
	case StateAwaitSourceDB:
		id, err := ParseDatabaseID(input)
		if err != nil {
			return Reply{Text: err.Error() + "\n" + PromptSourceDB}
		}
		s.params.SourceDatabaseID = id
		s.state = StateAwaitDestDB
		return Reply{Text: PromptDestDB}
	case StateAwaitDestDB:
		id, err := ParseDatabaseID(input)
		if err != nil {
			return Reply{Text: err.Error() + "\n" + PromptDestDB}
		}
		if id == s.params.SourceDatabaseID && s.params.SourceToken == s.params.DestinationToken {
			return Reply{Text: "The destination must differ from the source.\n" + PromptDestDB}
		}
		s.params.DestinationDatabaseID = id
		s.state = StateReady
		return Reply{Text: fmt.Sprintf("Copy database %s into %s? (yes/no)", s.params.SourceDatabaseID, id)}
	case StateReady:
		switch strings.ToLower(input) {
		case "yes", "y":
			s.state = StateRunning
			return Reply{Text: "Starting the transfer.", Start: true}
		case "no", "n":
			s.state = StateCancelled
			return Reply{Text: "Cancelled. Send " + CommandStart + " to begin again."}
		default:
			return Reply{Text: "Please answer yes or no."}
		}
	case StateRunning:
		return Reply{Text: "The transfer is in progress, please wait."}
	default:
		return Reply{Text: "This conversation is over. Send " + CommandStart + " to begin again."}
	}
}

// Finish moves a running session to its terminal state.
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDone
}

func withTokenWarning(token, next string) string {
	if config.ValidToken(token) {
		return next
	}
	return "That does not look like a Notion integration token, using it anyway.\n" + next
}

var idPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{4}-?[0-9a-fA-F]{12}`)

// ParseDatabaseID accepts a bare id, with or without dashes, or a Notion link
// and returns the id in dashed form.
func ParseDatabaseID(input string) (string, error) {
	input = strings.TrimSpace(input)
	candidate := input
	if u, err := url.Parse(input); err == nil && u.Host != "" {
		candidate = u.Path
	}
	matches := idPattern.FindAllString(candidate, -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("%q does not contain a database id", input)
	}
	id, err := uuid.Parse(matches[len(matches)-1])
	if err != nil {
		return "", fmt.Errorf("invalid database id: %w", err)
	}
	return id.String(), nil
}
