package conversation

import (
	"fmt"
	"strings"
)

// Log is the ordered transcript of one conversation: a system prompt
// followed by turns. It is not safe for concurrent mutation.
type Log struct {
	system Message
	turns  []*turn

	// nextIndex numbers turns monotonically, including superseded ones.
	nextIndex int
}

// NewLog creates a Log holding only the system prompt.
func NewLog(systemPrompt string) *Log {
	return &Log{
		system: Message{Role: RoleSystem, Content: systemPrompt},
	}
}

// SystemPrompt returns the system prompt text.
func (l *Log) SystemPrompt() string {
	return l.system.Content
}

// Len returns the number of turns.
func (l *Log) Len() int {
	return len(l.turns)
}

// AppendUserMessage records an observed user utterance.
//
// When the most recent turn is open and text extends its user text, the
// utterance is an ASR refinement: with no assistant reply yet the user text is
// replaced in place; with a reply the whole turn is replaced by a fresh one,
// since the reply was produced against incomplete text. Any other text starts
// a new turn.
func (l *Log) AppendUserMessage(text string) {
	l.appendUser(text)
}

// appendUser applies the continuation rules and reports what happened.
func (l *Log) appendUser(text string) (t *turn, superseded bool) {
	cur := l.last()
	if cur == nil || cur.finalized || !strings.HasPrefix(text, cur.user.Content) {
		return l.newTurn(text), false
	}

	if cur.assistant == nil {
		cur.user.Content = text
		return cur, false
	}

	t = &turn{
		index: l.nextIndex,
		user:  Message{Role: RoleUser, Content: text},
	}
	l.nextIndex++
	l.turns[len(l.turns)-1] = t
	return t, true
}

// AppendAssistantMessage sets the assistant reply of the most recent turn,
// overwriting any earlier reply on that turn.
func (l *Log) AppendAssistantMessage(text string) error {
	_, err := l.appendAssistant(text)
	return err
}

func (l *Log) appendAssistant(text string) (*turn, error) {
	cur := l.last()
	if cur == nil {
		return nil, fmt.Errorf("appending assistant message with no turn: %w", ErrInvalidState)
	}
	cur.assistant = &Message{Role: RoleAssistant, Content: text}
	return cur, nil
}

// Messages renders the log as [system] + [user, assistant?] per turn.
func (l *Log) Messages() []Message {
	msgs := make([]Message, 0, 1+2*len(l.turns))
	msgs = append(msgs, l.system)
	for _, t := range l.turns {
		msgs = append(msgs, t.user)
		if t.assistant != nil {
			msgs = append(msgs, *t.assistant)
		}
	}
	return msgs
}

// Turns returns snapshots of all turns in order.
func (l *Log) Turns() []Turn {
	out := make([]Turn, len(l.turns))
	for i, t := range l.turns {
		out[i] = t.snapshot()
	}
	return out
}

// CurrentTurn returns the most recent turn, if any.
func (l *Log) CurrentTurn() (Turn, bool) {
	cur := l.last()
	if cur == nil {
		return Turn{}, false
	}
	return cur.snapshot(), true
}

func (l *Log) last() *turn {
	if len(l.turns) == 0 {
		return nil
	}
	return l.turns[len(l.turns)-1]
}

func (l *Log) newTurn(text string) *turn {
	t := &turn{
		index: l.nextIndex,
		user:  Message{Role: RoleUser, Content: text},
	}
	l.nextIndex++
	l.turns = append(l.turns, t)
	return t
}
