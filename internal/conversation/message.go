package conversation

import "strings"

// Sender identifies who produced a transcript entry.
type Sender string

const (
	SenderUser       Sender = "user"
	SenderRouter     Sender = "router"
	SenderIntake     Sender = "intake"
	SenderSpecialist Sender = "specialist"
	SenderResearch   Sender = "research"
	SenderSynthesis  Sender = "synthesis"
	SenderCompliance Sender = "compliance"
	SenderAssistant  Sender = "assistant"
	SenderSystem     Sender = "system"
	SenderUnknown    Sender = "unknown"
)

var senderAliases = map[string]Sender{
	"user":       SenderUser,
	"human":      SenderUser,
	"patient":    SenderUser,
	"router":     SenderRouter,
	"intake":     SenderIntake,
	"nurse":      SenderIntake,
	"specialist": SenderSpecialist,
	"doctor":     SenderSpecialist,
	"research":   SenderResearch,
	"synthesis":  SenderSynthesis,
	"reasoner":   SenderSynthesis,
	"compliance": SenderCompliance,
	"assistant":  SenderAssistant,
	"ai":         SenderAssistant,
	"system":     SenderSystem,
}

// ParseSender maps a free-form role label onto the fixed sender set.
// Labels outside the set map to SenderUnknown.
func ParseSender(label string) Sender {
	if s, ok := senderAliases[strings.ToLower(strings.TrimSpace(label))]; ok {
		return s
	}
	return SenderUnknown
}

// Known reports whether s is one of the enumerated senders other than unknown.
func (s Sender) Known() bool {
	_, ok := senderAliases[string(s)]
	return ok
}

// Message is one tagged transcript entry.
type Message struct {
	Sender  Sender `json:"sender"`
	Content string `json:"content"`
}

// RawMessage is a transcript entry as supplied by a caller, before tagging.
type RawMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Normalize converts caller-supplied history into tagged messages.
// Unrecognized roles are kept and tagged SenderUnknown.
func Normalize(prior []RawMessage) []Message {
	out := make([]Message, 0, len(prior))
	for _, m := range prior {
		out = append(out, Message{Sender: ParseSender(m.Role), Content: m.Content})
	}
	return out
}

// Render flattens messages into "sender: content" lines for prompts.
func Render(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(string(m.Sender))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
