package registry

import (
	"encoding/json"

	"github.com/permaskills/skills/internal/apperr"
	"github.com/permaskills/skills/internal/dataitem"
)

// ResultKind classifies a registry reply.
type ResultKind int

const (
	// ResultSuccess carries a payload.
	ResultSuccess ResultKind = iota
	// ResultNotFound means the registry returned no messages.
	ResultNotFound
	// ResultFailure means the registry replied with an error.
	ResultFailure
)

// String returns the kind name.
func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultNotFound:
		return "not_found"
	default:
		return "failure"
	}
}

// Result is a decoded registry reply.
type Result struct {
	Kind    ResultKind
	Data    json.RawMessage
	Tags    dataitem.Tags
	Message string
}

// Action returns the Action tag of the reply.
func (r *Result) Action() string {
	return r.Tags.Value("Action")
}

// Err converts a Failure into a classified error. Other kinds return nil.
func (r *Result) Err() error {
	if r.Kind != ResultFailure {
		return nil
	}
	msg := r.Message
	if msg == "" {
		msg = "registry rejected the request"
	}
	return apperr.New(apperr.KindNetwork, apperr.CodeRegistryError, msg, "")
}

// message is one entry of the registry envelope.
type message struct {
	Data string        `json:"Data"`
	Tags dataitem.Tags `json:"Tags"`
}

// envelope is the wire shape of dry-run and result responses.
type envelope struct {
	Messages []message `json:"Messages"`
	Error    string    `json:"Error,omitempty"`
}

// decodeEnvelope maps the loosely typed wire reply to a Result variant.
func decodeEnvelope(env envelope) Result {
	if env.Error != "" {
		return Result{Kind: ResultFailure, Message: env.Error}
	}
	if len(env.Messages) == 0 {
		return Result{Kind: ResultNotFound}
	}

	msg := env.Messages[0]
	if msg.Tags.Value("Action") == "Error" {
		text := msg.Tags.Value("Error")
		if text == "" {
			text = errorText(msg.Data)
		}
		return Result{Kind: ResultFailure, Tags: msg.Tags, Message: text}
	}

	return Result{Kind: ResultSuccess, Data: rawData(msg.Data), Tags: msg.Tags}
}

// rawData keeps JSON payloads as-is and quotes anything else.
func rawData(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

// errorText extracts a message from error payloads shaped as a string or
// {"error": "..."}.
func errorText(data string) string {
	var obj struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(data), &obj); err == nil {
		if obj.Error != "" {
			return obj.Error
		}
		if obj.Message != "" {
			return obj.Message
		}
	}
	return data
}
