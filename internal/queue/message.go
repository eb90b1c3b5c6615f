package queue

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	keyJobID         = "jobId"
	keyDispatchToken = "dispatchToken"
)

// ErrInvalidMessage is returned for bodies that cannot be decoded.
var ErrInvalidMessage = errors.New("invalid job message")

// Message is the work queue body: the caller's payload flattened together
// with the job id and dispatch token.
type Message struct {
	JobID         uuid.UUID
	DispatchToken string
	Payload       map[string]interface{}
}

// MarshalJSON writes the payload fields plus jobId and dispatchToken,
// which take precedence over payload keys of the same name.
func (m Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Payload)+2)
	for k, v := range m.Payload {
		out[k] = v
	}
	out[keyJobID] = m.JobID.String()
	out[keyDispatchToken] = m.DispatchToken
	return json.Marshal(out)
}

// UnmarshalJSON reads a flattened body back into a Message.
func (m *Message) UnmarshalJSON(b []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.Wrap(ErrInvalidMessage, err.Error())
	}
	if raw == nil {
		return errors.Wrap(ErrInvalidMessage, "body is not an object")
	}

	idStr, _ := raw[keyJobID].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return errors.Wrapf(ErrInvalidMessage, "jobId %q", idStr)
	}

	token, _ := raw[keyDispatchToken].(string)
	if token == "" {
		return errors.Wrap(ErrInvalidMessage, "missing dispatchToken")
	}

	delete(raw, keyJobID)
	delete(raw, keyDispatchToken)

	m.JobID = id
	m.DispatchToken = token
	m.Payload = raw
	return nil
}

// Decode parses a work queue body.
func Decode(body []byte) (Message, error) {
	var m Message
	err := m.UnmarshalJSON(body)
	return m, err
}
