package roon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Verbs of the moo/1 message protocol spoken over the core's websocket
const (
	verbRequest  = "REQUEST"
	verbComplete = "COMPLETE"
	verbContinue = "CONTINUE"
)

// message is one decoded moo/1 message. For requests Name is
// "service/method"; for responses it is the status name ("Subscribed",
// "Changed", "Success", ...).
type message struct {
	Verb        string
	Name        string
	RequestID   int
	ContentType string
	Body        []byte
}

// decodeJSON unmarshals the message body into v
func (m *message) decodeJSON(v any) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("malformed %s body: %w", m.Name, err)
	}
	return nil
}

// encodeMessage renders a moo/1 message: a request line, headers, a blank
// line, then the body
func encodeMessage(verb, name string, requestID int, body any) ([]byte, error) {
	var payload []byte
	contentType := ""
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s body: %w", name, err)
		}
		contentType = "application/json"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "MOO/1 %s %s\n", verb, name)
	fmt.Fprintf(&buf, "Request-Id: %d\n", requestID)
	if len(payload) > 0 {
		fmt.Fprintf(&buf, "Content-Length: %d\n", len(payload))
		fmt.Fprintf(&buf, "Content-Type: %s\n", contentType)
	}
	buf.WriteByte('\n')
	buf.Write(payload)
	return buf.Bytes(), nil
}

// decodeMessage parses a raw websocket payload into a message
func decodeMessage(data []byte) (*message, error) {
	headerEnd := bytes.Index(data, []byte("\n\n"))
	if headerEnd < 0 {
		return nil, fmt.Errorf("missing header terminator")
	}
	lines := strings.Split(string(data[:headerEnd]), "\n")
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	parts := strings.SplitN(lines[0], " ", 3)
	if len(parts) != 3 || parts[0] != "MOO/1" {
		return nil, fmt.Errorf("malformed request line %q", lines[0])
	}

	msg := &message{
		Verb:      parts[1],
		Name:      parts[2],
		RequestID: -1,
		Body:      data[headerEnd+2:],
	}

	for _, line := range lines[1:] {
		kv := strings.SplitN(line, ":", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		switch key {
		case "Request-Id":
			id, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("malformed Request-Id %q", value)
			}
			msg.RequestID = id
		case "Content-Type":
			msg.ContentType = value
		}
	}

	if msg.RequestID < 0 {
		return nil, fmt.Errorf("message missing Request-Id")
	}
	return msg, nil
}
