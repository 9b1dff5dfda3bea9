package webhook

import (
	"encoding/json"
	"errors"
)

// TypeURLVerification marks the handshake a sender performs when a webhook
// URL is registered.
const TypeURLVerification = "WEBHOOK_URL_VERIFICATION"

// Body is the parsed request body. Only the fields used for routing are
// decoded; verification always runs over the raw bytes.
type Body struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Kind int

const (
	KindGeneric Kind = iota
	KindURLVerification
)

func (k Kind) String() string {
	if k == KindURLVerification {
		return "url_verification"
	}
	return "generic"
}

// Event is the classification of one request. Challenge is set only for
// KindURLVerification and Payload only for KindGeneric.
type Event struct {
	Kind      Kind
	Type      string
	Challenge string
	Payload   json.RawMessage
}

// Classify decides which branch a request takes. A challenge that is absent
// or not a JSON string is reported as empty.
func Classify(body Body, rawBody []byte) Event {
	if body.Type != TypeURLVerification {
		return Event{Kind: KindGeneric, Type: body.Type, Payload: json.RawMessage(rawBody)}
	}

	var data struct {
		Challenge json.RawMessage `json:"challenge"`
	}
	ev := Event{Kind: KindURLVerification, Type: body.Type}
	if len(body.Data) == 0 || json.Unmarshal(body.Data, &data) != nil {
		return ev
	}
	var challenge string
	if json.Unmarshal(data.Challenge, &challenge) == nil {
		ev.Challenge = challenge
	}
	return ev
}

// ErrInvalidJSON is returned by ParseBody for bodies that are not JSON.
var ErrInvalidJSON = errors.New("invalid JSON body")

// ParseBody decodes the routing fields of rawBody. Valid JSON that is not an
// object, or whose type is not a string, yields a Body with an empty Type.
func ParseBody(rawBody []byte) (Body, error) {
	if !json.Valid(rawBody) {
		return Body{}, ErrInvalidJSON
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(rawBody, &fields); err != nil {
		return Body{}, nil
	}

	var body Body
	if raw, ok := fields["type"]; ok {
		_ = json.Unmarshal(raw, &body.Type)
	}
	body.Data = fields["data"]
	return body, nil
}
