package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBody(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantErr  bool
	}{
		{name: "object with type", raw: `{"type":"ROOM_CREATED","data":{}}`, wantType: "ROOM_CREATED"},
		{name: "object without type", raw: `{"data":{}}`},
		{name: "numeric type", raw: `{"type":5}`},
		{name: "array", raw: `[1,2]`},
		{name: "null", raw: `null`},
		{name: "truncated", raw: `{"type":"X"`, wantErr: true},
		{name: "empty", raw: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := ParseBody([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidJSON)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, body.Type)
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantKind      Kind
		wantChallenge string
	}{
		{name: "challenge", raw: `{"type":"WEBHOOK_URL_VERIFICATION","data":{"challenge":"tok"}}`, wantKind: KindURLVerification, wantChallenge: "tok"},
		{name: "challenge not a string", raw: `{"type":"WEBHOOK_URL_VERIFICATION","data":{"challenge":42}}`, wantKind: KindURLVerification},
		{name: "data not an object", raw: `{"type":"WEBHOOK_URL_VERIFICATION","data":"tok"}`, wantKind: KindURLVerification},
		{name: "null data", raw: `{"type":"WEBHOOK_URL_VERIFICATION","data":null}`, wantKind: KindURLVerification},
		{name: "type is case sensitive", raw: `{"type":"webhook_url_verification","data":{"challenge":"tok"}}`, wantKind: KindGeneric},
		{name: "generic", raw: `{"type":"MEMBER_LEFT"}`, wantKind: KindGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := ParseBody([]byte(tt.raw))
			require.NoError(t, err)

			ev := Classify(body, []byte(tt.raw))
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, tt.wantChallenge, ev.Challenge)
			if ev.Kind == KindGeneric {
				assert.Equal(t, tt.raw, string(ev.Payload))
			}
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "generic", KindGeneric.String())
	assert.Equal(t, "url_verification", KindURLVerification.String())
}
