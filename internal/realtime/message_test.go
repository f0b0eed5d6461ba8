// README: Inbound message decoding tests.
package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Request
		wantErr error
	}{
		{"auth", `{"type":"auth","payload":{"token":"abc"}}`, AuthRequest{Token: "abc"}, nil},
		{"auth without token", `{"type":"auth","payload":{}}`, nil, ErrMalformed},
		{"subscribe defaults", `{"type":"subscribe_order_tracking","job_id":"J1"}`,
			SubscribeRequest{Kind: KindSubscribeOrderTracking, JobID: "J1", Topics: []TopicKind{TopicOrderStatus, TopicTrackingEvents}}, nil},
		{"subscribe narrowed", `{"type":"subscribe_tracking","job_id":"J1","payload":{"topics":["eta"]}}`,
			SubscribeRequest{Kind: KindSubscribeTracking, JobID: "J1", Topics: []TopicKind{TopicETA}}, nil},
		{"subscribe bad topic", `{"type":"subscribe_tracking","job_id":"J1","payload":{"topics":["weather"]}}`, nil, ErrMalformed},
		{"subscribe without job", `{"type":"subscribe_tracking"}`, nil, ErrMalformed},
		{"unsubscribe", `{"type":"unsubscribe","job_id":"J1"}`, UnsubscribeRequest{JobID: "J1"}, nil},
		{"ping", `{"type":"ping"}`, PingRequest{}, nil},
		{"outbound kind", `{"type":"eta_update"}`, nil, ErrUnknownKind},
		{"no type", `{}`, nil, ErrMalformed},
		{"garbage", `{`, nil, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeRequest([]byte(tt.in))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTopicKey(t *testing.T) {
	assert.Equal(t, "eta:J9", TopicKey(TopicETA, "J9"))
	assert.False(t, TopicKind("weather").Valid())
}
