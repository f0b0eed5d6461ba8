// README: Notifier tests (MQTT topic layout, Kafka mock producer).
package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaNotifier_SendsKeyedMessage(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		assert.Equal(t, EventCourierAccepted, e.Kind)
		assert.Equal(t, "J1", string(e.JobID))
		return nil
	})

	n := NewKafkaNotifier(producer, "dispatch.events")
	err := n.Notify(context.Background(), Event{
		Kind:     EventCourierAccepted,
		JobID:    "J1",
		VendorID: "v1",
		At:       time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, producer.Close())
}

func TestKafkaNotifier_PropagatesError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	n := NewKafkaNotifier(producer, "dispatch.events")
	err := n.Notify(context.Background(), Event{Kind: EventNoCourierFound, JobID: "J2"})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, producer.Close())
}

func TestMQTTNotifier_Topic(t *testing.T) {
	n := NewMQTTNotifier(nil, "dispatch/vendors")
	assert.Equal(t, "dispatch/vendors/v9/courier_accepted", n.Topic(Event{Kind: EventCourierAccepted, VendorID: "v9"}))
	assert.Equal(t, "dispatch/vendors/_/no_courier_found", n.Topic(Event{Kind: EventNoCourierFound}))
}
