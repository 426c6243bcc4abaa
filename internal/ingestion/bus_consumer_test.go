package ingestion

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
)

func TestDetermineAckNakAction(t *testing.T) {
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second
	maxDeliver := 5

	retryable := apperrors.NewRetryable(errors.New("db down"), "insert failed")
	fatal := apperrors.NewFatal(errors.New("bad json"), "unmarshal failed")

	tests := []struct {
		name         string
		err          error
		numDelivered uint64
		wantAction   AckNakAction
		wantDelay    time.Duration
	}{
		{"success acks", nil, 1, ActionAck, 0},
		{"retryable first attempt naks with base delay", retryable, 1, ActionNakDelay, 1 * time.Second},
		{"retryable second attempt doubles delay", retryable, 2, ActionNakDelay, 2 * time.Second},
		{"retryable fourth attempt keeps doubling", retryable, 4, ActionNakDelay, 8 * time.Second},
		{"delay capped at max", retryable, 4, ActionNakDelay, 8 * time.Second},
		{"retryable at max deliver goes to dlq", retryable, 5, ActionDLQ, 0},
		{"retryable beyond max deliver goes to dlq", retryable, 7, ActionDLQ, 0},
		{"fatal goes straight to dlq", fatal, 1, ActionDLQ, 0},
		{"plain error treated as fatal", errors.New("unclassified"), 1, ActionDLQ, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metadata := &nats.MsgMetadata{NumDelivered: tt.numDelivered}
			action, delay := determineAckNakAction(tt.err, metadata, maxDeliver, baseDelay, maxDelay)
			assert.Equal(t, tt.wantAction, action)
			assert.Equal(t, tt.wantDelay, delay)
		})
	}
}

func TestDetermineAckNakAction_DelayCap(t *testing.T) {
	retryable := apperrors.NewRetryable(errors.New("timeout"), "platform timeout")
	metadata := &nats.MsgMetadata{NumDelivered: 9}
	action, delay := determineAckNakAction(retryable, metadata, 20, 1*time.Second, 30*time.Second)
	assert.Equal(t, ActionNakDelay, action)
	assert.Equal(t, 30*time.Second, delay)
}

func TestModifySubjects(t *testing.T) {
	streamSubjects, consumerSubjects := modifySubjects([]string{"v1.bus.message", "v1.bus.contact"}, "clinic-test-123")
	assert.Equal(t, []string{"v1.bus.message.*", "v1.bus.contact.*"}, streamSubjects)
	assert.Equal(t, []string{"v1.bus.message.clinic-test-123", "v1.bus.contact.clinic-test-123"}, consumerSubjects)
}
