package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTaskStatus(t *testing.T) {
	before := testutil.ToFloat64(tasksTotal.WithLabelValues("XGB_TRAINING", "SUCCESS"))
	RecordTaskStatus("XGB_TRAINING", "SUCCESS")
	RecordTaskStatus("XGB_TRAINING", "SUCCESS")
	assert.Equal(t, before+2, testutil.ToFloat64(tasksTotal.WithLabelValues("XGB_TRAINING", "SUCCESS")))
}

func TestRecordMessage(t *testing.T) {
	msgs := testutil.ToFloat64(transportMessages.WithLabelValues(DirectionPush))
	bytes := testutil.ToFloat64(transportBytes.WithLabelValues(DirectionPush))

	RecordMessage(DirectionPush, 128)

	assert.Equal(t, msgs+1, testutil.ToFloat64(transportMessages.WithLabelValues(DirectionPush)))
	assert.Equal(t, bytes+128, testutil.ToFloat64(transportBytes.WithLabelValues(DirectionPush)))
}

func TestRecordDurations(t *testing.T) {
	RecordTaskDuration("XGB_PREDICTING", 2*time.Second)
	RecordHandshake(50 * time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(handshakeDuration))
}
