//go:build integration

package integration_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/adapter/kafka"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/aggregator"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/domain"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/observability"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store/memstore"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/trigger"
)

const testChangesTopic = "test-hazard-changes"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("hazard-monitor-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	ctrl, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     3,
		ReplicationFactor: 1,
	}))
}

// TestKafkaRelay_EndToEnd drives a persisted event through the store change
// feed, the Kafka relay, and the consumer-side dispatcher into the aggregator.
func TestKafkaRelay_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testChangesTopic)

	st := memstore.New(0)
	metrics := observability.NewMetricsForTesting()

	writer := kafka.NewWriter([]string{broker}, testChangesTopic, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })
	reader := kafka.NewReader([]string{broker}, testChangesTopic,
		fmt.Sprintf("test-aggregator-%d", time.Now().UnixNano()), discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	onlyEvents := func(path string) bool {
		_, _, _, ok := domain.ParseEventPath(path)
		return ok
	}
	relay := trigger.NewRelay(st.Changes(), writer, onlyEvents, discardLogger(), metrics)
	agg := aggregator.New(st, discardLogger(), metrics)
	dispatcher := trigger.NewDispatcher(reader, agg.HandleChange, 0, discardLogger(), metrics)

	go func() { _ = relay.Run(ctx) }()
	go func() { _ = dispatcher.Run(ctx) }()

	sitePath := "wrecks/w-1"
	require.NoError(t, st.Merge(ctx, sitePath, store.Document{"name": "SS Example", "lat": 34.05, "lon": -118.25}))

	event, err := store.Encode(domain.NormalizedHazardEvent{
		Source:      "usgs",
		EventID:     "eq1",
		MetricValue: 0.2244,
		Threshold:   0.10,
		Exceeded:    true,
		Message:     "M6.5 earthquake 50 km from site",
	})
	require.NoError(t, err)
	require.NoError(t, st.Merge(ctx, domain.EventPath(sitePath, domain.HazardEarthquakes, "eq1"), event))

	require.Eventually(t, func() bool {
		site, err := st.Get(ctx, sitePath)
		if err != nil {
			return false
		}
		alerts, _ := site["alerts"].([]any)
		return len(alerts) == 1
	}, 90*time.Second, 250*time.Millisecond, "alert should arrive through kafka")

	site, err := st.Get(ctx, sitePath)
	require.NoError(t, err)
	assert.Equal(t, true, site["needsReassessment"])
}
