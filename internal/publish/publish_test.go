package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "signalpulse/config"
	"signalpulse/models"
)

func sampleReport() models.ScanReport {
	return models.ScanReport{
		ScanID:      "scan-1",
		SessionID:   "sess-1",
		Venue:       models.VenueBybit,
		Symbols:     2,
		Results:     []models.ScanResult{{Symbol: "BTC/USDT:USDT", Side: models.SideLong}},
		Longs:       1,
		Sentiment:   100,
		CompletedAt: time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC),
	}
}

type fakeSink struct {
	name string
	err  error

	mu      sync.Mutex
	got     []models.ScanReport
	closed  bool
	started chan struct{}
	release chan struct{}
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Publish(_ context.Context, r models.ScanReport) error {
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, r)
	return f.err
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

type outcomes struct {
	mu  sync.Mutex
	got map[string]int
}

func (o *outcomes) ObservePublish(sink, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.got == nil {
		o.got = map[string]int{}
	}
	o.got[sink+":"+outcome]++
}

func (o *outcomes) get(key string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.got[key]
}

func TestDispatcherDeliversToAllSinks(t *testing.T) {
	good := &fakeSink{name: "good"}
	bad := &fakeSink{name: "bad", err: errors.New("boom")}
	obs := &outcomes{}
	d := NewDispatcher(4, obs, good, bad)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	require.Error(t, d.Start(ctx))

	require.NoError(t, d.Enqueue(sampleReport()))
	require.NoError(t, d.Enqueue(sampleReport()))
	cancel()
	d.Stop()

	assert.Equal(t, 2, good.count())
	assert.Equal(t, 2, bad.count())
	assert.Equal(t, 2, obs.get("good:ok"))
	assert.Equal(t, 2, obs.get("bad:error"))
	assert.True(t, good.closed)
	assert.ErrorIs(t, d.Enqueue(sampleReport()), ErrNotRunning)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	slow := &fakeSink{name: "slow", started: make(chan struct{}), release: make(chan struct{})}
	obs := &outcomes{}
	d := NewDispatcher(1, obs, slow)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))

	require.NoError(t, d.Enqueue(sampleReport()))
	<-slow.started
	require.NoError(t, d.Enqueue(sampleReport()))
	require.NoError(t, d.Enqueue(sampleReport()))
	assert.Equal(t, 1, obs.get("slow:dropped"))

	go func() {
		for range slow.started {
		}
	}()
	close(slow.release)
	cancel()
	d.Stop()
	close(slow.started)
	assert.Equal(t, 2, slow.count())
}

func TestDispatcherWithoutSinksIsNoop(t *testing.T) {
	d := NewDispatcher(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	assert.NoError(t, d.Enqueue(sampleReport()))
	cancel()
	d.Stop()
	assert.Empty(t, d.Sinks())
}

type fakeKafka struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkPublish(t *testing.T) {
	w := &fakeKafka{}
	ks := &KafkaSink{writer: w, topic: "scan-signals"}

	require.NoError(t, ks.Publish(context.Background(), sampleReport()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "bybit", string(w.msgs[0].Key))

	var decoded models.ScanReport
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "scan-1", decoded.ScanID)
	assert.Equal(t, "scan_id", w.msgs[0].Headers[0].Key)

	require.NoError(t, ks.Close())
	assert.True(t, w.closed)
}

func TestNewKafkaSinkRequiresBrokers(t *testing.T) {
	_, err := NewKafkaSink(appconfigKafka(nil, "t"))
	assert.Error(t, err)
	_, err = NewKafkaSink(appconfigKafka([]string{"localhost:9092"}, ""))
	assert.Error(t, err)
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "signals/bybit/2025/03/07/scan-1.json", ObjectKey("signals", sampleReport()))
	assert.Equal(t, "bybit/2025/03/07/scan-1.json", ObjectKey("", sampleReport()))
}

func TestS3SinkPublish(t *testing.T) {
	p := &fakePutter{}
	sink := &S3Sink{client: p, bucket: "pulse", prefix: "signals"}

	require.NoError(t, sink.Publish(context.Background(), sampleReport()))
	assert.Equal(t, "pulse", aws.ToString(p.input.Bucket))
	assert.Equal(t, "signals/bybit/2025/03/07/scan-1.json", aws.ToString(p.input.Key))
	assert.Equal(t, "application/json", aws.ToString(p.input.ContentType))
	assert.Contains(t, string(p.body), `"scan_id":"scan-1"`)

	p.err = errors.New("denied")
	assert.ErrorContains(t, sink.Publish(context.Background(), sampleReport()), "pulse")
}

func appconfigKafka(brokers []string, topic string) appconfig.KafkaConfig {
	return appconfig.KafkaConfig{Enabled: true, Brokers: brokers, Topic: topic}
}
