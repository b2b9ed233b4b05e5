package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/eventsphere/internal/jobs"
	"github.com/your-org/eventsphere/pkg/kafka"
)

type fakeProducer struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (f *fakeProducer) Publish(_ context.Context, msg kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.Offset = int64(len(f.msgs))
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeProducer) Close(context.Context) error { return nil }

type replayConsumer struct {
	msgs []kafka.Message
}

func (r *replayConsumer) Run(ctx context.Context, fn func(context.Context, kafka.Message) error) error {
	for _, m := range r.msgs {
		if err := fn(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *replayConsumer) Close() error { return nil }

func TestKafkaRoundTrip(t *testing.T) {
	prod := &fakeProducer{}
	k := &Kafka{producer: prod, logger: zap.NewNop()}

	ctx := context.Background()
	for i, typ := range []jobs.Type{jobs.TypeWelcome, jobs.TypeEventUpdate, jobs.TypeWelcome} {
		job := jobs.Job{ID: string(rune('a' + i)), Type: typ, Payload: json.RawMessage(`{}`), EnqueuedAt: time.Now()}
		if err := k.Publish(ctx, job); err != nil {
			t.Fatal(err)
		}
	}

	if string(prod.msgs[0].Key) != string(jobs.TypeWelcome) || prod.msgs[0].Headers[headerJobID] != "a" {
		t.Fatalf("first message = %+v", prod.msgs[0])
	}

	msgs := append(prod.msgs, kafka.Message{Value: []byte("not json"), Offset: 99})
	k.newConsumer = func() kafkaConsumer { return &replayConsumer{msgs: msgs} }

	var got []string
	err := k.Consume(ctx, func(_ context.Context, job jobs.Job) error {
		got = append(got, job.ID+":"+string(job.Type))
		return nil
	})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	want := []string{"a:welcome", "b:event-update", "c:welcome"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestKafkaConsumeWithoutConfig(t *testing.T) {
	k := &Kafka{producer: &fakeProducer{}, logger: zap.NewNop()}
	if err := k.Consume(context.Background(), nil); err == nil {
		t.Fatal("expected error without consumer config")
	}
}

type fakeBus struct {
	mu       sync.Mutex
	subjects []string
	data     [][]byte
}

func (f *fakeBus) Publish(_ context.Context, subj string, data []byte, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subj)
	f.data = append(f.data, data)
	return nil
}

func (f *fakeBus) Pull(ctx context.Context, subj, durable string, fn func(context.Context, []byte) error) error {
	if subj != "jobs.>" || durable != "worker" {
		return nil
	}
	for _, d := range f.data {
		_ = fn(ctx, d)
	}
	return nil
}

func (f *fakeBus) Close() {}

func TestNATSSubjects(t *testing.T) {
	b := &fakeBus{}
	n := NewNATS(b, "jobs", "worker", zap.NewNop())
	ctx := context.Background()

	if err := n.Publish(ctx, jobs.Job{ID: "1", Type: jobs.TypeCommunityInvite}); err != nil {
		t.Fatal(err)
	}
	if b.subjects[0] != "jobs.community-invite" {
		t.Fatalf("subject = %q", b.subjects[0])
	}

	var seen []jobs.Type
	if err := n.Consume(ctx, func(_ context.Context, job jobs.Job) error {
		seen = append(seen, job.Type)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != jobs.TypeCommunityInvite {
		t.Fatalf("seen = %v", seen)
	}
}
