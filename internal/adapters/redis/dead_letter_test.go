package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/bft-labs/notibatch/internal/domain"
)

type fakeStream struct {
	added []*redis.XAddArgs
	err   error
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.added = append(f.added, a)
	return redis.NewStringResult("1-0", f.err)
}

func TestDeadLetterStream_AddsEntries(t *testing.T) {
	fake := &fakeStream{}
	sink := NewDeadLetterStream(fake, "", 0)

	msgs := []domain.Message{
		{ID: "a", Kind: "chat", Attempts: 6},
		{ID: "b", Kind: "chat", Attempts: 6},
	}
	if err := sink.DeadLetter(context.Background(), "u1", msgs, errors.New("offline")); err != nil {
		t.Fatalf("DeadLetter: %v", err)
	}

	if len(fake.added) != 2 {
		t.Fatalf("got %d entries, want 2", len(fake.added))
	}
	first := fake.added[0]
	if first.Stream != DefaultStream || first.MaxLen != DefaultMaxLen || !first.Approx {
		t.Errorf("unexpected args: %+v", first)
	}

	values := first.Values.(map[string]any)
	if values["recipient"] != "u1" || values["error"] != "offline" || values["id"] != "a" {
		t.Errorf("unexpected values: %v", values)
	}

	var decoded domain.Message
	if err := json.Unmarshal([]byte(values["message"].(string)), &decoded); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if decoded.Attempts != 6 {
		t.Errorf("Attempts = %d, want 6", decoded.Attempts)
	}
}

func TestDeadLetterStream_JoinsErrors(t *testing.T) {
	down := errors.New("connection refused")
	fake := &fakeStream{err: down}
	sink := NewDeadLetterStream(fake, "custom", 10)

	err := sink.DeadLetter(context.Background(), "u1", []domain.Message{{ID: "a"}, {ID: "b"}}, nil)
	if !errors.Is(err, down) {
		t.Fatalf("err = %v, want wrapped %v", err, down)
	}
	if fake.added[0].Stream != "custom" || fake.added[0].MaxLen != 10 {
		t.Errorf("unexpected args: %+v", fake.added[0])
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	if _, err := Connect(context.Background(), "not a url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}
