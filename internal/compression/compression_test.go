package compression

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/bft-labs/notibatch/internal/domain"
)

func batchOf(n int, payload string) []domain.Message {
	out := make([]domain.Message, n)
	for i := range out {
		out[i] = domain.Message{Kind: "notification", Payload: payload, Priority: 1, Recipient: "u1"}
	}
	return out
}

func TestShouldAttempt(t *testing.T) {
	tests := []struct {
		size int
		want bool
	}{
		{0, false},
		{ThresholdBytes, false},
		{ThresholdBytes + 1, true},
	}
	for _, tt := range tests {
		if got := ShouldAttempt(tt.size); got != tt.want {
			t.Errorf("ShouldAttempt(%d) = %v, want %v", tt.size, got, tt.want)
		}
	}
}

func TestCodecs_RoundTrip(t *testing.T) {
	src, err := json.Marshal(batchOf(20, strings.Repeat("hello ", 20)))
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{CodecZstd, CodecS2, CodecGzip, CodecKeys} {
		t.Run(name, func(t *testing.T) {
			codec, err := ByName(name)
			if err != nil {
				t.Fatalf("ByName(%q) error = %v", name, err)
			}
			if codec.Name() != name {
				t.Errorf("Name() = %q, want %q", codec.Name(), name)
			}

			compressed, err := codec.Compress(src)
			if err != nil {
				t.Fatalf("Compress() error = %v", err)
			}
			if len(compressed) >= len(src) {
				t.Errorf("Compress() produced %d bytes from %d", len(compressed), len(src))
			}

			out, err := codec.Decompress(compressed)
			if err != nil {
				t.Fatalf("Decompress() error = %v", err)
			}
			if name == CodecKeys {
				// Key order is not preserved through a JSON map; compare decoded values.
				var a, b any
				_ = json.Unmarshal(src, &a)
				_ = json.Unmarshal(out, &b)
				ja, _ := json.Marshal(a)
				jb, _ := json.Marshal(b)
				if !bytes.Equal(ja, jb) {
					t.Errorf("round trip mismatch:\n%s\n%s", ja, jb)
				}
				return
			}
			if !bytes.Equal(out, src) {
				t.Error("round trip mismatch")
			}
		})
	}
}

func TestByName_Unknown(t *testing.T) {
	if _, err := ByName("lz77"); err == nil {
		t.Error("ByName(lz77) error = nil, want error")
	}
}

func TestEvaluator_SmallBatchNotAttempted(t *testing.T) {
	ev := NewEvaluator(S2{})
	res, err := ev.Evaluate(batchOf(2, "hi"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Worthwhile || res.CompressedSize != 0 {
		t.Errorf("small batch result = %+v, want not attempted", res)
	}
	if res.Ratio() != 1 {
		t.Errorf("Ratio() = %v, want 1", res.Ratio())
	}
}

func TestEvaluator_RepetitiveBatchWorthwhile(t *testing.T) {
	codec, err := NewZstd()
	if err != nil {
		t.Fatal(err)
	}
	res, err := NewEvaluator(codec).Evaluate(batchOf(50, strings.Repeat("abc", 30)))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Worthwhile {
		t.Errorf("Evaluate() = %+v, want worthwhile", res)
	}
	if res.Ratio() >= MinWorthwhileRatio {
		t.Errorf("Ratio() = %v, want < %v", res.Ratio(), MinWorthwhileRatio)
	}
}

type inflatingCodec struct{}

func (inflatingCodec) Name() string                        { return "inflate" }
func (inflatingCodec) Compress(src []byte) ([]byte, error) { return append(src, src...), nil }
func (inflatingCodec) Decompress(src []byte) ([]byte, error) {
	return src[:len(src)/2], nil
}

func TestEvaluator_NotWorthwhile(t *testing.T) {
	res, err := NewEvaluator(inflatingCodec{}).Evaluate(batchOf(30, "x"))
	if err != nil {
		t.Fatal(err)
	}
	if res.OriginalSize <= ThresholdBytes {
		t.Fatalf("fixture too small: %d bytes", res.OriginalSize)
	}
	if res.Worthwhile {
		t.Error("inflating codec judged worthwhile")
	}
}

type failingCodec struct{}

var errCodec = errors.New("codec broke")

func (failingCodec) Name() string                          { return "fail" }
func (failingCodec) Compress([]byte) ([]byte, error)       { return nil, errCodec }
func (failingCodec) Decompress(src []byte) ([]byte, error) { return src, nil }

func TestEvaluator_CodecError(t *testing.T) {
	_, err := NewEvaluator(failingCodec{}).Evaluate(batchOf(30, "x"))
	if !errors.Is(err, errCodec) {
		t.Errorf("Evaluate() error = %v, want wrapped codec error", err)
	}
}
