package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/logsift/logsift/internal/parse"
	"github.com/logsift/logsift/internal/progress"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// validLine builds a parseable log line whose resource encodes its position,
// so order checks can recover the original line number.
func validLine(i int) string {
	return fmt.Sprintf(`10.0.0.%d [%02d:%02d:%02d:%02d] "GET /r%d HTTP/1.0" 200 %d`,
		i%250+1, i%28+1, i%24, (i/60)%60, i%60, i, 100+i)
}

func validInput(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString(validLine(i))
		sb.WriteByte('\n')
	}
	return sb.String()
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) Events() []progress.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestParsePreservesInputOrder(t *testing.T) {
	t.Parallel()

	const n = 10_000
	cfg := Config{Workers: 8, ChunkSize: 64, MaxFailureRatio: 0}

	res, err := Parse(context.Background(), strings.NewReader(validInput(n)), cfg)
	require.NoError(t, err)
	require.Equal(t, n, res.Table.Len())
	require.Empty(t, res.Failures)
	assert.Equal(t, int64(n), res.Lines)

	for i := 0; i < n; i++ {
		rec := res.Table.Record(i)
		if rec.Resource != fmt.Sprintf("/r%d", i) {
			t.Fatalf("record %d out of order: resource %q", i, rec.Resource)
		}
	}
}

func TestParseCollectsFailuresWithLineNumbers(t *testing.T) {
	t.Parallel()

	lines := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		lines = append(lines, validLine(i))
	}
	lines[2] = "complete garbage"
	lines[6] = `10.0.0.1 [99:00:00:00] "GET /x HTTP/1.0" 200 17`

	cfg := Config{Workers: 3, ChunkSize: 2, MaxFailureRatio: 1}
	res, err := Parse(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"), cfg)
	require.NoError(t, err)

	require.Equal(t, 8, res.Table.Len())
	require.Len(t, res.Failures, 2)
	assert.Equal(t, int64(10), res.Lines)

	assert.Equal(t, 3, res.Failures[0].Line)
	var malformed *parse.MalformedLineError
	require.ErrorAs(t, res.Failures[0], &malformed)

	assert.Equal(t, 7, res.Failures[1].Line)
	var tsErr *parse.TimestampParseError
	require.ErrorAs(t, res.Failures[1], &tsErr)
}

func TestParseFailureThreshold(t *testing.T) {
	t.Parallel()

	lines := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			lines = append(lines, validLine(i))
		} else {
			lines = append(lines, "bad")
		}
	}
	input := strings.Join(lines, "\n") + "\n"

	_, err := Parse(context.Background(), strings.NewReader(input), Config{
		Workers: 2, ChunkSize: 3, MaxFailureRatio: 0.2,
	})
	var thresholdErr *ThresholdError
	require.ErrorAs(t, err, &thresholdErr)
	assert.Equal(t, int64(10), thresholdErr.Lines)
	assert.Equal(t, int64(5), thresholdErr.Failures)
	assert.InDelta(t, 0.5, thresholdErr.Ratio, 1e-9)
	assert.InDelta(t, 0.2, thresholdErr.Limit, 1e-9)

	// At exactly the limit the parse still succeeds; only exceeding aborts.
	res, err := Parse(context.Background(), strings.NewReader(input), Config{
		Workers: 2, ChunkSize: 3, MaxFailureRatio: 0.5,
	})
	require.NoError(t, err)
	assert.Len(t, res.Failures, 5)
}

func TestParseEmptyInput(t *testing.T) {
	t.Parallel()

	res, err := Parse(context.Background(), strings.NewReader(""), Config{MaxFailureRatio: 0})
	require.NoError(t, err)
	assert.Zero(t, res.Table.Len())
	assert.Empty(t, res.Failures)
	assert.Zero(t, res.Lines)
}

func TestParseScanError(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk gone")
	r := io.MultiReader(strings.NewReader(validInput(5)), iotest.ErrReader(boom))

	_, err := Parse(context.Background(), r, Config{Workers: 2, ChunkSize: 2, MaxFailureRatio: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestParseCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Parse(ctx, strings.NewReader(validInput(1000)), Config{
		Workers: 2, ChunkSize: 10, MaxFailureRatio: 1,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseEmitsChunkEvents(t *testing.T) {
	t.Parallel()

	emitter := &captureEmitter{}
	runID := uuid.New()
	cfg := Config{
		Workers:         4,
		ChunkSize:       32,
		MaxFailureRatio: 0,
		RunID:           [16]byte(runID),
		Emitter:         emitter,
	}

	const n = 200
	res, err := Parse(context.Background(), strings.NewReader(validInput(n)), cfg)
	require.NoError(t, err)
	require.Equal(t, n, res.Table.Len())

	events := emitter.Events()
	require.NotEmpty(t, events)
	var lines, records int64
	for _, evt := range events {
		assert.Equal(t, progress.StageParseChunk, evt.Stage)
		assert.Equal(t, [16]byte(runID), evt.RunID)
		lines += evt.Lines
		records += evt.Records
	}
	assert.Equal(t, int64(n), lines)
	assert.Equal(t, int64(n), records)
}

func TestParseIdempotent(t *testing.T) {
	t.Parallel()

	input := validInput(500)
	cfg := Config{Workers: 4, ChunkSize: 37, MaxFailureRatio: 0}

	first, err := Parse(context.Background(), strings.NewReader(input), cfg)
	require.NoError(t, err)
	second, err := Parse(context.Background(), strings.NewReader(input), cfg)
	require.NoError(t, err)

	require.Equal(t, first.Table.Len(), second.Table.Len())
	for i := 0; i < first.Table.Len(); i++ {
		if !first.Table.Record(i).Equal(second.Table.Record(i)) {
			t.Fatalf("record %d differs between runs", i)
		}
	}
}
