package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/pipecheck/pkg/requirement"
)

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "ExamplePipeline")

	assert.NotNil(t, w)
	assert.Equal(t, "run-123", w.runID)
	assert.Equal(t, "ExamplePipeline", w.pipeline)
}

func TestJSONLWriter_WriteRequirement(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "ExamplePipeline")

	rec := &RequirementRecord{
		Step:    "P1",
		Name:    "pipen",
		Status:  requirement.StatusError,
		Message: "Run `pip install -U pipen` to install",
		Check:   `python3 -c "import pipen"`,
		Error:   "ModuleNotFoundError",
	}

	err := w.WriteRequirement(context.Background(), rec)
	require.NoError(t, err)

	var record Record
	err = json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)

	assert.Equal(t, TypeRequirement, record.Type)
	assert.Equal(t, "run-123", record.RunID)
	assert.Equal(t, "ExamplePipeline", record.Pipeline)
	assert.False(t, record.TS.IsZero())

	var data RequirementRecord
	err = json.Unmarshal(record.Data, &data)
	require.NoError(t, err)
	assert.Equal(t, *rec, data)
}

func TestJSONLWriter_WriteStepAndPlan(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "p")
	ctx := context.Background()

	require.NoError(t, w.WriteStep(ctx, &StepRecord{Step: "P2", Status: requirement.StatusSkipping}))
	require.NoError(t, w.WritePlan(ctx, &PlanRecord{Step: "P1", Requirements: []requirement.Requirement{{Name: "a", Check: "true"}}}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var step, plan Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &step))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &plan))
	assert.Equal(t, TypeStep, step.Type)
	assert.Equal(t, TypePlan, plan.Type)
	assert.Contains(t, string(step.Data), `"status":"skipping"`)
}

func TestJSONLWriter_WriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "p")

	errRec := &ErrorRecord{
		Code:    ErrCodeFormat,
		Message: "missing required key 'name'",
		Step:    "P1",
	}

	err := w.WriteError(context.Background(), errRec)
	require.NoError(t, err)

	var record Record
	err = json.Unmarshal(buf.Bytes(), &record)
	require.NoError(t, err)
	assert.Equal(t, TypeError, record.Type)

	var errData ErrorRecord
	err = json.Unmarshal(record.Data, &errData)
	require.NoError(t, err)
	assert.Equal(t, ErrCodeFormat, errData.Code)
	assert.Equal(t, "P1", errData.Step)
}

func TestJSONLWriter_NewlineTerminated(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "p")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteRequirement(ctx, &RequirementRecord{Step: "P1", Name: "r", Status: requirement.StatusSuccess}))
	}

	out := buf.String()
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.Equal(t, 3, strings.Count(out, "\n"))
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "p")

	require.NoError(t, w.Close())

	err := w.WriteSummary(context.Background(), &SummaryRecord{})
	assert.ErrorIs(t, err, ErrWriterClosed)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "p")

	const goroutines = 10
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				_ = w.WriteRequirement(context.Background(), &RequirementRecord{
					Step:   "P1",
					Name:   "concurrent",
					Status: requirement.StatusSuccess,
					Check:  strings.Repeat("x", 100),
				})
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, goroutines*perGoroutine)
	for _, line := range lines {
		var record Record
		require.NoError(t, json.Unmarshal([]byte(line), &record), "line should be valid JSON: %s", line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "p")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteRequirement(ctx, &RequirementRecord{Name: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	failWriter := &failingWriter{err: errors.New("disk full")}
	w := NewJSONLWriter(failWriter, "run-123", "p")

	err := w.WriteSummary(context.Background(), &SummaryRecord{})
	require.Error(t, err)

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "write", we.Op)
	assert.Contains(t, err.Error(), "disk full")
}

type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	shortWriter := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(shortWriter, "run-123", "p")

	err := w.WriteRequirement(context.Background(), &RequirementRecord{Step: "P1", Name: "pipen", Check: "true"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(shortWriter.buf.String()), "\n")
	assert.Len(t, lines, 1)

	var record Record
	err = json.Unmarshal([]byte(lines[0]), &record)
	assert.NoError(t, err, "output should be valid JSON despite short writes")
	assert.Equal(t, TypeRequirement, record.Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(&zeroWriteWriter{}, "run-123", "p")

	err := w.WriteStep(context.Background(), &StepRecord{Step: "P2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// shortWriteWriter writes at most bytesPerWrite bytes per call.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

// zeroWriteWriter always returns 0 bytes written with nil error.
type zeroWriteWriter struct{}

func (zw *zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestRequirementRecord_OmitEmpty(t *testing.T) {
	data, err := json.Marshal(RequirementRecord{Step: "P1", Name: "a", Check: "true", Status: requirement.StatusSuccess})
	require.NoError(t, err)

	assert.NotContains(t, string(data), "message")
	assert.NotContains(t, string(data), "condition")
	assert.NotContains(t, string(data), "error")
}

var resultSteps = []requirement.StepRequirements{
	{
		Step: "P1",
		Requirements: []requirement.Requirement{
			{Name: "ok", Check: "true"},
			{Name: "bad", Message: "install bad", Check: "false"},
			{Name: "gated", Check: "true", Condition: "false"},
		},
	},
	{Step: "P2", Summary: "nothing"},
}

func resultSnapshot() requirement.Snapshot {
	return requirement.Snapshot{
		Keys: []string{"P1/ok", "P1/bad", "P1/gated", "P2"},
		Statuses: map[string]requirement.Status{
			"P1/ok":    requirement.StatusSuccess,
			"P1/bad":   requirement.StatusError,
			"P1/gated": requirement.StatusIfSkipped,
			"P2":       requirement.StatusSkipping,
		},
		Errors: map[string]string{"P1/bad": "command exited with status 1"},
	}
}

func TestSummarize(t *testing.T) {
	sum := Summarize(resultSteps, resultSnapshot(), 1500*time.Millisecond)

	assert.Equal(t, 2, sum.Steps)
	assert.Equal(t, 3, sum.Requirements)
	assert.Equal(t, 1, sum.Success)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.IfSkipped)
	assert.Equal(t, 1, sum.StepsSkipped)
	assert.Equal(t, 0, sum.Unfinished)
	assert.False(t, sum.Passed)
	assert.Equal(t, "1.5s", sum.DurationHuman)
}

func TestSummarize_Unfinished(t *testing.T) {
	snap := requirement.Snapshot{
		Keys:     []string{"P1/ok"},
		Statuses: map[string]requirement.Status{"P1/ok": requirement.StatusChecking},
	}
	sum := Summarize(resultSteps[:1], snap, time.Second)
	assert.Equal(t, 1, sum.Unfinished)
	assert.False(t, sum.Passed)
}

func TestWriteResults(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1", "p")

	require.NoError(t, WriteResults(context.Background(), w, resultSteps, resultSnapshot(), time.Second))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)

	var types []string
	for _, line := range lines {
		var record Record
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		types = append(types, record.Type)
	}
	assert.Equal(t, []string{TypeRequirement, TypeRequirement, TypeRequirement, TypeStep, TypeSummary}, types)

	var bad Record
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &bad))
	var badData RequirementRecord
	require.NoError(t, json.Unmarshal(bad.Data, &badData))
	assert.Equal(t, RequirementRecord{
		Step:    "P1",
		Name:    "bad",
		Status:  requirement.StatusError,
		Message: "install bad",
		Check:   "false",
		Error:   "command exited with status 1",
	}, badData)
}

func TestWritePlan(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1", "p")

	require.NoError(t, WritePlan(context.Background(), w, resultSteps))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"requirements":[]`)
}

func BenchmarkJSONLWriter_WriteRequirement(b *testing.B) {
	w := NewJSONLWriter(io.Discard, "run-123", "p")
	rec := &RequirementRecord{
		Step:   "P1",
		Name:   "pipen",
		Status: requirement.StatusSuccess,
		Check:  `python3 -c "import pipen"`,
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.WriteRequirement(ctx, rec)
	}
}
