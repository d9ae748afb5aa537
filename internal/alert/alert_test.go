package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/muse/pkg/types"
)

func testAlert() types.Alert {
	return types.Alert{
		Level:     types.AlertLevelError,
		RunID:     "run-123",
		Stage:     types.StagePublish,
		Message:   "run stopped early",
		Timestamp: time.Now(),
	}
}

func TestConsoleSink_Send(t *testing.T) {
	var buf bytes.Buffer
	sink := &ConsoleSink{out: &buf}
	assert.Equal(t, "console", sink.Name())

	ctx := context.Background()
	for _, level := range []types.AlertLevel{types.AlertLevelError, types.AlertLevelWarning, types.AlertLevelInfo} {
		a := testAlert()
		a.Level = level
		require.NoError(t, sink.Send(ctx, a))
	}
	require.NoError(t, sink.Send(ctx, types.Alert{Message: "no run"}))

	out := buf.String()
	assert.Contains(t, out, "[run-123/publish] run stopped early")
	assert.Contains(t, out, "no run")
	assert.Equal(t, 4, strings.Count(out, "\n"))
}

func TestWebhookSink_Send_Success(t *testing.T) {
	var got types.Alert
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	alert := testAlert()
	require.NoError(t, NewWebhookSink(ts.URL).Send(context.Background(), alert))
	assert.Equal(t, alert.Message, got.Message)
	assert.Equal(t, alert.RunID, got.RunID)
}

func TestWebhookSink_Send_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	err := NewWebhookSink(ts.URL).Send(context.Background(), testAlert())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestFileSink_Send(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	sink, err := NewFileSink(path)
	require.NoError(t, err)
	assert.Equal(t, "file", sink.Name())

	alert := testAlert()
	require.NoError(t, sink.Send(context.Background(), alert))
	require.NoError(t, sink.Send(context.Background(), alert))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	var got types.Alert
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, alert.Message, got.Message)
}

type mockEventBridge struct {
	putEventsFn func(ctx context.Context, input *eventbridge.PutEventsInput) (*eventbridge.PutEventsOutput, error)
}

func (m *mockEventBridge) PutEvents(ctx context.Context, input *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	return m.putEventsFn(ctx, input)
}

func TestEventBridgeSink_Send(t *testing.T) {
	var captured *eventbridge.PutEventsInput
	client := &mockEventBridge{putEventsFn: func(_ context.Context, in *eventbridge.PutEventsInput) (*eventbridge.PutEventsOutput, error) {
		captured = in
		return &eventbridge.PutEventsOutput{}, nil
	}}

	sink, err := NewEventBridgeSink("muse-bus", "", WithEventBridgeClient(client))
	require.NoError(t, err)
	assert.Equal(t, "eventbridge", sink.Name())
	require.NoError(t, sink.Send(context.Background(), testAlert()))

	require.Len(t, captured.Entries, 1)
	e := captured.Entries[0]
	assert.Equal(t, "muse-bus", aws.ToString(e.EventBusName))
	assert.Equal(t, defaultEventSource, aws.ToString(e.Source))
	assert.Equal(t, eventDetailType, aws.ToString(e.DetailType))

	var detail types.Alert
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(e.Detail)), &detail))
	assert.Equal(t, "run-123", detail.RunID)
}

func TestEventBridgeSink_FailedEntry(t *testing.T) {
	client := &mockEventBridge{putEventsFn: func(context.Context, *eventbridge.PutEventsInput) (*eventbridge.PutEventsOutput, error) {
		return &eventbridge.PutEventsOutput{
			FailedEntryCount: 1,
			Entries: []ebtypes.PutEventsResultEntry{{
				ErrorCode:    aws.String("ThrottlingException"),
				ErrorMessage: aws.String("slow down"),
			}},
		}, nil
	}}

	sink, err := NewEventBridgeSink("", "", WithEventBridgeClient(client))
	require.NoError(t, err)
	err = sink.Send(context.Background(), testAlert())
	assert.ErrorContains(t, err, "ThrottlingException")
}

// errSink is a test sink that always returns an error.
type errSink struct{}

func (s *errSink) Send(_ context.Context, _ types.Alert) error { return fmt.Errorf("sink error") }
func (s *errSink) Name() string                                { return "error-sink" }

// recordSink records all alerts sent to it.
type recordSink struct {
	alerts []types.Alert
}

func (s *recordSink) Send(_ context.Context, a types.Alert) error {
	s.alerts = append(s.alerts, a)
	return nil
}
func (s *recordSink) Name() string { return "record-sink" }

func TestDispatcher_MultiSink(t *testing.T) {
	s1 := &recordSink{}
	s2 := &recordSink{}
	d := &Dispatcher{sinks: []Sink{s1, s2}, logger: slog.Default()}

	alert := testAlert()
	d.AlertFunc()(context.Background(), alert)

	assert.Len(t, s1.alerts, 1)
	assert.Len(t, s2.alerts, 1)
	assert.Equal(t, alert.Message, s1.alerts[0].Message)
}

func TestDispatcher_SinkError_ContinuesOthers(t *testing.T) {
	recording := &recordSink{}
	d, err := NewDispatcher(nil, nil)
	require.NoError(t, err)
	d.AddSink(&errSink{})
	d.AddSink(recording)

	d.Dispatch(context.Background(), testAlert())

	// Even though first sink failed, second should have received the alert
	assert.Len(t, recording.alerts, 1)
}

func TestNewDispatcher_Validation(t *testing.T) {
	_, err := NewDispatcher([]types.AlertConfig{{Type: types.AlertWebhook}}, nil)
	assert.Error(t, err)
	_, err = NewDispatcher([]types.AlertConfig{{Type: types.AlertFile}}, nil)
	assert.Error(t, err)
	_, err = NewDispatcher([]types.AlertConfig{{Type: "pager"}}, nil)
	assert.Error(t, err)

	d, err := NewDispatcher([]types.AlertConfig{{Type: types.AlertConsole}}, nil)
	require.NoError(t, err)
	assert.Len(t, d.sinks, 1)
}
