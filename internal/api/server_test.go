package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duoexplain/internal/analyzer"
	"github.com/duoexplain/internal/metrics"
	"github.com/duoexplain/internal/reveal"
	"github.com/duoexplain/internal/session"
	"github.com/duoexplain/pkg/models"
)

type stubAnalyzer struct {
	result *models.AnalysisResult
	err    error
}

func (a *stubAnalyzer) Analyze(context.Context, string) (*models.AnalysisResult, error) {
	return a.result, a.err
}

func testResult() *models.AnalysisResult {
	return &models.AnalysisResult{
		Rule: models.AnalysisChannel{Icon: "R", Title: "Rules", ReasoningSteps: []string{"r1", "r2"}, FixSteps: []string{"f"}},
		LLM:  models.AnalysisChannel{Icon: "L", Title: "Model", ReasoningSteps: []string{"l1"}, FixSteps: []string{}},
	}
}

func newTestServer(t *testing.T, a session.Analyzer, cfg reveal.Config) (*httptest.Server, *session.Session) {
	t.Helper()
	m := metrics.New()
	sess := session.New(a, reveal.NewScheduler(cfg), session.WithObserver(m))
	t.Cleanup(sess.Close)

	ts := httptest.NewServer(NewServer(0, sess, m.Handler()).Handler())
	t.Cleanup(ts.Close)
	return ts, sess
}

func fastReveal() reveal.Config {
	return reveal.Config{InitialDelay: time.Millisecond, TickInterval: time.Millisecond}
}

func slowReveal() reveal.Config {
	return reveal.Config{InitialDelay: time.Hour, TickInterval: time.Hour}
}

func post(t *testing.T, url, body string) (*http.Response, ErrorResponse) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var errResp ErrorResponse
	if resp.StatusCode >= 400 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	}
	return resp, errResp
}

func getTranscript(t *testing.T, baseURL string) TranscriptResponse {
	t.Helper()
	resp, err := http.Get(baseURL + "/api/v1/transcript")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view TranscriptResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	return view
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, &stubAnalyzer{result: testResult()}, fastReveal())

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestSubmission_AcceptedAndRevealed(t *testing.T) {
	ts, sess := newTestServer(t, &stubAnalyzer{result: testResult()}, fastReveal())

	resp, _ := post(t, ts.URL+"/api/v1/submissions", `{"code":"print(xs)"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.Wait(ctx))

	view := getTranscript(t, ts.URL)
	assert.False(t, view.Busy)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "print(xs)", view.Messages[0].Text)
	require.NotNil(t, view.Messages[1].Progress)
	assert.Equal(t, 2, view.Messages[1].Progress.RuleRevealed)
	assert.Equal(t, 1, view.Messages[1].Progress.LLMRevealed)
	assert.True(t, view.Messages[1].Progress.Terminal())
}

func TestSubmission_BadRequests(t *testing.T) {
	ts, _ := newTestServer(t, &stubAnalyzer{result: testResult()}, fastReveal())

	for _, body := range []string{`{"code":"   "}`, `{"code":`, `{}`} {
		resp, errResp := post(t, ts.URL+"/api/v1/submissions", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "bad_request", errResp.Error)
	}
	assert.Empty(t, getTranscript(t, ts.URL).Messages)
}

func TestSubmission_BusyIsConflict(t *testing.T) {
	ts, _ := newTestServer(t, &stubAnalyzer{result: testResult()}, slowReveal())

	resp, _ := post(t, ts.URL+"/api/v1/submissions", `{"code":"a"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, errResp := post(t, ts.URL+"/api/v1/submissions", `{"code":"b"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "busy", errResp.Error)

	view := getTranscript(t, ts.URL)
	assert.True(t, view.Busy)
	assert.Len(t, view.Messages, 2)
}

func TestSubmission_AnalyzerErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"timeout", &analyzer.TimeoutError{Timeout: 15 * time.Second}, http.StatusGatewayTimeout, analyzer.KindTimeout},
		{"network", &analyzer.NetworkError{Err: errors.New("refused")}, http.StatusBadGateway, analyzer.KindNetwork},
		{"server", &analyzer.ServerError{StatusCode: 500, Message: "boom"}, http.StatusBadGateway, analyzer.KindServer},
		{"payload", &analyzer.InvalidPayloadError{Err: errors.New("missing rule")}, http.StatusBadGateway, analyzer.KindInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, _ := newTestServer(t, &stubAnalyzer{err: tt.err}, fastReveal())

			resp, errResp := post(t, ts.URL+"/api/v1/submissions", `{"code":"x"}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.kind, errResp.Error)
			assert.Equal(t, tt.err.Error(), errResp.Message)

			view := getTranscript(t, ts.URL)
			assert.False(t, view.Busy)
			require.Len(t, view.Messages, 1)
			assert.Equal(t, models.RoleUser, view.Messages[0].Role)
		})
	}
}

func TestRegenerate(t *testing.T) {
	ts, sess := newTestServer(t, &stubAnalyzer{result: testResult()}, fastReveal())

	resp, errResp := post(t, ts.URL+"/api/v1/regenerate", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errResp.Error)

	resp, _ = post(t, ts.URL+"/api/v1/submissions", `{"code":"print(x)"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.Wait(ctx))

	resp, _ = post(t, ts.URL+"/api/v1/regenerate", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, sess.Wait(ctx))
	assert.Len(t, getTranscript(t, ts.URL).Messages, 4)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &stubAnalyzer{result: testResult()}, slowReveal())

	post(t, ts.URL+"/api/v1/submissions", `{"code":"a"}`)
	post(t, ts.URL+"/api/v1/submissions", `{"code":"b"}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `duoexplain_submissions_rejected_total{reason="busy"} 1`)
}

func TestTranscriptWebsocket(t *testing.T) {
	ts, _ := newTestServer(t, &stubAnalyzer{result: testResult()}, fastReveal())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/transcript/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var frame TranscriptFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "transcript", frame.Type)
	assert.Empty(t, frame.Messages)

	resp, _ := post(t, ts.URL+"/api/v1/submissions", `{"code":"print(xs)"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// frames keep coming until the reveal is complete and the session is idle
	for {
		frame = TranscriptFrame{}
		require.NoError(t, conn.ReadJSON(&frame))
		if len(frame.Messages) == 2 && !frame.Busy {
			break
		}
	}
	assert.True(t, frame.Messages[1].Progress.Terminal())
}

func TestTranscript_TerminalProgressOnTheWire(t *testing.T) {
	ts, sess := newTestServer(t, &stubAnalyzer{result: testResult()}, fastReveal())

	resp, _ := post(t, ts.URL+"/api/v1/submissions", `{"code":"print(xs)"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.Wait(ctx))

	httpResp, err := http.Get(ts.URL + "/api/v1/transcript")
	require.NoError(t, err)
	defer httpResp.Body.Close()

	var raw struct {
		Messages []map[string]json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&raw))
	require.Len(t, raw.Messages, 2)
	assert.JSONEq(t, `{"rule":2,"llm":1,"active":null}`, string(raw.Messages[1]["progress"]))
}
