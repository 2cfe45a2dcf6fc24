package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duoexplain/internal/analyzer"
	"github.com/duoexplain/internal/mockanalyzer"
	"github.com/duoexplain/internal/retry"
	"github.com/duoexplain/internal/reveal"
	"github.com/duoexplain/internal/session"
	"github.com/duoexplain/pkg/models"
)

const snippet = "xs = [1, 2]\nfor i in range(len(xs)+1):\n    print(xs[i])\n"

type flakyAnalyzer struct {
	failures int
	calls    int
}

func (a *flakyAnalyzer) Analyze(_ context.Context, code string) (*models.AnalysisResult, error) {
	a.calls++
	if a.calls <= a.failures {
		return nil, &analyzer.ServerError{StatusCode: 503, Message: "warming up"}
	}
	return mockanalyzer.BuildAnalysis(code), nil
}

func fastScheduler() *reveal.Scheduler {
	return reveal.NewScheduler(reveal.Config{InitialDelay: time.Millisecond, TickInterval: time.Millisecond})
}

func quickRetries(n int) retry.RetryConfig {
	cfg := retry.DefaultRetryConfig()
	cfg.MaxRetries = n
	cfg.BaseDelay = time.Millisecond
	cfg.LogRetries = false
	return cfg
}

func TestExplain_TextAgainstMockServer(t *testing.T) {
	ts := httptest.NewServer(mockanalyzer.NewServer(0, 0).Handler())
	defer ts.Close()

	sess := session.New(analyzer.NewClient(analyzer.Config{BaseURL: ts.URL}), fastScheduler())
	defer sess.Close()

	var out bytes.Buffer
	require.NoError(t, explain(context.Background(), sess, snippet, quickRetries(0), "text", &out))

	text := out.String()
	assert.Contains(t, text, "2 ▶ for i in range(len(xs)+1):")
	assert.Contains(t, text, "[3/3] Iterate up to len(xs)-1 or loop over the values directly.")
	assert.Contains(t, text, "patch: for i in range(len(xs)):")
	assert.Equal(t, 2, strings.Count(text, "fix:"))
}

func TestExplain_JSONOutput(t *testing.T) {
	sess := session.New(&flakyAnalyzer{}, fastScheduler())
	defer sess.Close()

	var out bytes.Buffer
	require.NoError(t, explain(context.Background(), sess, snippet, quickRetries(0), "json", &out))

	var msg models.Message
	require.NoError(t, json.Unmarshal(out.Bytes(), &msg))
	assert.Equal(t, models.RoleAssistant, msg.Role)
	require.NotNil(t, msg.Progress)
	assert.Equal(t, models.RevealProgress{RuleRevealed: 3, LLMRevealed: 3}, *msg.Progress)
}

func TestExplain_RetriesThroughRegenerate(t *testing.T) {
	a := &flakyAnalyzer{failures: 2}
	sess := session.New(a, fastScheduler())
	defer sess.Close()

	var out bytes.Buffer
	require.NoError(t, explain(context.Background(), sess, snippet, quickRetries(2), "json", &out))
	assert.Equal(t, 3, a.calls)

	messages := sess.Transcript().Snapshot()
	require.Len(t, messages, 4)
	assert.Equal(t, snippet, messages[2].Text)
	assert.True(t, messages[3].IsAssistant())
}

func TestExplain_FailureIsReported(t *testing.T) {
	sess := session.New(&flakyAnalyzer{failures: 5}, fastScheduler())
	defer sess.Close()

	var out bytes.Buffer
	err := explain(context.Background(), sess, snippet, quickRetries(1), "text", &out)
	require.Error(t, err)

	var serverErr *analyzer.ServerError
	assert.True(t, errors.As(err, &serverErr))
	assert.Contains(t, out.String(), "✗ warming up")
}

func TestReadSnippet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.py")
	require.NoError(t, os.WriteFile(path, []byte(snippet), 0644))

	code, err := readSnippet(path, nil)
	require.NoError(t, err)
	assert.Equal(t, snippet, code)

	code, err = readSnippet("-", strings.NewReader("print(1)"))
	require.NoError(t, err)
	assert.Equal(t, "print(1)", code)

	_, err = readSnippet("", strings.NewReader("  \n"))
	assert.ErrorIs(t, err, session.ErrEmptySubmission)
}
