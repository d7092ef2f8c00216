package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dev/bravebird/frontend-verify/pkg/browser"
	"dev/bravebird/frontend-verify/pkg/models"
)

const fixturePage = `<!DOCTYPE html>
<html>
<head><style>.city-banner { display: block; width: 320px; height: 80px; background: #3498db; }</style></head>
<body>
<ul id="destination-list"></ul>
<div id="city-details"></div>
<script>
const mode = %q;
const cities = mode === "missing"
	? [{ name: "Glasgow" }, { name: "Dublin" }]
	: [{ name: "Dublin" }, { name: "Edinburgh" }];
const description = "Volcanic landmarks: Castle Rock and Arthur's Seat.";

function renderDetails(city) {
	const banner = mode === "nobanner" ? "" : '<img class="city-banner" alt="' + city.name + ' Banner">';
	const text = mode === "notext" ? "<p>Nothing to see here.</p>" : "<p>" + description + "</p><h2>Historical Context</h2><p>" + description + "</p>";
	document.getElementById("city-details").innerHTML = banner + "<h2>" + city.name + "</h2>" + text;
}

// Render late so the locator has to wait for the list.
setTimeout(() => {
	const list = document.getElementById("destination-list");
	cities.forEach((city) => {
		const li = document.createElement("li");
		li.className = "destination-item";
		li.innerHTML = "<h3>" + city.name + "</h3>";
		li.addEventListener("click", () => renderDetails(city));
		list.appendChild(li);
	});
}, 200);
</script>
</body>
</html>`

func requireChromium(t *testing.T) string {
	t.Helper()
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no local Chromium found")
	}
	return bin
}

func newFixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, fixturePage, r.URL.Query().Get("mode"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fastPlan is the default plan pointed at url, with shorter waits
func fastPlan(url, screenshot string) models.Plan {
	plan := models.DefaultPlan()
	plan.DefaultTimeout = 2 * time.Second
	for i := range plan.Steps {
		switch plan.Steps[i].Type {
		case models.StepNavigate:
			plan.Steps[i].URL = url
		case models.StepScreenshot:
			plan.Steps[i].Path = screenshot
		}
		if plan.Steps[i].Timeout == models.ListItemTimeout {
			plan.Steps[i].Timeout = 3 * time.Second
		}
	}
	return plan
}

func newTestRunner(bin string, out *bytes.Buffer) *Runner {
	return NewRunner(browser.Options{Headless: true, Bin: bin}, nil, out)
}

func TestRunHappyPath(t *testing.T) {
	bin := requireChromium(t)
	srv := newFixtureServer(t)
	shot := filepath.Join(t.TempDir(), "verification_edinburgh.png")

	var out bytes.Buffer
	result, err := newTestRunner(bin, &out).Run(context.Background(), fastPlan(srv.URL, shot))
	require.NoError(t, err)

	assert.Equal(t, models.StatusSuccess, result.Status)
	assert.Equal(t, "Verification successful: Edinburgh found and rendered.\n", out.String())
	assert.Equal(t, shot, result.ScreenshotPath)
	require.Len(t, result.StepResults, 6)
	for i, sr := range result.StepResults {
		assert.Equal(t, i+1, sr.SequenceID)
		assert.Equal(t, models.StatusSuccess, sr.Status)
		assert.Equal(t, result.RunID, sr.RunID)
	}

	data, err := os.ReadFile(shot)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "screenshot must be a PNG")
}

func TestRunAssertionTimeouts(t *testing.T) {
	bin := requireChromium(t)
	srv := newFixtureServer(t)

	tests := []struct {
		mode         string
		failedStep   int
		failedType   models.StepType
		shortestWait time.Duration
	}{
		{mode: "missing", failedStep: 2, failedType: models.StepExpectVisible, shortestWait: 3 * time.Second},
		{mode: "nobanner", failedStep: 4, failedType: models.StepExpectVisible, shortestWait: 2 * time.Second},
		{mode: "notext", failedStep: 5, failedType: models.StepExpectText, shortestWait: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			shot := filepath.Join(t.TempDir(), "verification_edinburgh.png")
			var out bytes.Buffer

			started := time.Now()
			result, err := newTestRunner(bin, &out).Run(context.Background(), fastPlan(srv.URL+"/?mode="+tt.mode, shot))
			require.Error(t, err)

			assert.True(t, errors.Is(err, ErrAssertionTimeout), "got %v", err)
			var timeoutErr *AssertionTimeoutError
			require.True(t, errors.As(err, &timeoutErr))
			assert.Equal(t, tt.failedType, timeoutErr.Step.Type)
			assert.GreaterOrEqual(t, time.Since(started), tt.shortestWait)

			assert.Equal(t, models.StatusFailed, result.Status)
			require.Len(t, result.StepResults, tt.failedStep)
			last := result.StepResults[tt.failedStep-1]
			assert.Equal(t, models.StatusFailed, last.Status)
			assert.Equal(t, KindAssertionTimeout, last.ErrorKind)

			assert.Empty(t, out.String())
			_, statErr := os.Stat(shot)
			assert.True(t, os.IsNotExist(statErr), "no screenshot on failure")
		})
	}
}

func TestRunServerUnreachable(t *testing.T) {
	bin := requireChromium(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + l.Addr().String()
	require.NoError(t, l.Close())

	shot := filepath.Join(t.TempDir(), "verification_edinburgh.png")
	var out bytes.Buffer
	result, err := newTestRunner(bin, &out).Run(context.Background(), fastPlan(url, shot))
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrAutomation), "got %v", err)
	assert.False(t, errors.Is(err, ErrAssertionTimeout))
	require.Len(t, result.StepResults, 1, "later steps must not run")
	assert.Equal(t, models.StepNavigate, result.StepResults[0].StepType)
	assert.Equal(t, KindAutomation, result.StepResults[0].ErrorKind)
	assert.Empty(t, out.String())
}

func TestRunIsRepeatable(t *testing.T) {
	bin := requireChromium(t)
	srv := newFixtureServer(t)
	shot := filepath.Join(t.TempDir(), "verification_edinburgh.png")
	plan := fastPlan(srv.URL, shot)

	for i := 0; i < 2; i++ {
		var out bytes.Buffer
		result, err := newTestRunner(bin, &out).Run(context.Background(), plan)
		require.NoError(t, err, "run %d", i+1)
		assert.Equal(t, models.StatusSuccess, result.Status)
		assert.Equal(t, shot, result.ScreenshotPath)
	}

	entries, err := os.ReadDir(filepath.Dir(shot))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "second run overwrites the same file")
}

func TestRunLaunchFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	r := NewRunner(browser.Options{Headless: true, Bin: "/nonexistent/chromium"}, nil, nil)
	result, err := r.Run(ctx, models.DefaultPlan())
	require.Error(t, err)

	var autoErr *AutomationError
	require.True(t, errors.As(err, &autoErr))
	assert.Equal(t, stepLaunch, autoErr.Step.Type)
	assert.Empty(t, result.StepResults)
	assert.Equal(t, models.StatusFailed, result.Status)
}

func TestRunRejectsInvalidPlan(t *testing.T) {
	r := NewRunner(browser.DefaultOptions(), nil, nil)
	result, err := r.Run(context.Background(), models.Plan{Name: "empty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid plan")
	assert.Equal(t, "", Kind(err))
	assert.Equal(t, models.StatusFailed, result.Status)
}

func TestRunLogsFailureOnce(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	var out bytes.Buffer
	r := NewRunner(browser.Options{Headless: true, Bin: "/nonexistent/chromium"}, zap.New(core), &out)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := r.Run(ctx, models.DefaultPlan())
	require.Error(t, err)

	entries := logs.FilterMessage("Verification failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, KindAutomation, entries[0].ContextMap()["kind"])
	assert.Equal(t, err.Error(), entries[0].ContextMap()["error"])
	assert.Empty(t, out.String(), "nothing but the success line goes to out")
}
