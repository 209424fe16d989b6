package jobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/campusdesk/campusdesk/internal/jobs"
	"github.com/campusdesk/campusdesk/internal/upstream"
)

func TestFinalAttemptCompletesInsteadOfArchiving(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	client, err := upstream.NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	job := NewUpstreamLogoutJob(client, nil, jobmetrics.NewMetrics(reg))
	task, err := NewUpstreamLogoutTask(UpstreamLogoutPayload{
		SessionID: "sess-9",
		Cookies:   []UpstreamCookie{{Name: "token", Value: "live"}},
	})
	require.NoError(t, err)

	require.Error(t, job.Handle(context.Background(), task))

	job.finalAttempt = func(context.Context) bool { return true }
	require.NoError(t, job.Handle(context.Background(), task))

	expected := `
# HELP campusdesk_jobs_total Task runs by task type and outcome.
# TYPE campusdesk_jobs_total counter
campusdesk_jobs_total{job="session:upstream_logout",outcome="dropped"} 1
campusdesk_jobs_total{job="session:upstream_logout",outcome="retry"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "campusdesk_jobs_total"))
}
