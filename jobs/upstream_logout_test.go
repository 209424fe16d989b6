package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusdesk/campusdesk/internal/authz"
	"github.com/campusdesk/campusdesk/internal/console"
	jobmetrics "github.com/campusdesk/campusdesk/internal/jobs"
	"github.com/campusdesk/campusdesk/internal/upstream"
	"github.com/campusdesk/campusdesk/jobs"
	_ "github.com/campusdesk/campusdesk/testing"
)

func logoutServer(t *testing.T, status int) (*upstream.Client, *atomic.Value) {
	t.Helper()
	var seen atomic.Value
	r := chi.NewRouter()
	r.Post("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("token"); err == nil {
			seen.Store(c.Value)
		}
		w.WriteHeader(status)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	client, err := upstream.NewClient(srv.URL, time.Second)
	require.NoError(t, err)
	return client, &seen
}

func TestPayloadFromRequest(t *testing.T) {
	payload := jobs.PayloadFromRequest(console.LogoutRequest{
		SessionID: "sess-1",
		Cookies:   []*http.Cookie{{Name: "token", Value: "abc"}, nil, {Name: ""}},
		Reason:    authz.ReasonIdle,
	})
	assert.Equal(t, "sess-1", payload.SessionID)
	assert.Equal(t, "idle", payload.Reason)
	assert.Equal(t, []jobs.UpstreamCookie{{Name: "token", Value: "abc"}}, payload.Cookies)

	task, err := jobs.NewUpstreamLogoutTask(payload)
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskSessionUpstreamLogout, task.Type())

	var decoded jobs.UpstreamLogoutPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, payload, decoded)
}

func TestUpstreamLogoutJobSendsCookies(t *testing.T) {
	client, seen := logoutServer(t, http.StatusOK)
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := jobs.NewUpstreamLogoutJob(client, nil, metrics)

	task, err := jobs.NewUpstreamLogoutTask(jobs.UpstreamLogoutPayload{
		SessionID: "sess-1",
		Cookies:   []jobs.UpstreamCookie{{Name: "token", Value: "abc"}},
		Reason:    "revalidation",
	})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, "abc", seen.Load())
	assert.Equal(t, 1.0, jobRuns(t, reg, jobmetrics.OutcomeDone))
	count, err := testutil.GatherAndCount(reg, "campusdesk_job_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpstreamLogoutJobTreatsClientErrorsAsDone(t *testing.T) {
	client, _ := logoutServer(t, http.StatusUnauthorized)
	job := jobs.NewUpstreamLogoutJob(client, nil, nil)

	task, err := jobs.NewUpstreamLogoutTask(jobs.UpstreamLogoutPayload{
		SessionID: "sess-2",
		Cookies:   []jobs.UpstreamCookie{{Name: "token", Value: "old"}},
	})
	require.NoError(t, err)
	assert.NoError(t, job.Handle(context.Background(), task))
}

func TestUpstreamLogoutJobRetriesServerErrors(t *testing.T) {
	client, _ := logoutServer(t, http.StatusBadGateway)
	job := jobs.NewUpstreamLogoutJob(client, nil, nil)

	task, err := jobs.NewUpstreamLogoutTask(jobs.UpstreamLogoutPayload{
		SessionID: "sess-3",
		Cookies:   []jobs.UpstreamCookie{{Name: "token", Value: "x"}},
	})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestUpstreamLogoutJobDropsMalformedPayload(t *testing.T) {
	client, _ := logoutServer(t, http.StatusOK)
	reg := prometheus.NewRegistry()
	job := jobs.NewUpstreamLogoutJob(client, nil, jobmetrics.NewMetrics(reg))

	err := job.Handle(context.Background(), asynq.NewTask(jobs.TaskSessionUpstreamLogout, []byte("{")))
	require.NoError(t, err)
	assert.Equal(t, 1.0, jobRuns(t, reg, jobmetrics.OutcomeDropped))
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", jobs.NewHandler(nil, nil).MountRoutes)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusOK, res.Code)
	assert.JSONEq(t, `{"queue":"sessions","pending":0,"retry":0,"archived":0}`, res.Body.String())
}

func TestRetryDelayBacksOffAndCaps(t *testing.T) {
	task := asynq.NewTask(jobs.TaskSessionUpstreamLogout, nil)
	assert.Equal(t, 2*time.Second, jobs.RetryDelay(0, nil, task))
	assert.Equal(t, 4*time.Second, jobs.RetryDelay(1, nil, task))
	assert.Equal(t, 128*time.Second, jobs.RetryDelay(6, nil, task))
	assert.Equal(t, 256*time.Second, jobs.RetryDelay(7, nil, task))
	assert.Equal(t, 5*time.Minute, jobs.RetryDelay(8, nil, task))
	assert.Equal(t, 5*time.Minute, jobs.RetryDelay(40, nil, task))
}

func TestNewWorkerRejectsIncompleteHandlers(t *testing.T) {
	_, err := jobs.NewWorker(jobs.WorkerConfig{})
	require.Error(t, err)

	_, err = jobs.NewWorker(jobs.WorkerConfig{Handlers: []jobs.TaskHandler{{Type: jobs.TaskSessionUpstreamLogout}}})
	require.Error(t, err)
}

func jobRuns(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != "campusdesk_jobs_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
