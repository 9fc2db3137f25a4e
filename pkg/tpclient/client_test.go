package tpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/pkg/middleware/requestid"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func writeData(t *testing.T, w http.ResponseWriter, status int, data interface{}, pagination *models.Pagination) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{"data": data}
	if pagination != nil {
		body["pagination"] = pagination
	}
	assert.NoError(t, json.NewEncoder(w).Encode(body))
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{"code": code, "message": message, "status": status},
	})
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *recordingSleeper) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sleeper := &recordingSleeper{}
	client, err := New(Config{
		BaseURL: server.URL + "/api/v1/",
		Token:   "token-123",
		Sleep:   sleeper.Sleep,
	})
	require.NoError(t, err)
	return client, sleeper
}

func intPtr(v int) *int { return &v }

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	require.Error(t, err)

	_, err = New(Config{BaseURL: ""})
	require.Error(t, err)
}

func TestReadsRetryWithExponentialBackoff(t *testing.T) {
	var calls int32
	client, sleeper := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "try later")
	}))

	_, err := client.ListObservations(context.Background(), dto.ObservationQuery{})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())
}

func TestReadsRecoverAfterTransientFailure(t *testing.T) {
	var calls int32
	client, sleeper := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "slow down")
			return
		}
		writeData(t, w, http.StatusOK, []models.LessonPlan{{ID: "lp-1", Title: "Fractions"}},
			&models.Pagination{Page: 1, PageSize: 10, TotalCount: 1, TotalPages: 1})
	}))

	page, err := client.ListLessonPlans(context.Background(), dto.LessonPlanQuery{Page: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Fractions", page.Items[0].Title)
	assert.Equal(t, 1, page.Pagination.TotalPages)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.Delays())
}

func TestReadsDoNotRetryClientErrors(t *testing.T) {
	var calls int32
	client, sleeper := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "bad status filter")
	}))

	_, err := client.ListObservations(context.Background(), dto.ObservationQuery{Status: "LATE"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, sleeper.Delays())
}

func TestReadsDoNotRetryMalformedBodies(t *testing.T) {
	for name, body := range map[string]string{
		"envelope": `{"data": [`,
		"data":     `{"data": "not a lesson plan"}`,
	} {
		t.Run(name, func(t *testing.T) {
			var calls int32
			client, sleeper := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, body)
			}))

			_, err := client.GetLessonPlan(context.Background(), "lp-1")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDecode)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
			assert.Empty(t, sleeper.Delays())
		})
	}
}

func TestWritesAreNeverRetried(t *testing.T) {
	var calls int32
	client, sleeper := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "gateway")
	}))

	_, err := client.ReviewLessonPlan(context.Background(), "lp-1", dto.ReviewRequest{
		Status:   models.LessonPlanStatusRejected,
		Comments: "needs objectives",
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, sleeper.Delays())
}

func TestAuthErrorsMapToSentinels(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/verify") {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "token expired")
			return
		}
		writeError(w, http.StatusForbidden, "FORBIDDEN", "supervisors only")
	}))

	_, err := client.Verify(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, "token expired", err.Error())

	_, err = client.AdvanceObservation(context.Background(), "obs-1", models.ObservationStatusOngoing)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestListNotFoundYieldsEmptyPage(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "nothing here")
	}))

	page, err := client.ListObservations(context.Background(), dto.ObservationQuery{Page: 2, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, models.Pagination{Page: 2, PageSize: 5, TotalCount: 0, TotalPages: 1}, page.Pagination)

	_, err = client.GetLessonPlan(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalValidationSkipsTheNetwork(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	ctx := context.Background()

	_, err := client.ReviewLessonPlan(ctx, "lp-1", dto.ReviewRequest{Status: models.LessonPlanStatusApproved, Comments: "  "})
	assert.True(t, IsValidation(err))

	_, err = client.ReviewLessonPlan(ctx, "lp-1", dto.ReviewRequest{Status: models.LessonPlanStatusRejected, Comments: "ok", Score: intPtr(11)})
	assert.True(t, IsValidation(err))

	_, err = client.ScheduleObservation(ctx, dto.ScheduleRequest{
		LessonPlanID: "lp-1",
		TraineeID:    "tr-1",
		Date:         "2024-03-10",
		StartTime:    "10:00",
		EndTime:      "09:00",
	})
	assert.True(t, IsValidation(err))

	_, err = client.SubmitFeedback(ctx, "obs-1", dto.FeedbackRequest{Comments: "good"})
	assert.True(t, IsValidation(err))

	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestCancelledReadIsNotRetried(t *testing.T) {
	client, sleeper := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeData(t, w, http.StatusOK, []dto.ObservationView{}, nil)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.ListObservations(ctx, dto.ObservationQuery{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sleeper.Delays())
}

func TestVerifySendsBearerToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth/verify", r.URL.Path)
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		writeData(t, w, http.StatusOK, models.VerifyResponse{Role: models.RoleSupervisor, Identifier: "SUP-01"}, nil)
	}))

	res, err := client.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RoleSupervisor, res.Role)
	assert.Equal(t, "SUP-01", res.Identifier)
}

func TestRequestIDRoundTrip(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tpctl-run-7", r.Header.Get(requestid.Header))
		w.Header().Set(requestid.Header, "tpctl-run-7")
		writeError(w, http.StatusConflict, "CONFLICT", "already reviewed")
	}))

	ctx := requestid.WithContext(context.Background(), "tpctl-run-7")
	_, err := client.AdvanceObservation(ctx, "obs-1", models.ObservationStatusOngoing)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "tpctl-run-7", apiErr.RequestID)
}

func TestListLessonPlansEncodesQuery(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "3", q.Get("page"))
		assert.Equal(t, "Math", q.Get("subject"))
		assert.Equal(t, "PENDING", q.Get("status"))
		assert.Equal(t, "fraction", q.Get("search"))
		assert.Equal(t, "date", q.Get("sort"))
		assert.Equal(t, "asc", q.Get("order"))
		assert.Empty(t, q.Get("limit"))
		writeData(t, w, http.StatusOK, []models.LessonPlan{}, nil)
	}))

	page, err := client.ListLessonPlans(context.Background(), dto.LessonPlanQuery{
		Page:      3,
		Subject:   "Math",
		Status:    models.LessonPlanStatusPending,
		Search:    "fraction",
		SortBy:    "date",
		SortOrder: "asc",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Pagination.Page)
	assert.Equal(t, 1, page.Pagination.TotalPages)
}

func TestImportObservationsUploadsCSV(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/observations/import", r.URL.Path)
		assert.Equal(t, "text/csv", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "lesson_plan_id")
		writeData(t, w, http.StatusOK, dto.ImportResult{
			Imported: 1,
			Failed:   1,
			Errors:   []dto.ImportRowError{{Row: 3, Message: "end_time must be after start_time"}},
		}, nil)
	}))

	res, err := client.ImportObservations(context.Background(), strings.NewReader("lesson_plan_id,trainee_id,date,start_time,end_time\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Row)
}

func TestTransportFailureIsRetryable(t *testing.T) {
	assert.True(t, retryable(errors.New("connection reset")))
	assert.True(t, retryable(&APIError{Status: http.StatusInternalServerError}))
	assert.False(t, retryable(&APIError{Status: http.StatusConflict}))
	assert.False(t, retryable(context.DeadlineExceeded))
	assert.False(t, retryable(nil))
}

func TestLoginPostsCredentialsOnce(t *testing.T) {
	var calls int32
	client, sleeper := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sup@example.com", body["email"])
		assert.Equal(t, "hunter22", body["password"])
		writeData(t, w, http.StatusOK, models.LoginResponse{
			TokenPair: models.TokenPair{AccessToken: "access", RefreshToken: "refresh", ExpiresIn: 900},
			User:      models.UserInfo{ID: "u-1", FullName: "Sri Supervisor", Role: models.RoleSupervisor},
		}, nil)
	}))

	res, err := client.Login(context.Background(), "sup@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "access", res.AccessToken)
	assert.Equal(t, models.RoleSupervisor, res.User.Role)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, sleeper.Delays())
}

func TestLoginRejectedCredentials(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
	}))

	_, err := client.Login(context.Background(), "sup@example.com", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
