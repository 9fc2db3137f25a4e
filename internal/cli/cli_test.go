package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tp-workflow-api/internal/dto"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/pkg/tpclient"
)

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": map[string]interface{}{"code": code, "message": message}})
}

func run(t *testing.T, handler http.Handler, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TPCTL_BASE_URL", "")
	t.Setenv("TPCTL_TOKEN", "")
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--base-url", server.URL + "/api/v1", "--token", "tok", "--no-color"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestVerifyPrintsRole(t *testing.T) {
	out, err := run(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		respond(w, http.StatusOK, models.VerifyResponse{Role: models.RoleSupervisor, Identifier: "SUP-7"})
	}), "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "role: supervisor")
	assert.Contains(t, out, "identifier: SUP-7")
}

func TestMissingBaseURL(t *testing.T) {
	t.Setenv("TPCTL_BASE_URL", "")
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"verify"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TPCTL_BASE_URL")
}

func TestBaseURLFromEnvironment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer env-token", r.Header.Get("Authorization"))
		respond(w, http.StatusOK, models.VerifyResponse{Role: models.RoleAdmin, Identifier: "ADM"})
	}))
	defer server.Close()
	t.Setenv("TPCTL_BASE_URL", server.URL+"/api/v1")
	t.Setenv("TPCTL_TOKEN", "env-token")

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"verify", "--no-color"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "role: admin")
}

func TestPlansReviewRejects(t *testing.T) {
	out, err := run(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/lesson-plans/lp-1/review", r.URL.Path)
		var req dto.ReviewRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, models.LessonPlanStatusRejected, req.Status)
		assert.Nil(t, req.Score)
		respond(w, http.StatusOK, dto.ReviewResult{
			LessonPlan: &models.LessonPlan{ID: "lp-1", Status: models.LessonPlanStatusRejected},
			Review:     &models.LessonPlanReview{ID: "rv-1"},
		})
	}), "plans", "review", "lp-1", "--decision", "rejected", "--comments", "objectives missing")
	require.NoError(t, err)
	assert.Contains(t, out, "lp-1 REJECTED")
}

func TestPlansReviewApprovalNeedsConfirm(t *testing.T) {
	var approveCalls int32
	var approved dto.ApproveRequest
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/lesson-plans/lp-1/review":
			respond(w, http.StatusOK, dto.ReviewResult{
				LessonPlan: &models.LessonPlan{ID: "lp-1", Status: models.LessonPlanStatusPending},
				Proposal: &dto.ScheduleProposal{
					LessonPlanID: "lp-1", TraineeID: "tr-1", TraineeName: "Ada",
					Title: "Fractions", Date: "2024-03-12", StartTime: "09:00", EndTime: "10:00",
				},
			})
		case "/api/v1/lesson-plans/lp-1/approve":
			atomic.AddInt32(&approveCalls, 1)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&approved))
			respond(w, http.StatusCreated, dto.ApprovalResult{
				LessonPlan: &models.LessonPlan{ID: "lp-1", Status: models.LessonPlanStatusApproved},
				Schedule: &dto.ObservationView{
					ID: "obs-9", TraineeName: "Ada", Date: approved.Schedule.Date,
					StartTime: approved.Schedule.StartTime, EndTime: approved.Schedule.EndTime,
					Status: models.ObservationStatusScheduled,
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	out, err := run(t, handler, "plans", "review", "lp-1", "--decision", "APPROVED", "--comments", "good")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing saved yet")
	assert.Contains(t, out, "--confirm")
	assert.Equal(t, int32(0), atomic.LoadInt32(&approveCalls))

	out, err = run(t, handler, "plans", "review", "lp-1", "--decision", "APPROVED", "--comments", "good", "--score", "9", "--confirm", "--start", "09:30")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&approveCalls))
	assert.Equal(t, "09:30", approved.Schedule.StartTime)
	assert.Equal(t, "10:00", approved.Schedule.EndTime)
	require.NotNil(t, approved.Score)
	assert.Equal(t, 9, *approved.Score)
	assert.Contains(t, out, "Scheduled observation obs-9")
}

func TestPlansApproveShowsReconciledState(t *testing.T) {
	var gets int32
	out, err := run(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			respondError(w, http.StatusConflict, "ALREADY_REVIEWED", "lesson plan has already been reviewed")
			return
		}
		status := models.LessonPlanStatusPending
		if atomic.AddInt32(&gets, 1) > 1 {
			status = models.LessonPlanStatusRejected
		}
		respond(w, http.StatusOK, models.LessonPlan{
			ID: "lp-1", TraineeID: "tr-1", Date: "2024-03-12", StartTime: "09:00", EndTime: "10:00", Status: status,
		})
	}), "plans", "approve", "lp-1", "--comments", "fine")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already been reviewed")
	assert.Contains(t, out, "lp-1 is now REJECTED")
}

func TestPlansReviewValidatesLocally(t *testing.T) {
	_, err := run(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	}), "plans", "review", "lp-1", "--decision", "maybe", "--comments", "x")
	require.Error(t, err)
	assert.True(t, tpclient.IsValidation(err))
	assert.Equal(t, "check the flags and try again", Hint(err))
}

func TestObservationsAdvance(t *testing.T) {
	out, err := run(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			assert.Equal(t, "100", r.URL.Query().Get("limit"))
			respond(w, http.StatusOK, []dto.ObservationView{{ID: "obs-1", Status: models.ObservationStatusScheduled}})
			return
		}
		assert.Equal(t, http.MethodPatch, r.Method)
		respond(w, http.StatusOK, dto.ObservationView{ID: "obs-1", Status: models.ObservationStatusOngoing})
	}), "observations", "advance", "obs-1")
	require.NoError(t, err)
	assert.Contains(t, out, "obs-1 SCHEDULED -> ONGOING")
}

func TestObservationsListEmpty(t *testing.T) {
	out, err := run(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "COMPLETED", r.URL.Query().Get("status"))
		respondError(w, http.StatusNotFound, "NOT_FOUND", "none")
	}), "obs", "list", "--status", "completed")
	require.NoError(t, err)
	assert.Contains(t, out, "No observations found.")
}

func TestObservationsImport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slots.csv")
	require.NoError(t, os.WriteFile(path, []byte("lesson_plan_id,trainee_id,date,start_time,end_time\n"), 0o600))

	out, err := run(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/observations/import", r.URL.Path)
		respond(w, http.StatusOK, dto.ImportResult{Imported: 2, Failed: 1, Errors: []dto.ImportRowError{{Row: 4, Message: "invalid date"}}})
	}), "observations", "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2, failed 1")
	assert.Contains(t, out, "row 4: invalid date")
}

func TestReportsStatus(t *testing.T) {
	url := "http://localhost/api/v1/export/abc"
	out, err := run(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, dto.ReportJob{ID: "job-1", Status: models.ReportStatusFinished, Progress: 100, ResultURL: &url})
	}), "reports", "status", "job-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Report job-1 FINISHED 100%")
	assert.Contains(t, out, "download: "+url)
}

func TestHint(t *testing.T) {
	assert.Contains(t, Hint(&tpclient.APIError{Status: http.StatusUnauthorized}), "TPCTL_TOKEN")
	assert.Contains(t, Hint(&tpclient.APIError{Status: http.StatusForbidden}), "role")
	assert.Empty(t, Hint(&tpclient.APIError{Status: http.StatusInternalServerError}))
}

func TestRequestIDFromError(t *testing.T) {
	err := fmt.Errorf("advance: %w", &tpclient.APIError{Status: http.StatusConflict, RequestID: "tpctl-1a2b3c4d"})
	assert.Equal(t, "tpctl-1a2b3c4d", RequestID(err))
	assert.Empty(t, RequestID(errors.New("dial tcp: refused")))
}

func TestLoginPrintsExportLine(t *testing.T) {
	t.Setenv("TPCTL_PASSWORD", "hunter22")
	out, err := run(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sup@example.com", body["email"])
		assert.Equal(t, "hunter22", body["password"])
		respond(w, http.StatusOK, models.LoginResponse{
			TokenPair: models.TokenPair{AccessToken: "fresh-access", ExpiresIn: 900},
			User:      models.UserInfo{FullName: "Sri Supervisor", Role: models.RoleSupervisor},
		})
	}), "login", "--email", "sup@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "signed in as Sri Supervisor (supervisor)")
	assert.Contains(t, out, "export TPCTL_TOKEN=fresh-access")
}

func TestLoginReadsPasswordFromStdin(t *testing.T) {
	t.Setenv("TPCTL_PASSWORD", "")
	t.Setenv("TPCTL_BASE_URL", "")
	t.Setenv("TPCTL_TOKEN", "")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "from-stdin", body["password"])
		respond(w, http.StatusOK, models.LoginResponse{TokenPair: models.TokenPair{AccessToken: "abc"}})
	}))
	defer server.Close()

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(bytes.NewBufferString("from-stdin\n"))
	root.SetArgs([]string{"--base-url", server.URL + "/api/v1", "--no-color", "login", "--email", "a@b.c", "--token-only"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "abc\n", out.String())
}

func TestLoginRequiresEmail(t *testing.T) {
	_, err := run(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}), "login")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--email")
}
