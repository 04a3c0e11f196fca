package echoapi_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/services/ratelimit"
	"github.com/trezcool/academia/testutil"
)

func Test_rateLimit(t *testing.T) {
	app := newTestApp(t, ratelimit.NewMemoryLimiter(2, time.Minute))
	jane := app.token(t, testutil.CreateStudent(t, app.UserRepo, "jane"))
	john := app.token(t, testutil.CreateStudent(t, app.UserRepo, "john"))

	for i := 0; i < 2; i++ {
		rec, _ := app.do(t, http.MethodPost, "/api/enrollments/payment", jane, []byte(`{}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec, env := app.do(t, http.MethodPost, "/api/enrollments/payment", jane, []byte(`{}`))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", env.Reason)
	assert.True(t, env.Retryable)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// counted per user
	rec, _ = app.do(t, http.MethodPost, "/api/enrollments/payment", john, []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// reads are not limited
	rec, _ = app.do(t, http.MethodGet, "/api/enrollments/my-courses", jane)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func Test_metrics(t *testing.T) {
	app := newTestApp(t)
	token := app.token(t, testutil.CreateStudent(t, app.UserRepo, "jane"))

	app.do(t, http.MethodGet, "/api/enrollments/my-courses", token)
	app.do(t, http.MethodGet, "/api/enrollments/my-courses", token)
	app.do(t, http.MethodGet, "/api/enrollments/my-courses", "")

	families, err := app.registry.Gather()
	require.NoError(t, err)

	counts := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != "academia_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			var route, status string
			for _, lp := range m.GetLabel() {
				switch lp.GetName() {
				case "route":
					route = lp.GetValue()
				case "status":
					status = lp.GetValue()
				}
			}
			counts[route+" "+status] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(2), counts["/api/enrollments/my-courses 200"])
	assert.Equal(t, float64(1), counts["/api/enrollments/my-courses 401"])
}
