package response

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"hackreg/pkg/errors"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", func(c *gin.Context) {
		c.Set("trace_id", "trace-9")
		handler(c)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, resp
}

func TestSuccess(t *testing.T) {
	rec, resp := serve(t, func(c *gin.Context) {
		Success(c, gin.H{"theme": "AI"})
	})
	if rec.Code != http.StatusOK || resp.Code != errors.Success {
		t.Fatalf("unexpected status %d code %d", rec.Code, resp.Code)
	}
	if resp.TraceID != "trace-9" {
		t.Fatalf("trace id not echoed: %q", resp.TraceID)
	}
}

func TestErrorUsesCodeStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   errors.ErrorCode
	}{
		{"capacity", errors.New(errors.ThemeCapacityExceeded).WithDetail("capacity", 10), http.StatusConflict, errors.ThemeCapacityExceeded},
		{"locked", errors.New(errors.SelectionLocked), http.StatusLocked, errors.SelectionLocked},
		{"plain error", stderrors.New("db down"), http.StatusInternalServerError, errors.InternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, resp := serve(t, func(c *gin.Context) {
				Error(c, tc.err)
			})
			if rec.Code != tc.status || resp.Code != tc.code {
				t.Fatalf("expected %d/%d, got %d/%d", tc.status, tc.code, rec.Code, resp.Code)
			}
		})
	}
}

func TestErrorOmitsEmptyDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", func(c *gin.Context) {
		Error(c, errors.New(errors.ThemeNotFound))
	})
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var raw map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := raw["details"]; ok {
		t.Fatalf("details should be omitted: %v", raw)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
