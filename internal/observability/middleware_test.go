package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestRequestLoggerAttachesRunAndTag(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger(logger))
	router.GET("/runs/:run/scalars", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	req := httptest.NewRequest(http.MethodGet, "/runs/exp1/scalars?tag=loss", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	line := buf.String()
	for _, want := range []string{`"run":"exp1"`, `"tag":"loss"`, `"path":"/runs/:run/scalars"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line missing %s: %s", want, line)
		}
	}

	// Routes without a run or tag stay unlabeled.
	buf.Reset()
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{}) })
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(httptest.NewRecorder(), req)
	if strings.Contains(buf.String(), `"run"`) || strings.Contains(buf.String(), `"tag"`) {
		t.Fatalf("unexpected run or tag field: %s", buf.String())
	}
}
