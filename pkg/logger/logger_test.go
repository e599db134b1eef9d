package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewWriter_JSONWithServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "prod")
	l.Debug("hidden")
	l.Info("visible", "k", "v")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected a single json line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "visible" || line["service"] != serviceName || line["env"] != "prod" || line["k"] != "v" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
	l := Nop()
	if From(With(context.Background(), l)) != l {
		t.Fatalf("expected stored logger")
	}
}

func TestMiddleware_SetsRequestIDAndEnriches(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWriter(&buf, "prod")))
	r.GET("/x", func(c *gin.Context) {
		Enrich(c, "call_sid", "CA1")
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get(headerRequestID) != "rid-1" {
		t.Fatalf("expected request id to be echoed")
	}
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	for _, raw := range lines {
		var line map[string]any
		if err := json.Unmarshal(raw, &line); err != nil {
			t.Fatalf("bad json: %v", err)
		}
		if line["request_id"] != "rid-1" || line["call_sid"] != "CA1" {
			t.Fatalf("missing request attrs: %v", line)
		}
	}
}
