package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPushSendsLineProtocolPayload(t *testing.T) {
	var gotBody, gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "alice", "secret")
	c.Push(3, "Target H", 12345)

	if !strings.Contains(gotBody, "encoder,axis=3,name=Target_H value=12345") {
		t.Errorf("body = %q, want line-protocol payload", gotBody)
	}
	if gotUser != "alice" || gotPass != "secret" {
		t.Errorf("basic auth = %q/%q, want alice/secret", gotUser, gotPass)
	}
}

func TestPushIsNoOpWithoutEndpoint(t *testing.T) {
	c := New("", "", "")
	c.Push(1, "Axis", 0) // must not panic or block
}

func TestPushOnNilClientIsNoOp(t *testing.T) {
	var c *Client
	c.Push(1, "Axis", 0) // must not panic
}
