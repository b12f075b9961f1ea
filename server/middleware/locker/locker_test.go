package locker_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"

	"github.com/spacetelescope/catkit/generichttp"
	"github.com/spacetelescope/catkit/server/middleware/locker"
)

type fakeHTTPer struct {
	rt generichttp.RouteTable
}

func (f fakeHTTPer) RT() generichttp.RouteTable { return f.rt }

func newLockedServer(t *testing.T) *httptest.Server {
	httper := fakeHTTPer{rt: generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/current"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}}
	l := locker.New()
	locker.Inject(httper, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	httper.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestUnlockedPassesThrough(t *testing.T) {
	srv := newLockedServer(t)
	resp, err := http.Get(srv.URL + "/current")
	if err != nil {
		t.Fatal("get errored:", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 while unlocked, got %d", resp.StatusCode)
	}
}

func TestLockedBounces(t *testing.T) {
	srv := newLockedServer(t)
	body := bytes.NewBufferString(`{"bool": true}`)
	resp, err := http.Post(srv.URL+"/lock", "application/json", body)
	if err != nil {
		t.Fatal("post errored:", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 taking the lock, got %d", resp.StatusCode)
	}
	resp, err = http.Get(srv.URL + "/current")
	if err != nil {
		t.Fatal("get errored:", err)
	}
	if resp.StatusCode != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %d", resp.StatusCode)
	}
	// the lock route itself stays reachable so the lock can be released
	body = bytes.NewBufferString(`{"bool": false}`)
	resp, err = http.Post(srv.URL+"/lock", "application/json", body)
	if err != nil {
		t.Fatal("post errored:", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 releasing the lock, got %d", resp.StatusCode)
	}
	resp, err = http.Get(srv.URL + "/current")
	if err != nil {
		t.Fatal("get errored:", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 after unlock, got %d", resp.StatusCode)
	}
}
