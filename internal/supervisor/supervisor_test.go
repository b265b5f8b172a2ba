package supervisor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func addrOf(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return srv.Listener.Addr().String()
}

func TestStartWaitsForHealthAndReportsRunning(t *testing.T) {
	srv := healthyServer(t)
	s := New()
	spec := ChildSpec{Name: "query", Addr: addrOf(t, srv), Cmd: "sleep", Args: []string{"5"}}

	err := s.Start(context.Background(), spec, 2*time.Second)
	require.NoError(t, err)

	status, _ := s.Status("query")
	assert.Equal(t, StatusRunning, status)

	require.NoError(t, s.Stop("query"))
	status, _ = s.Status("query")
	assert.Equal(t, StatusStopped, status)
}

func TestStartFailsWhenHealthNeverAnswers(t *testing.T) {
	s := New()
	spec := ChildSpec{Name: "media", Addr: "127.0.0.1:1", Cmd: "sleep", Args: []string{"5"}}

	err := s.Start(context.Background(), spec, 300*time.Millisecond)
	assert.Error(t, err)

	status, _ := s.Status("media")
	assert.Equal(t, StatusStopped, status)
}

func TestStartRejectsDuplicateWhileRunning(t *testing.T) {
	srv := healthyServer(t)
	s := New()
	spec := ChildSpec{Name: "insight", Addr: addrOf(t, srv), Cmd: "sleep", Args: []string{"5"}}

	require.NoError(t, s.Start(context.Background(), spec, 2*time.Second))
	defer s.Stop("insight")

	err := s.Start(context.Background(), spec, 2*time.Second)
	assert.ErrorContains(t, err, "already_running")
}

func TestStopUnknownChildErrors(t *testing.T) {
	s := New()
	err := s.Stop("nonexistent")
	assert.ErrorContains(t, err, "unknown_app")
}

func TestStopAllStopsEveryChild(t *testing.T) {
	srv := healthyServer(t)
	s := New()
	for _, name := range []string{"insight", "media", "query"} {
		spec := ChildSpec{Name: name, Addr: addrOf(t, srv), Cmd: "sleep", Args: []string{"5"}}
		require.NoError(t, s.Start(context.Background(), spec, 2*time.Second))
	}

	s.StopAll()

	for _, name := range []string{"insight", "media", "query"} {
		status, _ := s.Status(name)
		assert.Equal(t, StatusStopped, status)
	}
}
