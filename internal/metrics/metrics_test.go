package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sheerbytes/chunkcast/internal/transfer"
)

func TestObserverCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RequestAccepted("HIGH")
	m.RequestAccepted("HIGH")
	m.RequestRejected(transfer.RejectNotFound)
	m.ChunksSent(3, 2500)
	m.FileCompleted("HIGH")

	if got := testutil.ToFloat64(m.requestsAccepted.WithLabelValues("HIGH")); got != 2 {
		t.Fatalf("accepted = %v", got)
	}
	if got := testutil.ToFloat64(m.requestsRejected.WithLabelValues(transfer.RejectNotFound)); got != 1 {
		t.Fatalf("rejected = %v", got)
	}
	if got := testutil.ToFloat64(m.chunksSent); got != 3 {
		t.Fatalf("chunks = %v", got)
	}
	if got := testutil.ToFloat64(m.bytesSent); got != 2500 {
		t.Fatalf("bytes = %v", got)
	}
	if got := testutil.ToFloat64(m.filesCompleted.WithLabelValues("HIGH")); got != 1 {
		t.Fatalf("completed = %v", got)
	}
}

func TestSessionGauge(t *testing.T) {
	m := New(nil)
	m.SessionOpened("tcp")
	m.SessionOpened("tcp")
	m.SessionClosed("tcp", "")
	m.SessionClosed("tcp", transfer.KindFraming)

	if got := testutil.ToFloat64(m.sessionsActive.WithLabelValues("tcp")); got != 0 {
		t.Fatalf("active = %v", got)
	}
	if got := testutil.ToFloat64(m.sessionsTotal.WithLabelValues("tcp")); got != 2 {
		t.Fatalf("opened = %v", got)
	}
	if got := testutil.ToFloat64(m.sessionErrors.WithLabelValues(transfer.KindFraming)); got != 1 {
		t.Fatalf("errors = %v", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New(nil)
	m.Register([]string{"NORMAL"})
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"chunkcast_requests_rejected_total",
		`chunkcast_requests_accepted_total{priority="NORMAL"} 0`,
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics output missing %s:\n%s", name, body)
		}
	}
}
