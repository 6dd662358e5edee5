package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/asyncblocks/internal/block"
	"github.com/loykin/asyncblocks/internal/server"
	"github.com/loykin/asyncblocks/internal/statusbar"
)

func newDaemon(t *testing.T) (*httptest.Server, *server.State) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	b, err := block.New("clock", "date", nil, block.WithInterval(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	st := server.NewState([]*block.Block{b})
	ts := httptest.NewServer(server.NewRouter(st, "/api").Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func TestClientReadsStatusAndBlocks(t *testing.T) {
	ts, st := newDaemon(t)
	st.Observe(statusbar.RunReport{Block: "clock", Trigger: statusbar.TriggerInit, Output: "12:00", HasOutput: true})
	st.SetStatus("12:00")

	c, err := New(Config{BaseURL: ts.URL + "/api"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if !c.IsReachable(ctx) {
		t.Fatal("daemon should be reachable")
	}
	s, err := c.Status(ctx)
	if err != nil || s.Status != "12:00" || s.Published != 1 {
		t.Fatalf("Status = %+v, %v", s, err)
	}
	bs, err := c.Blocks(ctx)
	if err != nil || len(bs) != 1 || bs[0].Output != "12:00" || bs[0].IntervalSec != 60 {
		t.Fatalf("Blocks = %+v, %v", bs, err)
	}
	b, err := c.Block(ctx, "clock")
	if err != nil || b.Runs != 1 {
		t.Fatalf("Block = %+v, %v", b, err)
	}
	if _, err := c.Block(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	c, err := New(Config{BaseURL: url, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if c.IsReachable(context.Background()) {
		t.Fatal("closed server reported reachable")
	}
	if _, err := c.Status(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestClientInsecureTLS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := server.NewState(nil)
	ts := httptest.NewTLSServer(server.NewRouter(st, "").Handler())
	defer ts.Close()

	strict, err := New(Config{BaseURL: ts.URL})
	if err != nil {
		t.Fatal(err)
	}
	if strict.IsReachable(context.Background()) {
		t.Fatal("self-signed server must fail verification")
	}
	insecure, err := New(Config{BaseURL: ts.URL, Insecure: true})
	if err != nil {
		t.Fatal(err)
	}
	if !insecure.IsReachable(context.Background()) {
		t.Fatal("insecure client should connect")
	}
}

func TestNewBadCACert(t *testing.T) {
	if _, err := New(Config{CACert: "/does/not/exist.pem"}); err == nil {
		t.Fatal("expected error for missing CA file")
	}
}
