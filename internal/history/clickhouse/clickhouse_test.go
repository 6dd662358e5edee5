package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/asyncblocks/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container for testing
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return clickHouseContainer, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	clickHouseContainer, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := clickHouseContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(addr, "default", "block_history")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	now := time.Now().UTC()
	if err := sink.Send(ctx, history.Event{Block: "clock", Trigger: "timer", OccurredAt: now, Duration: 2 * time.Millisecond, Output: "12:00"}); err != nil {
		t.Fatalf("Failed to send timer event: %v", err)
	}
	if err := sink.Send(ctx, history.Event{Block: "clock", Trigger: "request", Clicked: true, Button: 3, OccurredAt: now, Output: "12:01", Error: "exit status 1"}); err != nil {
		t.Fatalf("Failed to send click event: %v", err)
	}

	var count uint64
	if err := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM block_history WHERE block = ?", "clock").Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 events, got %d", count)
	}

	var clicks uint64
	if err := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM block_history WHERE button = 3").Scan(&clicks); err != nil {
		t.Fatalf("Failed to query clicks: %v", err)
	}
	if clicks != 1 {
		t.Fatalf("expected 1 click event, got %d", clicks)
	}
}

func TestNew_InvalidTableName(t *testing.T) {
	for _, name := range []string{"", "bad name", "x;DROP TABLE y", "1abc"} {
		if _, err := New("localhost:9000", "default", name); err == nil {
			t.Fatalf("expected error for table %q", name)
		}
	}
}
