package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func httpGet(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func testServer(t *testing.T, snapshot Snapshotter) *Server {
	t.Helper()

	server := NewServer(0, snapshot, log.New(os.Stderr, "[test] ", log.LstdFlags))
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })

	time.Sleep(100 * time.Millisecond)
	return server
}

func TestServerStartStop(t *testing.T) {
	server := testServer(t, nil)

	if server.Addr() == "" {
		t.Fatal("Server address is empty")
	}
}

func TestClientReceivesSnapshotOnConnect(t *testing.T) {
	snapshot := func() StatusData {
		return StatusData{Online: true, Unsynced: 4, Pending: 2}
	}
	server := testServer(t, snapshot)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read snapshot message: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeStatus {
		t.Fatalf("Expected status message, got %s", msg.Type)
	}

	var status StatusData
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	if !status.Online || status.Unsynced != 4 || status.Pending != 2 {
		t.Errorf("Unexpected snapshot: %+v", status)
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	server := testServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	server.PublishSyncComplete(SyncCompleteData{
		RecordsPushed:  3,
		ActionsApplied: 1,
		Duration:       50 * time.Millisecond,
	})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != MessageTypeSyncComplete {
		t.Fatalf("Expected sync_complete, got %s", msg.Type)
	}

	var sync SyncCompleteData
	if err := json.Unmarshal(msg.Data, &sync); err != nil {
		t.Fatalf("Failed to unmarshal sync data: %v", err)
	}
	if sync.RecordsPushed != 3 || sync.ActionsApplied != 1 {
		t.Errorf("Unexpected sync data: %+v", sync)
	}
}

func TestStatusEndpoint(t *testing.T) {
	server := testServer(t, func() StatusData {
		return StatusData{Syncing: true}
	})

	// Plain HTTP status for curl-style checks.
	resp, err := httpGet("http://" + server.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}

	var status StatusData
	if err := json.Unmarshal(resp, &status); err != nil {
		t.Fatalf("Failed to unmarshal status: %v", err)
	}
	if !status.Syncing {
		t.Errorf("Unexpected status: %+v", status)
	}
}
