// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/nohassle/hdmi-matrix-bridge/pkg/errors"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/interfaces"
)

// fakeMatrix emulates the matrix web controller: one JSON instruction
// endpoint that echoes the comhead of each command.
type fakeMatrix struct {
	mu       sync.Mutex
	power    int
	routing  [8]int
	requests []instruction

	// inFlight trips when two instructions overlap.
	inFlight   atomic.Int32
	overlapped atomic.Bool
}

func newFakeMatrix() *fakeMatrix {
	f := &fakeMatrix{power: 1}
	for i := range f.routing {
		f.routing[i] = 1
	}
	return f
}

func (f *fakeMatrix) handler(w http.ResponseWriter, r *http.Request) {
	if f.inFlight.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	defer f.inFlight.Add(-1)

	if r.URL.Path != "/cgi-bin/instr" {
		http.NotFound(w, r)
		return
	}

	var instr instruction
	if err := json.NewDecoder(r.Body).Decode(&instr); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, instr)

	var resp interface{}
	switch instr.Comhead {
	case "video switch":
		if len(instr.Source) == 2 {
			input, output := instr.Source[0], instr.Source[1]
			f.routing[output-1] = input
		}
		resp = map[string]interface{}{"comhead": "video switch", "result": 1}
	case "get status":
		resp = map[string]interface{}{"comhead": "get status", "power": f.power}
	case "get output status":
		names := make([]string, 8)
		sources := make([]int, 8)
		for i := 0; i < 8; i++ {
			names[i] = "hdmioutput" + string(rune('1'+i))
			sources[i] = f.routing[i]
		}
		resp = map[string]interface{}{"comhead": "get output status", "name": names, "allsource": sources}
	case "get input status":
		names := make([]string, 8)
		for i := 0; i < 8; i++ {
			names[i] = "hdmiinput" + string(rune('1'+i))
		}
		resp = map[string]interface{}{"comhead": "get input status", "inname": names}
	case "set poweronoff":
		if instr.Power != nil {
			f.power = *instr.Power
		}
		resp = map[string]interface{}{"comhead": "set poweronoff", "power": f.power}
	default:
		resp = map[string]interface{}{"comhead": ""}
	}
	f.mu.Unlock()

	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	host := strings.TrimPrefix(server.URL, "http://")
	return NewClient(host, 2*time.Second), server
}

func TestSwitchZone_WireOrder(t *testing.T) {
	fake := newFakeMatrix()
	client, _ := newTestClient(t, fake.handler)

	if err := client.SwitchZone(context.Background(), 3, 5); err != nil {
		t.Fatalf("SwitchZone() error = %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.requests) != 1 {
		t.Fatalf("device received %d instructions, want 1", len(fake.requests))
	}
	instr := fake.requests[0]
	if instr.Comhead != "video switch" {
		t.Errorf("comhead = %q, want video switch", instr.Comhead)
	}
	// The wire order is [input, output].
	if len(instr.Source) != 2 || instr.Source[0] != 5 || instr.Source[1] != 3 {
		t.Errorf("source = %v, want [5 3]", instr.Source)
	}
	if fake.routing[2] != 5 {
		t.Errorf("routing[2] = %d, want 5", fake.routing[2])
	}
}

func TestSwitchZone_PortValidation(t *testing.T) {
	fake := newFakeMatrix()
	client, _ := newTestClient(t, fake.handler)

	tests := []struct {
		name   string
		zone   int
		source int
	}{
		{"zone too low", 0, 1},
		{"zone too high", 9, 1},
		{"source too low", 1, 0},
		{"source too high", 1, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := client.SwitchZone(context.Background(), tt.zone, tt.source); err == nil {
				t.Error("SwitchZone() should reject out-of-range port")
			}
		})
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.requests) != 0 {
		t.Errorf("device received %d instructions, want 0", len(fake.requests))
	}
}

func TestStatus(t *testing.T) {
	fake := newFakeMatrix()
	client, _ := newTestClient(t, fake.handler)

	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Power != interfaces.PowerOn {
		t.Errorf("Power = %v, want on", status.Power)
	}

	fake.mu.Lock()
	fake.power = 0
	fake.mu.Unlock()

	status, err = client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Power != interfaces.PowerOff {
		t.Errorf("Power = %v, want off", status.Power)
	}
}

func TestSetPower(t *testing.T) {
	fake := newFakeMatrix()
	client, _ := newTestClient(t, fake.handler)

	if err := client.SetPower(context.Background(), false); err != nil {
		t.Fatalf("SetPower() error = %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.power != 0 {
		t.Errorf("device power = %d, want 0", fake.power)
	}
	instr := fake.requests[0]
	if instr.Comhead != "set poweronoff" {
		t.Errorf("comhead = %q, want set poweronoff", instr.Comhead)
	}
	if instr.Power == nil || *instr.Power != 0 {
		t.Errorf("power field = %v, want 0", instr.Power)
	}
}

func TestOutputStatus(t *testing.T) {
	fake := newFakeMatrix()
	fake.routing = [8]int{2, 2, 3, 4, 5, 6, 7, 8}
	client, _ := newTestClient(t, fake.handler)

	outputs, err := client.OutputStatus(context.Background())
	if err != nil {
		t.Fatalf("OutputStatus() error = %v", err)
	}
	if len(outputs.AllSources) != 8 {
		t.Fatalf("AllSources has %d entries, want 8", len(outputs.AllSources))
	}
	if outputs.AllSources[0] != 2 {
		t.Errorf("AllSources[0] = %d, want 2", outputs.AllSources[0])
	}
}

func TestOutputStatus_TruncatedTable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"comhead":   "get output status",
			"name":      []string{"a"},
			"allsource": []int{1, 2, 3},
		})
	})

	_, err := client.OutputStatus(context.Background())
	if !errors.Is(err, apperrors.ErrDeviceFault) {
		t.Errorf("OutputStatus() error = %v, want device fault", err)
	}
}

func TestOutputStatus_SourceOutOfRange(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"comhead":   "get output status",
			"allsource": []int{1, 2, 3, 4, 5, 6, 7, 42},
		})
	})

	_, err := client.OutputStatus(context.Background())
	if !errors.Is(err, apperrors.ErrDeviceFault) {
		t.Errorf("OutputStatus() error = %v, want device fault", err)
	}
}

func TestInputStatus(t *testing.T) {
	fake := newFakeMatrix()
	client, _ := newTestClient(t, fake.handler)

	inputs, err := client.InputStatus(context.Background())
	if err != nil {
		t.Fatalf("InputStatus() error = %v", err)
	}
	if len(inputs.Names) != 8 {
		t.Errorf("Names has %d entries, want 8", len(inputs.Names))
	}
}

func TestComheadMismatch(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"comhead": "something else"})
	})

	err := client.SwitchZone(context.Background(), 1, 1)
	if !errors.Is(err, apperrors.ErrDeviceFault) {
		t.Errorf("SwitchZone() error = %v, want device fault", err)
	}
}

func TestGarbledResponse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	})

	err := client.SwitchZone(context.Background(), 1, 1)
	if !errors.Is(err, apperrors.ErrDeviceFault) {
		t.Errorf("SwitchZone() error = %v, want device fault", err)
	}
}

func TestHTTPErrorStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	err := client.SwitchZone(context.Background(), 1, 1)
	if !errors.Is(err, apperrors.ErrDeviceFault) {
		t.Errorf("SwitchZone() error = %v, want device fault", err)
	}
}

func TestUnreachable_Classification(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(server.URL, "http://")
	server.Close()

	client := NewClient(host, 500*time.Millisecond)
	_, err := client.Status(context.Background())
	if !errors.Is(err, apperrors.ErrDeviceUnreachable) {
		t.Errorf("Status() error = %v, want device unreachable", err)
	}
}

func TestTimeout_Classification(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
	})
	client.timeout = 100 * time.Millisecond
	client.httpClient.Timeout = 100 * time.Millisecond

	_, err := client.Status(context.Background())
	if !errors.Is(err, apperrors.ErrDeviceUnreachable) {
		t.Errorf("Status() error = %v, want device unreachable", err)
	}
}

func TestCircuitBreaker_Opens(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(server.URL, "http://")
	server.Close()

	client := NewClient(host, 200*time.Millisecond)

	// Five consecutive transport failures trip the breaker.
	for i := 0; i < 5; i++ {
		_, _ = client.Status(context.Background())
	}

	_, err := client.Status(context.Background())
	if !errors.Is(err, apperrors.ErrCircuitOpen) {
		t.Errorf("Status() error = %v, want circuit open", err)
	}
	if !errors.Is(err, apperrors.ErrDeviceUnreachable) {
		t.Errorf("circuit-open error should also report unreachable, got %v", err)
	}
}

func TestConcurrentCommands_NeverInterleave(t *testing.T) {
	fake := newFakeMatrix()
	client, _ := newTestClient(t, fake.handler)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			zone := n%8 + 1
			source := (n+3)%8 + 1
			if err := client.SwitchZone(context.Background(), zone, source); err != nil {
				t.Errorf("SwitchZone() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if fake.overlapped.Load() {
		t.Error("device saw overlapping instructions; commands must serialize")
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.requests) != 10 {
		t.Errorf("device received %d instructions, want 10", len(fake.requests))
	}
}

func TestAddr(t *testing.T) {
	client := NewClient("192.168.1.50", time.Second)
	if client.Addr() != "192.168.1.50" {
		t.Errorf("Addr() = %q, want 192.168.1.50", client.Addr())
	}
}
