package rpc

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

// pump drives one side's progress loop until its completion queue yields a
// callback or the deadline passes.
func pump(t *testing.T, class *Class, ctx *Context, deadline time.Duration) int {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if err := class.Progress(ctx, 10*time.Millisecond); err != nil && !errors.Is(err, ErrTimeout) {
			t.Fatalf("Progress: %v", err)
		}
		n, err := class.Trigger(ctx, 0, 8)
		if err != nil && !errors.Is(err, ErrTimeout) {
			t.Fatalf("Trigger: %v", err)
		}
		if n > 0 {
			return n
		}
	}
	return 0
}

func TestRemoteForward(t *testing.T) {
	rig := newTestRig(t)

	respondDispatched := false
	id, err := rig.server.RegisterRPC("noop", func(h *Handle) error {
		if err := h.Respond(func(info CallbackInfo) {
			respondDispatched = true
			if info.Err != nil {
				t.Errorf("respond callback error: %v", info.Err)
			}
		}, nil); err != nil {
			t.Errorf("Respond: %v", err)
		}
		return h.Destroy()
	})
	if err != nil {
		t.Fatalf("RegisterRPC: %v", err)
	}

	h, err := rig.client.Create(rig.clientCtx, rig.serverAddr, id)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	forwardDispatched := false
	if err := h.Forward(func(info CallbackInfo) {
		forwardDispatched = true
		if info.Err != nil {
			t.Errorf("forward callback error: %v", info.Err)
		}
		if info.Ret != RetSuccess {
			t.Errorf("forward callback ret: %v", info.Ret)
		}
	}, nil, nil); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if pump(t, rig.server, rig.serverCtx, time.Second) == 0 {
		t.Fatal("server never dispatched the respond callback")
	}
	if !respondDispatched {
		t.Fatal("respond callback not invoked")
	}

	if pump(t, rig.client, rig.clientCtx, time.Second) == 0 {
		t.Fatal("client never dispatched the forward callback")
	}
	if !forwardDispatched {
		t.Fatal("forward callback not invoked")
	}

	if err := h.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestRemotePayloadRoundTrip(t *testing.T) {
	rig := newTestRig(t)

	id, err := rig.server.RegisterRPC("reverse", func(h *Handle) error {
		in, err := h.InputBuffer()
		if err != nil {
			t.Errorf("InputBuffer: %v", err)
		}
		out, err := h.OutputBuffer()
		if err != nil {
			t.Errorf("OutputBuffer: %v", err)
		}
		for i := 0; i < 4; i++ {
			out[i] = in[3-i]
		}
		if err := h.Respond(nil, nil); err != nil {
			t.Errorf("Respond: %v", err)
		}
		return h.Destroy()
	})
	if err != nil {
		t.Fatalf("RegisterRPC: %v", err)
	}

	// Register the same name client-side so both agree on the id.
	clientID, err := rig.client.RegisterRPC("reverse", nil)
	if err != nil {
		t.Fatalf("client RegisterRPC: %v", err)
	}
	if clientID != id {
		t.Fatalf("id mismatch across classes: %#x vs %#x", uint64(clientID), uint64(id))
	}

	h, err := rig.client.Create(rig.clientCtx, rig.serverAddr, clientID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	in, err := h.InputBuffer()
	if err != nil {
		t.Fatalf("InputBuffer: %v", err)
	}
	copy(in, []byte{10, 20, 30, 40})

	var got []byte
	if err := h.Forward(func(info CallbackInfo) {
		out, err := info.Handle.OutputBuffer()
		if err != nil {
			t.Errorf("OutputBuffer: %v", err)
			return
		}
		got = append([]byte(nil), out[:4]...)
	}, nil, nil); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if pump(t, rig.server, rig.serverCtx, time.Second) == 0 {
		t.Fatal("server made no progress")
	}
	if pump(t, rig.client, rig.clientCtx, time.Second) == 0 {
		t.Fatal("client callback never dispatched")
	}
	if !bytes.Equal(got, []byte{40, 30, 20, 10}) {
		t.Fatalf("payload mismatch: got %v", got)
	}

	if err := h.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestProcessingBacklogRefills(t *testing.T) {
	rig := newTestRig(t)

	id, err := rig.server.RegisterRPC("trace", func(h *Handle) error {
		if err := h.Respond(nil, nil); err != nil {
			t.Errorf("Respond: %v", err)
		}
		return h.Destroy()
	})
	if err != nil {
		t.Fatalf("RegisterRPC: %v", err)
	}

	// First progress pre-posts the backlog receive.
	if err := rig.server.Progress(rig.serverCtx, time.Millisecond); err != nil && !errors.Is(err, ErrTimeout) {
		t.Fatalf("Progress: %v", err)
	}
	if n := len(rig.serverCtx.processing.snapshot()); n != maxProcessingBacklog {
		t.Fatalf("backlog after listen: got %d want %d", n, maxProcessingBacklog)
	}

	h, err := rig.client.Create(rig.clientCtx, rig.serverAddr, id)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.Forward(nil, nil, nil); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// Handling the request drains the backlog; the next progress refills it.
	if pump(t, rig.server, rig.serverCtx, time.Second) == 0 {
		t.Fatal("server never handled the request")
	}
	if err := rig.server.Progress(rig.serverCtx, time.Millisecond); err != nil && !errors.Is(err, ErrTimeout) {
		t.Fatalf("Progress: %v", err)
	}
	if n := len(rig.serverCtx.processing.snapshot()); n != maxProcessingBacklog {
		t.Fatalf("backlog after refill: got %d want %d", n, maxProcessingBacklog)
	}

	pump(t, rig.client, rig.clientCtx, time.Second)
	if err := h.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestUnknownIDLeavesOriginatorWaiting(t *testing.T) {
	rig := newTestRig(t)

	h, err := rig.client.Create(rig.clientCtx, rig.serverAddr, 12345)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fired := 0
	if err := h.Forward(func(info CallbackInfo) {
		fired++
		if !errors.Is(info.Err, ErrCanceled) {
			t.Errorf("callback fired with %v for an unmatched operation id", info.Err)
		}
	}, nil, nil); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	// The server drops the request on the no-match error; no response is
	// produced and the originator's trigger times out.
	if err := rig.server.Progress(rig.serverCtx, 50*time.Millisecond); err != nil && !errors.Is(err, ErrTimeout) {
		t.Fatalf("server Progress: %v", err)
	}
	if _, err := rig.server.Trigger(rig.serverCtx, 0, 4); err != nil && !errors.Is(err, ErrTimeout) {
		t.Fatalf("server Trigger: %v", err)
	}

	if n, err := rig.client.Trigger(rig.clientCtx, 50*time.Millisecond, 1); !errors.Is(err, ErrTimeout) || n != 0 {
		t.Fatalf("client Trigger: got (%d, %v), want timeout", n, err)
	}
	if fired != 0 {
		t.Fatalf("callback fired %d times while awaiting", fired)
	}

	// Withdraw the pending call so teardown can reclaim the handle.
	if err := h.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	pump(t, rig.client, rig.clientCtx, time.Second)
	if err := h.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestCancelPendingForward(t *testing.T) {
	rig := newTestRig(t)

	h, err := rig.client.Create(rig.clientCtx, rig.serverAddr, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var cancelInfo *CallbackInfo
	if err := h.Forward(func(info CallbackInfo) {
		cancelInfo = &info
	}, nil, nil); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if err := h.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// A second cancel is a no-op: the operation ids were already taken.
	if err := h.Cancel(); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}

	if pump(t, rig.client, rig.clientCtx, time.Second) == 0 {
		t.Fatal("cancelled handle never completed")
	}
	if cancelInfo == nil {
		t.Fatal("callback not invoked for cancelled handle")
	}
	if !errors.Is(cancelInfo.Err, ErrCanceled) {
		t.Fatalf("callback error: got %v want ErrCanceled", cancelInfo.Err)
	}
	if cancelInfo.Ret != RetCanceled {
		t.Fatalf("callback ret: got %v want %v", cancelInfo.Ret, RetCanceled)
	}

	if err := h.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}

func TestStatsCountRoundTrips(t *testing.T) {
	rig := newTestRig(t)

	id, err := rig.server.RegisterRPC("count", func(h *Handle) error {
		if err := h.Respond(nil, nil); err != nil {
			t.Errorf("Respond: %v", err)
		}
		return h.Destroy()
	})
	if err != nil {
		t.Fatalf("RegisterRPC: %v", err)
	}

	h, err := rig.client.Create(rig.clientCtx, rig.serverAddr, id)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.Forward(nil, nil, nil); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	pump(t, rig.server, rig.serverCtx, time.Second)
	pump(t, rig.client, rig.clientCtx, time.Second)

	clientStats := rig.client.Stats()
	if clientStats.Forwarded != 1 {
		t.Fatalf("client forwarded: got %d want 1", clientStats.Forwarded)
	}
	if clientStats.Completed != 1 {
		t.Fatalf("client completed: got %d want 1", clientStats.Completed)
	}
	serverStats := rig.server.Stats()
	if serverStats.Dispatched != 1 {
		t.Fatalf("server dispatched: got %d want 1", serverStats.Dispatched)
	}
	if serverStats.Responded != 1 {
		t.Fatalf("server responded: got %d want 1", serverStats.Responded)
	}

	if err := h.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
}
