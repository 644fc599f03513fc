// File: pipeline/pipeline_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pipeline

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/reactor"
)

// recordingHandler captures the events it sees and forwards them.
type recordingHandler struct {
	Adapter
	name   string
	events *[]string
}

func (h *recordingHandler) TransportActive(ctx *Context) {
	*h.events = append(*h.events, h.name+":active")
	ctx.FireTransportActive()
}

func (h *recordingHandler) Read(ctx *Context, msg any) {
	*h.events = append(*h.events, h.name+":read")
	ctx.FireRead(msg)
}

func (h *recordingHandler) ReadEOF(ctx *Context) {
	*h.events = append(*h.events, h.name+":eof")
	ctx.FireReadEOF()
}

func (h *recordingHandler) ReadException(ctx *Context, err error) {
	*h.events = append(*h.events, h.name+":exc")
	ctx.FireReadException(err)
}

// TestPipelineDispatchOrder verifies events traverse handlers front to
// back.
func TestPipelineDispatchOrder(t *testing.T) {
	var events []string
	p := New(reactor.NewLoop(16))
	p.AddBack(&recordingHandler{name: "a", events: &events})
	p.AddBack(&recordingHandler{name: "b", events: &events})

	p.TransportActive()
	p.Read("x")

	want := []string{"a:active", "b:active", "a:read", "b:read"}
	if len(events) != len(want) {
		t.Fatalf("Expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("Expected %q at %d, got %q", want[i], i, events[i])
		}
	}
}

// TestPipelineTransportActiveOnce verifies activation fires only once.
func TestPipelineTransportActiveOnce(t *testing.T) {
	var events []string
	p := New(reactor.NewLoop(16))
	p.AddBack(&recordingHandler{name: "a", events: &events})

	p.TransportActive()
	p.TransportActive()
	if len(events) != 1 {
		t.Errorf("Expected a single activation, got %v", events)
	}
}

// TestPipelineEOFAtMostOnce verifies a transport-owning pipeline fires
// one terminal event and suppresses later reads.
func TestPipelineEOFAtMostOnce(t *testing.T) {
	var events []string
	p := New(reactor.NewLoop(16))
	p.SetTransport(&api.MockTransport{})
	p.AddBack(&recordingHandler{name: "a", events: &events})

	p.ReadEOF()
	p.ReadEOF()
	p.Read("late")
	if len(events) != 1 || events[0] != "a:eof" {
		t.Errorf("Expected exactly one EOF and no late reads, got %v", events)
	}
}

// TestPipelineExceptionAtMostOnce verifies the error channel of a
// transport-owning pipeline fires once.
func TestPipelineExceptionAtMostOnce(t *testing.T) {
	var events []string
	p := New(reactor.NewLoop(16))
	p.SetTransport(&api.MockTransport{})
	p.AddBack(&recordingHandler{name: "a", events: &events})

	p.ReadException(errors.New("boom"))
	p.ReadException(errors.New("again"))
	if len(events) != 1 {
		t.Errorf("Expected one exception delivery, got %v", events)
	}
}

// TestControlPipelineSeesRepeatedErrors verifies a pipeline without a
// transport, like the accept pipeline, delivers every error.
func TestControlPipelineSeesRepeatedErrors(t *testing.T) {
	var events []string
	p := New(reactor.NewLoop(16))
	p.AddBack(&recordingHandler{name: "a", events: &events})

	p.ReadException(errors.New("first"))
	p.ReadException(errors.New("second"))
	if len(events) != 2 {
		t.Errorf("Expected two error deliveries on a control pipeline, got %v", events)
	}
}

// TestPipelineCloseIdempotent verifies Close closes the transport once.
func TestPipelineCloseIdempotent(t *testing.T) {
	closes := 0
	tr := &api.MockTransport{CloseFunc: func() error {
		closes++
		return nil
	}}
	p := New(reactor.NewLoop(16))
	p.SetTransport(tr)

	if err := p.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	_ = p.Close()
	if closes != 1 {
		t.Errorf("Expected one transport close, got %d", closes)
	}
}

type recordingManager struct {
	deleted []*Pipeline
}

func (m *recordingManager) DeletePipeline(p *Pipeline) {
	m.deleted = append(m.deleted, p)
}

// TestPipelineDeletionFunnel verifies teardown goes through the manager
// exactly once.
func TestPipelineDeletionFunnel(t *testing.T) {
	mgr := &recordingManager{}
	p := New(reactor.NewLoop(16))
	p.SetManager(mgr)
	p.AddBack(ReadFunc(func(ctx *Context, msg any) {
		ctx.DeletePipeline()
		ctx.DeletePipeline()
	}))

	p.Read("go")
	if len(mgr.deleted) != 1 {
		t.Fatalf("Expected one DeletePipeline call, got %d", len(mgr.deleted))
	}
	if mgr.deleted[0] != p {
		t.Error("Expected the deleted pipeline to be the one dispatched")
	}
}

// TestPipelineWithoutManagerClosesOnDeletion verifies unmanaged pipelines
// fall back to closing their transport.
func TestPipelineWithoutManagerClosesOnDeletion(t *testing.T) {
	closes := 0
	tr := &api.MockTransport{CloseFunc: func() error {
		closes++
		return nil
	}}
	p := New(reactor.NewLoop(16))
	p.SetTransport(tr)
	p.RequestDeletion()
	if closes != 1 {
		t.Errorf("Expected transport closed, got %d closes", closes)
	}
}

// TestHandlerStopsPropagationByDefault verifies an event ends at a
// handler that does not forward it.
func TestHandlerStopsPropagationByDefault(t *testing.T) {
	var events []string
	p := New(reactor.NewLoop(16))
	p.AddBack(ReadFunc(func(ctx *Context, msg any) {
		events = append(events, "terminal")
	}))
	p.AddBack(&recordingHandler{name: "after", events: &events})

	p.Read("x")
	p.ReadEOF()
	if len(events) != 1 || events[0] != "terminal" {
		t.Errorf("Expected propagation to stop at the terminal handler, got %v", events)
	}
}
