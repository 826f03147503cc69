package orchestration

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/internal/utils"
)

type scriptedEndpoint struct {
	recordingClient
	signals chan ClientSignal
}

func (e *scriptedEndpoint) ReceiveEvent(ctx context.Context) (ClientSignal, error) {
	select {
	case signal, ok := <-e.signals:
		if !ok {
			return nil, io.EOF
		}
		return signal, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type stubTranscriber struct {
	mu         sync.Mutex
	transcript string
	received   []byte
}

func (s *stubTranscriber) Transcribe(_ context.Context, pcm []byte, _ audio.EncodingInfo) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, pcm...)
	return s.transcript, nil
}

func TestServeClientTranscribesRecordedAudio(t *testing.T) {
	engine := newStubEngine("Sure.")
	endpoint := &scriptedEndpoint{signals: make(chan ClientSignal, 10)}
	o := startOrchestrator(t, engine, endpoint)
	transcriber := &stubTranscriber{transcript: "what is the weather"}

	endpoint.signals <- RawAudioChunk{Samples: []float32{0.1, 0.2}}
	endpoint.signals <- RawAudioChunk{Samples: []float32{0.3}}
	endpoint.signals <- TurnSignal{AudioEnd: true}
	endpoint.signals <- TurnSignal{Text: "  and tomorrow?  "}
	close(endpoint.signals)

	if err := o.ServeClient(context.Background(), endpoint, transcriber); err == nil {
		t.Fatalf("expected the closed endpoint to be reported")
	}

	waitForCondition(t, 2*time.Second, "both prompts to be answered", func() bool {
		return len(o.Snapshot().History) == 4
	})

	history := o.Snapshot().History
	if history[0].Content != "what is the weather" || history[2].Content != "and tomorrow?" {
		t.Fatalf("unexpected prompts in history %+v", history)
	}
	if len(transcriber.received) != 6 {
		t.Fatalf("expected three linear16 samples, got %d bytes", len(transcriber.received))
	}
	if texts := endpoint.Statuses(StatusFullText); len(texts) == 0 || texts[0] != thinkingStatus {
		t.Fatalf("expected thinking status, got %q", texts)
	}
}

func TestServeClientRestartsMicOnSilence(t *testing.T) {
	endpoint := &scriptedEndpoint{signals: make(chan ClientSignal, 10)}
	o := startOrchestrator(t, newStubEngine(), endpoint)

	endpoint.signals <- RawAudioChunk{Samples: []float32{0}}
	endpoint.signals <- TurnSignal{AudioEnd: true}
	close(endpoint.signals)

	_ = o.ServeClient(context.Background(), endpoint, &stubTranscriber{})

	if controls := endpoint.Statuses(StatusControl); len(controls) != 1 || controls[0] != ControlStartMic {
		t.Fatalf("expected start-mic control, got %q", controls)
	}
	if len(o.Snapshot().History) != 0 {
		t.Fatalf("expected no turn for silence")
	}
}

func TestServeClientForwardsInterrupts(t *testing.T) {
	engine := newStubEngine("A response that will be cut off.")
	engine.gate = make(chan struct{})
	endpoint := &scriptedEndpoint{signals: make(chan ClientSignal, 10)}
	o := startOrchestrator(t, engine, endpoint)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- o.ServeClient(ctx, endpoint, nil) }()

	endpoint.signals <- TurnSignal{Text: "go on"}
	<-engine.firstIncrement
	endpoint.signals <- InterruptSignal{HeardText: utils.Ptr("A response")}

	waitForCondition(t, 2*time.Second, "interrupt to be reconciled", func() bool {
		history := o.Snapshot().History
		return len(history) == 2 && history[1].Content == "A response" && o.State() == StateIdle
	})

	cancel()
	if err := <-served; err != nil {
		t.Fatalf("expected clean stop on cancellation, got %v", err)
	}
}
