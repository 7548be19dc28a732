package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voyagerlabs/listenkit/pkg/asr"
	"github.com/voyagerlabs/listenkit/pkg/audio"
	audiomock "github.com/voyagerlabs/listenkit/pkg/audio/mock"
)

// ---- translate tests ----

func TestTranslate_Final(t *testing.T) {
	a := &attempt{}
	ev, ok := a.translate([]byte(`{"type":"final","text":"hello","confidence":0.92,"utterance_boundary":true}`))
	if !ok {
		t.Fatal("expected ok=true for final frame")
	}
	if ev.Kind != asr.EventFinal {
		t.Errorf("kind = %v, want final", ev.Kind)
	}
	if ev.Text != "hello" || ev.Confidence != 0.92 || !ev.UtteranceBoundary {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestTranslate_ErrorCode(t *testing.T) {
	a := &attempt{}
	ev, ok := a.translate([]byte(`{"type":"error","code":"ERROR_NETWORK"}`))
	if !ok {
		t.Fatal("expected ok=true for error frame")
	}
	if ev.Code != asr.ErrNetwork {
		t.Errorf("code = %q, want %q", ev.Code, asr.ErrNetwork)
	}

	ev, _ = a.translate([]byte(`{"type":"error","code":"ERROR_SOMETHING_NEW"}`))
	if ev.Code != asr.ErrUnknown {
		t.Errorf("unmapped code = %q, want %q", ev.Code, asr.ErrUnknown)
	}
}

func TestTranslate_LowConfidenceFinalBecomesNoMatch(t *testing.T) {
	a := &attempt{minConfidence: 0.5}
	ev, ok := a.translate([]byte(`{"type":"final","text":"mumble","confidence":0.3}`))
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ev.Kind != asr.EventError || ev.Code != asr.ErrNoMatch {
		t.Errorf("low-confidence final = %+v, want no-match error", ev)
	}

	// Partials pass through untouched regardless of confidence.
	ev, _ = a.translate([]byte(`{"type":"partial","text":"mumble","confidence":0.3}`))
	if ev.Kind != asr.EventPartial {
		t.Errorf("partial = %+v, want partial passthrough", ev)
	}
}

func TestTranslate_UnknownTypeAndInvalidJSON(t *testing.T) {
	a := &attempt{}
	if _, ok := a.translate([]byte(`{"type":"metadata","request_id":"abc"}`)); ok {
		t.Error("expected ok=false for unknown frame type")
	}
	if _, ok := a.translate([]byte(`{invalid`)); ok {
		t.Error("expected ok=false for invalid JSON")
	}
}

// ---- constructor tests ----

func TestNew_Validation(t *testing.T) {
	factory := func() (audio.Source, error) { return audiomock.NewSource(), nil }
	if _, err := New("", factory); err == nil {
		t.Error("expected error for empty endpoint")
	}
	if _, err := New("ws://localhost:9000", nil); err == nil {
		t.Error("expected error for nil source factory")
	}
}

// ---- end-to-end against an in-process server ----

func TestStart_StreamsEventsUntilEnded(t *testing.T) {
	frames := []string{
		`{"type":"ready"}`,
		`{"type":"partial","text":"hel","confidence":0.4}`,
		`{"type":"final","text":"hello","confidence":0.9,"utterance_boundary":true}`,
		`{"type":"ended"}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.CloseNow()

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		_, msg, err := c.Read(ctx)
		if err != nil {
			t.Errorf("read start: %v", err)
			return
		}
		var start wireMessage
		if err := json.Unmarshal(msg, &start); err != nil || start.Type != "start" {
			t.Errorf("first frame = %s, want start message", msg)
			return
		}
		if start.Locale != "ko-KR" {
			t.Errorf("start locale = %q, want ko-KR", start.Locale)
		}

		for _, f := range frames {
			if err := c.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		// Hold the socket open until the client stops.
		c.Read(ctx)
	}))
	defer srv.Close()

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	p, err := New(endpoint, func() (audio.Source, error) { return audiomock.NewSource(), nil })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	att, err := p.Start(context.Background(), asr.StartConfig{Locale: "ko-KR"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer att.Stop()

	var got []asr.EventKind
	deadline := time.After(5 * time.Second)
	for len(got) < 4 {
		select {
		case ev, ok := <-att.Events():
			if !ok {
				t.Fatalf("channel closed early, got %v", got)
			}
			got = append(got, ev.Kind)
		case <-deadline:
			t.Fatalf("timed out, got %v", got)
		}
	}

	want := []asr.EventKind{asr.EventReady, asr.EventPartial, asr.EventFinal, asr.EventEnded}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func TestStart_DialFailure(t *testing.T) {
	p, err := New("ws://127.0.0.1:1", func() (audio.Source, error) { return audiomock.NewSource(), nil })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.Start(ctx, asr.StartConfig{}); err == nil {
		t.Error("expected dial error for unreachable endpoint")
	}
}
