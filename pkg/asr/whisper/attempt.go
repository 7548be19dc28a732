package whisper

import (
	"context"
	"sync"
	"time"

	"github.com/voyagerlabs/listenkit/pkg/asr"
	"github.com/voyagerlabs/listenkit/pkg/audio"
)

// inferFunc submits one utterance of PCM audio for batch recognition. On
// failure it returns the error code to surface alongside the error.
type inferFunc func(ctx context.Context, pcm []byte, sampleRate, channels int) (string, asr.ErrorCode, error)

type attemptConfig struct {
	src                 audio.Source
	silenceThresholdMs  int
	maxBufferDurationMs int
	speechTimeout       time.Duration
	infer               inferFunc
}

// attempt is one single-utterance recognition pass over a freshly opened
// audio source. It implements asr.Attempt.
//
// The run loop buffers frames until the silence detector commits an
// utterance, runs inference once, and emits the outcome before closing the
// event channel. Stop commits whatever has been buffered so far.
type attempt struct {
	cfg    attemptConfig
	events chan asr.Event
	done   chan struct{}
	once   sync.Once
}

func startAttempt(cfg attemptConfig) *attempt {
	a := &attempt{
		cfg:    cfg,
		events: make(chan asr.Event, 32),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Events implements asr.Attempt.
func (a *attempt) Events() <-chan asr.Event { return a.events }

// Stop implements asr.Attempt. It asks the run loop to commit the buffered
// audio and wind down; events may still arrive until the channel closes.
func (a *attempt) Stop() error {
	a.once.Do(func() { close(a.done) })
	return nil
}

func (a *attempt) run() {
	defer close(a.events)
	defer a.cfg.src.Close()

	a.emit(asr.Event{Kind: asr.EventStarted})
	a.emit(asr.Event{Kind: asr.EventReady})
	defer a.emit(asr.Event{Kind: asr.EventEnded})

	var speechDeadline <-chan time.Time
	if a.cfg.speechTimeout > 0 {
		t := time.NewTimer(a.cfg.speechTimeout)
		defer t.Stop()
		speechDeadline = t.C
	}

	var (
		buffer     []byte
		sampleRate int
		channels   int
		hadSpeech  bool
		silenceMs  int
	)

	for {
		select {
		case <-a.done:
			if hadSpeech {
				a.commit(buffer, sampleRate, channels, false)
			}
			return

		case <-speechDeadline:
			if !hadSpeech {
				a.emit(asr.Event{Kind: asr.EventError, Code: asr.ErrSpeechTimeout})
				return
			}
			speechDeadline = nil

		case frame, ok := <-a.cfg.src.Frames():
			if !ok {
				if hadSpeech {
					a.commit(buffer, sampleRate, channels, false)
				} else {
					a.emit(asr.Event{Kind: asr.EventError, Code: asr.ErrAudio})
				}
				return
			}
			sampleRate = frame.SampleRate
			channels = frame.Channels

			rms := computeRMS(frame.Data)
			frameMs := int(frame.DurationMs())

			if rms >= defaultRMSThreshold {
				if !hadSpeech {
					a.emit(asr.Event{Kind: asr.EventSpeechBegin})
				}
				hadSpeech = true
				silenceMs = 0
				buffer = append(buffer, frame.Data...)
			} else if hadSpeech {
				silenceMs += frameMs
				buffer = append(buffer, frame.Data...)

				if silenceMs >= a.cfg.silenceThresholdMs {
					a.emit(asr.Event{Kind: asr.EventSpeechEnd})
					a.commit(buffer, sampleRate, channels, true)
					return
				}
			}

			if hadSpeech && chunkDurationMs(len(buffer), sampleRate, channels) >= a.cfg.maxBufferDurationMs {
				a.commit(buffer, sampleRate, channels, true)
				return
			}
		}
	}
}

// commit runs inference over the buffered utterance and emits the result.
// boundary marks finals committed by the silence detector, which the session
// layer treats as a natural point to re-arm.
func (a *attempt) commit(pcm []byte, sampleRate, channels int, boundary bool) {
	if len(pcm) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), inferTimeout)
	defer cancel()

	text, code, err := a.cfg.infer(ctx, pcm, sampleRate, channels)
	if err != nil {
		a.emit(asr.Event{Kind: asr.EventError, Code: code})
		return
	}
	if text == "" {
		a.emit(asr.Event{Kind: asr.EventError, Code: asr.ErrNoMatch})
		return
	}

	a.emit(asr.Event{Kind: asr.EventPartial, Text: text})
	a.emit(asr.Event{Kind: asr.EventFinal, Text: text, UtteranceBoundary: boundary})
}

func (a *attempt) emit(ev asr.Event) {
	a.events <- ev
}

var _ asr.Attempt = (*attempt)(nil)
