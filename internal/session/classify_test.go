package session_test

import (
	"testing"

	"github.com/voyagerlabs/listenkit/internal/session"
	"github.com/voyagerlabs/listenkit/pkg/asr"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code asr.ErrorCode
		want session.Class
	}{
		{asr.ErrNoMatch, session.ClassRetryable},
		{asr.ErrSpeechTimeout, session.ClassRetryable},
		{asr.ErrRecognizerBusy, session.ClassRetryable},
		{asr.ErrAudio, session.ClassFatal},
		{asr.ErrClient, session.ClassFatal},
		{asr.ErrInsufficientPermissions, session.ClassFatal},
		{asr.ErrNetwork, session.ClassFatal},
		{asr.ErrNetworkTimeout, session.ClassFatal},
		{asr.ErrServer, session.ClassFatal},
		{asr.ErrUnknown, session.ClassFatal},
	}
	for _, tc := range tests {
		t.Run(string(tc.code), func(t *testing.T) {
			t.Parallel()
			if got := session.Classify(tc.code, false); got != tc.want {
				t.Errorf("Classify(%s, false) = %v, want %v", tc.code, got, tc.want)
			}
		})
	}
}

func TestClassifyUnmappedCodeIsFatal(t *testing.T) {
	t.Parallel()

	if got := session.Classify(asr.ErrorCode("ERROR_FROM_THE_FUTURE"), false); got != session.ClassFatal {
		t.Errorf("Classify(unmapped, false) = %v, want %v", got, session.ClassFatal)
	}
}

func TestClassifyCancellingIgnoresEverything(t *testing.T) {
	t.Parallel()

	codes := []asr.ErrorCode{
		asr.ErrNoMatch, asr.ErrClient, asr.ErrNetwork, asr.ErrRecognizerBusy,
		asr.ErrorCode("ERROR_FROM_THE_FUTURE"),
	}
	for _, code := range codes {
		if got := session.Classify(code, true); got != session.ClassIgnorable {
			t.Errorf("Classify(%s, true) = %v, want %v", code, got, session.ClassIgnorable)
		}
	}
}
