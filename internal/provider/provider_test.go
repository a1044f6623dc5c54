package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"

	"github.com/hyperjump/tanya/internal/retry"
)

var errKind = errors.New("kind")

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"bad request", &openai.APIError{HTTPStatusCode: 400, Message: "bad"}, true},
		{"unauthorized", &openai.RequestError{HTTPStatusCode: 401, Err: errors.New("no key")}, true},
		{"rate limited", &openai.APIError{HTTPStatusCode: 429}, false},
		{"request timeout", &openai.APIError{HTTPStatusCode: 408}, false},
		{"server error", &openai.APIError{HTTPStatusCode: 503}, false},
		{"google not found", &googleapi.Error{Code: 404}, true},
		{"network", fmt.Errorf("dial tcp: connection refused"), false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err, errKind)
			if !errors.Is(got, errKind) {
				t.Errorf("Classify should wrap kind, got %v", got)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("Classify should keep the cause, got %v", got)
			}
			if retry.IsPermanent(got) != tt.permanent {
				t.Errorf("permanent = %v, want %v", retry.IsPermanent(got), tt.permanent)
			}
		})
	}
	if Classify(nil, errKind) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestNewLimiter(t *testing.T) {
	if NewLimiter(0) != nil {
		t.Error("zero rps should disable limiting")
	}
	l := NewLimiter(0.5)
	if l == nil || l.Burst() != 1 {
		t.Errorf("burst should be at least 1, got %v", l)
	}
	if err := Wait(context.Background(), nil); err != nil {
		t.Errorf("Wait(nil) = %v", err)
	}
}

func TestNewGeminiClient_requiresKey(t *testing.T) {
	if _, err := NewGeminiClient(context.Background(), ""); err == nil {
		t.Error("expected error without api key")
	}
}
