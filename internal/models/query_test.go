package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name     string
		req      *QueryRequest
		wantErr  bool
		wantTopK int
	}{
		{"empty text", &QueryRequest{Text: ""}, true, 0},
		{"whitespace text", &QueryRequest{Text: "  \n"}, true, 0},
		{"negative top_k", &QueryRequest{Text: "x", TopK: -1}, true, 0},
		{"sets default top_k", &QueryRequest{Text: "x"}, false, DefaultTopK},
		{"keeps explicit top_k", &QueryRequest{Text: "x", TopK: 7}, false, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if tt.req.TopK != tt.wantTopK {
				t.Errorf("TopK = %d, want %d", tt.req.TopK, tt.wantTopK)
			}
		})
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("chunk: %w", ErrInvalidArgument), "invalid_argument"},
		{fmt.Errorf("load: %w", ErrNotFound), "not_found"},
		{ErrProviderUnavailable, "provider_unavailable"},
		{fmt.Errorf("join: %w", ErrCorruptState), "corrupt_state"},
		{ErrGenerationUnavailable, "generation_unavailable"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestAgentResponse_ToQueryResponse(t *testing.T) {
	r := &AgentResponse{
		Action:   ActionRetrieveDocument,
		Answer:   "a",
		Language: "fr",
		Retrieved: []RetrievedResult{
			{ID: 3, Source: "b.txt"},
			{ID: 1, Source: "a.txt"},
		},
	}
	qr := r.ToQueryResponse()
	if len(qr.RetrievedSources) != 2 || qr.RetrievedSources[0] != "b.txt" || qr.RetrievedSources[1] != "a.txt" {
		t.Errorf("unexpected sources order: %v", qr.RetrievedSources)
	}
}
