package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestMask(t *testing.T) {
	testCases := []struct {
		account  string
		expected string
	}{
		{"5005775101", "******5101"},
		{"50057751", "****7751"},
		{"12345", "*2345"},
		{"1234", "1234"},
		{"", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.account, func(t *testing.T) {
			if got := Mask(tc.account); got != tc.expected {
				t.Errorf("Mask(%q) = %q, want %q", tc.account, got, tc.expected)
			}
		})
	}
}

func TestWithSessionNeverLogsFullAccount(t *testing.T) {
	var buf bytes.Buffer
	logger := WithSession(zerolog.New(&buf), "5005775101", "domestic")
	logger.Info().Msg("Session established")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["account"] != "******5101" {
		t.Errorf("account = %v, want ******5101", entry["account"])
	}
	if entry["market"] != "domestic" {
		t.Errorf("market = %v, want domestic", entry["market"])
	}
}

func TestRequestIDTravelsWithContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithRequestID(context.Background(), base, "req-7")
	logger := FromContext(ctx, zerolog.Nop())
	logger.Info().Msg("Request handled")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["request_id"] != "req-7" {
		t.Errorf("request_id = %v, want req-7", entry["request_id"])
	}

	buf.Reset()
	fallback := FromContext(context.Background(), base)
	fallback.Info().Msg("no request")
	if bytes.Contains(buf.Bytes(), []byte("request_id")) {
		t.Errorf("fallback logger should not carry a request id: %s", buf.String())
	}
}
