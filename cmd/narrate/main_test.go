package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/history"
	"github.com/book-expert/narration-service/internal/worker"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
)

// Test messages.
const (
	TestExpectedFlag  = "Expected %s %q, got %q"
	TestUnexpectedErr = "Did not expect an error, but got: %v"
	TestExpectedErr   = "Expected error %v, got %v"
)

// TestParseFlags verifies that command-line flags are parsed correctly.
func TestParseFlags(t *testing.T) {
	t.Parallel()

	flags, err := parseFlags([]string{
		"--text", "Hello, world!",
		"--voice", "narrator",
		"--language", "en-US",
		"--provider", "job",
		"--folder", "audio/storyNarration",
		"--name", "story",
		"--timeout", "30s",
	})
	if err != nil {
		t.Fatalf(TestUnexpectedErr, err)
	}

	checks := []struct{ name, want, got string }{
		{"text", "Hello, world!", flags.text},
		{"voice", "narrator", flags.voice},
		{"language", "en-US", flags.language},
		{"provider", "job", flags.provider},
		{"folder", "audio/storyNarration", flags.folder},
		{"name", "story", flags.name},
	}

	for _, check := range checks {
		if check.got != check.want {
			t.Errorf(TestExpectedFlag, check.name, check.want, check.got)
		}
	}

	if flags.timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %s", flags.timeout)
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	t.Parallel()

	flags, err := parseFlags(nil)
	if err != nil {
		t.Fatalf(TestUnexpectedErr, err)
	}

	if flags.timeout != defaultRequestTimeout {
		t.Errorf("Expected default timeout %s, got %s", defaultRequestTimeout, flags.timeout)
	}

	if flags.health {
		t.Error("Expected health to default to false")
	}

	if flags.history != 0 {
		t.Errorf("Expected history to default to 0, got %d", flags.history)
	}
}

func TestParseFlags_History(t *testing.T) {
	t.Parallel()

	flags, err := parseFlags([]string{"--history", "5"})
	if err != nil {
		t.Fatalf(TestUnexpectedErr, err)
	}

	if flags.history != 5 {
		t.Errorf("Expected history 5, got %d", flags.history)
	}
}

// TestValidateFlags verifies required and conflicting arguments.
func TestValidateFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flags   appFlags
		wantErr error
	}{
		{name: "text only", flags: appFlags{text: "some text"}},
		{name: "file only", flags: appFlags{file: "chapter.txt"}},
		{name: "neither", flags: appFlags{}, wantErr: errMissingInput},
		{name: "both", flags: appFlags{text: "x", file: "chapter.txt"}, wantErr: errConflictingText},
		{name: "unsupported file", flags: appFlags{file: "chapter.pdf"}, wantErr: errBadTextFile},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			err := validateFlags(testCase.flags)

			if testCase.wantErr == nil {
				if err != nil {
					t.Errorf(TestUnexpectedErr, err)
				}

				return
			}

			if !errors.Is(err, testCase.wantErr) {
				t.Errorf(TestExpectedErr, testCase.wantErr, err)
			}
		})
	}
}

func TestBuildEvent_FromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chapter.txt")

	err := os.WriteFile(path, []byte("Chapter one."), 0o600)
	if err != nil {
		t.Fatalf(TestUnexpectedErr, err)
	}

	event, err := buildEvent(appFlags{file: path, voice: "narrator", folder: "audio", name: "ch1"})
	if err != nil {
		t.Fatalf(TestUnexpectedErr, err)
	}

	if event.Text != "Chapter one." {
		t.Errorf("Expected file contents as text, got %q", event.Text)
	}

	if event.Header.EventID == "" || event.Header.WorkflowID == "" {
		t.Error("Expected event and workflow IDs to be generated")
	}

	if event.Voice.VoiceID != "narrator" || event.Destination.Folder != "audio" || event.Destination.Name != "ch1" {
		t.Errorf("Unexpected voice or destination: %+v %+v", event.Voice, event.Destination)
	}
}

func TestBuildEvent_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := buildEvent(appFlags{file: filepath.Join(t.TempDir(), "absent.txt")})
	if err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func startResponder(t *testing.T, reply worker.NarrationCompletedEvent) (*nats.Conn, string) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)
	t.Cleanup(server.Shutdown)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}
	t.Cleanup(natsConnection.Close)

	const subject = "narration.requested.cli"

	_, err = natsConnection.Subscribe(subject, func(msg *nats.Msg) {
		var event worker.NarrationRequestedEvent
		if json.Unmarshal(msg.Data, &event) != nil {
			return
		}

		reply.Header.WorkflowID = event.Header.WorkflowID
		data, _ := json.Marshal(reply)
		_ = msg.Respond(data)
	})
	if err != nil {
		t.Fatalf(TestUnexpectedErr, err)
	}

	err = natsConnection.Flush()
	if err != nil {
		t.Fatalf(TestUnexpectedErr, err)
	}

	return natsConnection, subject
}

func TestRequestNarration(t *testing.T) {
	t.Parallel()

	natsConnection, subject := startResponder(t, worker.NarrationCompletedEvent{
		URL:      "nats://NARRATIONS/audio/story.mp3",
		Tier:     core.TierPrimary,
		Provider: "direct",
		Chunks:   3,
	})

	event, err := buildEvent(appFlags{text: "Hello."})
	if err != nil {
		t.Fatalf(TestUnexpectedErr, err)
	}

	reply, err := requestNarration(natsConnection, subject, event, 5*time.Second)
	if err != nil {
		t.Fatalf(TestUnexpectedErr, err)
	}

	if reply.URL != "nats://NARRATIONS/audio/story.mp3" {
		t.Errorf("Unexpected URL %q", reply.URL)
	}

	if reply.Header.WorkflowID != event.Header.WorkflowID {
		t.Errorf("Expected workflow %s to be echoed, got %s", event.Header.WorkflowID, reply.Header.WorkflowID)
	}
}

func TestRequestNarration_ReportsServiceError(t *testing.T) {
	t.Parallel()

	natsConnection, subject := startResponder(t, worker.NarrationCompletedEvent{Error: "all storage tiers failed"})

	event, err := buildEvent(appFlags{text: "Hello."})
	if err != nil {
		t.Fatalf(TestUnexpectedErr, err)
	}

	_, err = requestNarration(natsConnection, subject, event, 5*time.Second)
	if !errors.Is(err, errNarrationFailed) {
		t.Fatalf(TestExpectedErr, errNarrationFailed, err)
	}

	if !strings.Contains(err.Error(), "all storage tiers failed") {
		t.Errorf("Expected service error in message, got %q", err.Error())
	}
}

func TestDisplayURL(t *testing.T) {
	t.Parallel()

	inline := &worker.NarrationCompletedEvent{URL: "data:audio/mpeg;base64,AAAA", Tier: core.TierInline}
	if displayURL(inline) != "(inline data URI)" {
		t.Errorf("Expected inline URI to be shortened, got %q", displayURL(inline))
	}

	stored := &worker.NarrationCompletedEvent{URL: "https://drive.example/file", Tier: core.TierSecondary}
	if displayURL(stored) != stored.URL {
		t.Errorf("Expected stored URL unchanged, got %q", displayURL(stored))
	}
}

func TestHandleHistory_PrintsNewestFirst(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.db")

	ledger, err := history.Open(path)
	if err != nil {
		t.Fatalf(TestUnexpectedErr, err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []history.Entry{
		{EventID: "e1", Folder: "audio", Name: "old", Provider: "direct", Tier: "primary", URL: "nats://NARRATIONS/audio/old.mp3", Chunks: 1, Bytes: 512, CreatedAt: base},
		{EventID: "e2", Folder: "audio", Name: "broken", Error: "all providers failed", CreatedAt: base.Add(time.Minute)},
		{EventID: "e3", Folder: "audio", Name: "new", Provider: "job", Tier: "secondary", URL: "https://drive.example/new", Chunks: 3, Bytes: 2048, CreatedAt: base.Add(2 * time.Minute)},
	}

	for _, entry := range entries {
		err = ledger.Record(context.Background(), entry)
		if err != nil {
			t.Fatalf(TestUnexpectedErr, err)
		}
	}

	err = ledger.Close()
	if err != nil {
		t.Fatalf(TestUnexpectedErr, err)
	}

	var out bytes.Buffer

	err = handleHistory(path, 2, &out)
	if err != nil {
		t.Fatalf(TestUnexpectedErr, err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), out.String())
	}

	if !strings.Contains(lines[0], "audio/new") || !strings.Contains(lines[0], "secondary via job, 3 chunks, 2.0 KB") {
		t.Errorf("Unexpected newest line %q", lines[0])
	}

	if !strings.Contains(lines[0], "https://drive.example/new") {
		t.Errorf("Expected URL in %q", lines[0])
	}

	if !strings.Contains(lines[1], "audio/broken") || !strings.Contains(lines[1], "FAILED: all providers failed") {
		t.Errorf("Unexpected failed line %q", lines[1])
	}
}

func TestPrintHistory_Empty(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	printHistory(&out, nil)

	if strings.TrimSpace(out.String()) != msgHistoryEmpty {
		t.Errorf("Expected %q, got %q", msgHistoryEmpty, out.String())
	}
}
