// Command narrate sends a narration request to a running narration-service and prints
// where the audio was stored.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/config"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/fileutil"
	"github.com/book-expert/narration-service/internal/history"
	"github.com/book-expert/narration-service/internal/provider/direct"
	"github.com/book-expert/narration-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Flag descriptions.
const (
	flagTextDesc     = "Text to narrate"
	flagFileDesc     = "Text file to narrate (.txt, .md, .xml, .html)"
	flagVoiceDesc    = "Voice identifier"
	flagLanguageDesc = "Language code, e.g. en-US"
	flagProviderDesc = "Preferred provider (direct or job)"
	flagFolderDesc   = "Destination folder path, e.g. audio/storyNarration"
	flagNameDesc     = "Destination file name without extension"
	flagNATSDesc     = "NATS server URL (defaults to the configured one)"
	flagTimeoutDesc  = "How long to wait for the narration to finish"
	flagHealthDesc   = "Check the direct provider's health and exit"
	flagHistoryDesc  = "Print the N most recent narrations from the history ledger and exit"
)

// Flag names.
const (
	flagText     = "text"
	flagFile     = "file"
	flagVoice    = "voice"
	flagLanguage = "language"
	flagProvider = "provider"
	flagFolder   = "folder"
	flagName     = "name"
	flagNATS     = "nats"
	flagTimeout  = "timeout"
	flagHealth   = "health"
	flagHistory  = "history"
)

// Error and log messages.
const (
	errEitherTextOrFile    = "either --text or --file must be provided"
	errCannotSpecifyBoth   = "cannot specify both --text and --file"
	errUnsupportedTextFile = "unsupported text file"
	errServiceNotHealthy   = "Direct provider is not healthy: %v\n"
	msgServiceHealthy      = "Direct provider is healthy"
	logRequestSent         = "Sent narration request %s to %s"
	logNarrationCompleted  = "Narration stored at %s (%s tier, %s provider, %d chunks, %s) in %s\n"
	msgHistoryEmpty        = "No narrations recorded yet"
	historyTimeLayout      = "2006-01-02 15:04:05"
	historyOKLine          = "%s  %s/%s  %s via %s, %d chunks, %s  %s\n"
	historyFailedLine      = "%s  %s/%s  FAILED: %s\n"
)

const (
	defaultRequestTimeout = 15 * time.Minute
	healthCheckTimeout    = 10 * time.Second
	historyReadTimeout    = 10 * time.Second
	logFileName           = "narrate.log"
)

var (
	errMissingInput    = errors.New(errEitherTextOrFile)
	errConflictingText = errors.New(errCannotSpecifyBoth)
	errBadTextFile     = errors.New(errUnsupportedTextFile)
	errNarrationFailed = errors.New("narration failed")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	text     string
	file     string
	voice    string
	language string
	provider string
	folder   string
	name     string
	natsURL  string
	timeout  time.Duration
	health   bool
	history  int
}

func main() {
	err := run(os.Args[1:])
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	cliLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = cliLog.Close() }()

	cfg, err := config.Load(cliLog)
	if err != nil {
		return err
	}

	if flags.health {
		return handleHealthCheck(cfg, cliLog)
	}

	if flags.history > 0 {
		return handleHistory(cfg.History.DatabasePath, flags.history, os.Stdout)
	}

	err = validateFlags(flags)
	if err != nil {
		return err
	}

	event, err := buildEvent(flags)
	if err != nil {
		return err
	}

	natsURL := flags.natsURL
	if natsURL == "" {
		natsURL = cfg.NATS.URL
	}

	natsConnection, err := nats.Connect(natsURL, nats.Name("narrate"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	cliLog.Info(logRequestSent, event.Header.EventID, cfg.NATS.SynthesisRequestSubject)

	started := time.Now()

	reply, err := requestNarration(natsConnection, cfg.NATS.SynthesisRequestSubject, event, flags.timeout)
	if err != nil {
		return err
	}

	fmt.Printf(
		logNarrationCompleted,
		displayURL(reply),
		reply.Tier,
		reply.Provider,
		reply.Chunks,
		fileutil.FormatFileSize(int64(reply.Bytes)),
		fileutil.FormatDuration(time.Since(started)),
	)

	return nil
}

// parseFlags parses args into appFlags.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("narrate", flag.ContinueOnError)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.file, flagFile, "", flagFileDesc)
	flagSet.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	flagSet.StringVar(&flags.language, flagLanguage, "", flagLanguageDesc)
	flagSet.StringVar(&flags.provider, flagProvider, "", flagProviderDesc)
	flagSet.StringVar(&flags.folder, flagFolder, "", flagFolderDesc)
	flagSet.StringVar(&flags.name, flagName, "", flagNameDesc)
	flagSet.StringVar(&flags.natsURL, flagNATS, "", flagNATSDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultRequestTimeout, flagTimeoutDesc)
	flagSet.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	flagSet.IntVar(&flags.history, flagHistory, 0, flagHistoryDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateFlags checks the required and conflicting arguments.
func validateFlags(flags appFlags) error {
	if flags.text == "" && flags.file == "" {
		return errMissingInput
	}

	if flags.text != "" && flags.file != "" {
		return errConflictingText
	}

	if flags.file != "" && !fileutil.IsValidTextFile(flags.file) {
		return fmt.Errorf("%w: %s", errBadTextFile, flags.file)
	}

	return nil
}

// buildEvent turns validated flags into a request event, reading --file when given.
func buildEvent(flags appFlags) (*worker.NarrationRequestedEvent, error) {
	narration := flags.text

	if flags.file != "" {
		data, err := os.ReadFile(flags.file) // #nosec G304 -- path supplied by the operator
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", flags.file, err)
		}

		narration = string(data)
	}

	workflowID := uuid.NewString()

	return &worker.NarrationRequestedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: workflowID,
			EventID:    uuid.NewString(),
		},
		Text: narration,
		Voice: core.VoiceProfile{
			VoiceID:  flags.voice,
			Language: flags.language,
			Provider: flags.provider,
		},
		Destination: core.Destination{
			Folder: flags.folder,
			Name:   flags.name,
		},
	}, nil
}

// requestNarration sends event and waits for the service's reply.
func requestNarration(
	natsConnection *nats.Conn,
	subject string,
	event *worker.NarrationRequestedEvent,
	timeout time.Duration,
) (*worker.NarrationCompletedEvent, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	msg, err := natsConnection.Request(subject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("narration request failed: %w", err)
	}

	var reply worker.NarrationCompletedEvent

	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}

	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", errNarrationFailed, reply.Error)
	}

	return &reply, nil
}

// displayURL shortens inline data URIs, which are not useful on a terminal.
func displayURL(reply *worker.NarrationCompletedEvent) string {
	if reply.Tier == core.TierInline {
		return "(inline data URI)"
	}

	return reply.URL
}

// handleHealthCheck checks the direct provider and prints the result.
func handleHealthCheck(cfg *config.Config, cliLog *logger.Logger) error {
	secrets, err := config.LoadSecrets()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	client := direct.NewClient(cfg.DirectProvider.BaseURL, secrets.DirectAPIKey)

	err = client.HealthCheck(ctx)
	if err != nil {
		cliLog.Error("Health check failed: %v", err)
		fmt.Printf(errServiceNotHealthy, err)

		return err
	}

	fmt.Println(msgServiceHealthy)

	return nil
}

// handleHistory prints the most recent limit entries of the ledger at path.
func handleHistory(path string, limit int, out io.Writer) error {
	ledger, err := history.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer func() { _ = ledger.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), historyReadTimeout)
	defer cancel()

	entries, err := ledger.Recent(ctx, limit)
	if err != nil {
		return err
	}

	printHistory(out, entries)

	return nil
}

// printHistory writes one line per entry, newest first as given.
func printHistory(out io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, msgHistoryEmpty)

		return
	}

	for _, entry := range entries {
		when := entry.CreatedAt.Local().Format(historyTimeLayout)

		if entry.Error != "" {
			_, _ = fmt.Fprintf(out, historyFailedLine, when, entry.Folder, entry.Name, entry.Error)

			continue
		}

		_, _ = fmt.Fprintf(
			out,
			historyOKLine,
			when,
			entry.Folder,
			entry.Name,
			entry.Tier,
			entry.Provider,
			entry.Chunks,
			fileutil.FormatFileSize(int64(entry.Bytes)),
			entry.URL,
		)
	}
}
