// Package worker provides a NATS worker that answers narration requests.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/history"
	"github.com/book-expert/narration-service/internal/pipeline"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const defaultHandleMessageTimeout = 15 * time.Minute

// Log messages.
const (
	logFmtReceived      = "Received narration request %s (workflow %s)"
	logFmtCompleted     = "Narration request %s completed via %s provider, %d chunks, %s tier"
	logFmtFailed        = "Narration request %s failed: %v"
	logFmtParseFailed   = "Failed to parse narration request: %v"
	logFmtReplyFailed   = "Failed to publish reply event for workflow %s: %v"
	logFmtHistoryFailed = "Failed to record history for request %s: %v"
	logFmtNoReply       = "Narration request %s carried no reply subject; result not delivered"
)

// ErrMissingText indicates a request with neither inline text nor a text key.
var ErrMissingText = errors.New("request carries neither text nor text_key")

// NarrationRequestedEvent asks the service to narrate Text, or the object stored under
// TextKey when Text is empty.
type NarrationRequestedEvent struct {
	Header      events.EventHeader `json:"header"`
	Text        string             `json:"text,omitempty"`
	TextKey     string             `json:"text_key,omitempty"`
	Voice       core.VoiceProfile  `json:"voice"`
	Destination core.Destination   `json:"destination"`
}

// NarrationCompletedEvent is the reply to a NarrationRequestedEvent. Error is set and
// URL empty when the request failed.
type NarrationCompletedEvent struct {
	Header   events.EventHeader `json:"header"`
	URL      string             `json:"url,omitempty"`
	Tier     core.Tier          `json:"tier,omitempty"`
	Provider string             `json:"provider,omitempty"`
	Chunks   int                `json:"chunks,omitempty"`
	Bytes    int                `json:"bytes,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Narrator runs one request through the pipeline.
type Narrator interface {
	Run(ctx context.Context, req core.SynthesisRequest) (*pipeline.Result, error)
}

// HistoryRecorder persists request outcomes.
type HistoryRecorder interface {
	Record(ctx context.Context, entry history.Entry) error
}

// NatsWorker listens for narration requests on a NATS subject and replies with the
// outcome of each.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	narrator       Narrator
	history        HistoryRecorder
	timeout        time.Duration
	log            *logger.Logger
}

// Option configures a NatsWorker.
type Option func(*NatsWorker)

// WithHistory records every outcome in recorder.
func WithHistory(recorder HistoryRecorder) Option {
	return func(w *NatsWorker) {
		w.history = recorder
	}
}

// WithRequestTimeout bounds the handling of a single message.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(w *NatsWorker) {
		if timeout > 0 {
			w.timeout = timeout
		}
	}
}

// NewNatsWorker creates a new instance of a NATS worker. store is used to fetch request
// text referenced by key.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	narrator Narrator,
	log *logger.Logger,
	opts ...Option,
) *NatsWorker {
	worker := &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		narrator:       narrator,
		timeout:        defaultHandleMessageTimeout,
		log:            log,
	}

	for _, opt := range opts {
		opt(worker)
	}

	return worker
}

// Run starts the worker and blocks until ctx is done, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error(logFmtParseFailed, err)
		w.rejectMessage(msg, err)

		return
	}

	w.log.Info(logFmtReceived, event.Header.EventID, event.Header.WorkflowID)

	result, processErr := w.process(ctx, event)

	reply := &NarrationCompletedEvent{Header: replyHeader(event.Header)}

	if processErr != nil {
		w.log.Error(logFmtFailed, event.Header.EventID, processErr)
		reply.Error = processErr.Error()
	} else {
		w.log.Info(logFmtCompleted, event.Header.EventID, result.Provider, result.Chunks, result.Tier)
		reply.URL = result.URL
		reply.Tier = result.Tier
		reply.Provider = result.Provider
		reply.Chunks = result.Chunks
		reply.Bytes = result.Bytes
	}

	w.recordHistory(ctx, event, result, processErr)

	if msg.Reply == "" {
		w.log.Warn(logFmtNoReply, event.Header.EventID)

		return
	}

	err = publishReplyEvent(msg, reply)
	if err != nil {
		w.log.Error(logFmtReplyFailed, event.Header.WorkflowID, err)
	}
}

// rejectMessage answers an unparseable request so the caller does not wait for its
// timeout.
func (w *NatsWorker) rejectMessage(msg *nats.Msg, parseErr error) {
	if msg.Reply == "" {
		return
	}

	reply := &NarrationCompletedEvent{
		Header: replyHeader(events.EventHeader{}),
		Error:  parseErr.Error(),
	}

	err := publishReplyEvent(msg, reply)
	if err != nil {
		w.log.Error(logFmtReplyFailed, "", err)
	}
}

// process resolves the request text and runs the pipeline.
func (w *NatsWorker) process(ctx context.Context, event *NarrationRequestedEvent) (*pipeline.Result, error) {
	narration := event.Text

	if strings.TrimSpace(narration) == "" {
		if event.TextKey == "" {
			return nil, ErrMissingText
		}

		textData, err := w.store.Download(ctx, event.TextKey)
		if err != nil {
			return nil, fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
		}

		narration = string(textData)
	}

	return w.narrator.Run(ctx, core.SynthesisRequest{
		Text:        narration,
		Voice:       event.Voice,
		Destination: event.Destination,
	})
}

func (w *NatsWorker) recordHistory(
	ctx context.Context,
	event *NarrationRequestedEvent,
	result *pipeline.Result,
	processErr error,
) {
	if w.history == nil {
		return
	}

	entry := history.Entry{
		EventID:    event.Header.EventID,
		WorkflowID: event.Header.WorkflowID,
		Folder:     event.Destination.CleanFolder(),
		Name:       event.Destination.Name,
	}

	if entry.EventID == "" {
		entry.EventID = uuid.NewString()
	}

	if result != nil {
		entry.Provider = result.Provider
		entry.Tier = string(result.Tier)
		entry.URL = result.URL
		entry.Chunks = result.Chunks
		entry.Bytes = result.Bytes
	}

	if processErr != nil {
		entry.Error = processErr.Error()
	}

	// Inline data URIs are large and already delivered in the reply.
	if result != nil && result.Tier == core.TierInline {
		entry.URL = ""
	}

	err := w.history.Record(context.WithoutCancel(ctx), entry)
	if err != nil {
		w.log.Warn(logFmtHistoryFailed, entry.EventID, err)
	}
}

func replyHeader(request events.EventHeader) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: request.WorkflowID,
		EventID:    uuid.NewString(),
		UserID:     request.UserID,
		TenantID:   request.TenantID,
	}
}

// publishReplyEvent marshals and responds with the NarrationCompletedEvent.
func publishReplyEvent(msg *nats.Msg, replyEvent *NarrationCompletedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*NarrationRequestedEvent, error) {
	var event NarrationRequestedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &event, nil
}
