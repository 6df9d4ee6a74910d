// Package audit publishes an event for every report the sink accepts.
//
// It implements a publish-subscribe pattern for distributing audit events to
// multiple destinations including files and HTTP endpoints.
package audit

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	models "github.com/Schera-ole/scaleagent/internal/model"
)

// eventBuffer is the capacity of every audit channel.
const eventBuffer = 64

// AuditLogger is an interface for logging audit events.
type AuditLogger interface {
	// Log publishes an audit event for a stored report received from ipAddress.
	Log(report models.StoredReport, ipAddress string)
}

// auditLogger is a concrete implementation of AuditLogger that sends events to a channel.
type auditLogger struct {
	eventChan chan<- models.AuditEvent
	logger    *zap.SugaredLogger
}

// NewAuditLogger creates a new AuditLogger that sends events to the provided channel.
func NewAuditLogger(eventChan chan<- models.AuditEvent, logger *zap.SugaredLogger) AuditLogger {
	return &auditLogger{
		eventChan: eventChan,
		logger:    logger,
	}
}

// Log never blocks: the event is dropped when the channel is full.
func (a *auditLogger) Log(report models.StoredReport, ipAddress string) {
	names := make([]string, 0, len(report.Payload.Metrics))
	for _, m := range report.Payload.Metrics {
		names = append(names, m.Name)
	}
	event := models.AuditEvent{
		TS:        report.ReceivedAt.UTC().Format(time.RFC3339),
		ReportID:  report.ReportID,
		AgentID:   report.AgentID,
		Metrics:   names,
		IPAddress: ipAddress,
	}

	select {
	case a.eventChan <- event:
	default:
		a.logger.Warnw("audit event dropped, channel is full", "report_id", report.ReportID)
	}
}

// Broadcaster distributes audit events to multiple subscriber channels.
//
// It receives events from a source channel and sends them to all provided subscriber channels
// using select with default case to prevent blocking and goroutine leaks. Subscriber channels
// are closed once source is closed and drained.
func Broadcaster(source <-chan models.AuditEvent, logger *zap.SugaredLogger, subs ...chan<- models.AuditEvent) {
	for evt := range source {
		for _, subChan := range subs {
			select {
			case subChan <- evt:
			default:
				logger.Warnw("audit event dropped for blocked subscriber", "report_id", evt.ReportID)
			}
		}
	}
	for _, subChan := range subs {
		close(subChan)
	}
}

// FileSubscriber appends audit events to the file at path as JSON lines.
func FileSubscriber(events <-chan models.AuditEvent, path string, logger *zap.SugaredLogger) {
	for evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			logger.Errorw("failed to marshal audit event", "error", err)
			continue
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			logger.Errorw("failed to open audit file", "path", path, "error", err)
			continue
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			logger.Errorw("failed to write audit file", "path", path, "error", err)
		}
		f.Close()
	}
}

// URLSubscriber posts audit events to an HTTP endpoint.
func URLSubscriber(events <-chan models.AuditEvent, client *http.Client, url string, logger *zap.SugaredLogger) {
	for evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			logger.Errorw("failed to marshal audit event", "error", err)
			continue
		}
		resp, err := client.Post(url, "application/json", bytes.NewReader(data))
		if err != nil {
			logger.Warnw("failed to post audit event", "url", url, "error", err)
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

// Setup starts a subscriber for each configured destination and returns the
// logger feeding them. It returns a nil logger when neither file nor url is
// set. stop closes the pipeline and waits for subscribers to finish.
func Setup(file, url string, logger *zap.SugaredLogger) (auditLogger AuditLogger, stop func()) {
	if file == "" && url == "" {
		return nil, func() {}
	}

	var wg sync.WaitGroup
	var subs []chan<- models.AuditEvent
	if file != "" {
		ch := make(chan models.AuditEvent, eventBuffer)
		subs = append(subs, ch)
		wg.Add(1)
		go func() {
			defer wg.Done()
			FileSubscriber(ch, file, logger)
		}()
	}
	if url != "" {
		ch := make(chan models.AuditEvent, eventBuffer)
		subs = append(subs, ch)
		client := &http.Client{Timeout: 5 * time.Second}
		wg.Add(1)
		go func() {
			defer wg.Done()
			URLSubscriber(ch, client, url, logger)
		}()
	}

	source := make(chan models.AuditEvent, eventBuffer)
	go Broadcaster(source, logger, subs...)

	var once sync.Once
	return NewAuditLogger(source, logger), func() {
		once.Do(func() {
			close(source)
			wg.Wait()
		})
	}
}
