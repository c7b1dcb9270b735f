// Package intake turns received mail into analyses
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/whitelist"
	"go.uber.org/zap"
)

const (
	noSubject = "(sem assunto)"
	noBody    = "(sem conteúdo)"
)

var (
	// ErrUnparseable marks mail that could not be read as a MIME message
	ErrUnparseable = errors.New("message could not be parsed")
	// ErrCreateFailed marks mail for which at least one analysis could not be filed
	ErrCreateFailed = errors.New("failed to create analysis")
)

// AnalysisService is the part of core.AnalysisService the intake uses
type AnalysisService interface {
	Create(ctx context.Context, ownerID string, in core.NewAnalysis) (*core.AnalysisRecord, error)
	Stream(ctx context.Context, ownerID, id string, sink core.NarrativeSink) (core.StreamOutcome, error)
}

// Config configures the SMTP intake
type Config struct {
	ListenAddress   string
	Domain          string
	MaxMessageBytes int64
	AutoAnalyze     bool
}

// SMTPIntake accepts mail over SMTP and files one analysis per recipient.
// It implements ports.Server.
type SMTPIntake struct {
	cfg     Config
	service AnalysisService
	trusted *whitelist.Checker
	logger  *zap.Logger
	server  *smtp.Server

	runs   sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSMTPIntake creates a new SMTP intake
func NewSMTPIntake(cfg Config, service AnalysisService, trusted *whitelist.Checker, logger *zap.Logger) *SMTPIntake {
	if cfg.Domain == "" {
		cfg.Domain = "localhost"
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 25 << 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SMTPIntake{
		cfg:     cfg,
		service: service,
		trusted: trusted,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the SMTP listener
func (in *SMTPIntake) Start() error {
	in.server = smtp.NewServer(&backend{intake: in})
	in.server.Addr = in.cfg.ListenAddress
	in.server.Domain = in.cfg.Domain
	in.server.ReadTimeout = 30 * time.Second
	in.server.WriteTimeout = 30 * time.Second
	in.server.MaxMessageBytes = in.cfg.MaxMessageBytes
	in.server.MaxRecipients = 50

	ln, err := net.Listen("tcp", in.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", in.cfg.ListenAddress, err)
	}

	in.logger.Info("SMTP intake started", zap.String("address", ln.Addr().String()))
	go func() {
		if err := in.server.Serve(ln); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			in.logger.Error("SMTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop closes the listener and cancels background analyses
func (in *SMTPIntake) Stop() error {
	var err error
	if in.server != nil {
		err = in.server.Close()
	}
	in.cancel()
	in.runs.Wait()
	return err
}

// Deliver files the raw message for every recipient and returns the created records.
// Every recipient is attempted; any failed Create makes the whole delivery fail with ErrCreateFailed.
func (in *SMTPIntake) Deliver(ctx context.Context, sender string, recipients []string, raw []byte) ([]*core.AnalysisRecord, error) {
	if in.trusted != nil && in.trusted.IsWhitelisted(sender) {
		in.logger.Info("Skipping mail from trusted domain", zap.String("sender", sender))
		return nil, nil
	}

	msg, err := ParseMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if in.trusted != nil && msg.From != "" && in.trusted.IsWhitelisted(msg.From) {
		in.logger.Info("Skipping mail from trusted domain", zap.String("from", msg.From))
		return nil, nil
	}

	na := msg.Analysis()
	if len(na.Attachments) > core.MaxAttachments {
		in.logger.Warn("Dropping extra attachments",
			zap.Int("received", len(na.Attachments)),
			zap.Int("kept", core.MaxAttachments))
		na.Attachments = na.Attachments[:core.MaxAttachments]
	}

	var records []*core.AnalysisRecord
	var createErr error
	failed := 0
	for _, rcpt := range recipients {
		owner := strings.ToLower(strings.TrimSpace(rcpt))
		rec, err := in.service.Create(ctx, owner, na)
		if err != nil {
			in.logger.Error("Failed to create analysis",
				zap.String("owner_id", owner),
				zap.String("sender", sender),
				zap.Error(err))
			failed++
			createErr = err
			continue
		}
		records = append(records, rec)
		in.logger.Info("Analysis created from mail",
			zap.String("analysis_id", rec.ID),
			zap.String("owner_id", owner),
			zap.Int("attachments", len(rec.Attachments)))

		if in.cfg.AutoAnalyze {
			in.analyze(rec.OwnerID, rec.ID)
		}
	}
	if failed > 0 {
		return records, fmt.Errorf("%w for %d of %d recipients: %v", ErrCreateFailed, failed, len(recipients), createErr)
	}
	return records, nil
}

// analyze runs the pipeline in the background with a sink that drops chunks
func (in *SMTPIntake) analyze(owner, id string) {
	in.runs.Add(1)
	go func() {
		defer in.runs.Done()
		outcome, err := in.service.Stream(in.ctx, owner, id, discardSink{})
		if err != nil {
			in.logger.Warn("Background analysis did not complete",
				zap.String("analysis_id", id),
				zap.String("outcome", string(outcome)),
				zap.Error(err))
			return
		}
		in.logger.Debug("Background analysis finished", zap.String("analysis_id", id), zap.String("outcome", string(outcome)))
	}()
}

// Wait blocks until background analyses are done
func (in *SMTPIntake) Wait() {
	in.runs.Wait()
}

// Analysis converts the message into analysis input, filling a missing subject or body
func (msg *Message) Analysis() core.NewAnalysis {
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = noSubject
	}
	body := msg.Body
	if strings.TrimSpace(body) == "" {
		body = noBody
	}
	title := subject
	if msg.From != "" {
		title = subject + " - " + msg.From
	}
	return core.NewAnalysis{
		Title:       title,
		Subject:     subject,
		Body:        body,
		Attachments: msg.Attachments,
	}
}

type discardSink struct{}

func (discardSink) WriteChunk(string) error { return nil }

// backend implements the go-smtp Backend interface
type backend struct {
	intake *SMTPIntake
}

// NewSession creates a new SMTP session
func (b *backend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &session{intake: b.intake}, nil
}

// session implements the go-smtp Session interface
type session struct {
	intake     *SMTPIntake
	sender     string
	recipients []string
}

func (s *session) Reset() {
	s.sender = ""
	s.recipients = nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.intake.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = s.intake.Deliver(ctx, s.sender, s.recipients, raw)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCreateFailed):
		s.intake.logger.Warn("Deferring message, analysis could not be filed", zap.String("sender", s.sender), zap.Error(err))
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary failure, try again later",
		}
	default:
		s.intake.logger.Warn("Rejecting unparseable message", zap.String("sender", s.sender), zap.Error(err))
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Message could not be parsed",
		}
	}
}

func (s *session) Logout() error {
	return nil
}
