package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/mail-risk/internal/adapters/intake"
	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/di"
	"go.uber.org/zap"
)

func main() {
	flags := di.ParseFlags()

	// Build the dependency injection container
	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(run); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// summary is what the tool prints once the pipeline is done
type summary struct {
	ID             string                     `json:"id"`
	Status         core.AnalysisStatus        `json:"status"`
	Classification *core.ClassificationResult `json:"classification,omitempty"`
	Scan           *core.ScanAggregate        `json:"scan,omitempty"`
	Verdict        *core.Verdict              `json:"verdict,omitempty"`
	FailureReason  string                     `json:"failureReason,omitempty"`
}

// writerSink forwards narrative chunks to a writer
type writerSink struct {
	w io.Writer
}

func (s writerSink) WriteChunk(chunk string) error {
	_, err := io.WriteString(s.w, chunk)
	return err
}

func run(flags *di.CLIFlags, logger *zap.Logger, service *core.AnalysisService) error {
	defer logger.Sync()

	// Read email from file or stdin
	var emailReader io.Reader
	if flags.InputFile != "" {
		file, err := os.Open(flags.InputFile)
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", flags.InputFile))
	} else {
		emailReader = os.Stdin
		logger.Info("Reading email from stdin")
	}

	raw, err := io.ReadAll(emailReader)
	if err != nil {
		return fmt.Errorf("failed to read email: %w", err)
	}
	msg, err := intake.ParseMessage(raw)
	if err != nil {
		return fmt.Errorf("failed to parse email: %w", err)
	}

	in := msg.Analysis()
	if len(in.Attachments) > core.MaxAttachments {
		logger.Warn("Ignoring extra attachments", zap.Int("received", len(in.Attachments)))
		in.Attachments = in.Attachments[:core.MaxAttachments]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec, err := service.Create(ctx, flags.Owner, in)
	if err != nil {
		return err
	}

	var sink core.NarrativeSink = writerSink{w: io.Discard}
	if !flags.NoNarrate {
		sink = writerSink{w: os.Stdout}
	}
	outcome, streamErr := service.Stream(ctx, flags.Owner, rec.ID, sink)
	if !flags.NoNarrate {
		fmt.Println()
	}
	if streamErr != nil {
		logger.Warn("Analysis did not complete", zap.String("outcome", string(outcome)), zap.Error(streamErr))
	}

	// The store outlives a cancelled stream
	rec, err = service.Get(context.Background(), flags.Owner, rec.ID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary{
		ID:             rec.ID,
		Status:         rec.Status,
		Classification: rec.Classification,
		Scan:           rec.Scan,
		Verdict:        rec.Verdict,
		FailureReason:  rec.FailureReason,
	}); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	if outcome == core.OutcomeFailed {
		return streamErr
	}
	return nil
}
