package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/mail-risk/internal/logging"
	"github.com/mikey/mail-risk/internal/ml"
	"github.com/mikey/mail-risk/internal/training"
	"go.uber.org/zap"
)

var (
	kind         = flag.String("kind", "hashed", "Model kind to train (hashed, tfidf)")
	output       = flag.String("out", "model/model.json", "Path of the model artifact to write")
	epochs       = flag.Int("epochs", 0, "Training epochs (0 keeps the trainer default)")
	learningRate = flag.Float64("lr", 0, "Learning rate (0 keeps the trainer default)")
	dim          = flag.Int("dim", ml.DefaultHashDim, "Hash dimension for the hashed model")
	vocabSize    = flag.Int("vocab", 20000, "Vocabulary size for the tfidf model")
	hintMin      = flag.Int("malware-hints", 2, "Malware hint terms that relabel a SPAM row as MALWARE")
	testMod      = flag.Uint("test-mod", uint(training.DefaultSplit.Mod), "Hold out rows whose hash modulo this value equals test-remainder (0 disables)")
	testRem      = flag.Uint("test-remainder", uint(training.DefaultSplit.Remainder), "Remainder that selects held-out rows")
	verbose      = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog      = flag.Bool("json-log", false, "Output logs in JSON format")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <corpus.csv>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	corpus := flag.Arg(0)

	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if _, err := os.Stat(corpus); err != nil {
		logger.Fatal("Corpus not found", zap.String("path", corpus), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	split := training.Split{Mod: uint32(*testMod), Remainder: uint32(*testRem)}

	switch *kind {
	case "hashed":
		err = trainHashed(ctx, logger, corpus, split)
	case "tfidf", "multiclass":
		err = trainMulticlass(ctx, logger, corpus, split)
	default:
		err = fmt.Errorf("unsupported model kind: %s", *kind)
	}
	if err != nil {
		logger.Fatal("Training failed", zap.Error(err))
	}
}

func trainHashed(ctx context.Context, logger *zap.Logger, corpus string, split training.Split) error {
	t := training.NewHashedTrainer(logger)
	t.Dim = *dim
	t.Split = split
	if *epochs > 0 {
		t.Epochs = *epochs
	}
	if *learningRate > 0 {
		t.LearningRate = *learningRate
	}

	report, err := t.Train(ctx, func() (io.ReadCloser, error) {
		return os.Open(corpus)
	})
	if err != nil {
		return err
	}
	if err := ml.WriteModel(*output, report.Model); err != nil {
		return err
	}

	fmt.Printf("hashed_perceptron: train=%d test=%d skipped=%d malformed=%d\n",
		report.SeenTrain, report.SeenTest, report.Skipped, report.Malformed)
	fmt.Printf("tp=%d tn=%d fp=%d fn=%d accuracy=%.4f\n",
		report.Evaluation.TP, report.Evaluation.TN, report.Evaluation.FP, report.Evaluation.FN,
		report.Evaluation.Accuracy())
	fmt.Printf("written to %s\n", *output)
	return nil
}

func trainMulticlass(ctx context.Context, logger *zap.Logger, corpus string, split training.Split) error {
	t := training.NewMulticlassTrainer(logger)
	t.VocabSize = *vocabSize
	t.MalwareHintMin = *hintMin
	t.Split = split
	if *epochs > 0 {
		t.Epochs = *epochs
	}
	if *learningRate > 0 {
		t.LearningRate = *learningRate
	}

	f, err := os.Open(corpus)
	if err != nil {
		return fmt.Errorf("failed to open corpus: %w", err)
	}
	defer f.Close()

	report, err := t.Train(ctx, f)
	if err != nil {
		return err
	}
	if err := ml.WriteModel(*output, report.Model); err != nil {
		return err
	}

	fmt.Printf("tfidf_perceptron: train=%d test=%d skipped=%d malformed=%d weak_labeled=%d\n",
		report.Train, report.Test, report.Skipped, report.Malformed, report.WeakLabeled)
	fmt.Printf("accuracy=%.4f\n", report.Accuracy())
	fmt.Printf("written to %s\n", *output)
	return nil
}
