package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/mikey/mail-risk/internal/core"
	"github.com/mikey/mail-risk/internal/ml"
	"go.uber.org/zap/zaptest"
)

func syntheticCorpus(n int) string {
	var b strings.Builder
	b.WriteString("\ufeffSubject,Message,Spam/Ham,Message ID\n")
	for i := 0; i < n; i++ {
		switch i % 3 {
		case 0:
			fmt.Fprintf(&b, "\"Weekly sync %d\",\"agenda for the team meeting and lunch plans %d\",ham,%d\n", i, i, i)
		case 1:
			fmt.Fprintf(&b, "\"WIN a prize %d\",\"winner claim your prize now click http://win.example/%d\",spam,%d\n", i, i, i)
		default:
			fmt.Fprintf(&b, "\"Invoice %d\",\"please enable macro content in the attached invoice %d\",spam,%d\n", i, i, i)
		}
	}
	return b.String()
}

func opener(data string) Opener {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(data)), nil
	}
}

func TestReadCorpusToleratesMalformedRows(t *testing.T) {
	data := "label,text\nspam,\"buy now\"\nham,hello \"there\" friend\nbogus\n,\n"
	var rows []Row
	stats, err := ReadCorpus(strings.NewReader(data), func(r Row) error {
		rows = append(rows, r)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadCorpus() error = %v", err)
	}
	if stats.Rows != len(rows) || len(rows) < 3 {
		t.Fatalf("got %d rows (stats %+v)", len(rows), stats)
	}
	if spam, ok := rows[0].Label(); !ok || !spam {
		t.Errorf("row 0 label = %v,%v; want spam", spam, ok)
	}
	if _, ok := rows[2].Label(); ok {
		t.Error("row without label column value should not parse")
	}
}

func TestRowLabelsAndText(t *testing.T) {
	tests := []struct {
		row      Row
		spam, ok bool
	}{
		{Row{"label": "SPAM"}, true, true},
		{Row{"label": "1"}, true, true},
		{Row{"spam/ham": "ham"}, false, true},
		{Row{"label": "no"}, false, true},
		{Row{"label": "maybe"}, false, false},
		{Row{"text": "x"}, false, false},
	}
	for _, tt := range tests {
		spam, ok := tt.row.Label()
		if spam != tt.spam || ok != tt.ok {
			t.Errorf("Label(%v) = %v,%v; want %v,%v", tt.row, spam, ok, tt.spam, tt.ok)
		}
	}

	r := Row{"subject": "Hi", "message": "there"}
	if got := r.Text(); got != "Hi\nthere" {
		t.Errorf("Text() = %q", got)
	}
	if got := (Row{"file": "a.txt", "text": strings.Repeat("x", 200)}).Key(); got != "a.txt|"+strings.Repeat("x", 80) {
		t.Errorf("Key() = %q", got)
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	var rows []Row
	if _, err := ReadCorpus(strings.NewReader(syntheticCorpus(300)), func(r Row) error {
		rows = append(rows, r)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	test := 0
	for _, r := range rows {
		a, b := DefaultSplit.IsTest(r), DefaultSplit.IsTest(r)
		if a != b {
			t.Fatalf("split changed for %v", r)
		}
		if a {
			test++
		}
	}
	if test == 0 || test == len(rows) {
		t.Errorf("split put %d of %d rows in the test set", test, len(rows))
	}
	if (Split{}).IsTest(rows[0]) {
		t.Error("zero split must not hold out rows")
	}
}

func TestHashedTrainerLearnsSeparableCorpus(t *testing.T) {
	tr := NewHashedTrainer(zaptest.NewLogger(t))
	tr.Dim = 1 << 12

	report, err := tr.Train(context.Background(), opener(syntheticCorpus(300)))
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if report.SeenTrain+report.SeenTest != 300 {
		t.Errorf("seen %d+%d rows, want 300", report.SeenTrain, report.SeenTest)
	}
	if report.Evaluation.Total() != report.SeenTest {
		t.Errorf("evaluated %d rows, held out %d", report.Evaluation.Total(), report.SeenTest)
	}
	if acc := report.Evaluation.Accuracy(); acc < 0.9 {
		t.Errorf("accuracy = %f, want >= 0.9", acc)
	}
	if err := report.Model.Validate(); err != nil {
		t.Errorf("trained model invalid: %v", err)
	}
	if report.Model.Meta == nil || report.Model.Meta.TestSplitMod != 10 {
		t.Errorf("meta = %+v", report.Model.Meta)
	}

	res := ml.ClassifyHashed(report.Model, "WIN a prize", "winner claim your prize now click http://win.example/x")
	if res.Label != core.LabelSpam {
		t.Errorf("trained model labels obvious spam as %s", res.Label)
	}
}

func TestHashedTrainerRejectsBadDim(t *testing.T) {
	tr := NewHashedTrainer(zaptest.NewLogger(t))
	tr.Dim = 1000
	if _, err := tr.Train(context.Background(), opener(syntheticCorpus(3))); err == nil {
		t.Error("expected error for non power of two dim")
	}
}

func TestMulticlassTrainer(t *testing.T) {
	tr := NewMulticlassTrainer(zaptest.NewLogger(t))
	tr.Epochs = 10

	report, err := tr.Train(context.Background(), strings.NewReader(syntheticCorpus(300)))
	if err != nil {
		t.Fatalf("Train() error = %v", err)
	}
	if err := report.Model.Validate(); err != nil {
		t.Fatalf("trained model invalid: %v", err)
	}
	if report.WeakLabeled == 0 {
		t.Error("expected invoice rows to be weakly labeled MALWARE")
	}
	if acc := report.Accuracy(); acc < 0.9 {
		t.Errorf("accuracy = %f, want >= 0.9", acc)
	}

	res := ml.ClassifyTFIDF(report.Model, "Invoice", "please enable macro content in the attached invoice")
	if res.Label != core.LabelMalware {
		t.Errorf("label = %s, want MALWARE", res.Label)
	}
}

func TestMulticlassTrainerEmptyCorpus(t *testing.T) {
	tr := NewMulticlassTrainer(zaptest.NewLogger(t))
	_, err := tr.Train(context.Background(), strings.NewReader("label,text\nmaybe,hello\n"))
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Errorf("err = %v, want ErrEmptyCorpus", err)
	}
}

func TestBuildVocabularyTieOrder(t *testing.T) {
	train := []example{
		{tokens: []string{"bbb", "aaa", "ccc"}},
		{tokens: []string{"ccc", "aaa"}},
	}
	got := buildVocabulary(train, 2)
	if len(got) != 2 || got[0] != "aaa" || got[1] != "ccc" {
		t.Errorf("buildVocabulary() = %v, want [aaa ccc]", got)
	}
}

func TestTrainOVRSeparatesClasses(t *testing.T) {
	xs := []ml.SparseVector{{0: 1}, {1: 1}, {2: 1}}
	ys := []int{0, 1, 2}
	w, b, err := TrainOVR(context.Background(), xs, ys, 3, 3, 5, 1)
	if err != nil {
		t.Fatal(err)
	}
	for i, x := range xs {
		logits := make([]float64, 3)
		for c := range logits {
			logits[c] = x.Dot(w[c], b[c])
		}
		if got := ml.Argmax(logits); got != ys[i] {
			t.Errorf("example %d predicted %d", i, got)
		}
	}
}
