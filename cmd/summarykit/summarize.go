package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/doujins-org/summarykit"
	"github.com/doujins-org/summarykit/ensemble"
)

// maxLineBytes bounds a single JSONL document.
const maxLineBytes = 64 << 20

type inputDocument struct {
	ID        string      `json:"id"`
	Sentences []string    `json:"sentences"`
	Scores    []float64   `json:"scores,omitempty"`
	ScoreSets [][]float64 `json:"score_sets,omitempty"`
	Chars     int         `json:"chars,omitempty"`
}

func (d inputDocument) document() (summarykit.Document, error) {
	scores := d.Scores
	if len(d.ScoreSets) > 0 {
		if len(d.Scores) > 0 {
			return summarykit.Document{}, fmt.Errorf("document %q: set either scores or score_sets", d.ID)
		}
		avg, err := ensemble.Average(d.ScoreSets...)
		if err != nil {
			return summarykit.Document{}, fmt.Errorf("document %q: %w", d.ID, err)
		}
		scores = avg
	}
	return summarykit.Document{
		ID:        d.ID,
		Sentences: d.Sentences,
		Scores:    scores,
		Chars:     d.Chars,
	}, nil
}

type outputSummary struct {
	ID       string `json:"id"`
	Strategy string `json:"strategy"`
	Indices  []int  `json:"indices"`
	Summary  string `json:"summary"`
}

// readDocuments calls fn for each non-blank JSONL line of r.
func readDocuments(r io.Reader, fn func(line int, doc inputDocument) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var doc inputDocument
		dec := json.NewDecoder(strings.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(line, doc); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

func (a *app) openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return a.stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func (a *app) summarizeCommand() *cli.Command {
	return &cli.Command{
		Name:      "summarize",
		Usage:     "summarize JSONL documents from a file or stdin, writing JSONL summaries",
		ArgsUsage: "[file|-]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "strategy", Usage: "greedy|mmr (default from config)"},
			&cli.StringFlag{Name: "similarity", Usage: "bow|embedding (default from config)"},
			&cli.IntFlag{Name: "budget", Usage: "greedy character budget"},
			&cli.Float64Flag{Name: "fraction", Usage: "greedy budget as a fraction of document characters"},
			&cli.Float64Flag{Name: "max-fraction", Usage: "mmr budget as a fraction of document characters"},
			&cli.Float64Flag{Name: "lambda", Usage: "mmr relevance/diversity trade-off in [0,1]"},
			&cli.IntFlag{Name: "min-words", Usage: "mmr minimum word count"},
			&cli.StringFlag{Name: "order", Usage: "mmr output order: selected|document"},
			&cli.BoolFlag{Name: "keep-going", Usage: "log per-document errors and continue"},
		},
		Action: func(c *cli.Context) error {
			a.applySummaryFlags(c)
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			st, err := summarykit.ParseStrategy(a.cfg.Summary.Strategy)
			if err != nil {
				return err
			}
			summarizer, err := a.newSummarizer(nil, "")
			if err != nil {
				return err
			}
			in, done, err := a.openInput(c.Args().First())
			if err != nil {
				return err
			}
			defer done()
			return a.summarizeStream(c.Context, summarizer, a.cfg.Request(st), in, c.Bool("keep-going"))
		},
	}
}

func (a *app) applySummaryFlags(c *cli.Context) {
	s := &a.cfg.Summary
	if c.IsSet("strategy") {
		s.Strategy = c.String("strategy")
	}
	if c.IsSet("similarity") {
		s.Similarity = c.String("similarity")
	}
	if c.IsSet("budget") {
		s.GreedyBudget = c.Int("budget")
	}
	if c.IsSet("fraction") {
		s.GreedyFraction = c.Float64("fraction")
	}
	if c.IsSet("max-fraction") {
		s.MaxFraction = c.Float64("max-fraction")
	}
	if c.IsSet("lambda") {
		s.Lambda = c.Float64("lambda")
	}
	if c.IsSet("min-words") {
		s.MinWords = c.Int("min-words")
	}
	if c.IsSet("order") {
		s.Order = c.String("order")
	}
}

func (a *app) summarizeStream(ctx context.Context, s *summarykit.Summarizer, req summarykit.Request, in io.Reader, keepGoing bool) error {
	out := bufio.NewWriter(a.stdout)
	defer out.Flush()
	enc := json.NewEncoder(out)

	return readDocuments(in, func(line int, raw inputDocument) error {
		doc, err := raw.document()
		if err == nil {
			var sum summarykit.Summary
			sum, err = s.Summarize(ctx, doc, req)
			if err == nil {
				indices := sum.Units.Indices()
				if indices == nil {
					indices = []int{}
				}
				return enc.Encode(outputSummary{
					ID:       sum.DocumentID,
					Strategy: string(sum.Strategy),
					Indices:  indices,
					Summary:  sum.Text,
				})
			}
		}
		if !keepGoing {
			return err
		}
		a.logger.WithError(err).WithFields(logrus.Fields{
			"action":   "summarize",
			"document": raw.ID,
			"line":     line,
		}).Warn("skipping document")
		return nil
	})
}
