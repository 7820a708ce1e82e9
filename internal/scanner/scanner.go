// Package scanner orchestrates one pass over the kernel process tree: build
// a network snapshot, extract every process, score it, rank the results,
// and hand both the full population and the min-score-selected subset to
// the caller for reporting/action.
package scanner

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/procwatch/internal/anomaly"
	"github.com/lucid-vigil/procwatch/internal/features"
	"github.com/lucid-vigil/procwatch/internal/heuristics"
	"github.com/lucid-vigil/procwatch/internal/kernelfs"
	"github.com/lucid-vigil/procwatch/internal/netstat"
	"github.com/lucid-vigil/procwatch/internal/procmodel"
	"github.com/lucid-vigil/procwatch/internal/whitelist"
)

// Options configures a Scanner's scoring and selection policy.
type Options struct {
	ProcRoot  string
	MinScore  float64
	TopK      int
	MLWeight  float64
	Whitelist *whitelist.Whitelist
	Model     anomaly.Model // nil means "anomaly score is always 0"
}

// Scanner runs scan passes over the kernel process tree.
type Scanner struct {
	src  *kernelfs.Source
	eval *heuristics.Evaluator
	opts Options
}

// New returns a Scanner rooted at opts.ProcRoot, scoring with eval.
func New(eval *heuristics.Evaluator, opts Options) *Scanner {
	root := opts.ProcRoot
	if root == "" {
		root = kernelfs.Root
	}
	return &Scanner{src: kernelfs.NewAt(root), eval: eval, opts: opts}
}

// Pass runs one scan: it builds a fresh network table, extracts and scores
// every visible process, and returns a PassResult holding every scored
// record (ranked descending by total score, ties broken by ascending PID)
// alongside the subset meeting MinScore, truncated to TopK when TopK > 0.
func (s *Scanner) Pass(ctx context.Context) procmodel.PassResult {
	net := netstat.Build(s.opts.ProcRoot)
	extractor := features.New(s.src, net, s.opts.ProcRoot)

	pids := s.src.ListPIDs()
	results := make([]procmodel.ScoredRecord, 0, len(pids))

	for _, pid := range pids {
		select {
		case <-ctx.Done():
			return rankAndSelect(results, s.opts.MinScore, s.opts.TopK)
		default:
		}

		rec, ok := extractor.Extract(pid)
		if !ok {
			continue
		}

		scored := s.score(rec)
		results = append(results, scored)
	}

	return rankAndSelect(results, s.opts.MinScore, s.opts.TopK)
}

// score turns one extracted record into a fully scored record: findings,
// whitelist reduction, anomaly score, total, and status bucket.
func (s *Scanner) score(rec procmodel.ProcessRecord) procmodel.ScoredRecord {
	findings := s.eval.Evaluate(rec)

	var heuristicScore float64
	for _, f := range findings {
		heuristicScore += f.Weight
	}

	whitelisted := false
	if s.opts.Whitelist != nil {
		findings, heuristicScore, whitelisted = s.opts.Whitelist.Apply(rec, findings, heuristicScore)
	}

	var mlScore float64
	if s.opts.Model != nil {
		mlScore = s.opts.Model.Score(anomaly.Vector(rec))
	}

	total := heuristicScore + s.opts.MLWeight*mlScore

	return procmodel.ScoredRecord{
		Record:         rec,
		Findings:       findings,
		HeuristicScore: heuristicScore,
		MLScore:        mlScore,
		TotalScore:     total,
		Whitelisted:    whitelisted,
		Status:         procmodel.Classify(total),
	}
}

// rankAndSelect sorts every scored record descending by total score (ties
// broken by ascending PID) into All, then derives Findings as the subset
// meeting minScore, truncated to topK when topK > 0. All is never filtered
// or truncated — it is the full per-pass population spec consumers rely on.
func rankAndSelect(results []procmodel.ScoredRecord, minScore float64, topK int) procmodel.PassResult {
	all := append([]procmodel.ScoredRecord(nil), results...)
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].TotalScore != all[j].TotalScore {
			return all[i].TotalScore > all[j].TotalScore
		}
		return all[i].Record.PID < all[j].Record.PID
	})

	findings := make([]procmodel.ScoredRecord, 0, len(all))
	for _, r := range all {
		if r.TotalScore >= minScore {
			findings = append(findings, r)
		}
	}
	if topK > 0 && len(findings) > topK {
		findings = findings[:topK]
	}

	return procmodel.PassResult{All: all, Findings: findings}
}

// Report is called once per pass with the full pass result, in order.
type Report func(ctx context.Context, result procmodel.PassResult)

// RunContinuous runs Pass repeatedly on interval until ctx is canceled,
// invoking report after every pass. It runs one pass immediately before
// entering the ticker loop, matching the teacher's scheduler behavior. When
// stopOnAlert is true, the loop exits as soon as a pass yields any critical
// record.
func (s *Scanner) RunContinuous(ctx context.Context, interval time.Duration, stopOnAlert bool, report Report) {
	runOnce := func() bool {
		result := s.Pass(ctx)
		report(ctx, result)
		if !stopOnAlert {
			return false
		}
		for _, r := range result.Findings {
			if r.Status == procmodel.StatusCritical {
				return true
			}
		}
		return false
	}

	if runOnce() {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if runOnce() {
				return
			}
		case <-ctx.Done():
			log.Info().Msg("scanner received shutdown signal")
			return
		}
	}
}

// RunTraining extracts every visible process at interval (no scoring),
// collecting feature vectors from every record observed (not just the ones above MinScore — the
// estimator needs the full population to learn a baseline), for duration.
func (s *Scanner) RunTraining(ctx context.Context, duration, interval time.Duration) [][]float64 {
	deadline := time.Now().Add(duration)
	var vectors [][]float64

	collect := func() {
		net := netstat.Build(s.opts.ProcRoot)
		extractor := features.New(s.src, net, s.opts.ProcRoot)
		for _, pid := range s.src.ListPIDs() {
			rec, ok := extractor.Extract(pid)
			if !ok {
				continue
			}
			vectors = append(vectors, anomaly.Vector(rec))
		}
	}

	collect()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		select {
		case <-ticker.C:
			collect()
		case <-ctx.Done():
			return vectors
		}
	}
	return vectors
}
