package trend

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/protlit/protlit/internal/entity"
	"github.com/protlit/protlit/internal/store"
)

// Analyzer runs trend detection over the current embedding snapshot.
type Analyzer struct {
	cfg       Config
	meta      store.MetadataStore
	snapshots *store.SnapshotHolder
	logger    *slog.Logger
}

// NewAnalyzer creates a trend analyzer.
func NewAnalyzer(cfg Config, meta store.MetadataStore, snapshots *store.SnapshotHolder, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{cfg: cfg, meta: meta, snapshots: snapshots, logger: logger}
}

// Analyze clusters current-window embeddings into topics and scores each
// topic's volume shift against the prior window. With fewer than two
// current-window documents no clustering is attempted and the report
// carries no topics.
func (a *Analyzer) Analyze(ctx context.Context, now time.Time) (*Report, error) {
	width := time.Duration(a.cfg.WindowDays) * 24 * time.Hour
	current := Window{Start: now.Add(-width), End: now}
	prior := Window{Start: now.Add(-2 * width), End: now.Add(-width)}

	report := &Report{
		GeneratedAt: now,
		Current:     current,
		Prior:       prior,
	}

	snap := a.snapshots.Load()
	if snap == nil || snap.Len() == 0 {
		return report, nil
	}

	var (
		curIDs, priorIDs []string
		curVecs          [][]float32
		priorVecs        [][]float32
	)
	for i := 0; i < snap.Len(); i++ {
		m := snap.Meta(i)
		switch {
		case current.Contains(m.PublishedAt):
			curIDs = append(curIDs, m.DocID)
			curVecs = append(curVecs, snap.Vector(i))
		case prior.Contains(m.PublishedAt):
			priorIDs = append(priorIDs, m.DocID)
			priorVecs = append(priorVecs, snap.Vector(i))
		}
	}
	report.TotalCurrent = len(curIDs)
	report.TotalPrior = len(priorIDs)

	k := a.cfg.MaxTopics
	if half := len(curIDs) / 2; half < k {
		k = half
	}
	if k < 1 {
		a.logger.Debug("too few current-window documents for clustering",
			"current", len(curIDs))
		return report, nil
	}

	assignments := kmeans(curVecs, k, a.cfg.Seed, a.cfg.MaxIterations)
	centroids := centroidsFromAssignments(curVecs, assignments, k)

	members := make([][]string, k)
	for i, c := range assignments {
		members[c] = append(members[c], curIDs[i])
	}

	priorCounts := make([]int, k)
	for _, v := range priorVecs {
		priorCounts[nearestCentroid(v, centroids)]++
	}

	labels, terms, err := a.labelClusters(ctx, members)
	if err != nil {
		return nil, err
	}

	for c := 0; c < k; c++ {
		if len(members[c]) == 0 {
			continue
		}
		sort.Strings(members[c])
		topic := Topic{
			Label:        labels[c],
			Terms:        terms[c],
			CurrentCount: len(members[c]),
			PriorCount:   priorCounts[c],
			DocIDs:       members[c],
		}
		priorDivisor := topic.PriorCount
		if priorDivisor < 1 {
			priorDivisor = 1
		}
		topic.GrowthRate = float64(topic.CurrentCount-topic.PriorCount) / float64(priorDivisor)
		topic.ZScore = twoProportionZ(
			topic.CurrentCount, report.TotalCurrent,
			topic.PriorCount, report.TotalPrior,
		)
		topic.Emerging = topic.GrowthRate > 0 && topic.ZScore >= a.cfg.ZThreshold
		report.Topics = append(report.Topics, topic)
	}

	sort.Slice(report.Topics, func(i, j int) bool {
		a, b := report.Topics[i], report.Topics[j]
		if a.ZScore != b.ZScore {
			return a.ZScore > b.ZScore
		}
		return a.Label < b.Label
	})
	return report, nil
}

// labelClusters names each cluster from the most frequent entity surface
// forms among its member documents. Clusters fetch their documents
// concurrently; clusters whose documents carry no entities get a
// positional fallback label.
func (a *Analyzer) labelClusters(ctx context.Context, members [][]string) (labels []string, terms [][]string, err error) {
	labels = make([]string, len(members))
	terms = make([][]string, len(members))

	g, gctx := errgroup.WithContext(ctx)
	for c, ids := range members {
		if len(ids) == 0 {
			continue
		}
		g.Go(func() error {
			docs, err := a.meta.GetDocuments(gctx, ids)
			if err != nil {
				return err
			}

			freq := make(map[string]int)
			for _, doc := range docs {
				seen := make(map[string]struct{})
				for _, m := range doc.Entities {
					key := entity.Normalize(m.Text)
					if key == "" {
						continue
					}
					// Count each term once per document so a single
					// mention-heavy abstract cannot dominate the label.
					if _, dup := seen[key]; dup {
						continue
					}
					seen[key] = struct{}{}
					freq[key]++
				}
			}

			terms[c] = topTerms(freq, a.cfg.LabelTerms)
			if len(terms[c]) > 0 {
				labels[c] = strings.Join(terms[c], " / ")
			} else {
				labels[c] = fmt.Sprintf("topic-%d", c+1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return labels, terms, nil
}

// topTerms returns the n most frequent terms, frequency descending and
// alphabetical on ties so labels are stable.
func topTerms(freq map[string]int, n int) []string {
	type tf struct {
		term  string
		count int
	}
	ranked := make([]tf, 0, len(freq))
	for t, c := range freq {
		ranked = append(ranked, tf{t, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].term < ranked[j].term
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.term
	}
	return out
}

// twoProportionZ computes the pooled two-proportion z statistic for a
// topic's share of the current window versus the prior window. Degenerate
// inputs (an empty window, a pooled proportion of 0 or 1) score zero.
func twoProportionZ(cur, curTotal, prior, priorTotal int) float64 {
	if curTotal == 0 || priorTotal == 0 {
		return 0
	}
	p1 := float64(cur) / float64(curTotal)
	p2 := float64(prior) / float64(priorTotal)
	pooled := float64(cur+prior) / float64(curTotal+priorTotal)
	if pooled <= 0 || pooled >= 1 {
		return 0
	}
	se := math.Sqrt(pooled * (1 - pooled) *
		(1/float64(curTotal) + 1/float64(priorTotal)))
	if se == 0 {
		return 0
	}
	return (p1 - p2) / se
}
