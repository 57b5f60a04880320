package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"drift-benchmark/core/models"
	"drift-benchmark/core/retrypolicy"
	"drift-benchmark/storage"
)

// Evaluator is the capability that scores one comparison pair against the
// five-dimension rubric. Implementations classify failures with
// retrypolicy.Transient / retrypolicy.Permanent.
type Evaluator interface {
	Evaluate(ctx context.Context, left, right models.Artifact, leftPayload, rightPayload []byte, rubricID string) (map[string]models.Score, error)
}

// Engine enumerates the required comparison pairs for completed loops,
// invokes the Evaluator per pair, validates the scoring contract, and
// persists one RatingRecord per pair. Pair failures are contained: after
// retry exhaustion a sentinel unscored record is written and the item's
// rating set is flagged degraded.
type Engine struct {
	store     *storage.ArtifactStore
	evaluator Evaluator
	policy    retrypolicy.Policy
	rubrics   models.RubricSpec

	// PairConcurrency bounds parallel evaluator calls within one item
	PairConcurrency int
}

// NewEngine creates an evaluation engine
func NewEngine(store *storage.ArtifactStore, evaluator Evaluator, policy retrypolicy.Policy, rubrics models.RubricSpec) *Engine {
	return &Engine{
		store:           store,
		evaluator:       evaluator,
		policy:          policy,
		rubrics:         rubrics,
		PairConcurrency: 4,
	}
}

// ItemRatingSet summarizes the outcome of evaluating one item
type ItemRatingSet struct {
	ItemID   string
	Scored   int
	Unscored int
}

// Degraded reports whether any pair finished without a valid rating
func (s ItemRatingSet) Degraded() bool { return s.Unscored > 0 }

// EvaluateItem scores every required pair for one item's artifact
// sequence. Already-rated pairs are skipped, making evaluation idempotent
// across restarts. The returned error is infrastructure-level only.
func (e *Engine) EvaluateItem(ctx context.Context, itemID string, artifacts []models.Artifact) (ItemRatingSet, error) {
	set := ItemRatingSet{ItemID: itemID}

	pairs := EnumeratePairs(artifacts)
	if len(pairs) == 0 {
		return set, nil
	}

	existing, err := e.store.LoadRatings(itemID)
	if err != nil {
		return set, err
	}
	rated := make(map[string]bool, len(existing))
	for _, rec := range existing {
		rated[pairKey(rec.Pair)] = true
		if rec.Unscored {
			set.Unscored++
		} else {
			set.Scored++
		}
	}

	byIndex := make(map[int]models.Artifact, len(artifacts))
	for _, a := range artifacts {
		byIndex[a.IterationIndex] = a
	}

	limit := e.PairConcurrency
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var infraErr error

	for _, pair := range pairs {
		if rated[pairKey(pair)] {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(pair models.ComparisonPair) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rec, err := e.evaluatePair(ctx, pair, byIndex[pair.LeftIndex], byIndex[pair.RightIndex])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if infraErr == nil {
					infraErr = err
				}
				return
			}
			if rec.Unscored {
				set.Unscored++
			} else {
				set.Scored++
			}
		}(pair)
	}
	wg.Wait()

	if infraErr != nil {
		return set, infraErr
	}
	if ctx.Err() != nil {
		return set, ctx.Err()
	}
	if set.Unscored > 0 {
		log.Printf("WARNING: item %s rating set is degraded (%d scored, %d unscored)", itemID, set.Scored, set.Unscored)
	}
	return set, nil
}

// evaluatePair invokes the Evaluator under the retry policy and persists
// the resulting record. A response failing contract validation is a
// retryable evaluator error; exhaustion yields a sentinel unscored record
// rather than an error.
func (e *Engine) evaluatePair(ctx context.Context, pair models.ComparisonPair, left, right models.Artifact) (models.RatingRecord, error) {
	rec := models.RatingRecord{ItemID: pair.ItemID, Pair: pair}

	leftPayload, err := e.store.ReadArtifact(pair.ItemID, pair.LeftRef)
	if err != nil {
		return rec, err
	}
	rightPayload, err := e.store.ReadArtifact(pair.ItemID, pair.RightRef)
	if err != nil {
		return rec, err
	}

	scores, _, err := retrypolicy.Do(ctx, e.policy, func() (map[string]models.Score, error) {
		raw, err := e.evaluator.Evaluate(ctx, left, right, leftPayload, rightPayload, e.rubricFor(pair.Kind))
		if err != nil {
			return nil, err
		}
		normalized, err := ValidateScores(raw)
		if err != nil {
			return nil, retrypolicy.Transient(fmt.Errorf("evaluator response rejected: %w", err))
		}
		return normalized, nil
	})

	rec.ComputedAt = time.Now().UTC()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return rec, err
		}
		rec.Unscored = true
		rec.Error = err.Error()
	} else {
		rec.Scores = scores
	}

	if saveErr := e.store.SaveRating(rec); saveErr != nil {
		return rec, saveErr
	}
	return rec, nil
}

// rubricFor selects the configured rubric prompt id for a pair kind
func (e *Engine) rubricFor(kind models.PairKind) string {
	switch kind {
	case models.PairIntraText:
		return e.rubrics.IntraText
	case models.PairIntraImage:
		return e.rubrics.IntraImage
	default:
		return e.rubrics.CrossModal
	}
}

// ValidateScores checks an evaluator response against the scoring
// contract: exactly the five rubric dimensions, each value within
// [ScoreMin, ScoreMax] with a non-empty justification. Values are
// normalized to one decimal of precision; out-of-range values are
// rejected, never clamped.
func ValidateScores(raw map[string]models.Score) (map[string]models.Score, error) {
	if raw == nil {
		return nil, fmt.Errorf("no scores returned")
	}

	normalized := make(map[string]models.Score, len(models.ScoreDimensions))
	for _, dim := range models.ScoreDimensions {
		score, ok := raw[dim]
		if !ok {
			return nil, fmt.Errorf("missing score dimension %q", dim)
		}
		if score.Value < models.ScoreMin || score.Value > models.ScoreMax {
			return nil, fmt.Errorf("score %q = %v outside [%v, %v]", dim, score.Value, models.ScoreMin, models.ScoreMax)
		}
		if score.Justification == "" {
			return nil, fmt.Errorf("score %q has no justification", dim)
		}
		score.Value = math.Round(score.Value*10) / 10
		normalized[dim] = score
	}
	return normalized, nil
}

func pairKey(p models.ComparisonPair) string {
	return fmt.Sprintf("%s/%s/%d-%d", p.Kind, p.Anchor, p.LeftIndex, p.RightIndex)
}
