package evaluation

import "drift-benchmark/core/models"

// EnumeratePairs derives the full set of required comparison pairs from a
// completed artifact sequence. The policy is fixed:
//
//   - every transformation step yields a cross-modal pair (input, output);
//   - every artifact whose modality appeared earlier yields an intra-modal
//     pair against that modality's first artifact (the seed anchor), plus
//     one against the immediately preceding same-modality artifact when
//     that differs from the base.
//
// Enumeration is deterministic: pairs are emitted in iteration order, the
// earlier index always on the left.
func EnumeratePairs(artifacts []models.Artifact) []models.ComparisonPair {
	if len(artifacts) < 2 {
		return nil
	}

	itemID := artifacts[0].ItemID
	firstIndex := map[models.Modality]int{artifacts[0].Modality: 0}
	lastIndex := map[models.Modality]int{artifacts[0].Modality: 0}

	var pairs []models.ComparisonPair
	for i := 1; i < len(artifacts); i++ {
		curr := artifacts[i]
		prev := artifacts[i-1]

		pairs = append(pairs, models.ComparisonPair{
			ItemID:     itemID,
			Kind:       models.PairCrossModal,
			Anchor:     models.AnchorStep,
			LeftIndex:  prev.IterationIndex,
			RightIndex: curr.IterationIndex,
			LeftRef:    prev.Ref,
			RightRef:   curr.Ref,
		})

		if base, ok := firstIndex[curr.Modality]; ok {
			pairs = append(pairs, models.ComparisonPair{
				ItemID:     itemID,
				Kind:       intraKind(curr.Modality),
				Anchor:     models.AnchorSeed,
				LeftIndex:  artifacts[base].IterationIndex,
				RightIndex: curr.IterationIndex,
				LeftRef:    artifacts[base].Ref,
				RightRef:   curr.Ref,
			})
			if prevSame := lastIndex[curr.Modality]; prevSame != base {
				pairs = append(pairs, models.ComparisonPair{
					ItemID:     itemID,
					Kind:       intraKind(curr.Modality),
					Anchor:     models.AnchorPrevious,
					LeftIndex:  artifacts[prevSame].IterationIndex,
					RightIndex: curr.IterationIndex,
					LeftRef:    artifacts[prevSame].Ref,
					RightRef:   curr.Ref,
				})
			}
		} else {
			firstIndex[curr.Modality] = i
		}
		lastIndex[curr.Modality] = i
	}
	return pairs
}

func intraKind(m models.Modality) models.PairKind {
	if m == models.ModalityText {
		return models.PairIntraText
	}
	return models.PairIntraImage
}
