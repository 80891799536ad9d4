package models

// DefaultMaxCombinations caps GenerateCombinations when the caller sets no limit.
const DefaultMaxCombinations = 20

type GenerateCombinationsRequest struct {
	HookClipIDs     []int64 `json:"hook_clip_ids" validate:"dive,gt=0"`
	BodyClipIDs     []int64 `json:"body_clip_ids" validate:"dive,gt=0"`
	CatClipIDs      []int64 `json:"cat_clip_ids" validate:"dive,gt=0"`
	VoiceoverIDs    []int64 `json:"voiceover_ids" validate:"required,min=1,dive,gt=0"`
	MaxCombinations int     `json:"max_combinations,omitempty" validate:"omitempty,min=1,max=100"`
}

// GenerateCombinations expands clip and voiceover selections into combinations.
//
// For every voiceover, hook and cat (a missing hook or cat list counts as "none"),
// it emits one combination with all body clips and, when there are several, one
// per individual body clip. Without body clips it emits a single hook/cat
// combination. The result is capped at MaxCombinations and skips combinations with
// no video source at all.
func GenerateCombinations(req GenerateCombinationsRequest) []CombinationRequest {
	limit := req.MaxCombinations
	if limit <= 0 {
		limit = DefaultMaxCombinations
	}

	hooks := optionalIDs(req.HookClipIDs)
	cats := optionalIDs(req.CatClipIDs)

	combos := make([]CombinationRequest, 0, limit)
	add := func(c CombinationRequest) bool {
		if !c.HasVideoSource() {
			return len(combos) < limit
		}
		combos = append(combos, c)
		return len(combos) < limit
	}

	for _, voiceoverID := range req.VoiceoverIDs {
		for _, hookID := range hooks {
			for _, catID := range cats {
				base := CombinationRequest{
					HookClipID:  hookID,
					CatClipID:   catID,
					VoiceoverID: int64Ptr(voiceoverID),
				}

				if len(req.BodyClipIDs) == 0 {
					c := base
					c.BodyClipIDs = []int64{}
					if !add(c) {
						return combos
					}
					continue
				}

				all := base
				all.BodyClipIDs = append([]int64(nil), req.BodyClipIDs...)
				if !add(all) {
					return combos
				}

				if len(req.BodyClipIDs) == 1 {
					continue
				}
				for _, bodyID := range req.BodyClipIDs {
					single := base
					single.BodyClipIDs = []int64{bodyID}
					if !add(single) {
						return combos
					}
				}
			}
		}
	}

	return combos
}

// optionalIDs turns an empty selection into a single "none" choice.
func optionalIDs(ids []int64) []*int64 {
	if len(ids) == 0 {
		return []*int64{nil}
	}
	out := make([]*int64, len(ids))
	for i := range ids {
		out[i] = int64Ptr(ids[i])
	}
	return out
}

func int64Ptr(i int64) *int64 {
	return &i
}
