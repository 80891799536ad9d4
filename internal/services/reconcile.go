package services

import (
	"fmt"
	"math"
)

// Strategy is how a silent video timeline is fitted to a narration track.
type Strategy string

const (
	StrategySpeed Strategy = "speed_adjustment" // time-scale the whole timeline
	StrategyTrim  Strategy = "trim"             // cut the timeline at the narration length
	StrategyLoop  Strategy = "loop"             // repeat the timeline, then cut
)

// Speed adjustment is only used inside this band, where the change is imperceptible.
const (
	speedAdjustmentThreshold = 0.2
	minSpeedFactor           = 0.5
	maxSpeedFactor           = 2.0
)

// Reconciliation is the chosen strategy plus the numbers needed to apply it.
type Reconciliation struct {
	Strategy          Strategy
	VideoDuration     float64
	VoiceoverDuration float64
	SpeedFactor       float64 // video / voiceover
	PTSFactor         float64 // multiplier on presentation timestamps (speed only)
	LoopCount         int     // total plays of the timeline (loop only)
}

// Reconcile picks the video-timing strategy for a silent video of videoDuration
// seconds and a narration of voiceoverDuration seconds. It is a pure function.
func Reconcile(videoDuration, voiceoverDuration float64) (Reconciliation, error) {
	if !validDuration(videoDuration) {
		return Reconciliation{}, fmt.Errorf("invalid video duration %v", videoDuration)
	}
	if !validDuration(voiceoverDuration) {
		return Reconciliation{}, fmt.Errorf("invalid voiceover duration %v", voiceoverDuration)
	}

	r := Reconciliation{
		VideoDuration:     videoDuration,
		VoiceoverDuration: voiceoverDuration,
		SpeedFactor:       videoDuration / voiceoverDuration,
	}

	switch {
	case r.SpeedFactor >= minSpeedFactor && r.SpeedFactor <= maxSpeedFactor &&
		math.Abs(r.SpeedFactor-1) <= speedAdjustmentThreshold:
		r.Strategy = StrategySpeed
		r.PTSFactor = 1 / r.SpeedFactor
	case videoDuration > voiceoverDuration:
		r.Strategy = StrategyTrim
	default:
		r.Strategy = StrategyLoop
		r.LoopCount = int(math.Ceil(voiceoverDuration / videoDuration))
	}

	return r, nil
}

// InputOptions returns options placed before the video input (-i).
// Looping is done by the demuxer so frames are not buffered in memory.
func (r Reconciliation) InputOptions() []string {
	if r.Strategy == StrategyLoop && r.LoopCount > 1 {
		return []string{"-stream_loop", fmt.Sprintf("%d", r.LoopCount-1)}
	}
	return nil
}

// VideoFilter returns the -filter:v expression applying the strategy.
func (r Reconciliation) VideoFilter() string {
	switch r.Strategy {
	case StrategySpeed:
		return fmt.Sprintf("setpts=%.6f*PTS", r.PTSFactor)
	default:
		return fmt.Sprintf("trim=duration=%.3f,setpts=PTS-STARTPTS", r.VoiceoverDuration)
	}
}

func (r Reconciliation) String() string {
	switch r.Strategy {
	case StrategySpeed:
		return fmt.Sprintf("%s (%.3fx, pts*%.3f)", r.Strategy, r.SpeedFactor, r.PTSFactor)
	case StrategyLoop:
		return fmt.Sprintf("%s (%d plays, trim to %.2fs)", r.Strategy, r.LoopCount, r.VoiceoverDuration)
	default:
		return fmt.Sprintf("%s (to %.2fs)", r.Strategy, r.VoiceoverDuration)
	}
}

func validDuration(d float64) bool {
	return d > 0 && !math.IsInf(d, 0) && !math.IsNaN(d)
}
