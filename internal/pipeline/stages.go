package pipeline

import (
	"fmt"
	"strings"

	"github.com/bobarin/composer/internal/models"
	"github.com/bobarin/composer/internal/services"
)

// Output frame for multi-clip timelines.
const (
	frameWidth  = 1080
	frameHeight = 1920
	frameRate   = 30
)

const (
	logoMargin      = 10
	captionBaseline = 40
	captionMaxChars = 60
	fallbackCaption = "Generated Video"
)

var encodeArgs = []string{"-c:v", "libx264", "-preset", "medium", "-crf", "23"}

var logoScale = map[models.LogoSize]float64{
	models.LogoSizeSmall:  0.15,
	models.LogoSizeMedium: 0.25,
	models.LogoSizeLarge:  0.35,
}

var logoPlacement = map[models.LogoPosition]string{
	models.LogoTopLeft:     fmt.Sprintf("%d:%d", logoMargin, logoMargin),
	models.LogoTopRight:    fmt.Sprintf("W-w-%d:%d", logoMargin, logoMargin),
	models.LogoBottomLeft:  fmt.Sprintf("%d:H-h-%d", logoMargin, logoMargin),
	models.LogoBottomRight: fmt.Sprintf("W-w-%d:H-h-%d", logoMargin, logoMargin),
	models.LogoCenter:      "(W-w)/2:(H-h)/2",
}

type captionStyle struct {
	fontSize int
	color    string
	bold     bool
	extra    string
}

var captionStyles = map[string]captionStyle{
	"default": {fontSize: 24, color: "white", extra: "borderw=2:bordercolor=black"},
	"modern":  {fontSize: 28, color: "white", extra: "box=1:boxcolor=black@0.7:boxborderw=5"},
	"bold":    {fontSize: 32, color: "yellow", bold: true, extra: "borderw=3:bordercolor=black"},
	"minimal": {fontSize: 20, color: "white", extra: "alpha=0.8"},
}

func concatStage(sources []Source, output string) services.Stage {
	stage := services.Stage{Name: "concat", Output: output}
	for _, src := range sources {
		stage.Inputs = append(stage.Inputs, services.StageInput{Path: src.Path})
	}

	if len(sources) == 1 {
		stage.Maps = []string{"0:v"}
		stage.OutputArgs = []string{"-an", "-c:v", "copy"}
		return stage
	}

	// Clips come from different sources, so every input is brought to the same
	// geometry and frame rate before concat.
	var graph, labels strings.Builder
	for i := range sources {
		fmt.Fprintf(&graph,
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d,format=yuv420p[v%d];",
			i, frameWidth, frameHeight, frameWidth, frameHeight, frameRate, i)
		fmt.Fprintf(&labels, "[v%d]", i)
	}
	fmt.Fprintf(&graph, "%sconcat=n=%d:v=1:a=0[outv]", labels.String(), len(sources))

	stage.FilterComplex = graph.String()
	stage.Maps = []string{"[outv]"}
	stage.OutputArgs = append([]string{"-an"}, encodeArgs...)
	return stage
}

func syncStage(video, voiceover string, rec services.Reconciliation, output string) services.Stage {
	return services.Stage{
		Name: "sync",
		Inputs: []services.StageInput{
			{Path: video, Options: rec.InputOptions()},
			{Path: voiceover},
		},
		VideoFilter: rec.VideoFilter(),
		Maps:        []string{"0:v", "1:a"},
		OutputArgs:  append(append([]string{}, encodeArgs...), "-c:a", "aac"),
		Output:      output,
	}
}

// effectsStage overlays the logo and burns in captions. captionFile holds the
// caption text and is only read when captions is non-nil.
func effectsStage(video string, logo *LogoOverlay, captions *Captions, captionFile string, fonts Fonts, output string) services.Stage {
	stage := services.Stage{
		Name:   "effects",
		Inputs: []services.StageInput{{Path: video}},
		Output: output,
	}

	var chains []string
	current := "[0:v]"

	if logo != nil {
		stage.Inputs = append(stage.Inputs, services.StageInput{Path: logo.Path})
		chains = append(chains,
			fmt.Sprintf("[1:v][0:v]scale2ref=w=main_w*%.2f:h=ow/a[logo][base]", logoScaleFor(logo.Size)),
			fmt.Sprintf("[logo]format=rgba,colorchannelmixer=aa=%.2f[logoa]", clampOpacity(logo.Opacity)),
			fmt.Sprintf("[base][logoa]overlay=%s[withlogo]", logoPlacementFor(logo.Position)),
		)
		current = "[withlogo]"
	}

	if captions != nil {
		chains = append(chains, fmt.Sprintf("%s%s[outv]", current, drawtextFilter(captions.Style, captionFile, fonts)))
	} else if logo != nil {
		// rename the last label so the map stays fixed
		last := len(chains) - 1
		chains[last] = strings.TrimSuffix(chains[last], "[withlogo]") + "[outv]"
	} else {
		chains = append(chains, "[0:v]null[outv]")
	}

	stage.FilterComplex = strings.Join(chains, ";")
	stage.Maps = []string{"[outv]", "0:a?"}
	stage.OutputArgs = append(append([]string{}, encodeArgs...), "-c:a", "copy")
	return stage
}

func drawtextFilter(styleName, textFile string, fonts Fonts) string {
	style, ok := captionStyles[styleName]
	if !ok {
		style = captionStyles[models.DefaultCaptionStyle]
	}

	parts := []string{fmt.Sprintf("textfile='%s'", services.EscapeFilterPath(textFile))}

	font := fonts.Regular
	if style.bold && fonts.Bold != "" {
		font = fonts.Bold
	}
	if font != "" {
		parts = append(parts, fmt.Sprintf("fontfile='%s'", services.EscapeFilterPath(font)))
	}

	parts = append(parts,
		fmt.Sprintf("fontsize=%d", style.fontSize),
		fmt.Sprintf("fontcolor=%s", style.color),
	)
	if style.extra != "" {
		parts = append(parts, style.extra)
	}
	parts = append(parts, fmt.Sprintf("x=(w-text_w)/2:y=h-text_h-%d", captionBaseline))
	// script text is shown literally; "%" and "\" would otherwise be parsed
	parts = append(parts, "expansion=none")

	return "drawtext=" + strings.Join(parts, ":")
}

// CaptionText returns the on-screen caption for a script: the first 60 characters,
// or 57 plus an ellipsis when the script is longer.
func CaptionText(script string) string {
	text := strings.Join(strings.Fields(script), " ")
	if text == "" {
		return fallbackCaption
	}

	runes := []rune(text)
	if len(runes) <= captionMaxChars {
		return text
	}
	return string(runes[:captionMaxChars-3]) + "..."
}

func logoScaleFor(size models.LogoSize) float64 {
	if f, ok := logoScale[size]; ok {
		return f
	}
	return logoScale[models.DefaultLogoSize]
}

func logoPlacementFor(pos models.LogoPosition) string {
	if p, ok := logoPlacement[pos]; ok {
		return p
	}
	return logoPlacement[models.DefaultLogoPosition]
}

func clampOpacity(op float64) float64 {
	switch {
	case op < 0:
		return 0
	case op > 1:
		return 1
	}
	return op
}
