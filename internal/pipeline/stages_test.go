package pipeline

import (
	"strings"
	"testing"

	"github.com/bobarin/composer/internal/models"
)

func TestCaptionText(t *testing.T) {
	long := strings.Repeat("a", 75)

	tests := []struct {
		name   string
		script string
		want   string
	}{
		{"empty falls back", "   ", "Generated Video"},
		{"short kept", "Try it today", "Try it today"},
		{"whitespace collapsed", "Try\n it  today", "Try it today"},
		{"exactly sixty kept", strings.Repeat("b", 60), strings.Repeat("b", 60)},
		{"long truncated", long, strings.Repeat("a", 57) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CaptionText(tt.script); got != tt.want {
				t.Errorf("CaptionText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConcatStageNormalizesMultipleInputs(t *testing.T) {
	stage := concatStage([]Source{{Path: "a.mp4"}, {Path: "b.mp4"}, {Path: "c.mp4"}}, "out.mp4")

	if !strings.HasSuffix(stage.FilterComplex, "[v0][v1][v2]concat=n=3:v=1:a=0[outv]") {
		t.Errorf("unexpected concat graph: %s", stage.FilterComplex)
	}
	if strings.Count(stage.FilterComplex, "scale=1080:1920") != 3 {
		t.Errorf("every input should be normalized: %s", stage.FilterComplex)
	}
	if stage.Maps[0] != "[outv]" || stage.OutputArgs[0] != "-an" {
		t.Errorf("maps=%v output args=%v", stage.Maps, stage.OutputArgs)
	}
}

func TestEffectsStageLogo(t *testing.T) {
	tests := []struct {
		position models.LogoPosition
		size     models.LogoSize
		overlay  string
		scale    string
	}{
		{models.LogoTopLeft, models.LogoSizeSmall, "overlay=10:10", "main_w*0.15"},
		{models.LogoTopRight, models.LogoSizeMedium, "overlay=W-w-10:10", "main_w*0.25"},
		{models.LogoBottomLeft, models.LogoSizeLarge, "overlay=10:H-h-10", "main_w*0.35"},
		{models.LogoBottomRight, "", "overlay=W-w-10:H-h-10", "main_w*0.25"},
		{models.LogoCenter, models.LogoSizeSmall, "overlay=(W-w)/2:(H-h)/2", "main_w*0.15"},
		{"nowhere", models.LogoSizeSmall, "overlay=W-w-10:H-h-10", "main_w*0.15"},
	}

	for _, tt := range tests {
		t.Run(string(tt.position), func(t *testing.T) {
			logo := &LogoOverlay{Path: "logo.png", Position: tt.position, Size: tt.size, Opacity: 0.8}
			stage := effectsStage("in.mp4", logo, nil, "", Fonts{}, "out.mp4")

			graph := stage.FilterComplex
			if !strings.Contains(graph, tt.overlay+"[outv]") {
				t.Errorf("graph %q missing %q", graph, tt.overlay)
			}
			if !strings.Contains(graph, tt.scale) {
				t.Errorf("graph %q missing %q", graph, tt.scale)
			}
			if !strings.Contains(graph, "colorchannelmixer=aa=0.80") {
				t.Errorf("graph %q missing opacity", graph)
			}
			if len(stage.Inputs) != 2 || stage.Inputs[1].Path != "logo.png" {
				t.Errorf("logo should be the second input: %+v", stage.Inputs)
			}
		})
	}
}

func TestEffectsStageCaptionsOnly(t *testing.T) {
	stage := effectsStage("in.mp4", nil, &Captions{Style: "modern"}, "/work/caption.txt", Fonts{Regular: "/f/r.ttf"}, "out.mp4")

	graph := stage.FilterComplex
	if !strings.HasPrefix(graph, "[0:v]drawtext=textfile='/work/caption.txt':fontfile='/f/r.ttf':fontsize=28") {
		t.Errorf("unexpected caption graph: %s", graph)
	}
	if !strings.Contains(graph, "box=1") || !strings.HasSuffix(graph, "x=(w-text_w)/2:y=h-text_h-40:expansion=none[outv]") {
		t.Errorf("modern caption style not applied: %s", graph)
	}
	if strings.Join(stage.Maps, " ") != "[outv] 0:a?" {
		t.Errorf("audio must be carried over: %v", stage.Maps)
	}
	if got := strings.Join(stage.OutputArgs[len(stage.OutputArgs)-2:], " "); got != "-c:a copy" {
		t.Errorf("audio should be stream copied, got %s", got)
	}
}

func TestDrawtextStyles(t *testing.T) {
	fonts := Fonts{Regular: "/f/r.ttf", Bold: "/f/b.ttf"}

	bold := drawtextFilter("bold", "c.txt", fonts)
	if !strings.Contains(bold, "fontfile='/f/b.ttf'") || !strings.Contains(bold, "fontcolor=yellow") {
		t.Errorf("bold style = %s", bold)
	}

	minimal := drawtextFilter("minimal", "c.txt", fonts)
	if !strings.Contains(minimal, "fontsize=20") || !strings.Contains(minimal, "alpha=0.8") {
		t.Errorf("minimal style = %s", minimal)
	}

	unknown := drawtextFilter("neon", "c.txt", Fonts{})
	if strings.Contains(unknown, "fontfile") || !strings.Contains(unknown, "fontsize=24") {
		t.Errorf("unknown style should fall back to default without a font file: %s", unknown)
	}
}

func TestDrawtextShowsTextLiterally(t *testing.T) {
	for _, style := range []string{"default", "modern", "bold", "minimal"} {
		filter := drawtextFilter(style, "/work/caption.txt", Fonts{})
		if !strings.HasSuffix(filter, ":expansion=none") {
			t.Errorf("%s: text expansion must be disabled: %s", style, filter)
		}
	}

	// the caption file carries the text unchanged
	if got := CaptionText("Save 50% today \\o/"); got != "Save 50% today \\o/" {
		t.Errorf("CaptionText altered the text: %q", got)
	}
}
