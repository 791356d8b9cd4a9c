package surface

import (
	"image"

	"github.com/rs/zerolog"

	"go2tv.app/castcompanion/internal/playback"
)

// LogSurface mirrors what a surface would show into the log. It stands in for
// the notification surface on headless runs.
type LogSurface struct {
	Name string
	Log  zerolog.Logger
}

// Render logs the directive.
func (s *LogSurface) Render(d playback.Directive) {
	ev := s.Log.Info().Str("Surface", s.Name)
	if d.SurfaceHidden {
		ev.Msg("surface hidden")
		return
	}
	ev.Bool("PlayControl", d.PlayControlVisible).
		Str("Glyph", d.PlayControlGlyph.String()).
		Bool("Loading", d.LoadingVisible).
		Msg("render")
}

// SetImage logs the artwork dimensions.
func (s *LogSurface) SetImage(img image.Image) {
	if img == nil {
		s.Log.Info().Str("Surface", s.Name).Msg("artwork cleared")
		return
	}
	b := img.Bounds()
	s.Log.Info().Str("Surface", s.Name).Int("Width", b.Dx()).Int("Height", b.Dy()).Msg("artwork")
}

// SetTitle logs the media title.
func (s *LogSurface) SetTitle(title string) {
	s.Log.Info().Str("Surface", s.Name).Str("Title", title).Msg("title")
}
