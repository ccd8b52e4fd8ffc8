package label

import (
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

// BasicFontSet is a bundled FontSet backed by golang.org/x/image's fixed
// 7x13 bitmap face, used as the default when no richer font asset
// collaborator is configured. It ignores id and size, since the bundled
// face has neither variants nor a scalable outline.
type BasicFontSet struct{}

// Face implements FontSet.
func (BasicFontSet) Face(id string, size float64) (font.Face, error) {
	return basicfont.Face7x13, nil
}
