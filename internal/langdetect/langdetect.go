// Package langdetect guesses the ISO 639-1 language of user text.
package langdetect

import (
	"errors"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Unknown is reported when detection fails.
const Unknown = "unknown"

// ErrUndetermined is returned when the text carries no usable language signal.
var ErrUndetermined = errors.New("language could not be determined")

// supported maps the whitelistable ISO 639-1 codes to detector languages.
var supported = map[string]whatlanggo.Lang{
	"ar": whatlanggo.Arb,
	"fr": whatlanggo.Fra,
	"en": whatlanggo.Eng,
	"it": whatlanggo.Ita,
	"de": whatlanggo.Deu,
	"es": whatlanggo.Spa,
}

// Detector wraps whatlanggo with an optional language whitelist.
type Detector struct {
	opts whatlanggo.Options
}

// New returns a detector. With no codes every supported language is considered; otherwise
// detection is restricted to the given ISO 639-1 codes; unsupported codes are ignored.
func New(codes ...string) *Detector {
	d := &Detector{}
	for _, c := range codes {
		lang, ok := supported[strings.ToLower(strings.TrimSpace(c))]
		if !ok {
			continue
		}
		if d.opts.Whitelist == nil {
			d.opts.Whitelist = make(map[whatlanggo.Lang]bool)
		}
		d.opts.Whitelist[lang] = true
	}
	return d
}

// Detect returns the ISO 639-1 code of text, or ErrUndetermined.
func (d *Detector) Detect(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrUndetermined
	}
	info := whatlanggo.DetectWithOptions(text, d.opts)
	if info.Lang < 0 {
		return "", ErrUndetermined
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return "", ErrUndetermined
	}
	return code, nil
}
