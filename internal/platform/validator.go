package platform

import (
	"fmt"
	"slices"
	"strings"

	"tripc-agent/internal/domain"
)

// Pair is one (platform, device) combination.
type Pair struct {
	Platform domain.Platform
	Device   domain.Device
}

var legalPairs = []Pair{
	{domain.PlatformWeb, domain.DeviceDesktop},
	{domain.PlatformWeb, domain.DeviceAndroid},
	{domain.PlatformWeb, domain.DeviceIOS},
	{domain.PlatformApp, domain.DeviceAndroid},
	{domain.PlatformApp, domain.DeviceIOS},
}

var (
	platformAliases = map[string]domain.Platform{
		"web":         domain.PlatformWeb,
		"web_browser": domain.PlatformWeb,
		"in_app":      domain.PlatformApp,
		"in-app":      domain.PlatformApp,
		"mobile_app":  domain.PlatformApp,
	}
	devices = map[string]domain.Device{
		"desktop": domain.DeviceDesktop,
		"android": domain.DeviceAndroid,
		"ios":     domain.DeviceIOS,
	}
)

// LegalPairs returns a copy of the accepted (platform, device) table.
func LegalPairs() []Pair {
	return slices.Clone(legalPairs)
}

// InvalidError names every field that failed validation.
type InvalidError struct {
	Fields   []string
	Platform string
	Device   string
	Language string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("platform: invalid %s (platform=%q device=%q language=%q)",
		strings.Join(e.Fields, ","), e.Platform, e.Device, e.Language)
}

type Validator struct {
	languages []domain.Language
}

// NewValidator accepts the given languages, defaulting to vi and en.
func NewValidator(languages ...domain.Language) *Validator {
	if len(languages) == 0 {
		languages = []domain.Language{domain.LanguageVI, domain.LanguageEN}
	}
	return &Validator{languages: slices.Clone(languages)}
}

func (v *Validator) Languages() []domain.Language {
	return slices.Clone(v.languages)
}

// Validate checks the claimed context and reports all offending fields in a
// single *InvalidError.
func (v *Validator) Validate(platform, device, language string) (domain.PlatformContext, error) {
	var fields []string

	p, okPlatform := platformAliases[normalize(platform)]
	if !okPlatform {
		fields = append(fields, "platform")
	}
	d, okDevice := devices[normalize(device)]
	if !okDevice {
		fields = append(fields, "device")
	}
	if okPlatform && okDevice && !slices.Contains(legalPairs, Pair{p, d}) {
		fields = append(fields, "platform", "device")
	}
	lang := domain.Language(normalize(language))
	if !slices.Contains(v.languages, lang) {
		fields = append(fields, "language")
	}

	if len(fields) > 0 {
		return domain.PlatformContext{}, &InvalidError{
			Fields:   fields,
			Platform: platform,
			Device:   device,
			Language: language,
		}
	}
	return domain.PlatformContext{Platform: p, Device: d, Language: lang}, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
