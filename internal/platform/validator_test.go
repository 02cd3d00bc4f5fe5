package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"tripc-agent/internal/domain"
)

func TestValidate_ExhaustivePairs(t *testing.T) {
	v := NewValidator()
	platforms := []domain.Platform{domain.PlatformWeb, domain.PlatformApp}
	devs := []domain.Device{domain.DeviceDesktop, domain.DeviceAndroid, domain.DeviceIOS}

	legal := map[Pair]bool{}
	for _, p := range LegalPairs() {
		legal[p] = true
	}

	for _, p := range platforms {
		for _, d := range devs {
			pc, err := v.Validate(string(p), string(d), "en")
			if legal[Pair{p, d}] {
				require.NoError(t, err, "%s/%s", p, d)
				require.Equal(t, domain.PlatformContext{Platform: p, Device: d, Language: domain.LanguageEN}, pc)
				continue
			}
			var invalid *InvalidError
			require.True(t, errors.As(err, &invalid), "%s/%s", p, d)
			require.Equal(t, []string{"platform", "device"}, invalid.Fields)
		}
	}
}

func TestValidate_InAppDesktopRejected(t *testing.T) {
	_, err := NewValidator().Validate("in_app", "desktop", "vi")
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
}

func TestValidate_AliasesAndCase(t *testing.T) {
	pc, err := NewValidator().Validate(" Web ", "IOS", "VI")
	require.NoError(t, err)
	require.Equal(t, domain.PlatformWeb, pc.Platform)
	require.Equal(t, domain.DeviceIOS, pc.Device)
	require.Equal(t, domain.LanguageVI, pc.Language)

	pc, err = NewValidator().Validate("mobile_app", "android", "en")
	require.NoError(t, err)
	require.Equal(t, domain.PlatformApp, pc.Platform)
}

func TestValidate_AggregatesFields(t *testing.T) {
	_, err := NewValidator().Validate("tv", "watch", "fr")
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, []string{"platform", "device", "language"}, invalid.Fields)
	require.Contains(t, err.Error(), "platform,device,language")
}

func TestValidate_LanguageCheckedIndependently(t *testing.T) {
	_, err := NewValidator().Validate("web", "desktop", "de")
	var invalid *InvalidError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, []string{"language"}, invalid.Fields)

	pc, err := NewValidator(domain.LanguageEN, "de").Validate("web", "desktop", "de")
	require.NoError(t, err)
	require.Equal(t, domain.Language("de"), pc.Language)
}
