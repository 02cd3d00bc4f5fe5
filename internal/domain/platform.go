package domain

type Platform string

const (
	PlatformWeb Platform = "web_browser"
	PlatformApp Platform = "mobile_app"
)

type Device string

const (
	DeviceDesktop Device = "desktop"
	DeviceAndroid Device = "android"
	DeviceIOS     Device = "ios"
)

type Language string

const (
	LanguageVI Language = "vi"
	LanguageEN Language = "en"
)

// PlatformContext is built once per request by the platform validator and is
// never persisted.
type PlatformContext struct {
	Platform Platform
	Device   Device
	Language Language
}
