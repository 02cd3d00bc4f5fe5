package cta

import (
	"errors"
	"fmt"
	"strings"

	"tripc-agent/internal/domain"
	"tripc-agent/internal/platform"
)

// ErrUnreachableState means the validator accepted a combination this table
// does not know about.
var ErrUnreachableState = errors.New("cta: unreachable platform/device combination")

// Links holds the concrete targets the table points at.
type Links struct {
	AndroidStore string
	IOSStore     string
	Landing      string
	Scheme       string
	HomeTarget   string
}

func DefaultLinks() Links {
	return Links{
		AndroidStore: "https://play.google.com/store/apps/details?id=com.tripc.ai.app",
		IOSStore:     "https://apps.apple.com/vn/app/tripc-app/id6745506417",
		Landing:      "https://tripc.ai/mobileapp",
		Scheme:       "tripc",
		HomeTarget:   "home",
	}
}

type labelKey int

const (
	labelAndroid labelKey = iota
	labelIOS
	labelGeneric
	labelDetails
	labelOpenApp
)

var labels = map[domain.Language]map[labelKey]string{
	domain.LanguageVI: {
		labelAndroid: "Tải app TripC cho Android",
		labelIOS:     "Tải app TripC cho iOS",
		labelGeneric: "Tải app TripC để trải nghiệm tốt hơn",
		labelDetails: "Xem chi tiết %s",
		labelOpenApp: "Mở TripC",
	},
	domain.LanguageEN: {
		labelAndroid: "Download app TripC for Android",
		labelIOS:     "Download app TripC for iOS",
		labelGeneric: "Download app TripC for better experience",
		labelDetails: "View details %s",
		labelOpenApp: "Open TripC",
	},
}

type rule struct {
	kind  domain.CTAKind
	url   func(Links) string
	label labelKey
}

var table = map[platform.Pair]rule{
	{Platform: domain.PlatformWeb, Device: domain.DeviceDesktop}: {domain.CTADownload, func(l Links) string { return l.Landing }, labelGeneric},
	{Platform: domain.PlatformWeb, Device: domain.DeviceAndroid}: {domain.CTADownload, func(l Links) string { return l.AndroidStore }, labelAndroid},
	{Platform: domain.PlatformWeb, Device: domain.DeviceIOS}:     {domain.CTADownload, func(l Links) string { return l.IOSStore }, labelIOS},
	{Platform: domain.PlatformApp, Device: domain.DeviceAndroid}: {kind: domain.CTANavigation},
	{Platform: domain.PlatformApp, Device: domain.DeviceIOS}:     {kind: domain.CTANavigation},
}

// Engine selects the call-to-action for a response. Decide is a pure
// function of its arguments.
type Engine struct {
	links Links
}

func NewEngine(links Links) *Engine {
	def := DefaultLinks()
	if links.AndroidStore == "" {
		links.AndroidStore = def.AndroidStore
	}
	if links.IOSStore == "" {
		links.IOSStore = def.IOSStore
	}
	if links.Landing == "" {
		links.Landing = def.Landing
	}
	if links.Scheme == "" {
		links.Scheme = def.Scheme
	}
	if links.HomeTarget == "" {
		links.HomeTarget = def.HomeTarget
	}
	return &Engine{links: links}
}

// Decide returns the CTA for the given context. targetID has the form
// "<type>/<id>" and only matters for in-app navigation; without one the
// navigation points at the app home.
func (e *Engine) Decide(pc domain.PlatformContext, targetID string) (domain.CTAEntry, error) {
	r, ok := table[platform.Pair{Platform: pc.Platform, Device: pc.Device}]
	if !ok {
		return domain.CTAEntry{}, fmt.Errorf("%w: %s/%s", ErrUnreachableState, pc.Platform, pc.Device)
	}

	entry := domain.CTAEntry{Kind: r.kind, Device: pc.Device}
	if r.kind == domain.CTADownload {
		entry.URL = r.url(e.links)
		entry.Label = label(pc.Language, r.label)
		return entry, nil
	}

	target := cleanTarget(targetID)
	if target == "" {
		entry.Deeplink = e.links.Scheme + "://" + e.links.HomeTarget
		entry.Label = label(pc.Language, labelOpenApp)
		return entry, nil
	}
	kind, _, _ := strings.Cut(target, "/")
	entry.Deeplink = e.links.Scheme + "://" + target
	entry.Label = strings.TrimSpace(fmt.Sprintf(label(pc.Language, labelDetails), kind))
	return entry, nil
}

func label(lang domain.Language, key labelKey) string {
	if byKey, ok := labels[lang]; ok {
		return byKey[key]
	}
	return labels[domain.LanguageEN][key]
}

func cleanTarget(targetID string) string {
	target := strings.TrimSpace(targetID)
	if _, rest, ok := strings.Cut(target, "://"); ok {
		target = rest
	}
	return strings.Trim(target, "/")
}
