package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripc-agent/internal/cta"
	"tripc-agent/internal/domain"
	"tripc-agent/internal/platform"
	"tripc-agent/internal/session"
)

type fakeClassifier struct {
	mu     sync.Mutex
	intent domain.Intent
	err    error
	block  bool
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, _ string) (domain.Intent, error) {
	f.mu.Lock()
	f.calls++
	intent, err, block := f.intent, f.err, f.block
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return intent, err
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeKeywords struct {
	kw    domain.KeywordSet
	err   error
	calls int
}

func (f *fakeKeywords) Extract(_ context.Context, _ string) (domain.KeywordSet, error) {
	f.calls++
	return f.kw, f.err
}

type fakeMatcher struct {
	ids   []int
	err   error
	calls int
}

func (f *fakeMatcher) Match(_ context.Context, _ domain.KeywordSet) ([]int, error) {
	f.calls++
	return f.ids, f.err
}

type fakeKnowledge struct {
	mu          sync.Mutex
	ans         domain.KnowledgeAnswer
	err         error
	calls       int
	lastHistory []domain.Turn
}

func (f *fakeKnowledge) Search(_ context.Context, _ string, _ domain.Language, history []domain.Turn) (domain.KnowledgeAnswer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastHistory = history
	return f.ans, f.err
}

type fakeServices struct {
	services   []domain.Service
	err        error
	calls      int
	categories []int
	regions    []int
}

func (f *fakeServices) SearchServices(_ context.Context, categoryIDs, regionIDs []int) ([]domain.Service, error) {
	f.calls++
	f.categories = categoryIDs
	f.regions = regionIDs
	return f.services, f.err
}

func (f *fakeServices) Sources() []domain.Source {
	return []domain.Source{{Title: "TripC API", URL: "https://api.tripc.ai/api/services/restaurants"}}
}

type fakeRewriter struct {
	out   string
	err   error
	calls int
}

func (f *fakeRewriter) Rewrite(_ context.Context, _ string, _ domain.Language) (string, error) {
	f.calls++
	return f.out, f.err
}

type savedTurn struct {
	conversationID, owner, question, answer string
	intent                                  domain.Intent
}

type fakeTranscript struct {
	saved []savedTurn
	err   error
}

func (f *fakeTranscript) SaveCompletedTurn(_ context.Context, conversationID, owner, question, answer string, intent domain.Intent) error {
	f.saved = append(f.saved, savedTurn{conversationID, owner, question, answer, intent})
	return f.err
}

type driftCTA struct{}

func (driftCTA) Decide(pc domain.PlatformContext, _ string) (domain.CTAEntry, error) {
	return domain.CTAEntry{}, fmt.Errorf("%w: %s/%s", cta.ErrUnreachableState, pc.Platform, pc.Device)
}

type statusError struct{ code int }

func (e *statusError) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *statusError) HTTPStatusCode() int { return e.code }

// evictOnceStore reports the conversation as evicted on the first append.
type evictOnceStore struct {
	*session.Store
	mu       sync.Mutex
	evicted  bool
	resolves int
}

func (s *evictOnceStore) Resolve(identity session.Identity, explicitKey string) (session.Handle, error) {
	s.mu.Lock()
	s.resolves++
	s.mu.Unlock()
	return s.Store.Resolve(identity, explicitKey)
}

func (s *evictOnceStore) AppendTurns(h session.Handle, turns ...domain.Turn) error {
	s.mu.Lock()
	first := !s.evicted
	s.evicted = true
	s.mu.Unlock()
	if first {
		return fmt.Errorf("session: AppendTurns %s: %w", h.Key, session.ErrConversationNotFound)
	}
	return s.Store.AppendTurns(h, turns...)
}

// gatedStore holds the first append until release is closed.
type gatedStore struct {
	*session.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(store *session.Store) *gatedStore {
	return &gatedStore{Store: store, entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *gatedStore) AppendTurns(h session.Handle, turns ...domain.Turn) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.Store.AppendTurns(h, turns...)
}

type fixture struct {
	store      *session.Store
	classifier *fakeClassifier
	keywords   *fakeKeywords
	matcher    *fakeMatcher
	knowledge  *fakeKnowledge
	services   *fakeServices
}

func newFixture() *fixture {
	return &fixture{
		store:      session.NewStore(),
		classifier: &fakeClassifier{intent: domain.IntentKnowledge},
		keywords:   &fakeKeywords{kw: domain.KeywordSet{CommonNouns: []string{"seafood"}}},
		matcher:    &fakeMatcher{ids: []int{3}},
		knowledge:  &fakeKnowledge{ans: domain.KnowledgeAnswer{Answer: "Da Nang is sunny in spring."}},
		services: &fakeServices{services: []domain.Service{
			{ID: 10, Name: "Bé Mặn", Type: "restaurant", Rating: 4.8},
			{ID: 11, Name: "Năm Đảnh", Type: "restaurant", Rating: 4.5},
		}},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Sessions:   f.store,
		Validator:  platform.NewValidator(),
		Classifier: f.classifier,
		Keywords:   f.keywords,
		Categories: f.matcher,
		Knowledge:  f.knowledge,
		Services:   f.services,
		CTA:        cta.NewEngine(cta.DefaultLinks()),
	}
}

func newTestChat(t *testing.T, f *fixture, opts ...Option) *ChatService {
	t.Helper()
	svc, err := NewChatService(f.deps(), opts...)
	require.NoError(t, err)
	return svc
}

func input(message, platformName, device string) ChatInput {
	return ChatInput{
		Message:  message,
		Platform: platformName,
		Device:   device,
		Language: "en",
		Identity: session.DeriveIdentity("user-1", "", ""),
	}
}

func expectChatError(t *testing.T, resp domain.ChatResponse, err error, code ErrorCode) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, domain.ResponseError, resp.Type)
	require.Equal(t, string(code), resp.ErrorCode)
	require.NotEmpty(t, resp.AnswerAI)
	require.NotNil(t, resp.Sources)
	require.Nil(t, resp.CTA)
}

func turnsOf(t *testing.T, store *session.Store, identity session.Identity) session.Snapshot {
	t.Helper()
	h, err := store.Resolve(identity, "")
	require.NoError(t, err)
	snap, err := store.Context(h, 0)
	require.NoError(t, err)
	return snap
}

// ---------------------------------------------------------------------------
// Construction

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	tests := []struct {
		name  string
		unset func(*Deps)
	}{
		{"sessions", func(d *Deps) { d.Sessions = nil }},
		{"validator", func(d *Deps) { d.Validator = nil }},
		{"classifier", func(d *Deps) { d.Classifier = nil }},
		{"keywords", func(d *Deps) { d.Keywords = nil }},
		{"categories", func(d *Deps) { d.Categories = nil }},
		{"knowledge", func(d *Deps) { d.Knowledge = nil }},
		{"services", func(d *Deps) { d.Services = nil }},
		{"cta", func(d *Deps) { d.CTA = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFixture().deps()
			tt.unset(&d)
			_, err := NewChatService(d)
			require.Error(t, err)
		})
	}
}

// ---------------------------------------------------------------------------
// End-to-end scenarios

func TestChat_ServiceSearchOnWebAndroid(t *testing.T) {
	f := newFixture()
	f.classifier.intent = domain.IntentService
	rewriter := &fakeRewriter{out: "rewritten"}
	svc := newTestChat(t, f, WithRewriter(rewriter), WithRegionIDs([]int{48}))

	resp, err := svc.Chat(context.Background(), input("find seafood restaurants nearby", "web", "android"))
	require.NoError(t, err)

	require.Equal(t, domain.ResponseService, resp.Type)
	require.Len(t, resp.Services, 2)
	require.NotEmpty(t, resp.Sources)
	require.NotEmpty(t, resp.ConversationID)
	require.Equal(t, "I found 2 places for you:", resp.AnswerAI)

	require.NotNil(t, resp.CTA)
	require.Equal(t, domain.CTADownload, resp.CTA.Kind)
	require.Equal(t, cta.DefaultLinks().AndroidStore, resp.CTA.URL)
	require.Empty(t, resp.CTA.Deeplink)

	require.Equal(t, []int{3}, f.services.categories)
	require.Equal(t, []int{48}, f.services.regions)
	require.Zero(t, rewriter.calls, "sourced answers are never rewritten")
	require.Zero(t, f.knowledge.calls)
}

func TestChat_ServiceSearchInAppIOS(t *testing.T) {
	f := newFixture()
	f.classifier.intent = domain.IntentService
	svc := newTestChat(t, f)

	resp, err := svc.Chat(context.Background(), input("find seafood restaurants nearby", "in_app", "ios"))
	require.NoError(t, err)

	require.Equal(t, domain.ResponseService, resp.Type)
	require.NotNil(t, resp.CTA)
	require.Equal(t, domain.CTANavigation, resp.CTA.Kind)
	require.Equal(t, "tripc://restaurant/10", resp.CTA.Deeplink)
	require.Empty(t, resp.CTA.URL)
}

func TestChat_InAppDesktopRejectedBeforeCapabilities(t *testing.T) {
	f := newFixture()
	f.classifier.intent = domain.IntentService
	svc := newTestChat(t, f)

	resp, err := svc.Chat(context.Background(), input("find seafood restaurants nearby", "in_app", "desktop"))
	expectChatError(t, resp, err, ErrorInvalidPlatform)

	var invalid *platform.InvalidError
	require.ErrorAs(t, err, &invalid)
	require.Empty(t, resp.Suggestions, "no retry is suggested for an invalid platform")
	require.Zero(t, f.classifier.callCount())
	require.Zero(t, f.keywords.calls)
	require.Zero(t, f.services.calls)
	require.Zero(t, f.knowledge.calls)
}

// ---------------------------------------------------------------------------
// Knowledge route and enrichment

func TestChat_KnowledgeAnswerWithSourcesSkipsEnrichment(t *testing.T) {
	f := newFixture()
	f.knowledge.ans = domain.KnowledgeAnswer{
		Answer:  "My Khe is the best known beach.",
		Sources: []domain.Source{{Title: "Bãi biển Đà Nẵng", URL: "https://tripc.ai/blog/danang"}},
	}
	rewriter := &fakeRewriter{out: "rewritten"}
	svc := newTestChat(t, f, WithRewriter(rewriter))

	resp, err := svc.Chat(context.Background(), input("best beach in Da Nang?", "web", "desktop"))
	require.NoError(t, err)
	require.Equal(t, domain.ResponseQnA, resp.Type)
	require.Equal(t, "My Khe is the best known beach.", resp.AnswerAI)
	require.Len(t, resp.Sources, 1)
	require.NotEmpty(t, resp.Suggestions)
	require.Equal(t, cta.DefaultLinks().Landing, resp.CTA.URL)
	require.Zero(t, rewriter.calls)
}

func TestChat_EnrichmentRewritesUnsourcedAnswer(t *testing.T) {
	f := newFixture()
	rewriter := &fakeRewriter{out: "  Spring is lovely in Da Nang!  "}
	svc := newTestChat(t, f, WithRewriter(rewriter))

	resp, err := svc.Chat(context.Background(), input("weather in Da Nang?", "web", "ios"))
	require.NoError(t, err)
	require.Equal(t, "Spring is lovely in Da Nang!", resp.AnswerAI)
	require.Equal(t, 1, rewriter.calls)
}

func TestChat_EnrichmentFailureKeepsOriginalText(t *testing.T) {
	for name, rewriter := range map[string]*fakeRewriter{
		"error":        {err: errors.New("llm down")},
		"empty output": {out: "   "},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			svc := newTestChat(t, f, WithRewriter(rewriter))

			resp, err := svc.Chat(context.Background(), input("weather in Da Nang?", "web", "ios"))
			require.NoError(t, err)
			require.Equal(t, domain.ResponseQnA, resp.Type)
			require.Equal(t, "Da Nang is sunny in spring.", resp.AnswerAI)
			require.NotNil(t, resp.CTA)
		})
	}
}

func TestChat_UnknownIntentFallsBackToKnowledge(t *testing.T) {
	f := newFixture()
	f.classifier.intent = domain.Intent("weather")
	svc := newTestChat(t, f)

	resp, err := svc.Chat(context.Background(), input("is it raining?", "web", "desktop"))
	require.NoError(t, err)
	require.Equal(t, domain.ResponseQnA, resp.Type)
	require.Equal(t, 1, f.knowledge.calls)
}

func TestChat_KnowledgeReceivesRecentHistory(t *testing.T) {
	f := newFixture()
	svc := newTestChat(t, f, WithContextTurns(2))

	_, err := svc.Chat(context.Background(), input("first question", "web", "desktop"))
	require.NoError(t, err)
	require.Empty(t, f.knowledge.lastHistory)

	_, err = svc.Chat(context.Background(), input("second question", "web", "desktop"))
	require.NoError(t, err)
	require.Len(t, f.knowledge.lastHistory, 2)
	require.Equal(t, "first question", f.knowledge.lastHistory[0].Text)
	require.Equal(t, domain.RoleAssistant, f.knowledge.lastHistory[1].Role)
}

// ---------------------------------------------------------------------------
// Service route degradation

func TestChat_KeywordFailureSearchesUnfiltered(t *testing.T) {
	f := newFixture()
	f.classifier.intent = domain.IntentService
	f.keywords.err = errors.New("bad json")
	svc := newTestChat(t, f)

	resp, err := svc.Chat(context.Background(), input("somewhere to eat", "web", "android"))
	require.NoError(t, err)
	require.Equal(t, domain.ResponseService, resp.Type)
	require.Zero(t, f.matcher.calls)
	require.Nil(t, f.services.categories)
}

func TestChat_MatcherFailureSearchesUnfiltered(t *testing.T) {
	f := newFixture()
	f.classifier.intent = domain.IntentService
	f.matcher.err = errors.New("catalog unavailable")
	svc := newTestChat(t, f)

	_, err := svc.Chat(context.Background(), input("seafood", "web", "android"))
	require.NoError(t, err)
	require.Equal(t, 1, f.matcher.calls)
	require.Nil(t, f.services.categories)
}

func TestChat_NoServicesFound(t *testing.T) {
	f := newFixture()
	f.classifier.intent = domain.IntentService
	f.services.services = nil
	svc := newTestChat(t, f)

	resp, err := svc.Chat(context.Background(), input("seafood", "in_app", "android"))
	require.NoError(t, err)
	require.Empty(t, resp.Services)
	require.Equal(t, "tripc://home", resp.CTA.Deeplink)
}

// ---------------------------------------------------------------------------
// Errors

func TestChat_InvalidInput(t *testing.T) {
	svc := newTestChat(t, newFixture(), WithMaxMessageLength(10))

	resp, err := svc.Chat(context.Background(), input("   ", "web", "desktop"))
	expectChatError(t, resp, err, ErrorInvalidInput)
	require.Len(t, resp.Suggestions, 1)
	require.Equal(t, "retry", resp.Suggestions[0].Action)

	resp, err = svc.Chat(context.Background(), input(strings.Repeat("ă", 11), "web", "desktop"))
	expectChatError(t, resp, err, ErrorInvalidInput)
}

func TestChat_MissingIdentity(t *testing.T) {
	svc := newTestChat(t, newFixture())
	in := input("hello", "web", "desktop")
	in.Identity = ""

	resp, err := svc.Chat(context.Background(), in)
	expectChatError(t, resp, err, ErrorInvalidInput)
	require.Empty(t, resp.ConversationID)
}

func TestChat_CapabilityFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fixture)
		code  ErrorCode
	}{
		{
			name:  "classifier error",
			setup: func(f *fixture) { f.classifier.err = errors.New("boom") },
			code:  ErrorClassificationUnavailable,
		},
		{
			name:  "classifier rate limited",
			setup: func(f *fixture) { f.classifier.err = fmt.Errorf("wrapped: %w", &statusError{code: 429}) },
			code:  ErrorRateLimited,
		},
		{
			name:  "knowledge error",
			setup: func(f *fixture) { f.knowledge.err = errors.New("vector store down") },
			code:  ErrorCapabilityFailure,
		},
		{
			name: "service search error",
			setup: func(f *fixture) {
				f.classifier.intent = domain.IntentService
				f.services.err = &statusError{code: 502}
			},
			code: ErrorCapabilityFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.setup(f)
			svc := newTestChat(t, f)

			in := input("hello", "web", "desktop")
			resp, err := svc.Chat(context.Background(), in)
			expectChatError(t, resp, err, tt.code)
			require.NotEmpty(t, resp.ConversationID)
			require.Len(t, resp.Suggestions, 1)
			require.Empty(t, turnsOf(t, f.store, in.Identity).Recent, "failed runs record no turns")
		})
	}
}

func TestChat_ClassifierTimeout(t *testing.T) {
	f := newFixture()
	f.classifier.block = true
	svc := newTestChat(t, f, WithCapabilityTimeout(20*time.Millisecond))

	start := time.Now()
	resp, err := svc.Chat(context.Background(), input("hello", "web", "desktop"))
	expectChatError(t, resp, err, ErrorCapabilityTimeout)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestChat_CTATableDriftIsUnreachableState(t *testing.T) {
	f := newFixture()
	d := f.deps()
	d.CTA = driftCTA{}
	svc, err := NewChatService(d)
	require.NoError(t, err)

	resp, err := svc.Chat(context.Background(), input("hello", "web", "desktop"))
	expectChatError(t, resp, err, ErrorUnreachableState)
	require.ErrorIs(t, err, cta.ErrUnreachableState)
}

func TestChat_ErrorMessagesFollowLanguage(t *testing.T) {
	f := newFixture()
	f.classifier.err = errors.New("boom")
	svc := newTestChat(t, f)

	in := input("xin chào", "web", "desktop")
	in.Language = "vi"
	resp, err := svc.Chat(context.Background(), in)
	require.Error(t, err)
	require.Equal(t, "Thử lại", resp.Suggestions[0].Label)
}

// ---------------------------------------------------------------------------
// Session bookkeeping

func TestChat_RecordsTurnsAndReusesConversation(t *testing.T) {
	f := newFixture()
	svc := newTestChat(t, f)
	in := input("hello", "web", "desktop")

	first, err := svc.Chat(context.Background(), in)
	require.NoError(t, err)
	second, err := svc.Chat(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, first.ConversationID, second.ConversationID)

	snap := turnsOf(t, f.store, in.Identity)
	require.Len(t, snap.Recent, 4)
	require.Equal(t, domain.RoleUser, snap.Recent[0].Role)
	require.Equal(t, "hello", snap.Recent[0].Text)
	require.Equal(t, string(domain.IntentKnowledge), snap.Recent[1].Meta["intent"])
}

func TestChat_ForeignConversationKeyFallsBack(t *testing.T) {
	f := newFixture()
	svc := newTestChat(t, f)

	alice := input("hello from alice", "web", "desktop")
	aliceResp, err := svc.Chat(context.Background(), alice)
	require.NoError(t, err)

	mallory := input("hello from mallory", "web", "desktop")
	mallory.Identity = session.DeriveIdentity("mallory", "", "")
	mallory.ConversationKey = aliceResp.ConversationID
	malloryResp, err := svc.Chat(context.Background(), mallory)
	require.NoError(t, err)
	require.NotEqual(t, aliceResp.ConversationID, malloryResp.ConversationID)

	for _, turn := range turnsOf(t, f.store, alice.Identity).Recent {
		require.NotContains(t, turn.Text, "mallory")
	}
}

func TestChat_EvictedDuringRunMovesToNewConversation(t *testing.T) {
	f := newFixture()
	store := &evictOnceStore{Store: f.store}
	d := f.deps()
	d.Sessions = store
	svc, err := NewChatService(d)
	require.NoError(t, err)

	resp, err := svc.Chat(context.Background(), input("hello", "web", "desktop"))
	require.NoError(t, err)
	require.Equal(t, 2, store.resolves)
	require.NotEmpty(t, resp.ConversationID)
}

func TestChat_TranscriptIsBestEffort(t *testing.T) {
	f := newFixture()
	transcript := &fakeTranscript{err: errors.New("dynamodb down")}
	svc := newTestChat(t, f, WithTranscript(transcript))
	in := input("hello", "web", "desktop")

	resp, err := svc.Chat(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, transcript.saved, 1)
	require.Equal(t, savedTurn{
		conversationID: resp.ConversationID,
		owner:          string(in.Identity),
		question:       "hello",
		answer:         resp.AnswerAI,
		intent:         domain.IntentKnowledge,
	}, transcript.saved[0])
}

// ---------------------------------------------------------------------------
// Booking collection

func TestChat_BookingCollection(t *testing.T) {
	f := newFixture()
	f.classifier.intent = domain.IntentBooking
	svc := newTestChat(t, f)
	in := input("I want to book a table", "in_app", "android")

	resp, err := svc.Chat(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, domain.ResponseBooking, resp.Type)
	require.Equal(t, domain.BookingCollecting, resp.Status)
	require.Equal(t, "provide_name", resp.NextAction)
	require.Equal(t, domain.CTANavigation, resp.CTA.Kind)

	// Contact details continue the booking whatever the classifier says.
	f.classifier.intent = domain.IntentKnowledge
	calls := f.classifier.callCount()
	in.Message = "My name is Nguyen An, phone 0905 123 456"
	resp, err = svc.Chat(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, domain.ResponseBooking, resp.Type)
	require.Equal(t, "provide_email", resp.NextAction)
	require.Equal(t, calls, f.classifier.callCount())

	in.Message = "email: an@example.com"
	resp, err = svc.Chat(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, domain.BookingReady, resp.Status)
	require.Equal(t, "submit_booking", resp.NextAction)
	require.Contains(t, resp.AnswerAI, "Nguyen An")
	require.Contains(t, resp.AnswerAI, "0905123456")

	entities := turnsOf(t, f.store, in.Identity).Entities
	require.Equal(t, "Nguyen An", entities[entityBookingName])
	require.Equal(t, "an@example.com", entities[entityBookingEmail])
	require.NotContains(t, entities, entityBookingStatus)
}

func TestChat_FinishedBookingReturnsToClassifier(t *testing.T) {
	f := newFixture()
	f.classifier.intent = domain.IntentBooking
	svc := newTestChat(t, f)
	in := input("Book a table. My name is Nguyen An, phone 0905 123 456, email an@example.com", "web", "desktop")

	resp, err := svc.Chat(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, domain.BookingReady, resp.Status)

	f.classifier.intent = domain.IntentKnowledge
	calls := f.classifier.callCount()
	in.Message = "My friend's number is 0912 345 678, what should we see in Hoi An?"
	resp, err = svc.Chat(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, calls+1, f.classifier.callCount())
	require.Equal(t, domain.ResponseQnA, resp.Type)

	entities := turnsOf(t, f.store, in.Identity).Entities
	require.Equal(t, "0905123456", entities[entityBookingPhone])
}

func TestChat_BookingRemembersLastService(t *testing.T) {
	f := newFixture()
	f.classifier.intent = domain.IntentService
	svc := newTestChat(t, f)
	in := input("seafood", "web", "android")

	_, err := svc.Chat(context.Background(), in)
	require.NoError(t, err)

	f.classifier.intent = domain.IntentBooking
	in.Message = "book it for 4 people"
	_, err = svc.Chat(context.Background(), in)
	require.NoError(t, err)

	entities := turnsOf(t, f.store, in.Identity).Entities
	require.Equal(t, "Bé Mặn", entities[entityBookingPlace])
	require.Equal(t, "4", entities[entityBookingParty])
}

// ---------------------------------------------------------------------------
// Concurrency

func TestChat_ConcurrentFirstContactConverges(t *testing.T) {
	f := newFixture()
	svc := newTestChat(t, f)

	const n = 32
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		keys  = make([]string, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp, err := svc.Chat(context.Background(), ChatInput{
				Message:  "hello",
				Platform: "web",
				Device:   "desktop",
				Language: "en",
				Identity: session.DeriveIdentity("", "203.0.113.7", "Mozilla/5.0"),
			})
			if err == nil {
				keys[i] = resp.ConversationID
			}
		}()
	}
	close(start)
	wg.Wait()

	for _, k := range keys {
		require.Equal(t, keys[0], k)
	}
	require.Equal(t, 1, f.store.Len())
}

func TestChat_OverlappingRunsKeepExchangesTogether(t *testing.T) {
	f := newFixture()
	store := newGatedStore(f.store)
	d := f.deps()
	d.Sessions = store
	svc, err := NewChatService(d)
	require.NoError(t, err)

	first := input("first question", "web", "desktop")
	done := make(chan error, 1)
	go func() {
		_, err := svc.Chat(context.Background(), first)
		done <- err
	}()
	<-store.entered

	second := input("second question", "web", "desktop")
	_, err = svc.Chat(context.Background(), second)
	require.NoError(t, err)
	close(store.release)
	require.NoError(t, <-done)

	recent := turnsOf(t, f.store, first.Identity).Recent
	require.Len(t, recent, 4)
	roles := make([]domain.Role, 0, len(recent))
	for _, turn := range recent {
		roles = append(roles, turn.Role)
	}
	require.Equal(t, []domain.Role{domain.RoleUser, domain.RoleAssistant, domain.RoleUser, domain.RoleAssistant}, roles)
	require.Equal(t, "second question", recent[0].Text)
	require.Equal(t, "first question", recent[2].Text)
}

func TestChat_ConcurrentRunsInOneConversationAlternate(t *testing.T) {
	f := newFixture()
	f.store = session.NewStore(session.WithMaxTurns(200))
	svc := newTestChat(t, f)

	const n = 40
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Chat(context.Background(), input(fmt.Sprint("question ", i), "web", "desktop"))
			assert.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	recent := turnsOf(t, f.store, input("", "", "").Identity).Recent
	require.Len(t, recent, 2*n)
	for i := 0; i < len(recent); i += 2 {
		require.Equal(t, domain.RoleUser, recent[i].Role)
		require.Equal(t, domain.RoleAssistant, recent[i+1].Role)
	}
}
