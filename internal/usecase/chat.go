package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"tripc-agent/internal/cta"
	"tripc-agent/internal/domain"
	"tripc-agent/internal/session"
)

const (
	defaultCapabilityTimeout = 8 * time.Second
	defaultContextTurns      = 4
	defaultMaxMessageLen     = 1000
	transcriptTimeout        = 3 * time.Second
)

type SessionStore interface {
	Resolve(identity session.Identity, explicitKey string) (session.Handle, error)
	AppendTurns(h session.Handle, turns ...domain.Turn) error
	Context(h session.Handle, limit int) (session.Snapshot, error)
}

type PlatformValidator interface {
	Validate(platform, device, language string) (domain.PlatformContext, error)
}

type IntentClassifier interface {
	Classify(ctx context.Context, text string) (domain.Intent, error)
}

type KeywordExtractor interface {
	Extract(ctx context.Context, text string) (domain.KeywordSet, error)
}

type CategoryMatcher interface {
	Match(ctx context.Context, kw domain.KeywordSet) ([]int, error)
}

type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, lang domain.Language, history []domain.Turn) (domain.KnowledgeAnswer, error)
}

type ServiceSearcher interface {
	SearchServices(ctx context.Context, categoryIDs, regionIDs []int) ([]domain.Service, error)
	Sources() []domain.Source
}

type CTADecider interface {
	Decide(pc domain.PlatformContext, targetID string) (domain.CTAEntry, error)
}

type TextRewriter interface {
	Rewrite(ctx context.Context, text string, lang domain.Language) (string, error)
}

type TranscriptWriter interface {
	SaveCompletedTurn(ctx context.Context, conversationID, owner, question, answer string, intent domain.Intent) error
}

// Deps are the collaborators every pipeline run needs.
type Deps struct {
	Sessions   SessionStore
	Validator  PlatformValidator
	Classifier IntentClassifier
	Keywords   KeywordExtractor
	Categories CategoryMatcher
	Knowledge  KnowledgeSearcher
	Services   ServiceSearcher
	CTA        CTADecider
}

type ChatInput struct {
	Message         string
	ConversationKey string
	Platform        string
	Device          string
	Language        string
	Identity        session.Identity
}

// State is a pipeline stage. Runs move forward through the stages in order
// and may jump to StateErrored from any of them.
type State int

const (
	StateReceived State = iota
	StateValidated
	StateClassified
	StateRouted
	StateCTAAttached
	StateEnriched
	StateFormatted
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateValidated:
		return "validated"
	case StateClassified:
		return "classified"
	case StateRouted:
		return "routed"
	case StateCTAAttached:
		return "cta_attached"
	case StateEnriched:
		return "enriched"
	case StateFormatted:
		return "formatted"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ChatService is the pipeline orchestrator. It holds no per-request state;
// everything a run accumulates lives in a run value.
type ChatService struct {
	sessions   SessionStore
	validator  PlatformValidator
	classifier IntentClassifier
	keywords   KeywordExtractor
	categories CategoryMatcher
	knowledge  KnowledgeSearcher
	services   ServiceSearcher
	cta        CTADecider
	rewriter   TextRewriter
	transcript TranscriptWriter

	timeout       time.Duration
	contextTurns  int
	maxMessageLen int
	regionIDs     []int
	logger        *slog.Logger
}

type Option func(*ChatService)

// WithRewriter enables the enrichment stage.
func WithRewriter(r TextRewriter) Option {
	return func(s *ChatService) {
		s.rewriter = r
	}
}

// WithTranscript persists every completed exchange on a best-effort basis.
func WithTranscript(w TranscriptWriter) Option {
	return func(s *ChatService) {
		s.transcript = w
	}
}

func WithCapabilityTimeout(d time.Duration) Option {
	return func(s *ChatService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithContextTurns(n int) Option {
	return func(s *ChatService) {
		if n > 0 {
			s.contextTurns = n
		}
	}
}

func WithMaxMessageLength(n int) Option {
	return func(s *ChatService) {
		if n > 0 {
			s.maxMessageLen = n
		}
	}
}

// WithRegionIDs restricts service search to the given upstream regions.
func WithRegionIDs(ids []int) Option {
	return func(s *ChatService) {
		s.regionIDs = append([]int(nil), ids...)
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *ChatService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewChatService(d Deps, opts ...Option) (*ChatService, error) {
	switch {
	case d.Sessions == nil:
		return nil, errors.New("usecase: session store must not be nil")
	case d.Validator == nil:
		return nil, errors.New("usecase: platform validator must not be nil")
	case d.Classifier == nil:
		return nil, errors.New("usecase: intent classifier must not be nil")
	case d.Keywords == nil:
		return nil, errors.New("usecase: keyword extractor must not be nil")
	case d.Categories == nil:
		return nil, errors.New("usecase: category matcher must not be nil")
	case d.Knowledge == nil:
		return nil, errors.New("usecase: knowledge searcher must not be nil")
	case d.Services == nil:
		return nil, errors.New("usecase: service searcher must not be nil")
	case d.CTA == nil:
		return nil, errors.New("usecase: cta decider must not be nil")
	}
	s := &ChatService{
		sessions:      d.Sessions,
		validator:     d.Validator,
		classifier:    d.Classifier,
		keywords:      d.Keywords,
		categories:    d.Categories,
		knowledge:     d.Knowledge,
		services:      d.Services,
		cta:           d.CTA,
		timeout:       defaultCapabilityTimeout,
		contextTurns:  defaultContextTurns,
		maxMessageLen: defaultMaxMessageLen,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type run struct {
	in      ChatInput
	text    string
	handle  session.Handle
	pc      domain.PlatformContext
	msgs    messageSet
	history session.Snapshot
	intent  domain.Intent
	target  string
	resp    domain.ChatResponse

	userMeta      map[string]string
	assistantMeta map[string]string

	state  State
	logger *slog.Logger
}

func (r *run) advance(to State) {
	r.logger.Debug("pipeline transition", "from", r.state, "to", to)
	r.state = to
}

// Chat runs one message through the pipeline. The returned response is always
// well formed: on failure it is an error payload and err is the *Error that
// produced it.
func (s *ChatService) Chat(ctx context.Context, in ChatInput) (domain.ChatResponse, error) {
	r := &run{
		in:            in,
		msgs:          messagesFor(domain.Language(strings.ToLower(strings.TrimSpace(in.Language)))),
		userMeta:      map[string]string{},
		assistantMeta: map[string]string{},
		logger:        s.logger,
	}
	if e := s.execute(ctx, r); e != nil {
		return s.errored(r, e), e
	}
	return r.resp, nil
}

func (s *ChatService) execute(ctx context.Context, r *run) *Error {
	if e := s.resolve(r); e != nil {
		return e
	}
	if e := s.validate(r); e != nil {
		return e
	}
	if e := s.classify(ctx, r); e != nil {
		return e
	}
	if e := s.route(ctx, r); e != nil {
		return e
	}
	if e := s.attachCTA(r); e != nil {
		return e
	}
	s.enrich(ctx, r)
	s.format(r)
	s.record(ctx, r)
	return nil
}

func (s *ChatService) resolve(r *run) *Error {
	h, err := s.sessions.Resolve(r.in.Identity, r.in.ConversationKey)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrSessionConflict), errors.Is(err, session.ErrInvalidKey):
		s.logger.Warn("explicit conversation key rejected, using identity conversation",
			"code", ErrorSessionConflict, "err", err)
	case errors.Is(err, session.ErrEmptyIdentity):
		return newError(ErrorInvalidInput, "missing_identity", err)
	default:
		return newError(ErrorInternal, "session_resolve_error", err)
	}
	r.handle = h
	r.logger = s.logger.With("conversation_id", h.Key)
	return nil
}

func (s *ChatService) validate(r *run) *Error {
	pc, err := s.validator.Validate(r.in.Platform, r.in.Device, r.in.Language)
	if err != nil {
		return newError(ErrorInvalidPlatform, "invalid_platform_context", err)
	}
	r.pc = pc
	r.msgs = messagesFor(pc.Language)

	text := strings.TrimSpace(r.in.Message)
	if text == "" {
		return newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(text) > s.maxMessageLen {
		return newError(ErrorInvalidInput, "message_too_long", nil)
	}
	r.text = text

	snap, err := s.sessions.Context(r.handle, s.contextTurns)
	switch {
	case err == nil:
		r.history = snap
	case errors.Is(err, session.ErrConversationNotFound):
		r.logger.Warn("conversation evicted before context read", "err", err)
	default:
		return newError(ErrorInternal, "session_context_error", err)
	}
	r.advance(StateValidated)
	return nil
}

func (s *ChatService) classify(ctx context.Context, r *run) *Error {
	if r.history.Entities[entityBookingStatus] == domain.BookingCollecting && extractBooking(r.text).hasContact() {
		r.intent = domain.IntentBooking
		r.logger.Debug("continuing booking collection")
		r.advance(StateClassified)
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	intent, err := s.classifier.Classify(cctx, r.text)
	if err != nil {
		return capabilityError(cctx, "classifier", err, ErrorClassificationUnavailable)
	}
	r.intent = domain.ParseIntent(string(intent))
	r.advance(StateClassified)
	return nil
}

func (s *ChatService) route(ctx context.Context, r *run) *Error {
	var e *Error
	switch r.intent {
	case domain.IntentService:
		e = s.searchServices(ctx, r)
	case domain.IntentBooking:
		s.collectBooking(r)
	default:
		e = s.answerKnowledge(ctx, r)
	}
	if e != nil {
		return e
	}
	r.assistantMeta["intent"] = string(r.intent)
	r.advance(StateRouted)
	return nil
}

func (s *ChatService) answerKnowledge(ctx context.Context, r *run) *Error {
	kctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ans, err := s.knowledge.Search(kctx, r.text, r.pc.Language, r.history.Recent)
	if err != nil {
		return capabilityError(kctx, "knowledge_search", err, ErrorCapabilityFailure)
	}
	r.resp.Type = domain.ResponseQnA
	r.resp.AnswerAI = ans.Answer
	r.resp.Sources = ans.Sources
	r.resp.Suggestions = r.msgs.knowledgeSuggestions
	return nil
}

func (s *ChatService) searchServices(ctx context.Context, r *run) *Error {
	kw := s.extractKeywords(ctx, r)

	var categoryIDs []int
	if !kw.IsEmpty() {
		mctx, cancel := context.WithTimeout(ctx, s.timeout)
		ids, err := s.categories.Match(mctx, kw)
		cancel()
		if err != nil {
			r.logger.Warn("category matching unavailable, searching unfiltered", "err", err)
		} else {
			categoryIDs = ids
		}
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	services, err := s.services.SearchServices(sctx, categoryIDs, s.regionIDs)
	if err != nil {
		return capabilityError(sctx, "service_search", err, ErrorCapabilityFailure)
	}
	r.logger.Info("service search completed", "categories", categoryIDs, "results", len(services))

	r.resp.Type = domain.ResponseService
	r.resp.Services = services
	r.resp.AnswerAI = r.msgs.servicesText(len(services))
	r.resp.Sources = s.services.Sources()
	r.resp.Suggestions = r.msgs.serviceSuggestions
	if len(services) > 0 {
		first := services[0]
		r.target = fmt.Sprintf("%s/%d", first.Type, first.ID)
		r.assistantMeta[entityLastService] = first.Name
	}
	return nil
}

// extractKeywords degrades to an empty set, which means an unfiltered search.
func (s *ChatService) extractKeywords(ctx context.Context, r *run) domain.KeywordSet {
	kctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	kw, err := s.keywords.Extract(kctx, r.text)
	if err != nil {
		r.logger.Warn("keyword extraction failed", "err", err)
		return domain.KeywordSet{}
	}
	return kw
}

func (s *ChatService) collectBooking(r *run) {
	fresh := extractBooking(r.text)
	d := mergeBooking(r.history.Entities, fresh)
	if d.place == "" {
		d.place = r.history.Entities[entityLastService]
		fresh.place = d.place
	}
	status, action, text := d.nextStep(r.msgs)

	r.userMeta = fresh.meta()
	r.userMeta[entityBookingStatus] = status
	if status == domain.BookingReady {
		// Collection is over; later messages go back through the classifier.
		r.userMeta[entityBookingStatus] = ""
	}
	r.resp.Type = domain.ResponseBooking
	r.resp.Status = status
	r.resp.NextAction = action
	r.resp.AnswerAI = text
	r.resp.Suggestions = r.msgs.bookingSuggestions
}

func (s *ChatService) attachCTA(r *run) *Error {
	entry, err := s.cta.Decide(r.pc, r.target)
	if err != nil {
		if errors.Is(err, cta.ErrUnreachableState) {
			r.logger.Error("cta table does not cover validated platform context",
				"platform", r.pc.Platform, "device", r.pc.Device, "err", err)
			return newError(ErrorUnreachableState, "cta_unreachable", err)
		}
		return newError(ErrorInternal, "cta_error", err)
	}
	r.resp.CTA = &entry
	r.advance(StateCTAAttached)
	return nil
}

// enrich rewrites the answer unless it cites sources. Failures keep the
// original text.
func (s *ChatService) enrich(ctx context.Context, r *run) {
	defer r.advance(StateEnriched)
	if s.rewriter == nil || len(r.resp.Sources) > 0 || strings.TrimSpace(r.resp.AnswerAI) == "" {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := s.rewriter.Rewrite(rctx, r.resp.AnswerAI, r.pc.Language)
	if err != nil {
		r.logger.Warn("enrichment failed, keeping original text", "err", err)
		return
	}
	if out = strings.TrimSpace(out); out == "" {
		r.logger.Warn("enrichment returned empty text, keeping original text")
		return
	}
	r.resp.AnswerAI = out
}

func (s *ChatService) format(r *run) {
	r.resp.ConversationID = r.handle.Key
	if r.resp.Sources == nil {
		r.resp.Sources = []domain.Source{}
	}
	if r.resp.Suggestions == nil {
		r.resp.Suggestions = []domain.Suggestion{}
	}
	r.advance(StateFormatted)
}

// record appends the exchange to the session and, when configured, to the
// transcript. Neither failure affects the response.
func (s *ChatService) record(ctx context.Context, r *run) {
	if err := s.appendExchange(r); err != nil {
		r.logger.Warn("session bookkeeping failed", "err", err)
	}
	if s.transcript == nil {
		return
	}
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), transcriptTimeout)
	defer cancel()
	if err := s.transcript.SaveCompletedTurn(tctx, r.handle.Key, string(r.handle.Identity), r.text, r.resp.AnswerAI, r.intent); err != nil {
		r.logger.Warn("transcript write failed", "err", err)
	}
}

func (s *ChatService) appendExchange(r *run) error {
	err := s.appendTurns(r.handle, r)
	if !errors.Is(err, session.ErrConversationNotFound) {
		return err
	}
	// Evicted mid-run: continue in the identity's current conversation.
	h, rerr := s.sessions.Resolve(r.handle.Identity, "")
	if rerr != nil {
		return rerr
	}
	r.logger.Info("conversation evicted during run, moved to new conversation", "new_conversation_id", h.Key)
	r.handle = h
	r.resp.ConversationID = h.Key
	return s.appendTurns(h, r)
}

func (s *ChatService) appendTurns(h session.Handle, r *run) error {
	return s.sessions.AppendTurns(h,
		domain.Turn{Role: domain.RoleUser, Text: r.text, Meta: r.userMeta},
		domain.Turn{Role: domain.RoleAssistant, Text: r.resp.AnswerAI, Meta: r.assistantMeta},
	)
}

func (s *ChatService) errored(r *run, e *Error) domain.ChatResponse {
	r.advance(StateErrored)
	switch e.Code {
	case ErrorInvalidInput, ErrorInvalidPlatform:
		r.logger.Info("request rejected", "code", e.Code, "reason", e.Reason, "err", e.Err)
	case ErrorUnreachableState, ErrorInternal:
		r.logger.Error("pipeline failed", "code", e.Code, "reason", e.Reason, "err", e.Err)
	default:
		r.logger.Warn("capability failed", "code", e.Code, "reason", e.Reason, "err", e.Err)
	}
	return domain.ChatResponse{
		Type:           domain.ResponseError,
		ConversationID: r.handle.Key,
		AnswerAI:       r.msgs.errorText(e.Code),
		Sources:        []domain.Source{},
		Suggestions:    r.msgs.errorSuggestions(e.Code),
		ErrorCode:      string(e.Code),
	}
}
