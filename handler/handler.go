package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"tripc-agent/internal/domain"
	"tripc-agent/internal/session"
	"tripc-agent/internal/usecase"
)

const (
	headerCorrelationID = "X-Correlation-Id"
	headerUserID        = "X-User-Id"
	maxBodyBytes        = 64 << 10
)

type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (domain.ChatResponse, error)
}

type BookingUseCase interface {
	Submit(ctx context.Context, req domain.BookingRequest) (domain.BookingAck, error)
}

type StatusReporter interface {
	Status() usecase.Status
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	Platform       string `json:"platform"`
	Device         string `json:"device"`
	Language       string `json:"language"`
}

type bookingRequest struct {
	ConversationID string `json:"conversationId"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Message        string `json:"message"`
	Place          string `json:"place"`
	PartySize      int    `json:"partySize"`
	Language       string `json:"language"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves API Gateway proxy events. The serve command reaches it
// through the net/http adapter in http.go.
type Handler struct {
	chat    ChatUseCase
	booking BookingUseCase
	status  StatusReporter
	logger  *slog.Logger
}

func NewHandler(chat ChatUseCase, booking BookingUseCase, status StatusReporter, logger *slog.Logger) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	if booking == nil {
		return nil, errors.New("handler: booking use case must not be nil")
	}
	if status == nil {
		return nil, errors.New("handler: status reporter must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{chat: chat, booking: booking, status: status, logger: logger}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, headerCorrelationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	path := strings.TrimRight(req.Path, "/")
	var resp events.APIGatewayProxyResponse
	switch path {
	case "/chat", "/api/v1/chatbot/response":
		resp = onlyMethod(req, http.MethodPost, func() events.APIGatewayProxyResponse {
			return h.handleChat(ctx, logger, req)
		})
	case "/booking", "/api/v1/user/collect-info":
		resp = onlyMethod(req, http.MethodPost, func() events.APIGatewayProxyResponse {
			return h.handleBooking(ctx, logger, req)
		})
	case "/health":
		resp = onlyMethod(req, http.MethodGet, func() events.APIGatewayProxyResponse {
			return jsonResponse(http.StatusOK, map[string]string{"status": "ok"})
		})
	case "/status":
		resp = onlyMethod(req, http.MethodGet, func() events.APIGatewayProxyResponse {
			return jsonResponse(http.StatusOK, h.status.Status())
		})
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND"})
	}
	resp.Headers[headerCorrelationID] = correlationID
	return resp, nil
}

func (h *Handler) handleChat(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var in chatRequest
	if err := decodeBody(req.Body, &in); err != nil {
		logger.Info("invalid chat request body", "err", err)
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)})
	}

	out, err := h.chat.Chat(ctx, usecase.ChatInput{
		Message:         in.Message,
		ConversationKey: in.ConversationID,
		Platform:        in.Platform,
		Device:          in.Device,
		Language:        in.Language,
		Identity:        identityOf(req),
	})
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		logger.Info("chat request failed", "status", status, "err", err)
	}
	return jsonResponse(status, out)
}

func (h *Handler) handleBooking(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	var in bookingRequest
	if err := decodeBody(req.Body, &in); err != nil {
		logger.Info("invalid booking request body", "err", err)
		return jsonResponse(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)})
	}

	ack, err := h.booking.Submit(ctx, domain.BookingRequest{
		ConversationID: in.ConversationID,
		Name:           in.Name,
		Email:          in.Email,
		Phone:          in.Phone,
		Note:           in.Message,
		Place:          in.Place,
		PartySize:      in.PartySize,
		Language:       domain.Language(strings.ToLower(strings.TrimSpace(in.Language))),
	})
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		logger.Info("booking request failed", "status", status, "err", err)
	}
	return jsonResponse(status, ack)
}

// identityOf prefers the caller-supplied user id and otherwise fingerprints
// the source address and user agent.
func identityOf(req events.APIGatewayProxyRequest) session.Identity {
	userAgent := req.RequestContext.Identity.UserAgent
	if userAgent == "" {
		userAgent = headerValue(req.Headers, "User-Agent")
	}
	return session.DeriveIdentity(
		headerValue(req.Headers, headerUserID),
		req.RequestContext.Identity.SourceIP,
		userAgent,
	)
}

func statusFor(err error) int {
	var usecaseErr *usecase.Error
	if !errors.As(err, &usecaseErr) {
		return http.StatusInternalServerError
	}
	switch usecaseErr.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorInvalidPlatform:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorCapabilityFailure, usecase.ErrorCapabilityTimeout:
		return http.StatusBadGateway
	case usecase.ErrorClassificationUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func onlyMethod(req events.APIGatewayProxyRequest, method string, fn func() events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if !strings.EqualFold(req.HTTPMethod, method) {
		resp := jsonResponse(http.StatusMethodNotAllowed, errorResponse{Error: "METHOD_NOT_ALLOWED"})
		resp.Headers["Allow"] = method
		return resp
	}
	return fn()
}

func decodeBody(body string, out any) error {
	if len(body) > maxBodyBytes {
		return errors.New("request body too large")
	}
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}
