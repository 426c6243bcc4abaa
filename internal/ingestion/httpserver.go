package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/apperrors"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/model"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/platform"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/internal/tenant"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/logger"
	"gitlab.com/vitalmed/api/clinic-inbox-sync/pkg/utils"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MiB

// ReadMarker is the slice of the sync service the HTTP layer needs.
type ReadMarker interface {
	MarkConversationRead(ctx context.Context, conversationID string) (*model.Conversation, error)
}

// HTTPServer exposes the webhook ingestion endpoints and the conversation
// read endpoint. Webhook deliveries enter the same router the bus consumer
// feeds; the status code tells the sender whether to redeliver.
type HTTPServer struct {
	router       RouterInterface
	readMarker   ReadMarker
	platformAPI  platform.ClientAPI
	clinicID     string
	webhookToken string
	server       *http.Server
}

// NewHTTPServer creates the ingestion HTTP server. platformAPI may be nil;
// read receipts to the platform are then skipped.
func NewHTTPServer(router RouterInterface, readMarker ReadMarker, platformAPI platform.ClientAPI, clinicID, webhookToken string, port int, readTimeout, writeTimeout time.Duration) *HTTPServer {
	s := &HTTPServer{
		router:       router,
		readMarker:   readMarker,
		platformAPI:  platformAPI,
		clinicID:     clinicID,
		webhookToken: webhookToken,
	}

	r := mux.NewRouter()
	r.HandleFunc("/webhooks/platform", s.authenticated(s.handlePlatformWebhook)).Methods(http.MethodPost)
	r.HandleFunc("/webhooks/dbtrigger", s.authenticated(s.handleDBTriggerWebhook)).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/read", s.authenticated(s.handleConversationRead)).Methods(http.MethodPost)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

// Handler returns the mux for embedding in tests or another server.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until the listener closes. Blocks; run under SafeGo.
func (s *HTTPServer) Start() error {
	logger.Log.Info("Starting ingestion HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ingestion http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authenticated enforces the shared-secret webhook token.
func (s *HTTPServer) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Webhook-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if s.webhookToken == "" || token != s.webhookToken {
			logger.Log.Warn("Rejected request with invalid webhook token",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			utils.WriteJSONResponse(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
		next(w, r)
	}
}

// handlePlatformWebhook accepts deliveries from the conversation platform.
// Fatal processing errors still return 200 so the platform does not retry a
// payload that will never succeed.
func (s *HTTPServer) handlePlatformWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		utils.WriteJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	var peek struct {
		Event string `json:"event"`
	}
	_ = json.Unmarshal(body, &peek)
	subject := string(model.V1PlatformMessageCreated)
	if peek.Event == "conversation_updated" {
		subject = string(model.V1PlatformConversationUpdated)
	}

	s.routeWebhook(w, r, model.SourcePlatform, subject, body)
}

// handleDBTriggerWebhook accepts patient change deliveries from the clinic
// database trigger bridge.
func (s *HTTPServer) handleDBTriggerWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		utils.WriteJSONResponse(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	s.routeWebhook(w, r, model.SourceDBTrigger, string(model.V1DBTriggerPatient), body)
}

func (s *HTTPServer) routeWebhook(w http.ResponseWriter, r *http.Request, source, subject string, body []byte) {
	start := utils.Now()
	metadata := &model.EventMetadata{
		Source:    source,
		EventID:   uuid.NewString(),
		Subject:   subject,
		ClinicID:  s.clinicID,
		Timestamp: start,
	}

	ctx := tenant.WithClinicID(r.Context(), s.clinicID)
	err := s.router.Route(ctx, metadata, body)

	switch {
	case err == nil:
		utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "ok", "event_id": metadata.EventID})
	case apperrors.IsRetryable(err):
		logger.Log.Error("Webhook processing failed, asking sender to redeliver",
			zap.Error(err),
			zap.String("event_id", metadata.EventID),
			zap.String("subject", subject),
			zap.Duration("duration", time.Since(start)),
		)
		utils.WriteJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": "temporary failure", "event_id": metadata.EventID})
	default:
		// Fatal errors are dropped here: redelivery cannot fix a bad payload.
		logger.Log.Warn("Webhook payload dropped after fatal processing error",
			zap.Error(err),
			zap.String("event_id", metadata.EventID),
			zap.String("subject", subject),
		)
		utils.WriteJSONResponse(w, http.StatusOK, map[string]string{"status": "dropped", "event_id": metadata.EventID})
	}
}

// handleConversationRead marks a conversation read locally and forwards a
// best-effort read receipt to the platform.
func (s *HTTPServer) handleConversationRead(w http.ResponseWriter, r *http.Request) {
	conversationID := mux.Vars(r)["id"]
	ctx := tenant.WithClinicID(r.Context(), s.clinicID)
	log := logger.FromContext(ctx).With(zap.String("conversation_id", conversationID))

	conversation, err := s.readMarker.MarkConversationRead(ctx, conversationID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			utils.WriteJSONResponse(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
			return
		}
		log.Error("Failed to mark conversation read", zap.Error(err))
		utils.WriteJSONResponse(w, http.StatusInternalServerError, map[string]string{"error": "failed to mark conversation read"})
		return
	}

	if s.platformAPI != nil && conversation.ExternalID != "" {
		if externalID, convErr := strconv.Atoi(conversation.ExternalID); convErr == nil {
			if receiptErr := s.platformAPI.MarkConversationRead(ctx, externalID); receiptErr != nil {
				log.Warn("Platform read receipt failed", zap.Error(receiptErr))
			}
		}
	}

	utils.WriteJSONResponse(w, http.StatusOK, conversation)
}
