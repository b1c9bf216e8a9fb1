package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CartPipe/internal/carts"
	"github.com/BTreeMap/CartPipe/internal/models"
	"github.com/BTreeMap/CartPipe/internal/recovery"
	"github.com/BTreeMap/CartPipe/internal/util"
	"github.com/BTreeMap/CartPipe/internal/woocommerce"
)

// DefaultListLimit caps GET /api/carts when no limit is given.
const DefaultListLimit = 100

// CartDetail is the response of GET /api/carts/{id}.
type CartDetail struct {
	Cart   *models.AbandonedCart  `json:"cart"`
	Events []models.TrackingEvent `json:"events"`
}

// TestMessageRequest is the body of POST /api/test-message.
type TestMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// isClientError reports whether err was caused by invalid input.
func isClientError(err error) bool {
	for _, target := range []error{
		models.ErrEmptyContact, models.ErrInvalidQuantity, models.ErrMissingProductID,
		util.ErrInvalidPhone, carts.ErrInvalidEmail,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// captureHandler stores checkout data posted by the storefront (POST /api/carts/capture).
func (s *Server) captureHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req carts.CaptureRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		slog.Warn("Server.captureHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	res, err := s.svc.Carts.Capture(r.Context(), req)
	if err != nil {
		if isClientError(err) {
			slog.Debug("Server.captureHandler: rejected capture", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		slog.Error("Server.captureHandler: capture failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to capture cart"))
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, models.Success(map[string]interface{}{
		"cart_id": res.Cart.ID,
		"created": res.Created,
		"updated": res.Updated,
	}))
}

// recoverHandler turns a recovery link into a storefront redirect (GET /recover).
func (s *Server) recoverHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := strings.TrimSpace(q.Get(recovery.TokenParam))
	slot, _ := strconv.Atoi(q.Get(recovery.MessageParam))

	if token != "" {
		res, err := s.svc.Carts.Restore(r.Context(), token, slot)
		switch {
		case err == nil:
			http.Redirect(w, r, res.RedirectURL, http.StatusFound)
			return
		case errors.Is(err, carts.ErrInvalidToken):
			slog.Info("Server.recoverHandler: unknown recovery token")
		default:
			slog.Error("Server.recoverHandler: restore failed", "error", err)
		}
	}

	// Fall back to the shop front so a broken link still lands somewhere useful.
	if st, err := s.svc.Settings.Load(r.Context()); err == nil && st.StoreURL != "" {
		http.Redirect(w, r, st.StoreURL, http.StatusFound)
		return
	}
	writeJSONResponse(w, http.StatusNotFound, models.Error("Recovery link not found"))
}

// orderWebhookHandler processes WooCommerce order webhooks (POST /webhooks/woocommerce/order).
func (s *Server) orderWebhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read body"))
		return
	}
	if woocommerce.IsPing(body) {
		slog.Info("Server.orderWebhookHandler: webhook ping received")
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("pong", nil))
		return
	}
	if err := woocommerce.VerifySignature(body, s.opts.WebhookSecret, r.Header.Get(woocommerce.HeaderSignature)); err != nil {
		slog.Warn("Server.orderWebhookHandler: signature rejected", "remote", r.RemoteAddr)
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid signature"))
		return
	}

	topic := r.Header.Get(woocommerce.HeaderTopic)
	if topic != woocommerce.TopicOrderCreated && topic != woocommerce.TopicOrderUpdated {
		slog.Debug("Server.orderWebhookHandler: ignoring topic", "topic", topic)
		writeJSONResponse(w, http.StatusAccepted, models.SuccessWithMessage("Topic ignored", nil))
		return
	}

	order, err := woocommerce.ParseOrder(body)
	if err != nil {
		slog.Warn("Server.orderWebhookHandler: invalid order payload", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid order payload"))
		return
	}

	ctx := r.Context()
	deliveryID := r.Header.Get(woocommerce.HeaderDeliveryID)
	if deliveryID != "" {
		fresh, err := s.svc.Repo.RecordDelivery(ctx, deliveryID, topic)
		if err != nil {
			slog.Error("Server.orderWebhookHandler: record delivery failed", "error", err)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record delivery"))
			return
		}
		if !fresh {
			writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Duplicate delivery", nil))
			return
		}
	}

	res, err := s.processOrder(ctx, order)
	if err != nil {
		slog.Error("Server.orderWebhookHandler: order processing failed", "error", err, "order", order.ID)
		if deliveryID != "" {
			if ferr := s.svc.Repo.ForgetDelivery(ctx, deliveryID); ferr != nil {
				slog.Error("Server.orderWebhookHandler: forget delivery failed", "error", ferr)
			}
		}
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process order"))
		return
	}
	if deliveryID != "" {
		if err := s.svc.Repo.MarkDeliveryProcessed(ctx, deliveryID); err != nil {
			slog.Warn("Server.orderWebhookHandler: mark delivery processed failed", "error", err)
		}
	}
	writeJSONResponse(w, http.StatusOK, models.Recorded(res))
}

type orderOutcome struct {
	*carts.OrderResult
	NotificationJob string `json:"notification_job,omitempty"`
}

func (s *Server) processOrder(ctx context.Context, order *models.Order) (*orderOutcome, error) {
	res, err := s.svc.Carts.HandleOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	out := &orderOutcome{OrderResult: res}
	if s.svc.Notifier != nil {
		if out.NotificationJob, err = s.svc.Notifier.Enqueue(ctx, order); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// listCartsHandler lists carts, optionally by status (GET /api/carts).
func (s *Server) listCartsHandler(w http.ResponseWriter, r *http.Request) {
	status := models.CartStatus(r.URL.Query().Get("status"))
	if status != "" && status != models.CartStatusActive && status != models.CartStatusRecovered {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("status must be active or recovered"))
		return
	}
	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	list, err := s.svc.Repo.ListCartsByStatus(r.Context(), status, limit)
	if err != nil {
		slog.Error("Server.listCartsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list carts"))
		return
	}
	if list == nil {
		list = []models.AbandonedCart{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(list))
}

// getCartHandler returns one cart with its event log (GET /api/carts/{id}).
func (s *Server) getCartHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cart, err := s.svc.Repo.GetCart(r.Context(), id)
	if err != nil {
		slog.Error("Server.getCartHandler: lookup failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get cart"))
		return
	}
	if cart == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Cart not found"))
		return
	}
	events, err := s.svc.Repo.ListEvents(r.Context(), id)
	if err != nil {
		slog.Error("Server.getCartHandler: events lookup failed", "error", err, "id", id)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get cart events"))
		return
	}
	if events == nil {
		events = []models.TrackingEvent{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(CartDetail{Cart: cart, Events: events}))
}

// statsHandler returns dashboard statistics (GET /api/stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Repo.Stats(r.Context())
	if err != nil {
		slog.Error("Server.statsHandler: stats failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to compute stats"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(st))
}

func (s *Server) getSettingsHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Settings.Load(r.Context())
	if err != nil {
		slog.Error("Server.getSettingsHandler: load failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load settings"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(st))
}

// putSettingsHandler replaces the settings (PUT /api/settings). Fields missing
// from the body keep their current values.
func (s *Server) putSettingsHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	st, err := s.svc.Settings.Load(r.Context())
	if err != nil {
		slog.Error("Server.putSettingsHandler: load failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load settings"))
		return
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&st); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := st.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.svc.Settings.Save(r.Context(), st); err != nil {
		slog.Error("Server.putSettingsHandler: save failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save settings"))
		return
	}
	slog.Info("Server.putSettingsHandler: settings saved")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Settings saved", st))
}

// sweepHandler runs a recovery sweep immediately (POST /api/sweep).
func (s *Server) sweepHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Sweeper.RunSweep(r.Context(), s.now())
	if err != nil {
		slog.Error("Server.sweepHandler: sweep failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Sweep failed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// testMessageHandler sends an ad-hoc message (POST /api/test-message).
func (s *Server) testMessageHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req TestMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.Phone) == "" || strings.TrimSpace(req.Message) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("phone and message are required"))
		return
	}
	to, err := s.svc.Sender.SendTest(r.Context(), req.Phone, req.Message)
	if err != nil {
		slog.Warn("Server.testMessageHandler: send failed", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error(recovery.ErrSendFailed.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Message sent", map[string]string{"to": to}))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := s.svc.Settings.Load(ctx); err != nil {
		slog.Warn("Health check: settings unavailable", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Database unavailable"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
