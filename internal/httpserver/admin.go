package httpserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"chatshop/internal/orders"
	"chatshop/internal/repo"
	"chatshop/internal/tenant"
)

// OrderAdmin is the order service as seen by operators.
type OrderAdmin interface {
	UpdateStatus(ctx context.Context, storeID, orderID, status string) (*repo.Order, error)
	Stats(ctx context.Context, storeID string) (*repo.OrderStats, error)
	PlatformStats(ctx context.Context) (*repo.PlatformStats, error)
	Usage(ctx context.Context, storeID string, limit int) ([]repo.UsageLogEntry, error)
	Reconcile(ctx context.Context, storeID, paymentID string) (*orders.ReconcileResult, error)
}

// CatalogAdmin drops cached catalog data.
type CatalogAdmin interface {
	Invalidate(ctx context.Context, storeID string) error
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed paid shipped delivered cancelled"`
}

type reconcileRequest struct {
	PaymentID string `json:"payment_id" validate:"required,startswith=pay_"`
}

type validationError struct {
	Fields map[string]string
}

func (e *validationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+" "+msg)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func decodeJSONBody(r *http.Request, dest any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return &validationError{Fields: map[string]string{"body": err.Error()}}
	}
	if err := validate.Struct(dest); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			fields := map[string]string{}
			for _, fe := range errs {
				fields[fe.Field()] = validationMessage(fe)
			}
			return &validationError{Fields: fields}
		}
		return err
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "startswith":
		return fmt.Sprintf("must start with %s", fe.Param())
	}
	return "is invalid"
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AdminToken == "" || s.deps.Orders == nil {
			writeError(w, http.StatusServiceUnavailable, "admin api disabled")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if token == "" {
			token = r.Header.Get("X-Admin-Token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.deps.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	order, err := s.deps.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "storeID"), chi.URLParam(r, "orderID"), req.Status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":           order.ID,
		"order_number": order.OrderNumber,
		"status":       order.Status,
	})
}

func (s *Server) handleStoreStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Orders.Stats(r.Context(), chi.URLParam(r, "storeID"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	period := func(p repo.PeriodStats) map[string]any {
		return map[string]any{"orders": p.Count, "revenue": p.Revenue.StringFixed(2)}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"today":     period(stats.Today),
		"week":      period(stats.Week),
		"month":     period(stats.Month),
		"by_status": stats.ByStatus,
	})
}

func (s *Server) handlePlatformStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Orders.PlatformStats(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	top := make([]map[string]any, 0, len(stats.TopStores))
	for _, st := range stats.TopStores {
		top = append(top, map[string]any{
			"store_id": st.StoreID,
			"name":     st.Name,
			"orders":   st.OrderCount,
			"revenue":  st.Revenue.StringFixed(2),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_stores":  stats.TotalStores,
		"active_stores": stats.ActiveStores,
		"total_orders":  stats.TotalOrders,
		"revenue":       stats.Revenue.StringFixed(2),
		"top_stores":    top,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.deps.Orders.Usage(r.Context(), chi.URLParam(r, "storeID"), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":            e.ID,
			"type":          e.Type,
			"cost":          e.Cost.String(),
			"balance_after": e.BalanceAfter.String(),
			"details":       e.Details,
			"created_at":    e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeJSONBody(r, &req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	res, err := s.deps.Orders.Reconcile(r.Context(), chi.URLParam(r, "storeID"), req.PaymentID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReloadCatalog(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	storeID := chi.URLParam(r, "storeID")
	if err := s.deps.Catalog.Invalidate(r.Context(), storeID); err != nil {
		s.logger.Error("failed reloading catalog cache", "store_id", storeID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed reloading catalog cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store_id": storeID})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var verr *validationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, orders.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, tenant.ErrUnknownStore):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrPaymentNotCaptured):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.metrics.IncError("http")
		s.logger.Error("admin request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
