// Package handler содержит HTTP-обработчики API сервиса WaterMap.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BigCrunchTheory/watermap-service/internal/auth"
	"github.com/BigCrunchTheory/watermap-service/internal/middleware"
	"github.com/BigCrunchTheory/watermap-service/internal/model"
	"github.com/BigCrunchTheory/watermap-service/internal/repository"
	"github.com/BigCrunchTheory/watermap-service/internal/service"
	"github.com/BigCrunchTheory/watermap-service/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateWaterPoint(ctx context.Context, p *model.WaterPoint) (*model.WaterPoint, error)
	GetWaterPoint(ctx context.Context, id int64) (*model.WaterPoint, error)
	ListWaterPoints(ctx context.Context, offset, limit int) ([]model.WaterPoint, error)
	SearchWaterPoints(ctx context.Context, f model.WaterPointFilter) ([]model.WaterPoint, error)
	UpdateWaterPoint(ctx context.Context, p *model.WaterPoint) error
	DeleteWaterPoint(ctx context.Context, id int64) error

	RegisterUser(ctx context.Context, name, email, password string) (*model.User, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.User, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, id int64, name, email, password string) error
	DeleteUser(ctx context.Context, id int64) error

	ProcessPayment(ctx context.Context, req service.PaymentRequest) (*model.Payment, error)
	GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error)

	AdminExists(ctx context.Context) (bool, error)
	EnsureBootstrapAdmin(ctx context.Context) error
	RotateAdmin(ctx context.Context, username, password string) error
	AuthenticateAdmin(ctx context.Context, username, password string) (*model.Admin, error)
}

// Handler реализует HTTP-обработчики API сервиса WaterMap.
type Handler struct {
	service        Service
	logger         *zap.Logger
	tokens         *auth.TokenManager
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, tokens *auth.TokenManager, authMW *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		tokens:         tokens,
		authMiddleware: authMW,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func idFromURL(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// Root возвращает признак работоспособности сервиса.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "WaterMap API is running!"})
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterUser обрабатывает регистрацию нового пользователя.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Password == "" || !validation.IsValidEmail(req.Email) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.RegisterUser(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, user)
}

// GetUser возвращает пользователя по идентификатору.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := idFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get user error", zap.Error(err), zap.Int64("userID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, user)
}

// ListUsers возвращает всех пользователей. Доступно только администратору.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if users == nil {
		users = []model.User{}
	}
	h.writeJSON(w, http.StatusOK, users)
}

type updateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

// UpdateUser обновляет данные пользователя. Пользователь может менять
// только свою запись; администратор — любую.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := idFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if !claims.IsAdmin && claims.UserID != id {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Name == "" || !validation.IsValidEmail(req.Email) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateUser(r.Context(), id, req.Name, req.Email, req.Password); err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrEmailTaken):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("update user error", zap.Error(err), zap.Int64("userID", id))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

// DeleteUser удаляет пользователя. Доступно только администратору.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := idFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		if errors.Is(err, repository.ErrUserHasPayments) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("delete user error", zap.Error(err), zap.Int64("userID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Login выполняет аутентификацию пользователя по form-encoded полям
// username (email) и password и возвращает bearer-токен.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	email := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), email, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	token, err := h.tokens.Issue(user.Email, user.ID, false)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// AdminLogin выполняет аутентификацию администратора и возвращает
// bearer-токен с признаком администратора.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	admin, err := h.service.AuthenticateAdmin(r.Context(), username, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("admin login error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	token, err := h.tokens.Issue(admin.Username, admin.ID, true)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

type adminCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AdminCreate выполняет первичное создание администратора либо его ротацию.
// Пока администраторов нет, запрос создаёт учётную запись с настроенными
// учётными данными, а тело запроса игнорируется. После этого операция
// требует токен администратора и заменяет запись на новую.
func (h *Handler) AdminCreate(w http.ResponseWriter, r *http.Request) {
	exists, err := h.service.AdminExists(r.Context())
	if err != nil {
		h.logger.Error("admin exists check error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if !exists {
		if err := h.service.EnsureBootstrapAdmin(r.Context()); err != nil {
			h.logger.Error("bootstrap admin error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		h.writeJSON(w, http.StatusCreated, map[string]string{"message": "bootstrap admin created"})
		return
	}

	claims, ok := h.authMiddleware.Authenticate(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	if !claims.IsAdmin {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var req adminCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RotateAdmin(r.Context(), req.Username, req.Password); err != nil {
		if errors.Is(err, service.ErrAdminUsernameTaken) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("rotate admin error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "admin rotated"})
}

type payRequest struct {
	UserID        int64   `json:"user_id"`
	WaterPointID  int64   `json:"water_point_id"`
	Volume        float64 `json:"volume"`
	Amount        float64 `json:"amount"`
	PaymentMethod string  `json:"payment_method"`
	BonusUsed     float64 `json:"bonus_used"`
	// Поле принимается для совместимости со старыми клиентами,
	// но начисление всегда вычисляется сервером.
	BonusEarned float64 `json:"bonus_earned,omitempty"`
}

// Pay проводит платёж. Пользователь может платить только от своего имени;
// администратор — от имени любого пользователя.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !claims.IsAdmin && claims.UserID != req.UserID {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	payment, err := h.service.ProcessPayment(r.Context(), service.PaymentRequest{
		UserID:       req.UserID,
		WaterPointID: req.WaterPointID,
		Volume:       req.Volume,
		Amount:       req.Amount,
		Method:       req.PaymentMethod,
		BonusUsed:    req.BonusUsed,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrUserNotFound), errors.Is(err, repository.ErrWaterPointNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, service.ErrInvalidPayment):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrInsufficientBalance):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		default:
			h.logger.Error("payment error", zap.Error(err),
				zap.Int64("userID", req.UserID), zap.Int64("waterPointID", req.WaterPointID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, payment)
}

// GetUserPayments возвращает историю платежей пользователя.
func (h *Handler) GetUserPayments(w http.ResponseWriter, r *http.Request) {
	id, err := idFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	payments, err := h.service.GetPaymentsByUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get payments error", zap.Error(err), zap.Int64("userID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if payments == nil {
		payments = []model.Payment{}
	}
	h.writeJSON(w, http.StatusOK, payments)
}
