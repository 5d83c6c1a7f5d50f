package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/BigCrunchTheory/watermap-service/internal/auth"
	"github.com/BigCrunchTheory/watermap-service/internal/middleware"
	"github.com/BigCrunchTheory/watermap-service/internal/model"
	"github.com/BigCrunchTheory/watermap-service/internal/repository"
	"github.com/BigCrunchTheory/watermap-service/internal/service"
)

type stubService struct {
	registerUser *model.User
	registerErr  error

	authUser *model.User
	authErr  error

	point     *model.WaterPoint
	pointErr  error
	points    []model.WaterPoint
	pointsErr error

	searchFilter model.WaterPointFilter

	payment    *model.Payment
	paymentErr error
	payReq     service.PaymentRequest

	payments    []model.Payment
	paymentsErr error

	adminExists   bool
	bootstrapErr  error
	rotateErr     error
	rotateCalled  bool
	bootstrapDone bool

	admin         *model.Admin
	adminAuthErr  error
	users         []model.User
	deleteUserErr error
	updateUserErr error
	getUser       *model.User
	getUserErr    error
}

func (s *stubService) CreateWaterPoint(ctx context.Context, p *model.WaterPoint) (*model.WaterPoint, error) {
	p.ID = 1
	return p, s.pointErr
}

func (s *stubService) GetWaterPoint(ctx context.Context, id int64) (*model.WaterPoint, error) {
	return s.point, s.pointErr
}

func (s *stubService) ListWaterPoints(ctx context.Context, offset, limit int) ([]model.WaterPoint, error) {
	return s.points, s.pointsErr
}

func (s *stubService) SearchWaterPoints(ctx context.Context, f model.WaterPointFilter) ([]model.WaterPoint, error) {
	s.searchFilter = f
	return s.points, s.pointsErr
}

func (s *stubService) UpdateWaterPoint(ctx context.Context, p *model.WaterPoint) error {
	return s.pointErr
}

func (s *stubService) DeleteWaterPoint(ctx context.Context, id int64) error {
	return s.pointErr
}

func (s *stubService) RegisterUser(ctx context.Context, name, email, password string) (*model.User, error) {
	return s.registerUser, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubService) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.users, nil
}

func (s *stubService) UpdateUser(ctx context.Context, id int64, name, email, password string) error {
	return s.updateUserErr
}

func (s *stubService) DeleteUser(ctx context.Context, id int64) error {
	return s.deleteUserErr
}

func (s *stubService) ProcessPayment(ctx context.Context, req service.PaymentRequest) (*model.Payment, error) {
	s.payReq = req
	return s.payment, s.paymentErr
}

func (s *stubService) GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error) {
	return s.payments, s.paymentsErr
}

func (s *stubService) AdminExists(ctx context.Context) (bool, error) {
	return s.adminExists, nil
}

func (s *stubService) EnsureBootstrapAdmin(ctx context.Context) error {
	s.bootstrapDone = true
	return s.bootstrapErr
}

func (s *stubService) RotateAdmin(ctx context.Context, username, password string) error {
	s.rotateCalled = true
	return s.rotateErr
}

func (s *stubService) AuthenticateAdmin(ctx context.Context, username, password string) (*model.Admin, error) {
	return s.admin, s.adminAuthErr
}

func newTestHandler(t *testing.T, svc Service) (*Handler, *auth.TokenManager) {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	tokens := auth.NewTokenManager("test-secret")
	authMW := middleware.NewAuthMiddleware(tokens)

	return NewHandler(svc, logger, tokens, authMW), tokens
}

func TestRegisterUser_Success(t *testing.T) {
	svc := &stubService{
		registerUser: &model.User{ID: 42, Name: "Ivan", Email: "ivan@example.com"},
	}
	h, _ := newTestHandler(t, svc)

	body, _ := json.Marshal(registerRequest{
		Name:     "Ivan",
		Email:    "ivan@example.com",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.RegisterUser(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
}

func TestRegisterUser_DuplicateEmail(t *testing.T) {
	svc := &stubService{
		registerErr: repository.ErrEmailTaken,
	}
	h, _ := newTestHandler(t, svc)

	body, _ := json.Marshal(registerRequest{
		Name:     "Ivan",
		Email:    "ivan@example.com",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.RegisterUser(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestRegisterUser_RejectsBadEmail(t *testing.T) {
	h, _ := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(registerRequest{
		Name:     "Ivan",
		Email:    "not-an-email",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.RegisterUser(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func loginForm(email, password string) *http.Request {
	form := url.Values{}
	form.Set("username", email)
	form.Set("password", password)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestLogin_Success(t *testing.T) {
	svc := &stubService{
		authUser: &model.User{ID: 7, Email: "ivan@example.com"},
	}
	h, tokens := newTestHandler(t, svc)

	rec := httptest.NewRecorder()
	h.Login(rec, loginForm("ivan@example.com", "pass"))

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TokenType != "bearer" {
		t.Fatalf("token_type = %q, want bearer", resp.TokenType)
	}

	claims, err := tokens.Verify(resp.AccessToken)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if claims.UserID != 7 || claims.IsAdmin {
		t.Fatalf("claims = %+v, want user 7 without admin flag", claims)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{
		authErr: auth.ErrInvalidCredentials,
	}
	h, _ := newTestHandler(t, svc)

	rec := httptest.NewRecorder()
	h.Login(rec, loginForm("ivan@example.com", "wrong"))

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func payBody(t *testing.T, userID int64) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(payRequest{
		UserID:        userID,
		WaterPointID:  2,
		Volume:        45,
		Amount:        90,
		PaymentMethod: "card",
		BonusUsed:     0,
	})
	if err != nil {
		t.Fatalf("marshal pay request: %v", err)
	}
	return bytes.NewReader(body)
}

func TestPay_SelfAllowed(t *testing.T) {
	svc := &stubService{
		payment: &model.Payment{ID: 1, UserID: 7, BonusEarned: 10},
	}
	h, tokens := newTestHandler(t, svc)

	token, err := tokens.Issue("ivan@example.com", 7, false)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/pay", payBody(t, 7))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler := h.authMiddleware.Middleware(http.HandlerFunc(h.Pay))
	handler.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusCreated)
	}
	if svc.payReq.UserID != 7 {
		t.Fatalf("payment user id = %d, want 7", svc.payReq.UserID)
	}
}

func TestPay_OtherUserForbidden(t *testing.T) {
	svc := &stubService{}
	h, tokens := newTestHandler(t, svc)

	token, err := tokens.Issue("ivan@example.com", 7, false)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/pay", payBody(t, 8))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler := h.authMiddleware.Middleware(http.HandlerFunc(h.Pay))
	handler.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusForbidden)
	}
}

func TestPay_AdminCanPayForAnyone(t *testing.T) {
	svc := &stubService{
		payment: &model.Payment{ID: 1, UserID: 8},
	}
	h, tokens := newTestHandler(t, svc)

	token, err := tokens.Issue("root", 1, true)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/pay", payBody(t, 8))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler := h.authMiddleware.Middleware(http.HandlerFunc(h.Pay))
	handler.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusCreated)
	}
}

func TestPay_InsufficientBalance(t *testing.T) {
	svc := &stubService{
		paymentErr: repository.ErrInsufficientBalance,
	}
	h, tokens := newTestHandler(t, svc)

	token, err := tokens.Issue("ivan@example.com", 7, false)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/pay", payBody(t, 7))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler := h.authMiddleware.Middleware(http.HandlerFunc(h.Pay))
	handler.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusPaymentRequired)
	}
}

func TestPay_InvalidPayment(t *testing.T) {
	svc := &stubService{
		paymentErr: service.ErrInvalidPayment,
	}
	h, tokens := newTestHandler(t, svc)

	token, err := tokens.Issue("ivan@example.com", 7, false)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/pay", payBody(t, 7))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler := h.authMiddleware.Middleware(http.HandlerFunc(h.Pay))
	handler.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestAdminCreate_BootstrapWhenNoAdmins(t *testing.T) {
	svc := &stubService{adminExists: false}
	h, _ := newTestHandler(t, svc)

	// Тело запроса при первичном создании игнорируется.
	req := httptest.NewRequest(http.MethodPost, "/admin-create",
		strings.NewReader(`{"username":"attacker","password":"oops"}`))
	rec := httptest.NewRecorder()

	h.AdminCreate(rec, req)

	if rec.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusCreated)
	}
	if !svc.bootstrapDone {
		t.Fatalf("bootstrap was not invoked")
	}
	if svc.rotateCalled {
		t.Fatalf("rotation must not run during bootstrap")
	}
}

func TestAdminCreate_RotationRequiresAdminToken(t *testing.T) {
	svc := &stubService{adminExists: true}
	h, tokens := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/admin-create",
		strings.NewReader(`{"username":"operator","password":"pass"}`))
	rec := httptest.NewRecorder()

	h.AdminCreate(rec, req)
	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}

	userToken, err := tokens.Issue("ivan@example.com", 7, false)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin-create",
		strings.NewReader(`{"username":"operator","password":"pass"}`))
	req.Header.Set("Authorization", "Bearer "+userToken)
	rec = httptest.NewRecorder()

	h.AdminCreate(rec, req)
	if rec.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status with user token = %d, want %d", rec.Result().StatusCode, http.StatusForbidden)
	}
}

func TestAdminCreate_RotationConflict(t *testing.T) {
	svc := &stubService{
		adminExists: true,
		rotateErr:   service.ErrAdminUsernameTaken,
	}
	h, tokens := newTestHandler(t, svc)

	adminToken, err := tokens.Issue("root", 1, true)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin-create",
		strings.NewReader(`{"username":"root","password":"pass"}`))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()

	h.AdminCreate(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestGetWaterPoint_NotFound(t *testing.T) {
	svc := &stubService{
		pointErr: repository.ErrWaterPointNotFound,
	}
	h, _ := newTestHandler(t, svc)

	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/water-points/99", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNotFound)
	}
}

func TestCreateWaterPoint_RequiresAdmin(t *testing.T) {
	svc := &stubService{}
	h, tokens := newTestHandler(t, svc)

	r := h.SetupRouter()

	body := `{"name":"Родник","latitude":54.7,"longitude":56.0}`

	req := httptest.NewRequest(http.MethodPost, "/water-points", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}

	adminToken, err := tokens.Issue("root", 1, true)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/water-points", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Result().StatusCode != http.StatusCreated {
		t.Fatalf("status with admin token = %d, want %d", rec.Result().StatusCode, http.StatusCreated)
	}
}

func TestSearchWaterPoints_PassesFilter(t *testing.T) {
	svc := &stubService{}
	h, _ := newTestHandler(t, svc)

	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet,
		"/water-points/search?city=Ufa&min_rating=4.0&query=родник&skip=10&limit=20", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusOK)
	}

	f := svc.searchFilter
	if f.City != "Ufa" {
		t.Fatalf("filter city = %q, want Ufa", f.City)
	}
	if f.MinRating == nil || *f.MinRating != 4.0 {
		t.Fatalf("filter min_rating = %v, want 4.0", f.MinRating)
	}
	if f.Query != "родник" {
		t.Fatalf("filter query = %q, want родник", f.Query)
	}
	if f.Offset != 10 || f.Limit != 20 {
		t.Fatalf("pagination = (%d, %d), want (10, 20)", f.Offset, f.Limit)
	}
}

func TestGetUserPayments_EmptyList(t *testing.T) {
	svc := &stubService{}
	h, _ := newTestHandler(t, svc)

	r := h.SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/users/7/payments", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var payments []model.Payment
	if err := json.NewDecoder(res.Body).Decode(&payments); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payments) != 0 {
		t.Fatalf("payments = %v, want empty list", payments)
	}
}

func TestDeleteUser_RequiresAdmin(t *testing.T) {
	svc := &stubService{}
	h, tokens := newTestHandler(t, svc)

	r := h.SetupRouter()

	userToken, err := tokens.Issue("ivan@example.com", 7, false)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/users/7", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusForbidden)
	}
}

func TestDeleteUser_WithPaymentsConflict(t *testing.T) {
	svc := &stubService{deleteUserErr: repository.ErrUserHasPayments}
	h, tokens := newTestHandler(t, svc)

	r := h.SetupRouter()

	adminToken, err := tokens.Issue("admin", 1, true)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/users/7", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestDeleteWaterPoint_WithPaymentsConflict(t *testing.T) {
	svc := &stubService{pointErr: repository.ErrWaterPointHasPayments}
	h, tokens := newTestHandler(t, svc)

	r := h.SetupRouter()

	adminToken, err := tokens.Issue("admin", 1, true)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/water-points/3", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}
