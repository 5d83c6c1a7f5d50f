// Package service реализует бизнес-логику сервиса WaterMap.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/BigCrunchTheory/watermap-service/internal/auth"
	"github.com/BigCrunchTheory/watermap-service/internal/model"
	"github.com/BigCrunchTheory/watermap-service/internal/repository"
)

// ErrInvalidPayment возвращается для семантически некорректного платежа:
// неположительный объём или сумма, отрицательные бонусы, неизвестный способ оплаты.
var (
	ErrInvalidPayment = errors.New("invalid payment")
	// ErrAdminUsernameTaken возвращается при ротации администратора на уже занятое имя.
	ErrAdminUsernameTaken = errors.New("admin username already taken")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error

	CreateWaterPoint(ctx context.Context, p *model.WaterPoint) (int64, error)
	GetWaterPoint(ctx context.Context, id int64) (*model.WaterPoint, error)
	ListWaterPoints(ctx context.Context, offset, limit int) ([]model.WaterPoint, error)
	SearchWaterPoints(ctx context.Context, f model.WaterPointFilter) ([]model.WaterPoint, error)
	UpdateWaterPoint(ctx context.Context, p *model.WaterPoint) error
	DeleteWaterPoint(ctx context.Context, id int64) error

	CreateUser(ctx context.Context, name, email, passwordHash string) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, id int64, name, email, passwordHash string) error
	DeleteUser(ctx context.Context, id int64) error

	CreatePayment(ctx context.Context, p *model.Payment, debit float64) (*model.Payment, error)
	GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error)

	CountAdmins(ctx context.Context) (int, error)
	GetAdmin(ctx context.Context) (*model.Admin, error)
	GetAdminByUsername(ctx context.Context, username string) (*model.Admin, error)
	ReplaceAdmin(ctx context.Context, username, passwordHash string) (int64, error)
}

// BootstrapCredentials содержит учётные данные первичного администратора.
// Это одноразовый секрет развёртывания, подлежащий ротации после первого входа.
type BootstrapCredentials struct {
	Username string
	Password string
}

// Service содержит бизнес-логику сервиса WaterMap.
type Service struct {
	repo      Repository
	bootstrap BootstrapCredentials
}

// NewService создаёт новый сервис с указанным репозиторием и учётными
// данными первичного администратора.
func NewService(repo Repository, bootstrap BootstrapCredentials) *Service {
	return &Service{
		repo:      repo,
		bootstrap: bootstrap,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateWaterPoint сохраняет новую точку забора воды.
func (s *Service) CreateWaterPoint(ctx context.Context, p *model.WaterPoint) (*model.WaterPoint, error) {
	id, err := s.repo.CreateWaterPoint(ctx, p)
	if err != nil {
		return nil, err
	}
	p.ID = id
	return p, nil
}

// GetWaterPoint возвращает точку забора воды по идентификатору.
func (s *Service) GetWaterPoint(ctx context.Context, id int64) (*model.WaterPoint, error) {
	return s.repo.GetWaterPoint(ctx, id)
}

// ListWaterPoints возвращает страницу точек забора воды.
func (s *Service) ListWaterPoints(ctx context.Context, offset, limit int) ([]model.WaterPoint, error) {
	return s.repo.ListWaterPoints(ctx, offset, limit)
}

// SearchWaterPoints возвращает точки, удовлетворяющие фильтру.
func (s *Service) SearchWaterPoints(ctx context.Context, f model.WaterPointFilter) ([]model.WaterPoint, error) {
	return s.repo.SearchWaterPoints(ctx, f)
}

// UpdateWaterPoint полностью заменяет поля точки забора воды.
func (s *Service) UpdateWaterPoint(ctx context.Context, p *model.WaterPoint) error {
	return s.repo.UpdateWaterPoint(ctx, p)
}

// DeleteWaterPoint удаляет точку забора воды.
func (s *Service) DeleteWaterPoint(ctx context.Context, id int64) error {
	return s.repo.DeleteWaterPoint(ctx, id)
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, name, email, password string) (*model.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	id, err := s.repo.CreateUser(ctx, name, email, hash)
	if err != nil {
		return nil, err
	}

	return &model.User{ID: id, Name: name, Email: email}, nil
}

// AuthenticateUser проверяет email и пароль пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := auth.VerifyPassword(u.PasswordHash, password); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUserByID(ctx, id)
}

// ListUsers возвращает всех пользователей.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.repo.ListUsers(ctx)
}

// UpdateUser обновляет имя и email пользователя. Непустой пароль заменяет
// текущий; пустой оставляет прежний хэш.
func (s *Service) UpdateUser(ctx context.Context, id int64, name, email, password string) error {
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return err
	}

	hash := u.PasswordHash
	if password != "" {
		hash, err = auth.HashPassword(password)
		if err != nil {
			return err
		}
	}

	return s.repo.UpdateUser(ctx, id, name, email, hash)
}

// DeleteUser удаляет пользователя.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	return s.repo.DeleteUser(ctx, id)
}

// PaymentRequest описывает запрос на проведение платежа.
// Значение bonus_earned от клиента не принимается: начисление всегда
// вычисляется сервером.
type PaymentRequest struct {
	UserID       int64
	WaterPointID int64
	Volume       float64
	Amount       float64
	Method       string
	BonusUsed    float64
}

// BonusEarned вычисляет бонусное начисление за объём покупки:
// 5 бонусов за каждые полные 20 литров.
func BonusEarned(volume float64) float64 {
	if volume < 0 {
		return 0
	}
	return math.Floor(volume/20) * 5
}

// ProcessPayment проводит платёж: проверяет корректность запроса,
// списывает и начисляет бонусы и добавляет запись в журнал платежей.
// Все мутации применяются в одной транзакции хранилища.
func (s *Service) ProcessPayment(ctx context.Context, req PaymentRequest) (*model.Payment, error) {
	if _, err := s.repo.GetUserByID(ctx, req.UserID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetWaterPoint(ctx, req.WaterPointID); err != nil {
		return nil, err
	}

	if req.Volume <= 0 {
		return nil, fmt.Errorf("%w: volume must be positive", ErrInvalidPayment)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
	}
	if req.BonusUsed < 0 {
		return nil, fmt.Errorf("%w: bonus_used must not be negative", ErrInvalidPayment)
	}

	method := model.PaymentMethod(req.Method)
	switch method {
	case model.PaymentMethodBonus, model.PaymentMethodCard:
	default:
		return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidPayment, req.Method)
	}

	// При оплате бонусами сумма платежа и есть списание; иначе
	// списывается заявленное количество бонусов.
	debit := req.BonusUsed
	if method == model.PaymentMethodBonus {
		debit = req.Amount
	}

	payment := &model.Payment{
		UserID:        req.UserID,
		WaterPointID:  req.WaterPointID,
		Volume:        req.Volume,
		Amount:        req.Amount,
		PaymentMethod: method,
		BonusUsed:     debit,
		BonusEarned:   BonusEarned(req.Volume),
	}

	return s.repo.CreatePayment(ctx, payment, debit)
}

// GetPaymentsByUser возвращает историю платежей пользователя.
func (s *Service) GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error) {
	if _, err := s.repo.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.GetPaymentsByUser(ctx, userID)
}

// AdminExists сообщает, существует ли административная запись.
func (s *Service) AdminExists(ctx context.Context) (bool, error) {
	count, err := s.repo.CountAdmins(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// EnsureBootstrapAdmin создаёт первичного администратора с настроенными
// учётными данными, если административных записей нет. Повторные вызовы
// ничего не меняют.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context) error {
	count, err := s.repo.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword(s.bootstrap.Password)
	if err != nil {
		return err
	}

	if _, err := s.repo.ReplaceAdmin(ctx, s.bootstrap.Username, hash); err != nil {
		return err
	}
	return nil
}

// RotateAdmin заменяет текущего администратора новым. Имя нового
// администратора не должно совпадать с текущим. Замена удаляет старую
// запись и вставляет новую в одной транзакции, поэтому администраторов
// никогда не бывает больше одного.
func (s *Service) RotateAdmin(ctx context.Context, username, password string) error {
	current, err := s.repo.GetAdmin(ctx)
	if err != nil {
		return err
	}

	if current.Username == username {
		return fmt.Errorf("%w: %s", ErrAdminUsernameTaken, username)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	if _, err := s.repo.ReplaceAdmin(ctx, username, hash); err != nil {
		return err
	}
	return nil
}

// AuthenticateAdmin проверяет имя и пароль администратора.
func (s *Service) AuthenticateAdmin(ctx context.Context, username, password string) (*model.Admin, error) {
	a, err := s.repo.GetAdminByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrAdminNotFound) {
			return nil, auth.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := auth.VerifyPassword(a.PasswordHash, password); err != nil {
		return nil, err
	}
	return a, nil
}
