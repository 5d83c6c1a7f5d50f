// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/BigCrunchTheory/watermap-service/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrEmailTaken возвращается при попытке создать пользователя с уже занятым email.
var (
	ErrEmailTaken = errors.New("email already taken")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrWaterPointNotFound возвращается, если точка забора воды не найдена.
	ErrWaterPointNotFound = errors.New("water point not found")
	// ErrAdminNotFound возвращается, если административная запись отсутствует.
	ErrAdminNotFound = errors.New("admin not found")
	// ErrInsufficientBalance возвращается при попытке списания бонусов сверх баланса.
	ErrInsufficientBalance = errors.New("insufficient bonus balance")
	// ErrUserHasPayments возвращается при удалении пользователя с историей платежей.
	ErrUserHasPayments = errors.New("user has payments")
	// ErrWaterPointHasPayments возвращается при удалении точки с историей платежей.
	ErrWaterPointHasPayments = errors.New("water point has payments")
)

// PgxPool описывает методы пула соединений, используемые репозиторием.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool PgxPool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRepository{pool: pool}, nil
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		// Ретраи полезны для Serialization Failure и Deadlocks,
		// переподключением занимается сам pgxpool.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const waterPointColumns = `id, name, description, type, address, city, country, rating,
	website, reviews_count, region, timezone, phone, latitude, longitude`

func scanWaterPoint(row pgx.Row) (*model.WaterPoint, error) {
	var p model.WaterPoint
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Type, &p.Address, &p.City, &p.Country,
		&p.Rating, &p.Website, &p.ReviewsCount, &p.Region, &p.Timezone, &p.Phone,
		&p.Latitude, &p.Longitude,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateWaterPoint сохраняет новую точку забора воды и возвращает её идентификатор.
func (r *PostgresRepository) CreateWaterPoint(ctx context.Context, p *model.WaterPoint) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO water_points
		 (name, description, type, address, city, country, rating, website,
		  reviews_count, region, timezone, phone, latitude, longitude)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING id`,
		p.Name, p.Description, p.Type, p.Address, p.City, p.Country, p.Rating,
		p.Website, p.ReviewsCount, p.Region, p.Timezone, p.Phone,
		p.Latitude, p.Longitude,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert water point: %w", err)
	}
	return id, nil
}

// GetWaterPoint возвращает точку забора воды по идентификатору.
func (r *PostgresRepository) GetWaterPoint(ctx context.Context, id int64) (*model.WaterPoint, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+waterPointColumns+` FROM water_points WHERE id = $1`, id)

	p, err := scanWaterPoint(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaterPointNotFound
		}
		return nil, fmt.Errorf("get water point: %w", err)
	}
	return p, nil
}

// ListWaterPoints возвращает страницу точек забора воды в порядке их создания.
func (r *PostgresRepository) ListWaterPoints(ctx context.Context, offset, limit int) ([]model.WaterPoint, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+waterPointColumns+` FROM water_points ORDER BY id OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("select water points: %w", err)
	}
	defer rows.Close()

	return collectWaterPoints(rows)
}

// SearchWaterPoints возвращает точки забора воды, удовлетворяющие фильтру.
// Текстовый запрос ищется подстрокой без учёта регистра в названии,
// описании и адресе; остальные фильтры точные.
func (r *PostgresRepository) SearchWaterPoints(ctx context.Context, f model.WaterPointFilter) ([]model.WaterPoint, error) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 7)

	if f.Query != "" {
		args = append(args, "%"+f.Query+"%")
		n := len(args)
		conditions = append(conditions,
			fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d OR address ILIKE $%d)", n, n, n))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if f.City != "" {
		args = append(args, f.City)
		conditions = append(conditions, fmt.Sprintf("city = $%d", len(args)))
	}
	if f.Region != "" {
		args = append(args, f.Region)
		conditions = append(conditions, fmt.Sprintf("region = $%d", len(args)))
	}
	if f.MinRating != nil {
		args = append(args, *f.MinRating)
		conditions = append(conditions, fmt.Sprintf("rating >= $%d", len(args)))
	}

	query := `SELECT ` + waterPointColumns + ` FROM water_points`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, f.Offset)
	query += fmt.Sprintf(" ORDER BY id OFFSET $%d", len(args))
	args = append(args, f.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search water points: %w", err)
	}
	defer rows.Close()

	return collectWaterPoints(rows)
}

func collectWaterPoints(rows pgx.Rows) ([]model.WaterPoint, error) {
	var points []model.WaterPoint
	for rows.Next() {
		p, err := scanWaterPoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan water point: %w", err)
		}
		points = append(points, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return points, nil
}

// UpdateWaterPoint полностью заменяет все поля точки забора воды.
func (r *PostgresRepository) UpdateWaterPoint(ctx context.Context, p *model.WaterPoint) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE water_points SET
		 name = $2, description = $3, type = $4, address = $5, city = $6,
		 country = $7, rating = $8, website = $9, reviews_count = $10,
		 region = $11, timezone = $12, phone = $13, latitude = $14, longitude = $15
		 WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Type, p.Address, p.City, p.Country,
		p.Rating, p.Website, p.ReviewsCount, p.Region, p.Timezone, p.Phone,
		p.Latitude, p.Longitude,
	)
	if err != nil {
		return fmt.Errorf("update water point: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrWaterPointNotFound
	}
	return nil
}

// DeleteWaterPoint удаляет точку забора воды по идентификатору.
func (r *PostgresRepository) DeleteWaterPoint(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM water_points WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrWaterPointHasPayments
		}
		return fmt.Errorf("delete water point: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrWaterPointNotFound
	}
	return nil
}

// BulkInsertWaterPoints вставляет набор точек в одной транзакции.
// Используется импортом CSV.
func (r *PostgresRepository) BulkInsertWaterPoints(ctx context.Context, points []model.WaterPoint) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for i := range points {
		p := &points[i]
		_, err := tx.Exec(ctx,
			`INSERT INTO water_points
			 (name, description, type, address, city, country, rating, website,
			  reviews_count, region, timezone, phone, latitude, longitude)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			p.Name, p.Description, p.Type, p.Address, p.City, p.Country, p.Rating,
			p.Website, p.ReviewsCount, p.Region, p.Timezone, p.Phone,
			p.Latitude, p.Longitude,
		)
		if err != nil {
			return 0, fmt.Errorf("insert water point %q: %w", p.Name, err)
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, name, email, passwordHash string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (name, email, password_hash) VALUES ($1, $2, $3) RETURNING id`,
		name, email, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrEmailTaken, email)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

const userColumns = `id, name, email, password_hash, bonus_balance, total_volume`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.BonusBalance, &u.TotalVolume)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail возвращает пользователя по email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// ListUsers возвращает всех пользователей в порядке регистрации.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return users, nil
}

// UpdateUser обновляет имя, email и хэш пароля пользователя.
// Бонусный баланс и суммарный объём меняются только платёжным движком.
func (r *PostgresRepository) UpdateUser(ctx context.Context, id int64, name, email, passwordHash string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET name = $2, email = $3, password_hash = $4 WHERE id = $1`,
		id, name, email, passwordHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrEmailTaken, email)
		}
		return fmt.Errorf("update user: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser удаляет пользователя по идентификатору.
func (r *PostgresRepository) DeleteUser(ctx context.Context, id int64) error {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrUserHasPayments
		}
		return fmt.Errorf("delete user: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// CreatePayment применяет покупку атомарно: списывает и начисляет бонусы,
// увеличивает суммарный объём и добавляет запись о платеже в одной транзакции.
// Строка пользователя блокируется, чтобы параллельные списания не прошли
// проверку достаточности по устаревшему балансу.
func (r *PostgresRepository) CreatePayment(ctx context.Context, p *model.Payment, debit float64) (*model.Payment, error) {
	var stored model.Payment

	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var balance float64
		err = tx.QueryRow(ctx,
			`SELECT bonus_balance FROM users WHERE id = $1 FOR UPDATE`,
			p.UserID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrUserNotFound
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		if balance < debit {
			return ErrInsufficientBalance
		}

		_, err = tx.Exec(ctx,
			`UPDATE users
			 SET bonus_balance = bonus_balance - $2 + $3,
			     total_volume = total_volume + $4
			 WHERE id = $1`,
			p.UserID, debit, p.BonusEarned, p.Volume,
		)
		if err != nil {
			return fmt.Errorf("update user balance: %w", err)
		}

		stored = *p
		err = tx.QueryRow(ctx,
			`INSERT INTO payments
			 (user_id, water_point_id, volume, amount, payment_method, bonus_used, bonus_earned)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, created_at`,
			p.UserID, p.WaterPointID, p.Volume, p.Amount,
			string(p.PaymentMethod), p.BonusUsed, p.BonusEarned,
		).Scan(&stored.ID, &stored.CreatedAt)
		if err != nil {
			// Строка пользователя заблокирована, поэтому из внешних ключей
			// здесь может нарушиться только ссылка на точку забора воды.
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
				return ErrWaterPointNotFound
			}
			return fmt.Errorf("insert payment: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &stored, nil
}

// GetPaymentsByUser возвращает историю платежей пользователя в порядке их совершения.
func (r *PostgresRepository) GetPaymentsByUser(ctx context.Context, userID int64) ([]model.Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, water_point_id, volume, amount, payment_method,
		        bonus_used, bonus_earned, created_at
		 FROM payments
		 WHERE user_id = $1
		 ORDER BY id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select payments: %w", err)
	}
	defer rows.Close()

	var payments []model.Payment
	for rows.Next() {
		var (
			p      model.Payment
			method string
		)
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.WaterPointID, &p.Volume, &p.Amount,
			&method, &p.BonusUsed, &p.BonusEarned, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.PaymentMethod = model.PaymentMethod(method)
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return payments, nil
}

// CountAdmins возвращает количество административных записей.
func (r *PostgresRepository) CountAdmins(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM admins`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return count, nil
}

// GetAdmin возвращает единственную административную запись.
func (r *PostgresRepository) GetAdmin(ctx context.Context) (*model.Admin, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash FROM admins LIMIT 1`)

	var a model.Admin
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAdminNotFound
		}
		return nil, fmt.Errorf("get admin: %w", err)
	}
	return &a, nil
}

// GetAdminByUsername возвращает административную запись по имени.
func (r *PostgresRepository) GetAdminByUsername(ctx context.Context, username string) (*model.Admin, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, password_hash FROM admins WHERE username = $1`, username)

	var a model.Admin
	if err := row.Scan(&a.ID, &a.Username, &a.PasswordHash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAdminNotFound
		}
		return nil, fmt.Errorf("get admin by username: %w", err)
	}
	return &a, nil
}

// ReplaceAdmin заменяет административную запись: удаляет все существующие
// и вставляет новую в одной транзакции, сохраняя инвариант единственности.
func (r *PostgresRepository) ReplaceAdmin(ctx context.Context, username, passwordHash string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM admins`); err != nil {
		return 0, fmt.Errorf("delete admins: %w", err)
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO admins (username, password_hash) VALUES ($1, $2) RETURNING id`,
		username, passwordHash,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert admin: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

// DeleteAllAdmins удаляет все административные записи и возвращает их количество.
// Используется только утилитой обслуживания, HTTP-поверхность этот путь не открывает.
func (r *PostgresRepository) DeleteAllAdmins(ctx context.Context) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx, `DELETE FROM admins`)
	if err != nil {
		return 0, fmt.Errorf("delete admins: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}
