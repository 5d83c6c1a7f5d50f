// Package model содержит доменные сущности сервиса WaterMap.
package model

import "time"

// WaterPoint описывает точку забора воды с геолокацией и метаданными.
type WaterPoint struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Description  *string  `json:"description,omitempty"`
	Type         *string  `json:"type,omitempty"`
	Address      *string  `json:"address,omitempty"`
	City         *string  `json:"city,omitempty"`
	Country      *string  `json:"country,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	Website      *string  `json:"website,omitempty"`
	ReviewsCount *int64   `json:"reviews_count,omitempty"`
	Region       *string  `json:"region,omitempty"`
	Timezone     *string  `json:"timezone,omitempty"`
	Phone        *string  `json:"phone,omitempty"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
}

// User представляет зарегистрированного пользователя программы лояльности.
type User struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"-"`
	BonusBalance float64 `json:"bonus_balance"`
	TotalVolume  float64 `json:"total_volume"`
}

// PaymentMethod описывает способ оплаты покупки воды.
type PaymentMethod string

const (
	PaymentMethodBonus PaymentMethod = "bonus"
	PaymentMethodCard  PaymentMethod = "card"
)

// Payment описывает факт покупки воды. Записи неизменяемы после создания.
type Payment struct {
	ID            int64         `json:"id"`
	UserID        int64         `json:"user_id"`
	WaterPointID  int64         `json:"water_point_id"`
	Volume        float64       `json:"volume"`
	Amount        float64       `json:"amount"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	BonusUsed     float64       `json:"bonus_used"`
	BonusEarned   float64       `json:"bonus_earned"`
	CreatedAt     time.Time     `json:"timestamp"`
}

// Admin представляет административную учётную запись.
// Сервис поддерживает не более одной записи в таблице.
type Admin struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

// WaterPointFilter задаёт критерии поиска точек забора воды.
type WaterPointFilter struct {
	Query     string
	Type      string
	City      string
	Region    string
	MinRating *float64
	Offset    int
	Limit     int
}
