// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// IsValidEmail выполняет минимальную структурную проверку адреса
// электронной почты: непустые локальная часть и домен с точкой.
func IsValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	if strings.Count(email, "@") != 1 {
		return false
	}

	domain := email[at+1:]
	dot := strings.IndexByte(domain, '.')
	if dot <= 0 || dot == len(domain)-1 {
		return false
	}

	return !strings.ContainsAny(email, " \t\r\n")
}

// IsValidCoordinates проверяет, что широта и долгота лежат в допустимых границах.
func IsValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
