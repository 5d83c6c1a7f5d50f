// Package importer загружает точки забора воды из CSV-выгрузки.
package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/BigCrunchTheory/watermap-service/internal/model"
)

// Колонки исходной таблицы.
const (
	colName         = "Наименование"
	colDescription  = "Описание"
	colType         = "Тип"
	colAddress      = "Адрес"
	colCity         = "Город"
	colCountry      = "Страна"
	colRating       = "Рейтинг"
	colWebsite      = "Веб-сайт 1"
	colReviewsCount = "Количество отзывов"
	colRegion       = "Регион"
	colTimezone     = "Часовой пояс"
	colPhone        = "Телефон 1"
	colLatitude     = "Широта"
	colLongitude    = "Долгота"
)

// ParseCSV читает CSV с заголовком и возвращает точки забора воды.
// Некорректные числовые значения приводятся к отсутствующим, а не
// отбрасывают строку; строки без координат пропускаются целиком.
func ParseCSV(r io.Reader) ([]model.WaterPoint, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	field := func(record []string, column string) string {
		i, ok := index[column]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var points []model.WaterPoint
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}

		lat := ParseFloat(field(record, colLatitude))
		lon := ParseFloat(field(record, colLongitude))
		if lat == nil || lon == nil {
			continue
		}

		points = append(points, model.WaterPoint{
			Name:         field(record, colName),
			Description:  optString(field(record, colDescription)),
			Type:         optString(field(record, colType)),
			Address:      optString(field(record, colAddress)),
			City:         optString(field(record, colCity)),
			Country:      optString(field(record, colCountry)),
			Rating:       ParseFloat(field(record, colRating)),
			Website:      optString(field(record, colWebsite)),
			ReviewsCount: ParseInt(field(record, colReviewsCount)),
			Region:       optString(field(record, colRegion)),
			Timezone:     optString(field(record, colTimezone)),
			Phone:        optString(field(record, colPhone)),
			Latitude:     *lat,
			Longitude:    *lon,
		})
	}

	return points, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ParseFloat разбирает число с точкой или запятой в качестве
// десятичного разделителя. Некорректное значение даёт nil.
func ParseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ParseInt разбирает целое число; некорректное значение даёт nil.
func ParseInt(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
