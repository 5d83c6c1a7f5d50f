package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BigCrunchTheory/watermap-service/internal/model"
	"github.com/BigCrunchTheory/watermap-service/internal/repository"
	"github.com/BigCrunchTheory/watermap-service/internal/validation"
)

const defaultPageLimit = 100

func paginationParams(r *http.Request) (offset, limit int) {
	offset = 0
	limit = defaultPageLimit

	if v := r.URL.Query().Get("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return offset, limit
}

type waterPointRequest struct {
	Name         string   `json:"name"`
	Description  *string  `json:"description"`
	Type         *string  `json:"type"`
	Address      *string  `json:"address"`
	City         *string  `json:"city"`
	Country      *string  `json:"country"`
	Rating       *float64 `json:"rating"`
	Website      *string  `json:"website"`
	ReviewsCount *int64   `json:"reviews_count"`
	Region       *string  `json:"region"`
	Timezone     *string  `json:"timezone"`
	Phone        *string  `json:"phone"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
}

func (req *waterPointRequest) toModel() (*model.WaterPoint, bool) {
	if req.Name == "" || req.Latitude == nil || req.Longitude == nil {
		return nil, false
	}
	if !validation.IsValidCoordinates(*req.Latitude, *req.Longitude) {
		return nil, false
	}

	return &model.WaterPoint{
		Name:         req.Name,
		Description:  req.Description,
		Type:         req.Type,
		Address:      req.Address,
		City:         req.City,
		Country:      req.Country,
		Rating:       req.Rating,
		Website:      req.Website,
		ReviewsCount: req.ReviewsCount,
		Region:       req.Region,
		Timezone:     req.Timezone,
		Phone:        req.Phone,
		Latitude:     *req.Latitude,
		Longitude:    *req.Longitude,
	}, true
}

// ListWaterPoints возвращает страницу точек забора воды.
func (h *Handler) ListWaterPoints(w http.ResponseWriter, r *http.Request) {
	offset, limit := paginationParams(r)

	points, err := h.service.ListWaterPoints(r.Context(), offset, limit)
	if err != nil {
		h.logger.Error("list water points error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if points == nil {
		points = []model.WaterPoint{}
	}
	h.writeJSON(w, http.StatusOK, points)
}

// SearchWaterPoints возвращает точки, удовлетворяющие критериям поиска.
func (h *Handler) SearchWaterPoints(w http.ResponseWriter, r *http.Request) {
	offset, limit := paginationParams(r)
	q := r.URL.Query()

	filter := model.WaterPointFilter{
		Query:  q.Get("query"),
		Type:   q.Get("type"),
		City:   q.Get("city"),
		Region: q.Get("region"),
		Offset: offset,
		Limit:  limit,
	}

	if v := q.Get("min_rating"); v != "" {
		rating, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		filter.MinRating = &rating
	}

	points, err := h.service.SearchWaterPoints(r.Context(), filter)
	if err != nil {
		h.logger.Error("search water points error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if points == nil {
		points = []model.WaterPoint{}
	}
	h.writeJSON(w, http.StatusOK, points)
}

// GetWaterPoint возвращает точку забора воды по идентификатору.
func (h *Handler) GetWaterPoint(w http.ResponseWriter, r *http.Request) {
	id, err := idFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	point, err := h.service.GetWaterPoint(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrWaterPointNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get water point error", zap.Error(err), zap.Int64("pointID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, point)
}

// CreateWaterPoint создаёт новую точку забора воды. Доступно только администратору.
func (h *Handler) CreateWaterPoint(w http.ResponseWriter, r *http.Request) {
	var req waterPointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	point, ok := req.toModel()
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	created, err := h.service.CreateWaterPoint(r.Context(), point)
	if err != nil {
		h.logger.Error("create water point error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

// UpdateWaterPoint полностью заменяет поля точки. Доступно только администратору.
func (h *Handler) UpdateWaterPoint(w http.ResponseWriter, r *http.Request) {
	id, err := idFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var req waterPointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	point, ok := req.toModel()
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	point.ID = id

	if err := h.service.UpdateWaterPoint(r.Context(), point); err != nil {
		if errors.Is(err, repository.ErrWaterPointNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("update water point error", zap.Error(err), zap.Int64("pointID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, point)
}

// DeleteWaterPoint удаляет точку забора воды. Доступно только администратору.
func (h *Handler) DeleteWaterPoint(w http.ResponseWriter, r *http.Request) {
	id, err := idFromURL(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteWaterPoint(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrWaterPointNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		if errors.Is(err, repository.ErrWaterPointHasPayments) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("delete water point error", zap.Error(err), zap.Int64("pointID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "water point deleted"})
}
