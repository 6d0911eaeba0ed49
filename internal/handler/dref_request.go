package handler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dref-api/internal/dto"
	"github.com/noah-isme/dref-api/internal/models"
	appErrors "github.com/noah-isme/dref-api/pkg/errors"
)

func parseIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid id %q", c.Param("id")))
	}
	return id, nil
}

// modifiedAtEnvelope picks the concurrency token out of a request body.
type modifiedAtEnvelope struct {
	ModifiedAt *time.Time `json:"modified_at"`
}

// readModifiedAt returns the modified_at query parameter when present, otherwise the one in body.
func readModifiedAt(c *gin.Context, body []byte) (*time.Time, error) {
	if raw := strings.TrimSpace(c.Query("modified_at")); raw != "" {
		parsed, err := parseTimestamp(raw)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "modified_at must be an RFC3339 timestamp")
		}
		return &parsed, nil
	}
	if len(body) == 0 {
		return nil, nil
	}
	var envelope modifiedAtEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body")
	}
	return envelope.ModifiedAt, nil
}

func bindPatch(c *gin.Context) (dto.PatchRequest, error) {
	body, err := c.GetRawData()
	if err != nil {
		return dto.PatchRequest{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body")
	}
	modifiedAt, err := readModifiedAt(c, body)
	if err != nil {
		return dto.PatchRequest{}, err
	}
	return dto.PatchRequest{ModifiedAt: modifiedAt, Body: body}, nil
}

func bindTransition(c *gin.Context) (dto.TransitionRequest, error) {
	body, err := c.GetRawData()
	if err != nil {
		return dto.TransitionRequest{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body")
	}
	modifiedAt, err := readModifiedAt(c, body)
	if err != nil {
		return dto.TransitionRequest{}, err
	}
	return dto.TransitionRequest{ModifiedAt: modifiedAt}, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

// parseAppealCodeFilter reads the listing filters from the query string.
func parseAppealCodeFilter(c *gin.Context) (models.AppealCodeFilter, error) {
	filter := models.AppealCodeFilter{
		AppealCodePrefix: strings.TrimSpace(c.Query("appeal_code_prefix")),
		CountryISO3:      strings.ToUpper(strings.TrimSpace(c.Query("country_iso3"))),
		DateRanges:       map[string]models.DateRange{},
	}

	for _, field := range models.DrefDateFields {
		var rng models.DateRange
		for suffix, target := range map[string]**time.Time{"_from": &rng.From, "_to": &rng.To} {
			raw := strings.TrimSpace(c.Query(field + suffix))
			if raw == "" {
				continue
			}
			parsed, err := parseTimestamp(raw)
			if err != nil {
				return filter, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s%s must be a date", field, suffix))
			}
			*target = &parsed
		}
		if rng.From != nil || rng.To != nil {
			filter.DateRanges[field] = rng
		}
	}

	if raw := c.Query("region"); raw != "" {
		region, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "region must be numeric")
		}
		filter.RegionID = &region
	}
	if raw := c.Query("appeal_type"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || !models.DrefType(value).Valid() {
			return filter, appErrors.Clone(appErrors.ErrValidation, "appeal_type is not a known DREF type")
		}
		appealType := models.DrefType(value)
		filter.AppealType = &appealType
	}
	if raw := c.Query("operation_status"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || !models.DrefStatus(value).Valid() {
			return filter, appErrors.Clone(appErrors.ErrValidation, "operation_status is not a known status")
		}
		status := models.DrefStatus(value)
		filter.OperationStatus = &status
	}
	if raw := strings.TrimSpace(c.Query("stage")); raw != "" {
		stage := models.ChainStageFilter(strings.ToLower(raw))
		switch stage {
		case models.ChainStageApplication, models.ChainStageOperationalUpdate, models.ChainStageFinalReport:
			filter.Stage = stage
		default:
			return filter, appErrors.Clone(appErrors.ErrValidation, "stage must be one of application, operational_update, final_report")
		}
	}
	if raw := strings.TrimSpace(c.Query("id")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return filter, appErrors.Clone(appErrors.ErrValidation, "id must be a comma separated list of numbers")
			}
			filter.IDs = append(filter.IDs, id)
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "limit must be numeric")
		}
		filter.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return filter, appErrors.Clone(appErrors.ErrValidation, "offset must be numeric")
		}
		filter.Offset = offset
	}
	return filter, nil
}
