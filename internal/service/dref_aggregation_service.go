package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/dref-api/internal/models"
	appErrors "github.com/noah-isme/dref-api/pkg/errors"
	"github.com/noah-isme/dref-api/pkg/export"
)

type drefChainReader interface {
	ListByAppealCode(ctx context.Context, code string, scope models.AccessScope) ([]models.Dref, error)
	ListAppealCodes(ctx context.Context, filter models.AppealCodeFilter, scope models.AccessScope) ([]string, int, error)
}

type updateChainReader interface {
	ListByAppealCode(ctx context.Context, code string, scope models.AccessScope) ([]models.OperationalUpdate, error)
}

type reportChainReader interface {
	ListByAppealCode(ctx context.Context, code string, scope models.AccessScope) ([]models.FinalReport, error)
}

type usersReader interface {
	ListUsers(ctx context.Context, kind models.RecordKind, ids []int64) (map[int64][]string, error)
}

type chainBuildObserver interface {
	ObserveChainBuild(duration time.Duration)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// AggregationConfig tunes the appeal code listing.
type AggregationConfig struct {
	Workers      int
	DefaultLimit int
	MaxLimit     int
}

// AggregationService answers the appeal-code chain endpoints.
type AggregationService struct {
	drefs    drefChainReader
	updates  updateChainReader
	reports  reportChainReader
	users    usersReader
	access   *AccessPolicy
	builder  *ChainBuilder
	csv      csvRenderer
	observer chainBuildObserver
	logger   *zap.Logger
	cfg      AggregationConfig
}

// NewAggregationService constructs the service with defaults for unset limits.
func NewAggregationService(
	drefs drefChainReader,
	updates updateChainReader,
	reports reportChainReader,
	users usersReader,
	access *AccessPolicy,
	builder *ChainBuilder,
	observer chainBuildObserver,
	logger *zap.Logger,
	cfg AggregationConfig,
) *AggregationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if builder == nil {
		builder = NewChainBuilder()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 50
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	return &AggregationService{
		drefs:    drefs,
		updates:  updates,
		reports:  reports,
		users:    users,
		access:   access,
		builder:  builder,
		csv:      export.NewCSVExporter(),
		observer: observer,
		logger:   logger,
		cfg:      cfg,
	}
}

// Chain returns the ordered stages of one appeal code visible to the caller.
func (s *AggregationService) Chain(ctx context.Context, claims *models.JWTClaims, appealCode string) ([]models.ChainStage, error) {
	actor, err := s.access.ResolveActor(ctx, claims)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(appealCode)
	if code == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "appeal code is required")
	}
	stages, err := s.buildChain(ctx, code, actor.Scope())
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no DREF found for appeal code %q", code))
	}
	return stages, nil
}

// List pages over distinct appeal codes and builds each chain with a bounded worker pool.
func (s *AggregationService) List(ctx context.Context, claims *models.JWTClaims, filter models.AppealCodeFilter) ([]models.ChainStage, *models.Pagination, error) {
	actor, err := s.access.ResolveActor(ctx, claims)
	if err != nil {
		return nil, nil, err
	}
	filter = s.normalizeFilter(filter)
	stages, total, err := s.page(ctx, filter, actor.Scope())
	if err != nil {
		return nil, nil, err
	}
	return stages, &models.Pagination{Limit: filter.Limit, Offset: filter.Offset, TotalCount: total}, nil
}

// ExportCSV renders every chain matching filter as CSV. Limit and offset are ignored; the
// export walks all pages at the maximum page size.
func (s *AggregationService) ExportCSV(ctx context.Context, claims *models.JWTClaims, filter models.AppealCodeFilter) ([]byte, error) {
	actor, err := s.access.ResolveActor(ctx, claims)
	if err != nil {
		return nil, err
	}
	scope := actor.Scope()
	filter.Limit = s.cfg.MaxLimit
	filter.Offset = 0

	var stages []models.ChainStage
	for {
		page, total, err := s.page(ctx, filter, scope)
		if err != nil {
			return nil, err
		}
		stages = append(stages, page...)
		filter.Offset += filter.Limit
		if filter.Offset >= total {
			break
		}
	}

	payload, err := s.csv.Render(stagesDataset(stages))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render csv export")
	}
	return payload, nil
}

// page builds the chains of one page of appeal codes, keeping code order.
func (s *AggregationService) page(ctx context.Context, filter models.AppealCodeFilter, scope models.AccessScope) ([]models.ChainStage, int, error) {
	codes, total, err := s.drefs.ListAppealCodes(ctx, filter, scope)
	if err != nil {
		return nil, 0, appErrors.Internal(err, "failed to list appeal codes")
	}

	chains := make([][]models.ChainStage, len(codes))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Workers)
	for i, code := range codes {
		i, code := i, code
		group.Go(func() error {
			stages, err := s.buildChain(groupCtx, code, scope)
			if err != nil {
				return err
			}
			chains[i] = stages
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, 0, err
	}

	stages := make([]models.ChainStage, 0, len(codes)*2)
	for _, chain := range chains {
		stages = append(stages, chain...)
	}
	return stages, total, nil
}

func (s *AggregationService) normalizeFilter(filter models.AppealCodeFilter) models.AppealCodeFilter {
	if filter.Limit <= 0 {
		filter.Limit = s.cfg.DefaultLimit
	}
	if filter.Limit > s.cfg.MaxLimit {
		filter.Limit = s.cfg.MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}

// buildChain reads the three stage tables for code; the result is private to the caller.
func (s *AggregationService) buildChain(ctx context.Context, code string, scope models.AccessScope) ([]models.ChainStage, error) {
	start := time.Now()
	drefs, err := s.drefs.ListByAppealCode(ctx, code, scope)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load DREF applications")
	}
	updates, err := s.updates.ListByAppealCode(ctx, code, scope)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load operational updates")
	}
	reports, err := s.reports.ListByAppealCode(ctx, code, scope)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load final reports")
	}
	chain := models.Chain{AppealCode: code, Drefs: drefs, OperationalUpdates: updates, FinalReports: reports}
	if chain.Empty() {
		return nil, nil
	}
	if err := s.attachUsers(ctx, &chain); err != nil {
		return nil, err
	}
	stages := s.builder.Build(chain)
	if s.observer != nil {
		s.observer.ObserveChainBuild(time.Since(start))
	}
	return stages, nil
}

func (s *AggregationService) attachUsers(ctx context.Context, chain *models.Chain) error {
	if s.users == nil {
		return nil
	}
	drefIDs := make([]int64, len(chain.Drefs))
	for i := range chain.Drefs {
		drefIDs[i] = chain.Drefs[i].ID
	}
	drefUsers, err := s.users.ListUsers(ctx, models.RecordKindDref, drefIDs)
	if err != nil {
		return appErrors.Internal(err, "failed to load sharing lists")
	}
	for i := range chain.Drefs {
		chain.Drefs[i].Users = nonNil(drefUsers[chain.Drefs[i].ID])
	}

	updateIDs := make([]int64, len(chain.OperationalUpdates))
	for i := range chain.OperationalUpdates {
		updateIDs[i] = chain.OperationalUpdates[i].ID
	}
	updateUsers, err := s.users.ListUsers(ctx, models.RecordKindOperationalUpdate, updateIDs)
	if err != nil {
		return appErrors.Internal(err, "failed to load sharing lists")
	}
	for i := range chain.OperationalUpdates {
		chain.OperationalUpdates[i].Users = nonNil(updateUsers[chain.OperationalUpdates[i].ID])
	}

	reportIDs := make([]int64, len(chain.FinalReports))
	for i := range chain.FinalReports {
		reportIDs[i] = chain.FinalReports[i].ID
	}
	reportUsers, err := s.users.ListUsers(ctx, models.RecordKindFinalReport, reportIDs)
	if err != nil {
		return appErrors.Internal(err, "failed to load sharing lists")
	}
	for i := range chain.FinalReports {
		chain.FinalReports[i].Users = nonNil(reportUsers[chain.FinalReports[i].ID])
	}
	return nil
}

var stageCSVHeaders = []string{
	"appeal_code", "stage", "record_type", "id", "dref", "title", "status",
	"allocation", "is_latest_stage", "amount", "date_of_approval", "modified_at",
}

func stagesDataset(stages []models.ChainStage) export.Dataset {
	rows := make([]map[string]string, 0, len(stages))
	for _, stage := range stages {
		row := map[string]string{
			"stage":           stage.Stage,
			"record_type":     string(stage.Kind),
			"status":          stage.Status().Label(),
			"allocation":      stage.Allocation,
			"is_latest_stage": strconv.FormatBool(stage.IsLatestStage),
		}
		var carry models.CarryForward
		switch {
		case stage.Dref != nil:
			carry = stage.Dref.CarryForward
			row["id"] = strconv.FormatInt(stage.Dref.ID, 10)
			row["dref"] = row["id"]
			row["amount"] = decimalString(stage.Dref.AmountRequested.Valid, stage.Dref.AmountRequested.Decimal.String())
			row["date_of_approval"] = formatDate(stage.Dref.DateOfApproval)
			row["modified_at"] = stage.Dref.ModifiedAt.UTC().Format(time.RFC3339)
		case stage.OperationalUpdate != nil:
			carry = stage.OperationalUpdate.CarryForward
			row["id"] = strconv.FormatInt(stage.OperationalUpdate.ID, 10)
			row["dref"] = strconv.FormatInt(stage.OperationalUpdate.DrefID, 10)
			row["amount"] = decimalString(stage.OperationalUpdate.TotalDrefAllocation.Valid, stage.OperationalUpdate.TotalDrefAllocation.Decimal.String())
			row["modified_at"] = stage.OperationalUpdate.ModifiedAt.UTC().Format(time.RFC3339)
		case stage.FinalReport != nil:
			carry = stage.FinalReport.CarryForward
			row["id"] = strconv.FormatInt(stage.FinalReport.ID, 10)
			row["dref"] = strconv.FormatInt(stage.FinalReport.DrefID, 10)
			row["amount"] = decimalString(stage.FinalReport.TotalDrefAllocation.Valid, stage.FinalReport.TotalDrefAllocation.Decimal.String())
			row["date_of_approval"] = formatDate(stage.FinalReport.DateOfApproval)
			row["modified_at"] = stage.FinalReport.ModifiedAt.UTC().Format(time.RFC3339)
		}
		row["appeal_code"] = normalizeAppealCode(carry.AppealCode)
		row["title"] = carry.Title
		rows = append(rows, row)
	}
	return export.Dataset{Headers: stageCSVHeaders, Rows: rows}
}

func decimalString(valid bool, value string) string {
	if !valid {
		return ""
	}
	return value
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func nonNil(users []string) []string {
	if users == nil {
		return []string{}
	}
	return users
}
