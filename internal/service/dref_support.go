package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/dref-api/internal/models"
	appErrors "github.com/noah-isme/dref-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type membershipReader interface {
	Membership(ctx context.Context, drefID int64) (*models.ChainMembership, error)
}

type sharingStore interface {
	UsersOf(ctx context.Context, exec sqlx.ExtContext, kind models.RecordKind, id int64) ([]string, error)
	Replace(ctx context.Context, exec sqlx.ExtContext, kind models.RecordKind, id int64, users []string) error
	ReplaceChain(ctx context.Context, drefID int64, users []string) error
}

type lifecycleEmitter interface {
	Emit(ctx context.Context, event models.LifecycleEvent)
}

type drefMetrics interface {
	RecordTransition(kind models.RecordKind, to models.DrefStatus)
	RecordStaleWrite(kind models.RecordKind)
}

// StageSupport bundles the collaborators shared by the three record services.
type StageSupport struct {
	Access      *AccessPolicy
	Memberships membershipReader
	Sharing     sharingStore
	Lifecycle   *Lifecycle
	Guard       *ConcurrencyGuard
	Audit       auditLogger
	Events      lifecycleEmitter
	Metrics     drefMetrics
	Logger      *zap.Logger
}

func (s *StageSupport) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// authorize resolves the actor and the chain membership of drefID and applies check to them.
func (s *StageSupport) authorize(ctx context.Context, claims *models.JWTClaims, drefID int64, check func(*models.Actor, *models.ChainMembership) error) (*models.Actor, *models.ChainMembership, error) {
	actor, err := s.Access.ResolveActor(ctx, claims)
	if err != nil {
		return nil, nil, err
	}
	membership, err := s.Memberships.Membership(ctx, drefID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("DREF %d not found", drefID))
		}
		return nil, nil, appErrors.Internal(err, "failed to load DREF access")
	}
	if err := check(actor, membership); err != nil {
		return nil, nil, err
	}
	return actor, membership, nil
}

// usersOf reads a sharing list; exec is the open transaction when the caller holds the chain lock.
func (s *StageSupport) usersOf(ctx context.Context, exec sqlx.ExtContext, kind models.RecordKind, id int64) ([]string, error) {
	users, err := s.Sharing.UsersOf(ctx, exec, kind, id)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load sharing list")
	}
	if users == nil {
		return []string{}, nil
	}
	return users, nil
}

func (s *StageSupport) recordTransition(kind models.RecordKind, to models.DrefStatus) {
	if s.Metrics != nil {
		s.Metrics.RecordTransition(kind, to)
	}
}

func (s *StageSupport) staleWrite(kind models.RecordKind, id int64) error {
	if s.Metrics != nil {
		s.Metrics.RecordStaleWrite(kind)
	}
	return appErrors.Clone(appErrors.ErrStaleWrite, fmt.Sprintf("%s %d was modified by someone else; reload before saving", kindLabel(kind), id))
}

// transitionLost explains why a guarded status update matched no row: either the status
// moved under us, which the lifecycle check reports, or the row is newer than the caller's read.
func (s *StageSupport) transitionLost(kind models.RecordKind, id int64, current models.DrefStatus, recheck func(models.DrefStatus) error) error {
	if err := recheck(current); err != nil {
		return err
	}
	return s.staleWrite(kind, id)
}

func (s *StageSupport) emitAudit(ctx context.Context, actor *models.Actor, action string, kind models.RecordKind, id int64, oldValue, newValue interface{}) {
	if s.Audit == nil {
		return
	}
	resourceID := strconv.FormatInt(id, 10)
	log := &models.AuditLog{
		UserID:     actorIDPtr(actor),
		Action:     action,
		Resource:   string(kind),
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "dref-service",
	}
	if oldValue != nil {
		log.OldValues, _ = json.Marshal(oldValue)
	}
	if newValue != nil {
		log.NewValues, _ = json.Marshal(newValue)
	}
	if err := s.Audit.CreateAuditLog(ctx, log); err != nil {
		s.logger().Warn("failed to record dref audit", zap.String("action", action), zap.Int64("id", id), zap.Error(err))
	}
}

func (s *StageSupport) emitEvent(ctx context.Context, eventType models.LifecycleEventType, kind models.RecordKind, id, drefID int64, appealCode *string, actor *models.Actor, users []string) {
	if s.Events == nil {
		return
	}
	event := models.LifecycleEvent{
		Type:       eventType,
		Kind:       kind,
		RecordID:   id,
		DrefID:     drefID,
		AppealCode: appealCode,
		Users:      users,
		OccurredAt: time.Now().UTC(),
	}
	if actor != nil {
		event.ActorID = actor.UserID
	}
	s.Events.Emit(ctx, event)
}

// mergePatch overlays a JSON body onto a payload snapshot so omitted fields keep their stored value.
func mergePatch(body json.RawMessage, payload interface{}) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, payload); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body")
	}
	return nil
}

func sameAppealCode(a, b *string) bool {
	return normalizeAppealCode(a) == normalizeAppealCode(b)
}

func normalizeAppealCode(code *string) string {
	if code == nil {
		return ""
	}
	return strings.TrimSpace(*code)
}

func appealCodeOrNil(code *string) *string {
	trimmed := normalizeAppealCode(code)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func uniqueUsers(users []string) []string {
	seen := make(map[string]struct{}, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

func actorIDPtr(actor *models.Actor) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	id := actor.UserID
	return &id
}

func kindLabel(kind models.RecordKind) string {
	switch kind {
	case models.RecordKindDref:
		return "DREF"
	case models.RecordKindOperationalUpdate:
		return "Operational update"
	case models.RecordKindFinalReport:
		return "Final report"
	}
	return string(kind)
}

func notFound(kind models.RecordKind, id int64) error {
	return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s %d not found", kindLabel(kind), id))
}

func validationf(format string, args ...interface{}) error {
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf(format, args...))
}
