package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/threadline/api/internal/domain"
	"github.com/threadline/api/internal/repositories"
)

const defaultActorType = "system"

// ErrAuditInvalidInput signals a malformed audit record.
var ErrAuditInvalidInput = errors.New("audit: invalid input")

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type auditLogService struct {
	repo  repositories.AuditLogRepository
	clock func() time.Time
	newID func() string
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("audit log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &auditLogService{
		repo:  deps.Repository,
		clock: func() time.Time { return clock().UTC() },
		newID: idGen,
	}, nil
}

// Record persists one audit trail entry. Callers treat failures as
// best-effort; the entry itself is immutable once appended.
func (s *auditLogService) Record(ctx context.Context, cmd AuditRecordCommand) error {
	action := sanitizeText(cmd.Action, 120)
	if action == "" {
		return fmt.Errorf("%w: action is required", ErrAuditInvalidInput)
	}

	entry := repositories.AuditLogEntry{
		ID:        "aud_" + s.newID(),
		Actor:     sanitizeText(cmd.Actor, 160),
		ActorType: normalizeActorType(cmd.ActorType),
		Action:    action,
		TargetRef: sanitizeText(cmd.TargetRef, 200),
		CreatedAt: s.clock(),
	}
	if len(cmd.Detail) > 0 {
		detail := make(map[string]any, len(cmd.Detail))
		for key, value := range cmd.Detail {
			trimmed := sanitizeText(key, 80)
			if trimmed == "" {
				continue
			}
			detail[trimmed] = sanitizeDetailValue(value)
		}
		entry.Detail = detail
	}

	return s.repo.Append(ctx, entry)
}

// List delegates to the repository to retrieve paginated audit logs.
func (s *auditLogService) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[repositories.AuditLogEntry], error) {
	filter.TargetRef = strings.TrimSpace(filter.TargetRef)
	filter.Actor = strings.TrimSpace(filter.Actor)
	filter.Action = strings.TrimSpace(filter.Action)
	return s.repo.List(ctx, filter)
}

func normalizeActorType(actorType string) string {
	switch strings.ToLower(strings.TrimSpace(actorType)) {
	case "user":
		return "user"
	case "admin", "staff":
		return "admin"
	case "system", "service":
		return "system"
	default:
		return defaultActorType
	}
}

func sanitizeDetailValue(value any) any {
	switch v := value.(type) {
	case string:
		return sanitizeText(v, 512)
	case fmt.Stringer:
		return sanitizeText(v.String(), 512)
	default:
		return v
	}
}

func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
