package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/escrowd/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectPayment     = "payment"
	ObjectPayout      = "payout"
	ObjectPayoutBatch = "payout_batch"
	ObjectSettlement  = "settlement"
	ObjectRefund      = "refund"
	ObjectLedger      = "ledger"
	ObjectProvider    = "provider"
	ObjectAuditLog    = "audit_log"
)

const (
	ActionView = "view"

	ActionPayoutCreate  = "payout.create"
	ActionPayoutApprove = "payout.approve"
	ActionPayoutCancel  = "payout.cancel"

	ActionBatchExport  = "payout_batch.export"
	ActionBatchExecute = "payout_batch.execute"
	ActionBatchCancel  = "payout_batch.cancel"

	ActionSettlementReconcile = "settlement.reconcile"

	ActionRefundIssue = "refund.issue"
	ActionRefundRetry = "refund.retry"

	ActionProviderManage = "provider.manage"
)

const (
	RoleFinanceAdmin  = "finance_admin"
	RoleFinanceViewer = "finance_viewer"
	RoleSystem        = "system"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies from the casbin_rule table and seeds the
// built-in role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actorID string, role string, object string, action string) error {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ErrInvalidActor
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		s.auditDenied(ctx, actorID, role, object, action)
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := subjectFor(actorID, role)
	roleName := fmt.Sprintf("role:%s", role)
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("subject", subject),
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, actorID, role, object, action)
		return ErrForbidden
	}
	return nil
}

func subjectFor(actorID, role string) string {
	if role == RoleSystem {
		return "system:" + actorID
	}
	return "user:" + actorID
}

// ensureGrouping keeps exactly one role link per subject. The role header is
// authoritative, so a changed role replaces the stored link.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorID, role, object, action string) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(ctx, auditdomain.Entry{
		ActorType:  string(auditdomain.ActorTypeAdmin),
		ActorID:    actorID,
		Action:     "authorization.denied",
		TargetType: "authorization",
		TargetID:   object,
		Metadata: map[string]any{
			"object": object,
			"action": action,
			"role":   role,
		},
	}); err != nil {
		s.log.Warn("failed to audit authorization denial", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Viewer (read-only)
		{"role:" + RoleFinanceViewer, ObjectPayment, ActionView},
		{"role:" + RoleFinanceViewer, ObjectPayout, ActionView},
		{"role:" + RoleFinanceViewer, ObjectPayoutBatch, ActionView},
		{"role:" + RoleFinanceViewer, ObjectSettlement, ActionView},
		{"role:" + RoleFinanceViewer, ObjectRefund, ActionView},
		{"role:" + RoleFinanceViewer, ObjectLedger, ActionView},
		{"role:" + RoleFinanceViewer, ObjectProvider, ActionView},

		// Admin
		{"role:" + RoleFinanceAdmin, ObjectPayment, "*"},
		{"role:" + RoleFinanceAdmin, ObjectPayout, "*"},
		{"role:" + RoleFinanceAdmin, ObjectPayoutBatch, "*"},
		{"role:" + RoleFinanceAdmin, ObjectSettlement, "*"},
		{"role:" + RoleFinanceAdmin, ObjectRefund, "*"},
		{"role:" + RoleFinanceAdmin, ObjectLedger, "*"},
		{"role:" + RoleFinanceAdmin, ObjectProvider, "*"},
		{"role:" + RoleFinanceAdmin, ObjectAuditLog, "*"},

		// System jobs
		{"role:" + RoleSystem, ObjectLedger, ActionView},
		{"role:" + RoleSystem, ObjectPayment, ActionView},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
