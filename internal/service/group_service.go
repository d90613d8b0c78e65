package service

import (
	"context"

	"zapcast/internal/errors"
	"zapcast/internal/models"
	"zapcast/internal/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CreateGroupRequest defines a target group and its initial membership.
type CreateGroupRequest struct {
	Name        string               `json:"name"`
	AutoApprove bool                 `json:"autoApprove"`
	Members     []models.GroupMember `json:"members,omitempty"`
}

type GroupService interface {
	Create(ctx context.Context, req *CreateGroupRequest) (*models.TargetGroup, error)
	Get(ctx context.Context, id string) (*models.TargetGroup, error)
	ReplaceMembers(ctx context.Context, id string, members []models.GroupMember) error
	ListMembers(ctx context.Context, id string) ([]models.GroupMember, error)
}

type groupService struct {
	store  Store
	logger *logrus.Logger
}

func NewGroupService(store Store, logger *logrus.Logger) GroupService {
	return &groupService{store: store, logger: logger}
}

func (s *groupService) Create(ctx context.Context, req *CreateGroupRequest) (*models.TargetGroup, error) {
	if req.Name == "" {
		return nil, errors.New(errors.ErrCodeValidationFailed, "group name is required")
	}
	for _, m := range req.Members {
		if err := validation.ValidatePhoneNumber(m.PhoneNumber); err != nil {
			return nil, err
		}
	}

	group := &models.TargetGroup{
		ID:          uuid.New().String(),
		Name:        req.Name,
		AutoApprove: req.AutoApprove,
	}
	if err := s.store.SaveTargetGroup(ctx, group); err != nil {
		return nil, err
	}
	if len(req.Members) > 0 {
		if err := s.store.SaveGroupMembers(ctx, group.ID, req.Members); err != nil {
			return nil, err
		}
		group.MemberCount = len(req.Members)
	}

	s.logger.WithFields(logrus.Fields{
		"group_id":     group.ID,
		"members":      group.MemberCount,
		"auto_approve": group.AutoApprove,
	}).Info("Target group created")

	return group, nil
}

func (s *groupService) Get(ctx context.Context, id string) (*models.TargetGroup, error) {
	group, err := s.store.GetTargetGroup(ctx, id)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "target group not found")
	}
	return group, nil
}

func (s *groupService) ReplaceMembers(ctx context.Context, id string, members []models.GroupMember) error {
	group, err := s.store.GetTargetGroup(ctx, id)
	if err != nil {
		return err
	}
	if group == nil {
		return errors.New(errors.ErrCodeNotFound, "target group not found")
	}
	for _, m := range members {
		if err := validation.ValidatePhoneNumber(m.PhoneNumber); err != nil {
			return err
		}
	}
	return s.store.SaveGroupMembers(ctx, id, members)
}

func (s *groupService) ListMembers(ctx context.Context, id string) ([]models.GroupMember, error) {
	return s.store.ListGroupMembers(ctx, id)
}
