package service

import (
	"context"

	id "privileges/pkg/domain"
	dErrors "privileges/pkg/domain-errors"
	"privileges/pkg/platform/audit"
	"privileges/pkg/requestcontext"
)

// DeleteUser removes every consent record for the user and returns how many
// were removed. The host application calls it when it deletes the user.
func (s *Service) DeleteUser(ctx context.Context, userID id.UserID) (int, error) {
	if userID.IsNil() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	defer s.forget(userID)

	if s.tx == nil {
		deleted, err := s.store.DeleteByUser(ctx, userID)
		if err != nil {
			return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete privilege records")
		}
		if deleted > 0 {
			if err := s.emitCompliance(ctx, userID, audit.EventConsentDeleted, "", "deleted"); err != nil {
				s.logger.ErrorContext(ctx, "compliance audit failed after delete",
					"request_id", requestcontext.RequestID(ctx),
					"user_id", userID.String(),
					"error", err,
				)
			}
		}
		return deleted, nil
	}

	var deleted int
	err := s.tx.RunInTx(ctx, func(txCtx context.Context, store Store) error {
		n, err := store.DeleteByUser(txCtx, userID)
		if err != nil {
			return err
		}
		deleted = n
		if n == 0 {
			return nil
		}
		return s.emitCompliance(txCtx, userID, audit.EventConsentDeleted, "", "deleted")
	})
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete privilege records")
	}
	return deleted, nil
}
