package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/yangwenmai/softpost/internal/model"
)

const accountColumns = `id, platform, account_type, external_account_id, display_name, access_token, refresh_token, token_expires_at, active, created_at, updated_at`

// CreateAccount inserts an account. A second account with the same platform
// and external ID is rejected as a field error.
func (s *Store) CreateAccount(ctx context.Context, a *model.SocialAccount) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := s.stamp()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO social_accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Platform), string(a.AccountType), a.ExternalAccountID, a.DisplayName, a.AccessToken, a.RefreshToken,
		formatNullTime(a.TokenExpiresAt), a.Active, formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return model.FieldError{Field: "externalAccountId", Message: fmt.Sprintf("%s account %s is already connected", a.Platform, a.ExternalAccountID)}
	}
	return err
}

// GetAccount returns one account.
func (s *Store) GetAccount(ctx context.Context, id string) (*model.SocialAccount, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM social_accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFound(err, "social account", id)
	}
	return a, nil
}

// ListAccounts returns every account ordered by platform and name.
func (s *Store) ListAccounts(ctx context.Context) ([]model.SocialAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM social_accounts ORDER BY platform, display_name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.SocialAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// DeleteAccount removes an account and its inactive schedules. It is refused
// while the account has active schedules. An account with published posts is
// deactivated instead so its history stays resolvable.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var active, published int
		err := tx.QueryRowContext(ctx, `
			SELECT
				COALESCE(SUM(CASE WHEN status IN (?, ?, ?) THEN 1 ELSE 0 END), 0),
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
			FROM scheduled_posts WHERE social_account_id = ?`,
			string(model.StatusPending), string(model.StatusQueued), string(model.StatusPosting), string(model.StatusPublished), id,
		).Scan(&active, &published)
		if err != nil {
			return fmt.Errorf("count schedules: %w", err)
		}
		if active > 0 {
			return model.Invalid("id", fmt.Sprintf("account has %d active scheduled posts", active))
		}
		if published > 0 {
			res, err := tx.ExecContext(ctx, `UPDATE social_accounts SET active = 0, updated_at = ? WHERE id = ?`, formatTime(s.stamp()), id)
			if err != nil {
				return fmt.Errorf("deactivate account: %w", err)
			}
			return requireAffected(res, "social account", id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_posts WHERE social_account_id = ?`, id); err != nil {
			return fmt.Errorf("delete schedules: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM social_accounts WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		return requireAffected(res, "social account", id)
	})
}

func scanAccount(row scanner) (*model.SocialAccount, error) {
	var a model.SocialAccount
	var expires sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.Platform, &a.AccountType, &a.ExternalAccountID, &a.DisplayName, &a.AccessToken, &a.RefreshToken,
		&expires, &a.Active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if a.TokenExpiresAt, err = parseNullTime(expires); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
