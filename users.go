package sharepoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// User describes a site user.
type User struct {
	ID            int
	Title         string
	Email         string
	PrincipalName string
}

// userResponse mirrors the site user entity JSON payload.
type userResponse struct {
	ID            int    `json:"Id"`                //nolint:tagliatelle // SharePoint API key
	Title         string `json:"Title"`             //nolint:tagliatelle // SharePoint API key
	Email         string `json:"Email"`             //nolint:tagliatelle // SharePoint API key
	PrincipalName string `json:"UserPrincipalName"` //nolint:tagliatelle // SharePoint API key
}

func (ur *userResponse) toUser() User {
	return User{
		ID:            ur.ID,
		Title:         ur.Title,
		Email:         ur.Email,
		PrincipalName: ur.PrincipalName,
	}
}

// UserEmail retrieves all site users and scans for the given numeric ID,
// returning the first match's principal name. The second return value is
// false when no user matches; with duplicate IDs the first one in retrieval
// order wins.
func UserEmail(ctx context.Context, cc *ClientContext, userID int) (string, bool, error) {
	raws, err := cc.getCollection(ctx, "/_api/web/siteusers")
	if err != nil {
		return "", false, err
	}

	for _, raw := range raws {
		var ur userResponse
		if err := json.Unmarshal(raw, &ur); err != nil {
			return "", false, fmt.Errorf("sharepoint: decoding site user: %w", err)
		}

		if ur.ID == userID {
			return ur.toUser().PrincipalName, true, nil
		}
	}

	cc.logger.Debug("user not found", slog.Int("user_id", userID))

	return "", false, nil
}
