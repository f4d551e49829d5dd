package rbac

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/guardian-auth/internal/apperr"
	"github.com/iliyamo/guardian-auth/internal/model"
)

// ProfileCadence is how often a non-admin may change their email or names.
const ProfileCadence = 7 * 24 * time.Hour

func requireActor(p *Principal) error {
	if p == nil || p.UserID == 0 {
		return apperr.AuthenticationRequired()
	}
	return nil
}

// CanViewUser allows owners holding users:read_own and anyone holding
// users:read.
func CanViewUser(p *Principal, targetID uint64) error {
	if err := requireActor(p); err != nil {
		return err
	}
	if p.HasPermission("users", "read") {
		return nil
	}
	if p.Owns(targetID) && p.HasPermission("users", "read_own") {
		return nil
	}
	return apperr.Forbidden("")
}

// CanListUsers requires users:list.
func CanListUsers(p *Principal) error {
	if err := requireActor(p); err != nil {
		return err
	}
	if p.HasPermission("users", "list") {
		return nil
	}
	return apperr.Forbidden("")
}

// CanUpdateUser allows owners holding users:update_own and anyone holding
// users:update. Changing the role field needs CanAssignRoles as well.
func CanUpdateUser(p *Principal, targetID uint64) error {
	if err := requireActor(p); err != nil {
		return err
	}
	if p.HasPermission("users", "update") {
		return nil
	}
	if p.Owns(targetID) && p.HasPermission("users", "update_own") {
		return nil
	}
	return apperr.Forbidden("")
}

// CanDeleteUser requires users:delete and forbids deleting oneself.
func CanDeleteUser(p *Principal, targetID uint64) error {
	if err := requireActor(p); err != nil {
		return err
	}
	if !p.HasPermission("users", "delete") {
		return apperr.Forbidden("")
	}
	if p.Owns(targetID) {
		return apperr.Forbidden("You cannot delete your own account")
	}
	return nil
}

// CanAssignRoles is admin only, including for the admin's own account.
func CanAssignRoles(p *Principal) error {
	if err := requireActor(p); err != nil {
		return err
	}
	if !p.IsAdmin() {
		return apperr.Forbidden("Only administrators can change user roles")
	}
	return nil
}

// CheckRoleNames rejects an empty list and names absent from the catalog.
// known must hold the catalog entries matching requested.
func CheckRoleNames(requested []string, known []model.Role) error {
	if len(requested) == 0 {
		return apperr.Field("role_names", "At least one role is required")
	}
	have := make(map[string]struct{}, len(known))
	for _, r := range known {
		have[r.Name] = struct{}{}
	}
	var unknown []string
	for _, name := range requested {
		if _, ok := have[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return apperr.Field("role_names", "Unknown roles: "+strings.Join(unknown, ", "))
	}
	return nil
}

// CanReadAuditLogs requires audit_logs:read.
func CanReadAuditLogs(p *Principal) error {
	if err := requireActor(p); err != nil {
		return err
	}
	if p.HasPermission("audit_logs", "read") {
		return nil
	}
	return apperr.Forbidden("")
}

// CheckProfileCadence enforces the once-per-window limit on identity field
// changes for non-admins. Submissions that change nothing never trip it.
func CheckProfileCadence(p *Principal, target model.User, changes model.ProfileChanges, now time.Time) error {
	if p.IsAdmin() {
		return nil
	}
	if len(changes.Diff(target)) == 0 {
		return nil
	}
	if target.ProfileUpdatedAt == nil {
		return nil
	}
	next := target.ProfileUpdatedAt.Add(ProfileCadence)
	if !now.Before(next) {
		return nil
	}
	days := int(math.Ceil(next.Sub(now).Hours() / 24))
	return apperr.BusinessRule("profile",
		fmt.Sprintf("You can only change your profile once every 7 days. Please wait %d day(s).", days))
}

// TracksCadence reports whether a profile update by p should stamp
// profile_updated_at.
func TracksCadence(p *Principal, target model.User, changes model.ProfileChanges) bool {
	return !p.IsAdmin() && len(changes.Diff(target)) > 0
}
