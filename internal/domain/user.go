// Package domain holds the wire types of the dashboard backend's users module
// and the total lookup functions over their closed enumerations.
package domain

import "time"

// User is the authenticated account as returned by the backend.
type User struct {
	ID              string        `json:"id" yaml:"id"`
	Email           string        `json:"email" yaml:"email"`
	FirstName       string        `json:"first_name" yaml:"first_name"`
	LastName        string        `json:"last_name" yaml:"last_name"`
	FullName        string        `json:"full_name,omitempty" yaml:"full_name,omitempty"`
	IsOrganizer     bool          `json:"is_organizer" yaml:"is_organizer"`
	IsEmailVerified bool          `json:"is_email_verified" yaml:"is_email_verified"`
	IsPhoneVerified bool          `json:"is_phone_verified" yaml:"is_phone_verified"`
	IsMFAEnabled    bool          `json:"is_mfa_enabled" yaml:"is_mfa_enabled"`
	AccountStatus   AccountStatus `json:"account_status" yaml:"account_status"`
	Roles           []Role        `json:"roles" yaml:"roles"`
	Profile         Profile       `json:"profile" yaml:"profile"`
	LastLogin       *time.Time    `json:"last_login,omitempty" yaml:"last_login,omitempty"`
	DateJoined      *time.Time    `json:"date_joined,omitempty" yaml:"date_joined,omitempty"`
}

// DisplayName prefers the profile display name, then the full name, then the email.
func (u *User) DisplayName() string {
	switch {
	case u.Profile.DisplayName != "":
		return u.Profile.DisplayName
	case u.FullName != "":
		return u.FullName
	case u.FirstName != "" || u.LastName != "":
		if u.LastName == "" {
			return u.FirstName
		}
		if u.FirstName == "" {
			return u.LastName
		}
		return u.FirstName + " " + u.LastName
	}
	return u.Email
}

// HasRole reports whether the user holds a role with the given name.
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// HasPermission is a flat existence test across every permission of every
// role the user holds. Role parents are not consulted.
func (u *User) HasPermission(codename string) bool {
	for _, r := range u.Roles {
		if r.HasPermission(codename) {
			return true
		}
	}
	return false
}

// Permissions returns the union of role permissions, deduplicated by ID and
// kept in first-seen order.
func (u *User) Permissions() []Permission {
	seen := make(map[string]struct{})
	var out []Permission
	for _, r := range u.Roles {
		for _, p := range r.Permissions {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy so store snapshots never alias each other.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Roles != nil {
		c.Roles = make([]Role, len(u.Roles))
		for i, r := range u.Roles {
			c.Roles[i] = r.clone()
		}
	}
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	if u.DateJoined != nil {
		t := *u.DateJoined
		c.DateJoined = &t
	}
	c.Profile = u.Profile.Clone()
	return &c
}

// Profile holds the user's public and scheduling preferences.
type Profile struct {
	OrganizerSlug        string  `json:"organizer_slug,omitempty" yaml:"organizer_slug,omitempty"`
	DisplayName          string  `json:"display_name" yaml:"display_name"`
	Bio                  string  `json:"bio" yaml:"bio"`
	ProfilePicture       *string `json:"profile_picture" yaml:"profile_picture"`
	Phone                string  `json:"phone" yaml:"phone"`
	Website              string  `json:"website" yaml:"website"`
	Company              string  `json:"company" yaml:"company"`
	JobTitle             string  `json:"job_title" yaml:"job_title"`
	TimezoneName         string  `json:"timezone_name" yaml:"timezone_name"`
	Language             string  `json:"language" yaml:"language"`
	DateFormat           string  `json:"date_format" yaml:"date_format"`
	TimeFormat           string  `json:"time_format" yaml:"time_format"`
	BrandColor           string  `json:"brand_color" yaml:"brand_color"`
	BrandLogo            *string `json:"brand_logo" yaml:"brand_logo"`
	PublicProfile        bool    `json:"public_profile" yaml:"public_profile"`
	ShowPhone            bool    `json:"show_phone" yaml:"show_phone"`
	ShowEmail            bool    `json:"show_email" yaml:"show_email"`
	ReasonableHoursStart int     `json:"reasonable_hours_start" yaml:"reasonable_hours_start"`
	ReasonableHoursEnd   int     `json:"reasonable_hours_end" yaml:"reasonable_hours_end"`
}

// Clone returns a copy that shares no pointers with p.
func (p Profile) Clone() Profile {
	if p.ProfilePicture != nil {
		s := *p.ProfilePicture
		p.ProfilePicture = &s
	}
	if p.BrandLogo != nil {
		s := *p.BrandLogo
		p.BrandLogo = &s
	}
	return p
}

// Role groups permissions. Parent is an informational back-reference by ID;
// a child never owns its parent.
type Role struct {
	ID               string       `json:"id" yaml:"id"`
	Name             string       `json:"name" yaml:"name"`
	RoleType         RoleType     `json:"role_type" yaml:"role_type"`
	Description      string       `json:"description,omitempty" yaml:"description,omitempty"`
	Parent           *string      `json:"parent" yaml:"parent"`
	ParentName       *string      `json:"parent_name,omitempty" yaml:"parent_name,omitempty"`
	ChildrenCount    int          `json:"children_count,omitempty" yaml:"children_count,omitempty"`
	Permissions      []Permission `json:"role_permissions" yaml:"role_permissions"`
	TotalPermissions int          `json:"total_permissions,omitempty" yaml:"total_permissions,omitempty"`
	IsSystemRole     bool         `json:"is_system_role" yaml:"is_system_role"`
}

// HasPermission reports whether the role directly grants codename.
func (r Role) HasPermission(codename string) bool {
	for _, p := range r.Permissions {
		if p.Codename == codename {
			return true
		}
	}
	return false
}

// DescriptionOrDefault returns the description or a placeholder.
func (r Role) DescriptionOrDefault() string {
	if r.Description == "" {
		return "No description available"
	}
	return r.Description
}

func (r Role) clone() Role {
	if r.Permissions != nil {
		r.Permissions = append([]Permission(nil), r.Permissions...)
	}
	if r.Parent != nil {
		s := *r.Parent
		r.Parent = &s
	}
	if r.ParentName != nil {
		s := *r.ParentName
		r.ParentName = &s
	}
	return r
}

// Permission is immutable reference data fetched from the backend.
type Permission struct {
	ID          string `json:"id" yaml:"id"`
	Codename    string `json:"codename" yaml:"codename"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
}

// Well-known permission codenames checked by the dashboard.
const (
	PermEditUsers     = "can_edit_users"
	PermManageRoles   = "can_manage_roles"
	PermViewAuditLogs = "can_view_audit_logs"
	PermManageSSO     = "can_manage_sso"
)
