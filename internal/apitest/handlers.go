package apitest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/meetdash/internal/domain"
)

const prefix = "/api/v1"

type ctxKey struct{}

func (b *Backend) router() http.Handler {
	r := chi.NewRouter()
	r.Use(b.record)

	r.Route(prefix+"/users", func(r chi.Router) {
		r.Post("/login/", b.login)
		r.Post("/register/", b.register)
		r.Post("/verify-email/", b.verifyEmail)
		r.Post("/resend-verification/", b.message("Verification email sent"))
		r.Post("/request-password-reset/", b.requestReset)
		r.Post("/confirm-password-reset/", b.confirmReset)
		r.Post("/invitations/respond/", b.respondInvitation)
		r.Get("/sso/discovery/", b.ssoDiscovery)
		r.Post("/sso/initiate/", b.ssoInitiate)

		r.Group(func(r chi.Router) {
			r.Use(b.authenticate)

			r.Post("/logout/", b.logout)
			r.Get("/profile/", b.getProfile)
			r.Patch("/profile/", b.patchProfile)
			r.Post("/change-password/", b.changePassword)
			r.Post("/force-password-change/", b.forcePasswordChange)

			r.Post("/mfa/setup/", b.mfaSetup)
			r.Post("/mfa/verify/", b.mfaVerify)
			r.Post("/mfa/disable/", b.mfaDisable)
			r.Get("/mfa/devices/", b.mfaDevices)
			r.Post("/mfa/backup-codes/regenerate/", b.regenerateCodes)
			r.Post("/mfa/resend-sms/", b.resendSMS)
			r.Post("/mfa/send-sms-code/", b.sendSMSCode)

			r.Get("/sessions/", b.listSessions)
			r.Post("/sessions/revoke-all/", b.revokeAll)
			r.Post("/sessions/{id}/revoke/", b.revokeSession)

			r.Get("/roles/", b.listRoles)
			r.Get("/permissions/", b.listPermissions)
			r.Get("/invitations/", b.listInvitations)
			r.Post("/invitations/", b.createInvitation)
			r.Get("/audit-logs/", b.listAuditLogs)

			r.Get("/sso/sessions/", b.listSSOSessions)
			r.Post("/sso/sessions/{id}/revoke/", b.revokeSSOSession)
			r.Post("/sso/logout/", b.ssoLogout)

			r.Group(func(r chi.Router) {
				r.Use(b.require(domain.PermManageSSO))

				r.Get("/sso/saml/", b.listSAML)
				r.Post("/sso/saml/", b.createSAML)
				r.Patch("/sso/saml/{id}/", b.updateSAML)
				r.Delete("/sso/saml/{id}/", b.deleteSAML)
				r.Get("/sso/oidc/", b.listOIDC)
				r.Post("/sso/oidc/", b.createOIDC)
				r.Patch("/sso/oidc/{id}/", b.updateOIDC)
				r.Delete("/sso/oidc/{id}/", b.deleteOIDC)
			})
		})
	})
	return r
}

// record stores the request, then honours forced answers and blocks.
func (b *Backend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(data))
		path := strings.TrimPrefix(r.URL.Path, prefix)
		k := key(r.Method, path)

		b.mu.Lock()
		b.requests = append(b.requests, Request{Method: r.Method, Path: path, Header: r.Header.Clone(), Body: data})
		var f *forced
		if q := b.forced[k]; len(q) > 0 {
			f = &q[0]
			b.forced[k] = q[1:]
		}
		gate := b.blocked[k]
		b.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
		if f != nil {
			writeJSON(w, f.status, f.body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Backend) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		b.mu.Lock()
		email, known := b.tokens[tok]
		b.mu.Unlock()
		if !ok || scheme != b.Scheme || !known {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token."})
			return
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func emailOf(r *http.Request) string {
	e, _ := r.Context().Value(ctxKey{}).(string)
	return e
}

func tokenOf(r *http.Request) string {
	_, tok, _ := strings.Cut(r.Header.Get("Authorization"), " ")
	return tok
}

func (b *Backend) message(msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": msg})
	}
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.accounts[in.Email]
	if !ok || a.password != in.Password {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	t := now()
	a.user.LastLogin = &t
	writeJSON(w, http.StatusOK, map[string]any{"user": a.user, "token": b.issueToken(in.Email)})
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email           string `json:"email"`
		FirstName       string `json:"first_name"`
		LastName        string `json:"last_name"`
		Password        string `json:"password"`
		PasswordConfirm string `json:"password_confirm"`
		TermsAccepted   bool   `json:"terms_accepted"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.accounts[in.Email]; exists {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"email": {"user with this email already exists."}})
		return
	}
	t := now()
	u := domain.User{
		ID:            uuid.NewString(),
		Email:         in.Email,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		FullName:      strings.TrimSpace(in.FirstName + " " + in.LastName),
		AccountStatus: domain.StatusPendingVerification,
		Roles:         []domain.Role{},
		DateJoined:    &t,
	}
	b.accounts[in.Email] = &account{user: u, password: in.Password}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":    u,
		"token":   b.issueToken(in.Email),
		"message": "Registration successful. Please check your email to verify your account.",
	})
}

func (b *Backend) verifyEmail(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token string `json:"token"`
	}
	_ = decode(r, &in)
	b.mu.Lock()
	defer b.mu.Unlock()
	email, ok := b.emailTokens[in.Token]
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid or expired verification token")
		return
	}
	delete(b.emailTokens, in.Token)
	a := b.accounts[email]
	a.user.IsEmailVerified = true
	if a.user.AccountStatus == domain.StatusPendingVerification {
		a.user.AccountStatus = domain.StatusActive
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

func (b *Backend) requestReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "If an account with this email exists, a password reset link has been sent.",
	})
}

func (b *Backend) confirmReset(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	_ = decode(r, &in)
	b.mu.Lock()
	defer b.mu.Unlock()
	email, ok := b.emailTokens[in.Token]
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid or expired reset token")
		return
	}
	delete(b.emailTokens, in.Token)
	b.accounts[email].password = in.NewPassword
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	delete(b.tokens, tokenOf(r))
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (b *Backend) getProfile(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, b.accounts[emailOf(r)].user.Profile)
}

func (b *Backend) patchProfile(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &b.accounts[emailOf(r)].user.Profile

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		for k, v := range r.MultipartForm.Value {
			applyProfileField(p, k, v[0])
		}
		for name, files := range r.MultipartForm.File {
			url := "/media/" + files[0].Filename
			switch name {
			case "profile_picture":
				p.ProfilePicture = &url
			case "brand_logo":
				p.BrandLogo = &url
			}
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	var in map[string]any
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if bc, ok := in["brand_color"].(string); ok && !strings.HasPrefix(bc, "#") {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"brand_color": {"Enter a valid hex color."}})
		return
	}
	for k, v := range in {
		switch t := v.(type) {
		case string:
			applyProfileField(p, k, t)
		case bool:
			applyProfileField(p, k, strconv.FormatBool(t))
		case float64:
			applyProfileField(p, k, strconv.Itoa(int(t)))
		}
	}
	writeJSON(w, http.StatusOK, p)
}

func applyProfileField(p *domain.Profile, k, v string) {
	switch k {
	case "display_name":
		p.DisplayName = v
	case "bio":
		p.Bio = v
	case "phone":
		p.Phone = v
	case "website":
		p.Website = v
	case "company":
		p.Company = v
	case "job_title":
		p.JobTitle = v
	case "timezone_name":
		p.TimezoneName = v
	case "language":
		p.Language = v
	case "date_format":
		p.DateFormat = v
	case "time_format":
		p.TimeFormat = v
	case "brand_color":
		p.BrandColor = v
	case "public_profile":
		p.PublicProfile = v == "true"
	case "show_phone":
		p.ShowPhone = v == "true"
	case "show_email":
		p.ShowEmail = v == "true"
	case "reasonable_hours_start":
		p.ReasonableHoursStart, _ = strconv.Atoi(v)
	case "reasonable_hours_end":
		p.ReasonableHoursEnd, _ = strconv.Atoi(v)
	}
}

func (b *Backend) changePassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	_ = decode(r, &in)
	b.mu.Lock()
	defer b.mu.Unlock()
	email := emailOf(r)
	a := b.accounts[email]
	if a.password != in.OldPassword {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"old_password": {"Current password is incorrect."}})
		return
	}
	a.password = in.NewPassword
	delete(b.tokens, tokenOf(r))
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password changed successfully",
		"token":   b.issueToken(email),
	})
}

func (b *Backend) forcePasswordChange(w http.ResponseWriter, r *http.Request) {
	var in struct {
		NewPassword string `json:"new_password"`
	}
	_ = decode(r, &in)
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.accounts[emailOf(r)]
	a.password = in.NewPassword
	a.user.AccountStatus = domain.StatusActive
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully. Your account is now active."})
}

func (b *Backend) mfaSetup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DeviceType  domain.DeviceType `json:"device_type"`
		DeviceName  string            `json:"device_name"`
		PhoneNumber string            `json:"phone_number"`
	}
	if err := decode(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d := &domain.MFADevice{
		ID:          uuid.NewString(),
		DeviceType:  in.DeviceType,
		Name:        in.DeviceName,
		PhoneNumber: in.PhoneNumber,
		CreatedAt:   now(),
	}
	b.pending[emailOf(r)] = d
	resp := map[string]string{"device_id": d.ID}
	switch in.DeviceType {
	case domain.DeviceTOTP:
		resp["qr_code"] = "data:image/png;base64,iVBORw0KGgo="
		resp["manual_entry_key"] = "JBSWY3DPEHPK3PXP"
		resp["message"] = "Scan the QR code with your authenticator app"
	case domain.DeviceSMS:
		resp["message"] = "Verification code sent to " + in.PhoneNumber
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b *Backend) mfaVerify(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OTPCode string `json:"otp_code"`
	}
	_ = decode(r, &in)
	b.mu.Lock()
	defer b.mu.Unlock()
	email := emailOf(r)
	d := b.pending[email]
	if d == nil {
		writeError(w, http.StatusBadRequest, "No pending MFA setup")
		return
	}
	if in.OTPCode != b.OTPCode {
		writeError(w, http.StatusBadRequest, "Invalid verification code")
		return
	}
	d.IsActive = true
	d.IsPrimary = len(b.devices[email]) == 0
	b.devices[email] = append(b.devices[email], *d)
	delete(b.pending, email)
	b.accounts[email].user.IsMFAEnabled = true
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "MFA enabled successfully",
		"backup_codes": backupCodes(),
	})
}

func (b *Backend) checkPassword(w http.ResponseWriter, r *http.Request) (string, bool) {
	var in struct {
		Password string `json:"password"`
	}
	_ = decode(r, &in)
	email := emailOf(r)
	if b.accounts[email].password != in.Password {
		writeError(w, http.StatusBadRequest, "Invalid password")
		return "", false
	}
	return email, true
}

func (b *Backend) mfaDisable(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	email, ok := b.checkPassword(w, r)
	if !ok {
		return
	}
	delete(b.devices, email)
	b.accounts[email].user.IsMFAEnabled = false
	writeJSON(w, http.StatusOK, map[string]string{"message": "MFA disabled successfully"})
}

func (b *Backend) mfaDevices(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]domain.MFADevice{}, b.devices[emailOf(r)]...)
	writeJSON(w, http.StatusOK, out)
}

func (b *Backend) regenerateCodes(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.checkPassword(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Backup codes regenerated", "backup_codes": backupCodes()})
}

func (b *Backend) resendSMS(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.pending[emailOf(r)]
	if d == nil || d.DeviceType != domain.DeviceSMS {
		writeError(w, http.StatusBadRequest, "No pending SMS device")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "SMS verification code sent"})
}

func (b *Backend) sendSMSCode(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DeviceID string `json:"device_id"`
	}
	_ = decode(r, &in)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.devices[emailOf(r)] {
		if d.ID == in.DeviceID && d.DeviceType == domain.DeviceSMS {
			writeJSON(w, http.StatusOK, map[string]string{"message": "SMS MFA code sent"})
			return
		}
	}
	writeError(w, http.StatusNotFound, "SMS device not found")
}

func (b *Backend) listSessions(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, append([]domain.UserSession{}, b.sessions[emailOf(r)]...))
}

func (b *Backend) revokeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	email := emailOf(r)
	list := b.sessions[email]
	for i, s := range list {
		if s.ID == id {
			b.sessions[email] = append(list[:i:i], list[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"message": "Session revoked successfully"})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
}

func (b *Backend) revokeAll(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	email := emailOf(r)
	var keep []domain.UserSession
	for _, s := range b.sessions[email] {
		if s.IsCurrent {
			keep = append(keep, s)
		}
	}
	b.sessions[email] = keep
	writeJSON(w, http.StatusOK, map[string]string{"message": "All other sessions revoked successfully"})
}

func (b *Backend) listRoles(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, b.roles)
}

func (b *Backend) listPermissions(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Paginated on purpose; the client accepts both shapes.
	writeJSON(w, http.StatusOK, domain.Page[domain.Permission]{Count: len(b.permissions), Results: b.permissions})
}

func (b *Backend) listInvitations(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, append([]domain.Invitation{}, b.invitations...))
}

func (b *Backend) createInvitation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		InvitedEmail string `json:"invited_email"`
		Role         string `json:"role"`
		Message      string `json:"message"`
	}
	_ = decode(r, &in)
	b.mu.Lock()
	defer b.mu.Unlock()
	var role *domain.Role
	for i := range b.roles {
		if b.roles[i].ID == in.Role {
			role = &b.roles[i]
		}
	}
	if role == nil {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"role": {"Invalid role."}})
		return
	}
	t := now()
	inv := domain.Invitation{
		ID:            uuid.NewString(),
		InvitedByName: b.accounts[emailOf(r)].user.DisplayName(),
		InvitedEmail:  in.InvitedEmail,
		Role:          role.ID,
		RoleName:      role.Name,
		Message:       in.Message,
		Status:        domain.InvitationPending,
		CreatedAt:     t,
		ExpiresAt:     t.Add(7 * 24 * time.Hour),
	}
	b.invitations = append(b.invitations, inv)
	writeJSON(w, http.StatusCreated, inv)
}

func (b *Backend) respondInvitation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token  string `json:"token"`
		Action string `json:"action"`
	}
	_ = decode(r, &in)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.invitations {
		if b.invitations[i].ID != in.Token {
			continue
		}
		if in.Action == "accept" {
			b.invitations[i].Status = domain.InvitationAccepted
			writeJSON(w, http.StatusOK, map[string]string{"message": "Invitation accepted"})
			return
		}
		b.invitations[i].Status = domain.InvitationDeclined
		writeJSON(w, http.StatusOK, map[string]string{"message": "Invitation declined"})
		return
	}
	writeError(w, http.StatusBadRequest, "Invalid invitation token")
}

const auditPageSize = 20

func (b *Backend) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	start := (page - 1) * auditPageSize
	if start > len(b.auditLogs) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Invalid page."})
		return
	}
	end := start + auditPageSize
	if end > len(b.auditLogs) {
		end = len(b.auditLogs)
	}
	out := domain.Page[domain.AuditLog]{Count: len(b.auditLogs), Results: append([]domain.AuditLog{}, b.auditLogs[start:end]...)}
	if end < len(b.auditLogs) {
		next := b.Server.URL + prefix + "/users/audit-logs/?page=" + strconv.Itoa(page+1)
		out.Next = &next
	}
	if page > 1 {
		prev := b.Server.URL + prefix + "/users/audit-logs/?page=" + strconv.Itoa(page-1)
		out.Previous = &prev
	}
	writeJSON(w, http.StatusOK, out)
}

func backupCodes() []string {
	codes := make([]string, 8)
	for i := range codes {
		codes[i] = strings.ToUpper(uuid.NewString()[:8])
	}
	return codes
}
