package apitest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/meetdash/internal/domain"
)

// require answers 403 unless the caller holds codename through a role.
func (b *Backend) require(codename string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			a, ok := b.accounts[emailOf(r)]
			allowed := ok && a.user.HasPermission(codename)
			b.mu.Unlock()
			if !allowed {
				writeJSON(w, http.StatusForbidden, map[string]string{"detail": "You do not have permission to perform this action."})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// missing lists the required keys that are absent or empty in a JSON object.
func missing(raw map[string]any, keys ...string) map[string][]string {
	errs := map[string][]string{}
	for _, k := range keys {
		if v, ok := raw[k].(string); !ok || strings.TrimSpace(v) == "" {
			errs[k] = []string{"This field is required."}
		}
	}
	return errs
}

func readObject(r *http.Request) ([]byte, map[string]any, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, nil, err
	}
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	return data, raw, nil
}

func (b *Backend) listSAML(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, append([]domain.SAMLConfiguration{}, b.saml...))
}

func (b *Backend) createSAML(w http.ResponseWriter, r *http.Request) {
	data, raw, err := readObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := missing(raw, "organization_name", "organization_domain", "entity_id", "sso_url", "x509_cert"); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errs)
		return
	}
	c := domain.SAMLConfiguration{
		EmailAttribute:     "email",
		FirstNameAttribute: "first_name",
		LastNameAttribute:  "last_name",
		IsActive:           true,
	}
	_ = json.Unmarshal(data, &c)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.saml {
		if existing.OrganizationDomain == c.OrganizationDomain {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"organization_domain": {"SAML is already configured for this domain."}})
			return
		}
	}
	c.ID = uuid.NewString()
	c.CreatedAt, c.UpdatedAt = now(), now()
	b.saml = append(b.saml, c)
	writeJSON(w, http.StatusCreated, c)
}

func (b *Backend) updateSAML(w http.ResponseWriter, r *http.Request) {
	data, _, err := readObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.saml {
		if b.saml[i].ID != id {
			continue
		}
		// absent keys leave the stored value alone
		_ = json.Unmarshal(data, &b.saml[i])
		b.saml[i].ID = id
		b.saml[i].UpdatedAt = now()
		writeJSON(w, http.StatusOK, b.saml[i])
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
}

func (b *Backend) deleteSAML(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.saml {
		if c.ID == id {
			b.saml = append(b.saml[:i:i], b.saml[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
}

func (b *Backend) listOIDC(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, append([]domain.OIDCConfiguration{}, b.oidc...))
}

func (b *Backend) createOIDC(w http.ResponseWriter, r *http.Request) {
	data, raw, err := readObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errs := missing(raw, "organization_name", "organization_domain", "issuer", "client_id", "client_secret"); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errs)
		return
	}
	c := domain.OIDCConfiguration{
		Scopes:         []string{"openid", "email", "profile"},
		EmailClaim:     "email",
		FirstNameClaim: "given_name",
		LastNameClaim:  "family_name",
		IsActive:       true,
	}
	_ = json.Unmarshal(data, &c)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.oidc {
		if existing.OrganizationDomain == c.OrganizationDomain {
			writeJSON(w, http.StatusBadRequest, map[string][]string{"organization_domain": {"OIDC is already configured for this domain."}})
			return
		}
	}
	c.ID = uuid.NewString()
	c.CreatedAt, c.UpdatedAt = now(), now()
	b.oidc = append(b.oidc, c)
	writeJSON(w, http.StatusCreated, c)
}

func (b *Backend) updateOIDC(w http.ResponseWriter, r *http.Request) {
	data, _, err := readObject(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.oidc {
		if b.oidc[i].ID != id {
			continue
		}
		_ = json.Unmarshal(data, &b.oidc[i])
		b.oidc[i].ID = id
		b.oidc[i].UpdatedAt = now()
		writeJSON(w, http.StatusOK, b.oidc[i])
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
}

func (b *Backend) deleteOIDC(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.oidc {
		if c.ID == id {
			b.oidc = append(b.oidc[:i:i], b.oidc[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
}

func (b *Backend) listSSOSessions(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string][]domain.SSOSession{
		"sessions": append([]domain.SSOSession{}, b.ssoSessions[emailOf(r)]...),
	})
}

func (b *Backend) revokeSSOSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	email := emailOf(r)
	list := b.ssoSessions[email]
	for i, s := range list {
		if s.ID == id {
			b.ssoSessions[email] = append(list[:i:i], list[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"message": "SSO session revoked successfully"})
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
}

func (b *Backend) ssoLogout(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ssoSessions, emailOf(r))
	writeJSON(w, http.StatusOK, map[string]string{"message": "SSO logout initiated"})
}

// provider finds the active configuration for orgDomain. SAML wins when both
// protocols are configured.
func (b *Backend) provider(orgDomain string) (domain.SSOType, string, string, bool) {
	for _, c := range b.saml {
		if c.IsActive && c.OrganizationDomain == orgDomain {
			return domain.SSOSAML, c.OrganizationName, c.SSOURL, true
		}
	}
	for _, c := range b.oidc {
		if c.IsActive && c.OrganizationDomain == orgDomain {
			u := strings.TrimSuffix(c.Issuer, "/") + "/authorize?client_id=" + url.QueryEscape(c.ClientID)
			return domain.SSOOIDC, c.OrganizationName, u, true
		}
	}
	return "", "", "", false
}

func (b *Backend) ssoDiscovery(w http.ResponseWriter, r *http.Request) {
	orgDomain := r.URL.Query().Get("domain")
	if orgDomain == "" {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"domain": {"This field is required."}})
		return
	}
	b.mu.Lock()
	kind, name, _, ok := b.provider(orgDomain)
	b.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"sso_available": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sso_available":       true,
		"sso_type":            kind,
		"provider_name":       name,
		"organization_domain": orgDomain,
	})
}

func (b *Backend) ssoInitiate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SSOType            string `json:"sso_type"`
		OrganizationDomain string `json:"organization_domain"`
		RedirectURL        string `json:"redirect_url"`
	}
	_ = decode(r, &in)
	b.mu.Lock()
	kind, _, authURL, ok := b.provider(in.OrganizationDomain)
	b.mu.Unlock()
	if !ok || string(kind) != in.SSOType {
		writeError(w, http.StatusBadRequest, "SSO is not configured for this domain")
		return
	}
	if in.RedirectURL != "" {
		sep := "?"
		if strings.Contains(authURL, "?") {
			sep = "&"
		}
		authURL += sep + "RelayState=" + url.QueryEscape(in.RedirectURL)
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
}
