package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/felixgeelhaar/meetdash/internal/api"
	"github.com/felixgeelhaar/meetdash/internal/cache"
	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/tui"
	"github.com/felixgeelhaar/meetdash/internal/ux"
	"github.com/felixgeelhaar/meetdash/internal/validate"
)

const ssoPage = "/users/sso"

var ssoCmd = &cobra.Command{
	Use:   "sso",
	Short: "Single sign-on providers and sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var ssoDiscoverCmd = &cobra.Command{
	Use:   "discover <domain>",
	Short: "Check whether an organization signs in through SSO",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSSODiscover),
}

var ssoInitiateCmd = &cobra.Command{
	Use:   "initiate",
	Short: "Get the identity provider login URL",
	Long: `Ask the backend for the identity provider login URL and print it.

  meetdash sso initiate --type oidc --domain example.com`,
	RunE: withApp(runSSOInitiate),
}

var ssoSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sign-ins made through an identity provider",
	RunE:  withApp(runSSOSessions),
}

var ssoRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "End one SSO session",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSSORevoke),
}

var ssoLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Start single logout at the identity provider",
	RunE:  withApp(runSSOLogout),
}

var samlCmd = &cobra.Command{
	Use:   "saml",
	Short: "Manage SAML providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var oidcCmd = &cobra.Command{
	Use:   "oidc",
	Short: "Manage OpenID Connect providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var samlListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List SAML providers",
	RunE:    withApp(runSAMLList),
}

var samlCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Add a SAML provider",
	RunE:  withApp(runSAMLCreate),
}

var samlUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a SAML provider. Only the flags you pass are sent",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSAMLUpdate),
}

var samlDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a SAML provider",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runSAMLDelete),
}

var oidcListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List OpenID Connect providers",
	RunE:    withApp(runOIDCList),
}

var oidcCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Add an OpenID Connect provider",
	RunE:  withApp(runOIDCCreate),
}

var oidcUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change an OpenID Connect provider. Only the flags you pass are sent",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runOIDCUpdate),
}

var oidcDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove an OpenID Connect provider",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runOIDCDelete),
}

// stringField binds a flag to a pointer field of a provider configuration.
// Required fields are prompted for on create.
type stringField[T any] struct {
	flag     string
	usage    string
	required bool
	field    func(*T) **string
}

type boolField[T any] struct {
	flag  string
	usage string
	field func(*T) **bool
}

var samlStringFlags = []stringField[api.SAMLConfig]{
	{"name", "organization name", true, func(c *api.SAMLConfig) **string { return &c.OrganizationName }},
	{"domain", "organization email domain", true, func(c *api.SAMLConfig) **string { return &c.OrganizationDomain }},
	{"entity-id", "identity provider entity ID", true, func(c *api.SAMLConfig) **string { return &c.EntityID }},
	{"sso-url", "identity provider login URL", true, func(c *api.SAMLConfig) **string { return &c.SSOURL }},
	{"slo-url", "identity provider logout URL", false, func(c *api.SAMLConfig) **string { return &c.SLOURL }},
	{"email-attribute", "assertion attribute holding the email", false, func(c *api.SAMLConfig) **string { return &c.EmailAttribute }},
	{"first-name-attribute", "assertion attribute holding the first name", false, func(c *api.SAMLConfig) **string { return &c.FirstNameAttribute }},
	{"last-name-attribute", "assertion attribute holding the last name", false, func(c *api.SAMLConfig) **string { return &c.LastNameAttribute }},
	{"role-attribute", "assertion attribute holding the role", false, func(c *api.SAMLConfig) **string { return &c.RoleAttribute }},
	{"default-role", "role ID granted to provisioned users", false, func(c *api.SAMLConfig) **string { return &c.DefaultRole }},
}

var oidcStringFlags = []stringField[api.OIDCConfig]{
	{"name", "organization name", true, func(c *api.OIDCConfig) **string { return &c.OrganizationName }},
	{"domain", "organization email domain", true, func(c *api.OIDCConfig) **string { return &c.OrganizationDomain }},
	{"issuer", "issuer URL", true, func(c *api.OIDCConfig) **string { return &c.Issuer }},
	{"client-id", "OAuth client ID", true, func(c *api.OIDCConfig) **string { return &c.ClientID }},
	{"email-claim", "claim holding the email", false, func(c *api.OIDCConfig) **string { return &c.EmailClaim }},
	{"first-name-claim", "claim holding the first name", false, func(c *api.OIDCConfig) **string { return &c.FirstNameClaim }},
	{"last-name-claim", "claim holding the last name", false, func(c *api.OIDCConfig) **string { return &c.LastNameClaim }},
	{"role-claim", "claim holding the role", false, func(c *api.OIDCConfig) **string { return &c.RoleClaim }},
	{"default-role", "role ID granted to provisioned users", false, func(c *api.OIDCConfig) **string { return &c.DefaultRole }},
}

var samlBoolFlags = []boolField[api.SAMLConfig]{
	{"active", "accept logins through this provider", func(c *api.SAMLConfig) **bool { return &c.IsActive }},
	{"auto-provision", "create accounts on first login", func(c *api.SAMLConfig) **bool { return &c.AutoProvisionUsers }},
}

var oidcBoolFlags = []boolField[api.OIDCConfig]{
	{"active", "accept logins through this provider", func(c *api.OIDCConfig) **bool { return &c.IsActive }},
	{"auto-provision", "create accounts on first login", func(c *api.OIDCConfig) **bool { return &c.AutoProvisionUsers }},
}

func init() {
	ssoInitiateCmd.Flags().String("type", "", "protocol: saml or oidc")
	ssoInitiateCmd.Flags().String("domain", "", "organization email domain")
	ssoInitiateCmd.Flags().String("redirect-url", "", "where to return after login")

	for _, c := range []*cobra.Command{samlCreateCmd, samlUpdateCmd} {
		registerConfigFlags(c.Flags(), samlStringFlags, samlBoolFlags)
		c.Flags().String("cert-file", "", "path of the identity provider X.509 certificate (PEM)")
	}
	for _, c := range []*cobra.Command{oidcCreateCmd, oidcUpdateCmd} {
		registerConfigFlags(c.Flags(), oidcStringFlags, oidcBoolFlags)
		c.Flags().String("client-secret", "", "OAuth client secret")
		c.Flags().String("scopes", "", "requested scopes, comma separated")
	}
	samlDeleteCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	oidcDeleteCmd.Flags().Bool("yes", false, "skip the confirmation prompt")

	samlCmd.AddCommand(samlListCmd, samlCreateCmd, samlUpdateCmd, samlDeleteCmd)
	oidcCmd.AddCommand(oidcListCmd, oidcCreateCmd, oidcUpdateCmd, oidcDeleteCmd)
	ssoCmd.AddCommand(ssoDiscoverCmd, ssoInitiateCmd, ssoSessionsCmd, ssoRevokeCmd, ssoLogoutCmd, samlCmd, oidcCmd)
	rootCmd.AddCommand(ssoCmd)
}

func registerConfigFlags[T any](f *pflag.FlagSet, strs []stringField[T], bools []boolField[T]) {
	for _, sf := range strs {
		f.String(sf.flag, "", sf.usage)
	}
	for _, bf := range bools {
		f.Bool(bf.flag, false, bf.usage)
	}
}

// configFromFlags fills cfg from the flags that were set. On create the
// required fields are prompted for when missing.
func configFromFlags[T any](cmd *cobra.Command, cfg *T, strs []stringField[T], bools []boolField[T], create bool) error {
	f := cmd.Flags()
	for _, sf := range strs {
		switch {
		case f.Changed(sf.flag):
			v, _ := f.GetString(sf.flag)
			*sf.field(cfg) = &v
		case create && sf.required:
			v, err := flagOrPrompt(cmd, sf.flag, tui.Prompt{Message: strings.ToUpper(sf.usage[:1]) + sf.usage[1:], Required: true})
			if err != nil {
				return err
			}
			*sf.field(cfg) = &v
		}
	}
	for _, bf := range bools {
		if f.Changed(bf.flag) {
			v, _ := f.GetBool(bf.flag)
			*bf.field(cfg) = &v
		}
	}
	return nil
}

func nothingToUpdate(cmd string) error {
	return errors.New(errors.ErrCodeValidationRequired, "nothing to update").
		WithSuggestion(fmt.Sprintf("Pass at least one field flag, see 'meetdash sso %s update --help'", cmd))
}

func samlConfigFromFlags(cmd *cobra.Command, create bool) (api.SAMLConfig, error) {
	var cfg api.SAMLConfig
	if err := configFromFlags(cmd, &cfg, samlStringFlags, samlBoolFlags, create); err != nil {
		return cfg, err
	}
	path, _ := cmd.Flags().GetString("cert-file")
	if path == "" && create {
		return cfg, missingFlag("cert-file")
	}
	if path != "" {
		file, err := readUpload(path)
		if err != nil {
			return cfg, err
		}
		cert := string(file.Data)
		cfg.X509Cert = &cert
	}
	return cfg, validate.Struct(cfg)
}

func oidcConfigFromFlags(cmd *cobra.Command, create bool) (api.OIDCConfig, error) {
	var cfg api.OIDCConfig
	if err := configFromFlags(cmd, &cfg, oidcStringFlags, oidcBoolFlags, create); err != nil {
		return cfg, err
	}
	if create || cmd.Flags().Changed("client-secret") {
		secret, err := secretFlag(cmd, "client-secret", "Client secret")
		if err != nil {
			return cfg, err
		}
		cfg.ClientSecret = &secret
	}
	if cmd.Flags().Changed("scopes") {
		raw, _ := cmd.Flags().GetString("scopes")
		for _, sc := range strings.Split(raw, ",") {
			if sc = strings.TrimSpace(sc); sc != "" {
				cfg.Scopes = append(cfg.Scopes, sc)
			}
		}
	}
	return cfg, validate.Struct(cfg)
}

func defaultRole(r *string) string {
	if r == nil {
		return ""
	}
	return *r
}

func samlView(app *App, c *domain.SAMLConfiguration) ux.View {
	return ux.View{
		Data: c,
		Text: func(w io.Writer) error {
			app.stdout(w).KeyValues([][2]string{
				{"ID", c.ID},
				{"Organization", c.OrganizationName},
				{"Domain", c.OrganizationDomain},
				{"Entity ID", c.EntityID},
				{"Login URL", c.SSOURL},
				{"Logout URL", c.SLOURL},
				{"Active", yesNo(c.IsActive)},
				{"Auto-provision", yesNo(c.AutoProvisionUsers)},
				{"Default role", defaultRole(c.DefaultRole)},
			})
			return nil
		},
	}
}

func oidcView(app *App, c *domain.OIDCConfiguration) ux.View {
	return ux.View{
		Data: c,
		Text: func(w io.Writer) error {
			app.stdout(w).KeyValues([][2]string{
				{"ID", c.ID},
				{"Organization", c.OrganizationName},
				{"Domain", c.OrganizationDomain},
				{"Issuer", c.Issuer},
				{"Client ID", c.ClientID},
				{"Scopes", strings.Join(c.Scopes, " ")},
				{"Active", yesNo(c.IsActive)},
				{"Auto-provision", yesNo(c.AutoProvisionUsers)},
				{"Default role", defaultRole(c.DefaultRole)},
			})
			return nil
		},
	}
}

func runSSODiscover(ctx context.Context, app *App, args []string) error {
	d, err := app.API.SSODiscover(ctx, strings.ToLower(strings.TrimSpace(args[0])))
	if err != nil {
		return err
	}
	return app.print(ux.View{
		Data: d,
		Text: func(w io.Writer) error {
			if !d.SSOAvailable {
				_, err := fmt.Fprintf(w, "%s signs in with email and password.\n", args[0])
				return err
			}
			app.stdout(w).KeyValues([][2]string{
				{"Domain", orDefault(d.OrganizationDomain, args[0])},
				{"Protocol", d.SSOType.Label()},
				{"Provider", d.ProviderName},
			})
			return nil
		},
	})
}

func runSSOInitiate(ctx context.Context, app *App, _ []string) error {
	f := app.cmd.Flags()
	kind, err := f.GetString("type")
	if err != nil {
		return err
	}
	if kind == "" {
		kind, err = tui.PromptForSelect("Protocol", []string{string(domain.SSOSAML), string(domain.SSOOIDC)})
		if err != nil {
			if errors.Is(err, tui.ErrNotInteractive) {
				return missingFlag("type")
			}
			return err
		}
	}
	orgDomain, err := flagOrPrompt(app.cmd, "domain", tui.Prompt{Message: "Organization domain", Required: true})
	if err != nil {
		return err
	}
	redirect, _ := f.GetString("redirect-url")
	in := api.SSOInitiate{
		SSOType:            domain.SSOType(strings.ToLower(kind)),
		OrganizationDomain: strings.ToLower(strings.TrimSpace(orgDomain)),
		RedirectURL:        redirect,
	}
	if err := validate.Struct(in); err != nil {
		return err
	}
	resp, err := app.API.InitiateSSO(ctx, in)
	if err != nil {
		return err
	}
	return app.print(ux.View{
		Data: resp,
		Text: func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "Open this URL to sign in:\n%s\n", resp.AuthURL)
			return err
		},
	})
}

func runSSOSessions(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(sessionsPage); err != nil {
		return err
	}
	sessions, err := cache.Fetch(ctx, app.Cache, cache.KeySSOSessions, app.API.SSOSessions)
	if err != nil {
		return err
	}
	return app.print(ux.View{
		Data: sessions,
		Text: func(w io.Writer) error {
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				last, expires := s.LastActivity, s.ExpiresAt
				rows = append(rows, []string{s.ID, s.SSOType.Label(), s.ProviderName, s.IPAddress, formatTime(&last), formatTime(&expires)})
			}
			app.stdout(w).Table([]string{"ID", "Protocol", "Provider", "IP", "Last active", "Expires"},
				rows, "No SSO sessions.")
			return nil
		},
	})
}

func runSSORevoke(ctx context.Context, app *App, args []string) error {
	if err := app.enter(sessionsPage); err != nil {
		return err
	}
	resp, err := app.API.RevokeSSOSession(ctx, args[0])
	if err != nil {
		return err
	}
	app.Cache.Invalidate(cache.KeySSOSessions)
	app.UI.Success("SSO session revoked successfully")
	return app.print(messageView(orDefault(resp.Message, "SSO session revoked.")))
}

func runSSOLogout(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(sessionsPage); err != nil {
		return err
	}
	resp, err := app.API.SSOLogout(ctx)
	if err != nil {
		return err
	}
	app.Cache.Invalidate(cache.KeySSOSessions)
	app.UI.Success("SSO logout initiated")
	return app.print(messageView(orDefault(resp.Message, "SSO logout initiated.")))
}

func runSAMLList(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(ssoPage); err != nil {
		return err
	}
	configs, err := cache.Fetch(ctx, app.Cache, cache.KeySAMLConfigs, app.API.SAMLConfigurations)
	if err != nil {
		return err
	}
	return app.print(ux.View{
		Data: configs,
		Text: func(w io.Writer) error {
			rows := make([][]string, 0, len(configs))
			for _, c := range configs {
				rows = append(rows, []string{c.ID, c.OrganizationName, c.OrganizationDomain, c.EntityID, yesNo(c.IsActive)})
			}
			app.stdout(w).Table([]string{"ID", "Organization", "Domain", "Entity ID", "Active"},
				rows, "No SAML providers configured.")
			return nil
		},
	})
}

func runSAMLCreate(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(ssoPage); err != nil {
		return err
	}
	cfg, err := samlConfigFromFlags(app.cmd, true)
	if err != nil {
		return err
	}
	c, err := app.API.CreateSAMLConfiguration(ctx, cfg)
	if err != nil {
		return err
	}
	app.Cache.Invalidate(cache.KeySAMLConfigs)
	app.UI.Success("SAML configuration created successfully")
	return app.print(samlView(app, c))
}

func runSAMLUpdate(ctx context.Context, app *App, args []string) error {
	if err := app.enter(ssoPage); err != nil {
		return err
	}
	cfg, err := samlConfigFromFlags(app.cmd, false)
	if err != nil {
		return err
	}
	if cfg.IsEmpty() {
		return nothingToUpdate("saml")
	}
	c, err := app.API.UpdateSAMLConfiguration(ctx, args[0], cfg)
	if err != nil {
		return err
	}
	app.Cache.Invalidate(cache.KeySAMLConfigs)
	app.UI.Success("SAML configuration updated successfully")
	return app.print(samlView(app, c))
}

func runSAMLDelete(ctx context.Context, app *App, args []string) error {
	if err := app.enter(ssoPage); err != nil {
		return err
	}
	ok, err := confirmed(app.cmd, "Delete SAML configuration "+args[0]+"?")
	if err != nil {
		return err
	}
	if !ok {
		return app.print(messageView("Nothing deleted."))
	}
	if err := app.API.DeleteSAMLConfiguration(ctx, args[0]); err != nil {
		return err
	}
	app.Cache.Invalidate(cache.KeySAMLConfigs)
	app.UI.Success("SAML configuration deleted successfully")
	return app.print(messageView("SAML configuration deleted."))
}

func runOIDCList(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(ssoPage); err != nil {
		return err
	}
	configs, err := cache.Fetch(ctx, app.Cache, cache.KeyOIDCConfigs, app.API.OIDCConfigurations)
	if err != nil {
		return err
	}
	return app.print(ux.View{
		Data: configs,
		Text: func(w io.Writer) error {
			rows := make([][]string, 0, len(configs))
			for _, c := range configs {
				rows = append(rows, []string{c.ID, c.OrganizationName, c.OrganizationDomain, c.Issuer, yesNo(c.IsActive)})
			}
			app.stdout(w).Table([]string{"ID", "Organization", "Domain", "Issuer", "Active"},
				rows, "No OpenID Connect providers configured.")
			return nil
		},
	})
}

func runOIDCCreate(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(ssoPage); err != nil {
		return err
	}
	cfg, err := oidcConfigFromFlags(app.cmd, true)
	if err != nil {
		return err
	}
	c, err := app.API.CreateOIDCConfiguration(ctx, cfg)
	if err != nil {
		return err
	}
	app.Cache.Invalidate(cache.KeyOIDCConfigs)
	app.UI.Success("OIDC configuration created successfully")
	return app.print(oidcView(app, c))
}

func runOIDCUpdate(ctx context.Context, app *App, args []string) error {
	if err := app.enter(ssoPage); err != nil {
		return err
	}
	cfg, err := oidcConfigFromFlags(app.cmd, false)
	if err != nil {
		return err
	}
	if cfg.IsEmpty() {
		return nothingToUpdate("oidc")
	}
	c, err := app.API.UpdateOIDCConfiguration(ctx, args[0], cfg)
	if err != nil {
		return err
	}
	app.Cache.Invalidate(cache.KeyOIDCConfigs)
	app.UI.Success("OIDC configuration updated successfully")
	return app.print(oidcView(app, c))
}

func runOIDCDelete(ctx context.Context, app *App, args []string) error {
	if err := app.enter(ssoPage); err != nil {
		return err
	}
	ok, err := confirmed(app.cmd, "Delete OIDC configuration "+args[0]+"?")
	if err != nil {
		return err
	}
	if !ok {
		return app.print(messageView("Nothing deleted."))
	}
	if err := app.API.DeleteOIDCConfiguration(ctx, args[0]); err != nil {
		return err
	}
	app.Cache.Invalidate(cache.KeyOIDCConfigs)
	app.UI.Success("OIDC configuration deleted successfully")
	return app.print(messageView("OIDC configuration deleted."))
}
