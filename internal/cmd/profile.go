package cmd

import (
	"context"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/felixgeelhaar/meetdash/internal/api"
	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/ux"
)

const profilePage = "/users/profile"

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show or update your public profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show your profile",
	RunE:  withApp(runProfileShow),
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Change profile fields",
	Long: `Change profile fields. Only the flags you pass are sent.

Pictures are uploaded as multipart form data:
  meetdash profile update --display-name "Ada L." --picture ./ada.png`,
	RunE: withApp(runProfileUpdate),
}

var profileStringFlags = []struct {
	flag  string
	usage string
	field func(*api.ProfileUpdate) **string
}{
	{"display-name", "display name", func(u *api.ProfileUpdate) **string { return &u.DisplayName }},
	{"bio", "short biography", func(u *api.ProfileUpdate) **string { return &u.Bio }},
	{"phone", "phone number", func(u *api.ProfileUpdate) **string { return &u.Phone }},
	{"website", "website URL", func(u *api.ProfileUpdate) **string { return &u.Website }},
	{"company", "company", func(u *api.ProfileUpdate) **string { return &u.Company }},
	{"job-title", "job title", func(u *api.ProfileUpdate) **string { return &u.JobTitle }},
	{"timezone", "IANA timezone, e.g. Europe/Berlin", func(u *api.ProfileUpdate) **string { return &u.TimezoneName }},
	{"language", "interface language code", func(u *api.ProfileUpdate) **string { return &u.Language }},
	{"date-format", "date format, e.g. DD/MM/YYYY", func(u *api.ProfileUpdate) **string { return &u.DateFormat }},
	{"time-format", "time format: 12h or 24h", func(u *api.ProfileUpdate) **string { return &u.TimeFormat }},
	{"brand-color", "brand color as #RRGGBB", func(u *api.ProfileUpdate) **string { return &u.BrandColor }},
}

var profileBoolFlags = []struct {
	flag  string
	usage string
	field func(*api.ProfileUpdate) **bool
}{
	{"public", "show the public booking profile", func(u *api.ProfileUpdate) **bool { return &u.PublicProfile }},
	{"show-phone", "show the phone number publicly", func(u *api.ProfileUpdate) **bool { return &u.ShowPhone }},
	{"show-email", "show the email address publicly", func(u *api.ProfileUpdate) **bool { return &u.ShowEmail }},
}

var profileIntFlags = []struct {
	flag  string
	usage string
	field func(*api.ProfileUpdate) **int
}{
	{"hours-start", "start of reasonable meeting hours (0-23)", func(u *api.ProfileUpdate) **int { return &u.ReasonableHoursStart }},
	{"hours-end", "end of reasonable meeting hours (1-24)", func(u *api.ProfileUpdate) **int { return &u.ReasonableHoursEnd }},
}

func init() {
	f := profileUpdateCmd.Flags()
	for _, sf := range profileStringFlags {
		f.String(sf.flag, "", sf.usage)
	}
	for _, bf := range profileBoolFlags {
		f.Bool(bf.flag, false, bf.usage)
	}
	for _, nf := range profileIntFlags {
		f.Int(nf.flag, 0, nf.usage)
	}
	f.String("picture", "", "path of a new profile picture")
	f.String("logo", "", "path of a new brand logo")

	profileCmd.AddCommand(profileShowCmd, profileUpdateCmd)
	rootCmd.AddCommand(profileCmd)
}

// profileUpdateFromFlags builds a partial update from the flags that were set.
func profileUpdateFromFlags(f *pflag.FlagSet) (api.ProfileUpdate, error) {
	var u api.ProfileUpdate
	for _, sf := range profileStringFlags {
		if f.Changed(sf.flag) {
			v, _ := f.GetString(sf.flag)
			*sf.field(&u) = &v
		}
	}
	for _, bf := range profileBoolFlags {
		if f.Changed(bf.flag) {
			v, _ := f.GetBool(bf.flag)
			*bf.field(&u) = &v
		}
	}
	for _, nf := range profileIntFlags {
		if f.Changed(nf.flag) {
			v, _ := f.GetInt(nf.flag)
			*nf.field(&u) = &v
		}
	}
	if f.Changed("picture") {
		path, _ := f.GetString("picture")
		file, err := readUpload(path)
		if err != nil {
			return u, err
		}
		u.ProfilePicture = file
	}
	if f.Changed("logo") {
		path, _ := f.GetString("logo")
		file, err := readUpload(path)
		if err != nil {
			return u, err
		}
		u.BrandLogo = file
	}
	return u, nil
}

func profilePairs(p *domain.Profile) [][2]string {
	hours := ""
	if p.ReasonableHoursEnd > 0 {
		hours = strconv.Itoa(p.ReasonableHoursStart) + ":00-" + strconv.Itoa(p.ReasonableHoursEnd) + ":00"
	}
	return [][2]string{
		{"Display name", p.DisplayName},
		{"Booking slug", p.OrganizerSlug},
		{"Bio", p.Bio},
		{"Phone", domain.FormatPhoneNumber(p.Phone)},
		{"Website", p.Website},
		{"Company", p.Company},
		{"Job title", p.JobTitle},
		{"Timezone", p.TimezoneName},
		{"Language", p.Language},
		{"Date format", p.DateFormat},
		{"Time format", p.TimeFormat},
		{"Brand color", p.BrandColor},
		{"Meeting hours", hours},
		{"Public profile", yesNo(p.PublicProfile)},
		{"Show phone", yesNo(p.ShowPhone)},
		{"Show email", yesNo(p.ShowEmail)},
	}
}

func profileView(app *App, p *domain.Profile) ux.View {
	return ux.View{
		Data: p,
		Text: func(w io.Writer) error {
			app.stdout(w).KeyValues(profilePairs(p))
			return nil
		},
	}
}

func runProfileShow(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(profilePage); err != nil {
		return err
	}
	p, err := app.Auth.FetchProfile(ctx)
	if err != nil {
		return err
	}
	return app.print(profileView(app, p))
}

func runProfileUpdate(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(profilePage); err != nil {
		return err
	}
	u, err := profileUpdateFromFlags(app.cmd.Flags())
	if err != nil {
		return err
	}
	if u.IsEmpty() {
		return errors.New(errors.ErrCodeValidationRequired, "nothing to update").
			WithSuggestion("Pass at least one field flag, see 'meetdash profile update --help'")
	}
	p, err := app.Auth.UpdateProfile(ctx, u)
	if err != nil {
		return err
	}
	return app.print(profileView(app, p))
}
