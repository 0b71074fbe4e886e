package cmd

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/meetdash/internal/domain"
	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/mfa"
	"github.com/felixgeelhaar/meetdash/internal/tui"
	"github.com/felixgeelhaar/meetdash/internal/ux"
)

const (
	securityPage = "/users/security"
	maxOTPTries  = 3
)

var mfaCmd = &cobra.Command{
	Use:   "mfa",
	Short: "Manage multi-factor authentication",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var mfaSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Enroll an authenticator app or phone",
	Long: `Enroll a new MFA device and confirm it with a one-time code.

For an authenticator app, scan the QR code written with --qr-out or type the
manual entry key, then enter the 6-digit code the app shows:
  meetdash mfa setup --type totp --name "Work phone" --qr-out qr.png

For SMS, the code is sent to --phone:
  meetdash mfa setup --type sms --name "Mobile" --phone "+1 555 010 9999"`,
	RunE: withApp(runMFASetup),
}

var mfaDevicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List enrolled MFA devices",
	RunE:  withApp(runMFADevices),
}

var mfaDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Turn off MFA for your account",
	RunE:  withApp(runMFADisable),
}

var mfaBackupCodesCmd = &cobra.Command{
	Use:   "backup-codes",
	Short: "Regenerate backup codes",
	Long:  "Regenerate backup codes. Previously issued codes stop working.",
	RunE:  withApp(runMFABackupCodes),
}

var mfaResendSMSCmd = &cobra.Command{
	Use:   "resend-sms",
	Short: "Send the pending SMS verification code again",
	RunE:  withApp(runMFAResendSMS),
}

var mfaSendSMSCodeCmd = &cobra.Command{
	Use:   "send-sms-code <device-id>",
	Short: "Send a sign-in code to an SMS device",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runMFASendSMSCode),
}

func init() {
	mfaSetupCmd.Flags().String("type", string(domain.DeviceTOTP), "device type: totp or sms")
	mfaSetupCmd.Flags().String("name", "", "device name")
	mfaSetupCmd.Flags().String("phone", "", "phone number for SMS devices")
	mfaSetupCmd.Flags().String("code", "", "6-digit verification code")
	mfaSetupCmd.Flags().String("qr-out", "", "write the QR code image to this file")

	mfaDisableCmd.Flags().String("password", "", "current password")
	mfaDisableCmd.Flags().Bool("yes", false, "skip the confirmation prompt")

	mfaBackupCodesCmd.Flags().String("password", "", "current password")
	mfaBackupCodesCmd.Flags().Bool("yes", false, "skip the confirmation prompt")

	mfaCmd.AddCommand(mfaSetupCmd, mfaDevicesCmd, mfaDisableCmd, mfaBackupCodesCmd,
		mfaResendSMSCmd, mfaSendSMSCodeCmd)
	rootCmd.AddCommand(mfaCmd)
}

func runMFASetup(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(securityPage); err != nil {
		return err
	}
	cmd := app.cmd
	deviceType, _ := cmd.Flags().GetString("type")
	phone, _ := cmd.Flags().GetString("phone")
	name, err := flagOrPrompt(cmd, "name", tui.Prompt{
		Message:     "Device name",
		Placeholder: "Work phone",
		Required:    true,
	})
	if err != nil {
		return err
	}

	var snap mfa.Snapshot
	err = tui.Spin(ctx, "Enrolling "+name, func(ctx context.Context) error {
		var err error
		snap, err = app.MFA.Setup(ctx, mfa.SetupRequest{
			DeviceType:  domain.DeviceType(strings.ToLower(deviceType)),
			DeviceName:  name,
			PhoneNumber: phone,
		})
		return err
	})
	if err != nil {
		return err
	}
	if snap.State != mfa.StateAwaitingVerification {
		return errors.New(errors.ErrCodeMFANoPendingSetup, "setup was cancelled before it completed")
	}
	if err := showSetupMaterial(app, snap); err != nil {
		app.MFA.Cancel()
		return err
	}

	snap, err = verifyWithRetries(ctx, app)
	if err != nil {
		app.MFA.Cancel()
		return err
	}
	return app.print(backupCodesView(app, "MFA enabled", snap.BackupCodes))
}

// showSetupMaterial tells the user how to obtain a code. It goes to stderr so
// machine-readable output on stdout stays a single document.
func showSetupMaterial(app *App, snap mfa.Snapshot) error {
	m := snap.Material
	if m == nil {
		return nil
	}
	if out, _ := app.cmd.Flags().GetString("qr-out"); out != "" && m.QRCode != "" {
		if err := writeQRCode(out, m.QRCode); err != nil {
			return err
		}
		app.Out.Line("QR code written to %s", out)
	}
	pairs := [][2]string{
		{"Device", snap.DeviceName},
		{"Manual key", m.ManualEntryKey},
		{"Phone", domain.MaskPhoneNumber(snap.PhoneNumber)},
	}
	app.Out.KeyValues(pairs)
	if m.Message != "" {
		app.Out.Muted(m.Message)
	}
	return nil
}

// writeQRCode stores a data URL or bare base64 image.
func writeQRCode(path, qr string) error {
	payload := qr
	if i := strings.Index(qr, ";base64,"); i >= 0 {
		payload = qr[i+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return errors.Wrap(errors.ErrCodeAPIDecode, "QR code is not a base64 image", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to write "+path, err)
	}
	return nil
}

// verifyWithRetries submits --code once, or prompts until the backend accepts
// a code or the attempts run out.
func verifyWithRetries(ctx context.Context, app *App) (mfa.Snapshot, error) {
	if code, _ := app.cmd.Flags().GetString("code"); code != "" {
		return app.MFA.Verify(ctx, code)
	}
	var lastErr error
	for attempt := 1; attempt <= maxOTPTries; attempt++ {
		code, err := tui.PromptForOTP("Verification code")
		if stderrors.Is(err, tui.ErrNotInteractive) {
			return mfa.Snapshot{}, missingFlag("code")
		}
		if err != nil {
			return mfa.Snapshot{}, err
		}
		snap, err := app.MFA.Verify(ctx, code)
		if err == nil {
			return snap, nil
		}
		if !retryableCode(err) {
			return snap, err
		}
		lastErr = err
		if attempt < maxOTPTries {
			app.Out.Muted(fmt.Sprintf("Code rejected, %d attempt(s) left", maxOTPTries-attempt))
		}
	}
	return mfa.Snapshot{}, lastErr
}

func retryableCode(err error) bool {
	return errors.HasCode(err, errors.ErrCodeMFAInvalidCode) ||
		errors.HasCode(err, errors.ErrCodeAPIBadRequest)
}

func backupCodesView(app *App, title string, codes []string) ux.View {
	return ux.View{
		Data: map[string]any{"backup_codes": codes},
		Text: func(w io.Writer) error {
			r := app.stdout(w)
			r.Codes(title, codes)
			r.Muted("Store these codes somewhere safe. Each one works once.")
			return nil
		},
	}
}

func runMFADevices(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(securityPage); err != nil {
		return err
	}
	devices, err := app.MFA.Devices(ctx)
	if err != nil {
		return err
	}
	return app.print(ux.View{
		Data: devices,
		Text: func(w io.Writer) error {
			rows := make([][]string, 0, len(devices))
			for _, d := range devices {
				rows = append(rows, []string{
					d.ID,
					d.Name,
					d.DeviceType.Label(),
					domain.MaskPhoneNumber(d.PhoneNumber),
					yesNo(d.IsPrimary),
					formatTime(d.LastUsedAt),
				})
			}
			app.stdout(w).Table([]string{"ID", "Name", "Type", "Phone", "Primary", "Last used"},
				rows, "No MFA devices enrolled.")
			return nil
		},
	})
}

func runMFADisable(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(securityPage); err != nil {
		return err
	}
	password, err := secretFlag(app.cmd, "password", "Current password")
	if err != nil {
		return err
	}
	ok, err := confirmed(app.cmd, "Disable multi-factor authentication?")
	if err != nil {
		return err
	}
	if err := app.MFA.Disable(ctx, password, ok); err != nil {
		if errors.HasCode(err, errors.ErrCodeMFAConfirmationRequired) {
			return errors.New(errors.ErrCodeMFAConfirmationRequired, "disabling MFA was not confirmed").
				WithSuggestion("Pass --yes to confirm without a prompt")
		}
		return err
	}
	return app.print(messageView("MFA disabled."))
}

func runMFABackupCodes(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(securityPage); err != nil {
		return err
	}
	password, err := secretFlag(app.cmd, "password", "Current password")
	if err != nil {
		return err
	}
	ok, err := confirmed(app.cmd, "Regenerate backup codes? Existing codes stop working.")
	if err != nil {
		return err
	}
	codes, err := app.MFA.RegenerateBackupCodes(ctx, password, ok)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeMFAConfirmationRequired) {
			return errors.New(errors.ErrCodeMFAConfirmationRequired, "regenerating backup codes was not confirmed").
				WithSuggestion("Pass --yes to confirm without a prompt")
		}
		return err
	}
	return app.print(backupCodesView(app, "New backup codes", codes))
}

func runMFAResendSMS(ctx context.Context, app *App, _ []string) error {
	if err := app.enter(securityPage); err != nil {
		return err
	}
	// each invocation starts with an idle flow; the pending device is known
	// to the backend only
	resp, err := app.API.ResendSMS(ctx)
	if err != nil {
		return err
	}
	return app.print(messageView(orDefault(resp.Message, mfa.MsgSMSSent) + "."))
}

func runMFASendSMSCode(ctx context.Context, app *App, args []string) error {
	if err := app.enter(securityPage); err != nil {
		return err
	}
	if err := app.MFA.SendSMSCode(ctx, args[0]); err != nil {
		return err
	}
	return app.print(messageView(mfa.MsgSMSSent + "."))
}
