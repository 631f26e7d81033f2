package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ecodispose/client/internal/api"
	"ecodispose/client/internal/app"
	"ecodispose/client/internal/model"
)

var errNotLoggedIn = errors.New("not logged in")

// sessionCommands builds the command tree the shell dispatches each line to.
// It is rebuilt for every line so flag values never leak between lines.
func sessionCommands(a *app.App, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "ecoctl",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newProfileCmd(a),
		newDevicesCmd(a),
		newOpenCmd(a),
		newToastsCmd(a),
	)
	return root
}

func newLoginCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "login <email> [password]",
		Short: "Log in and load your devices",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := passwordArg(cmd, args, 1)
			if err != nil {
				return err
			}
			res := a.Session.Login(cmd.Context(), args[0], password)
			if !res.OK {
				return fmt.Errorf("login failed: %s", res.Message)
			}
			a.Session.Wait()
			user, _ := a.Session.Current()
			printf(cmd.OutOrStdout(), "logged in as %s (%d devices)\n", user.DisplayName(), a.Devices.Len())
			return nil
		},
	}
}

func newRegisterCmd(a *app.App) *cobra.Command {
	var firstName, lastName string
	cmd := &cobra.Command{
		Use:   "register <email> [password]",
		Short: "Create an account and log in",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := passwordArg(cmd, args, 1)
			if err != nil {
				return err
			}
			res := a.Session.Register(cmd.Context(), model.Registration{
				FirstName: firstName,
				LastName:  lastName,
				Email:     args[0],
				Password:  password,
			})
			if !res.OK {
				return fmt.Errorf("registration failed: %s", res.Message)
			}
			a.Session.Wait()
			printf(cmd.OutOrStdout(), "registered and logged in as %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&firstName, "first", "", "first name")
	cmd.Flags().StringVar(&lastName, "last", "", "last name")
	cmd.MarkFlagRequired("first")
	cmd.MarkFlagRequired("last")
	return cmd
}

func newLogoutCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.Session.Logout(cmd.Context())
			printf(cmd.OutOrStdout(), "logged out\n")
			return nil
		},
	}
}

func newWhoamiCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, ok := a.Session.Current()
			if !ok {
				if hint, ok := a.Session.Hint(); ok {
					printf(cmd.OutOrStdout(), "anonymous (last seen as %s)\n", hint.Email)
					return nil
				}
				printf(cmd.OutOrStdout(), "anonymous\n")
				return nil
			}
			role := model.RoleUser
			if user.Admin() {
				role = model.RoleAdmin
			}
			printf(cmd.OutOrStdout(), "%s <%s> %s\n", user.DisplayName(), user.Email, role)
			printf(cmd.OutOrStdout(), "picture: %s\n", a.Session.ProfileImage())
			return nil
		},
	}
}

func newProfileCmd(a *app.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage your profile",
	}

	var firstName, lastName, phone, image string
	edit := &cobra.Command{
		Use:   "edit",
		Short: "Update profile fields and picture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, ok := a.Session.Current()
			if !ok {
				return errNotLoggedIn
			}
			if cmd.Flags().Changed("first") {
				user.FirstName = firstName
			}
			if cmd.Flags().Changed("last") {
				user.LastName = lastName
			}
			if cmd.Flags().Changed("phone") {
				user.PhoneNumber = phone
			}
			var file *api.File
			if image != "" {
				f, err := os.Open(image)
				if err != nil {
					return err
				}
				defer f.Close()
				file = &api.File{Name: filepath.Base(image), Content: f}
			}
			res := a.Session.UpdateProfile(cmd.Context(), user, file)
			if !res.OK {
				return fmt.Errorf("profile not saved: %s", res.Message)
			}
			printf(cmd.OutOrStdout(), "profile saved\n")
			return nil
		},
	}
	edit.Flags().StringVar(&firstName, "first", "", "first name")
	edit.Flags().StringVar(&lastName, "last", "", "last name")
	edit.Flags().StringVar(&phone, "phone", "", "phone number")
	edit.Flags().StringVar(&image, "image", "", "path to a new profile picture")

	cmd.AddCommand(edit)
	return cmd
}

func newDevicesCmd(a *app.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "devices",
		Aliases: []string{"d"},
		Short:   "List and manage your devices",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show the mirrored devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := a.Session.Current(); !ok {
				return errNotLoggedIn
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSTATUS\tCONDITION\tPRICE\tIMAGE")
			for _, d := range a.Devices.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n",
					d.ID, d.Name, d.Type, d.Status, d.Condition, d.EstimatedPrice, a.Devices.Image(d))
			}
			return tw.Flush()
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Reload devices from the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := a.Session.Current(); !ok {
				return errNotLoggedIn
			}
			if res := a.Devices.Refresh(cmd.Context()); !res.OK {
				return fmt.Errorf("refresh failed: %s", res.Message)
			}
			printf(cmd.OutOrStdout(), "%d devices\n", a.Devices.Len())
			return nil
		},
	}

	var name, kind, defects, description, image string
	add := &cobra.Command{
		Use:   "add",
		Short: "Submit a new device with a picture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := a.Session.Current(); !ok {
				return errNotLoggedIn
			}
			f, err := os.Open(image)
			if err != nil {
				return err
			}
			defer f.Close()
			created, res := a.Devices.Add(cmd.Context(), model.Device{
				Name:            name,
				Type:            kind,
				Defects:         defects,
				UserDescription: description,
			}, api.File{Name: filepath.Base(image), Content: f})
			if !res.OK {
				return fmt.Errorf("device not added: %s", res.Message)
			}
			printf(cmd.OutOrStdout(), "added device %s\n", created.ID)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "device name")
	add.Flags().StringVar(&kind, "type", "", "device type")
	add.Flags().StringVar(&defects, "defects", "", "known defects")
	add.Flags().StringVar(&description, "description", "", "description")
	add.Flags().StringVar(&image, "image", "", "path to a picture of the device")
	add.MarkFlagRequired("name")
	add.MarkFlagRequired("image")

	var status, condition, notes, price string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change status, condition, price or notes of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := model.ID(args[0])
			device, ok := a.Devices.Get(id)
			if !ok {
				return fmt.Errorf("unknown device %s", id)
			}
			if status != "" {
				device.Status = model.DeviceStatus(status)
			}
			if condition != "" {
				device.Condition = model.DeviceCondition(condition)
			}
			if cmd.Flags().Changed("notes") {
				device.AdminNotes = notes
			}
			if price != "" {
				v, err := strconv.ParseFloat(price, 64)
				if err != nil {
					return fmt.Errorf("invalid price %q", price)
				}
				device.EstimatedPrice = v
			}
			if res := a.Devices.Update(cmd.Context(), id, device); !res.OK {
				return fmt.Errorf("device not updated: %s", res.Message)
			}
			printf(cmd.OutOrStdout(), "updated device %s\n", id)
			return nil
		},
	}
	update.Flags().StringVar(&status, "status", "", "waiting|collected|evaluated|accepted|rejected")
	update.Flags().StringVar(&condition, "condition", "", "excellent|good|fair|poor")
	update.Flags().StringVar(&notes, "notes", "", "admin notes")
	update.Flags().StringVar(&price, "price", "", "estimated price")

	remove := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a device",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := model.ID(args[0])
			if res := a.Devices.Delete(cmd.Context(), id); !res.OK {
				return fmt.Errorf("device not deleted: %s", res.Message)
			}
			printf(cmd.OutOrStdout(), "deleted device %s\n", id)
			return nil
		},
	}

	cmd.AddCommand(list, refresh, add, update, remove)
	return cmd
}

func newOpenCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "open <path>",
		Short: "Navigate to a view the way the web client would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.Session.Loading() {
				return errors.New("session still loading")
			}
			nav := a.Navigate(args[0])
			switch {
			case nav.NotFound:
				printf(cmd.OutOrStdout(), "%s: not found\n", nav.Requested)
			case nav.Redirected:
				printf(cmd.OutOrStdout(), "%s -> %s (%s)\n", nav.Requested, nav.Path, nav.View)
			default:
				printf(cmd.OutOrStdout(), "%s (%s)\n", nav.Path, nav.View)
			}
			return nil
		},
	}
}

func newToastsCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "toasts",
		Short: "Show pending notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			toasts := a.Toasts.List()
			if len(toasts) == 0 {
				printf(cmd.OutOrStdout(), "no notifications\n")
				return nil
			}
			for _, t := range toasts {
				printf(cmd.OutOrStdout(), "[%s] %s: %s\n", t.Severity, t.Title, t.Message)
			}
			return nil
		},
	}
}

// passwordArg returns args[i], or prompts for it without echo when stdin is
// a terminal.
func passwordArg(cmd *cobra.Command, args []string, i int) (string, error) {
	if len(args) > i {
		return args[i], nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("password required")
	}
	printf(cmd.OutOrStdout(), "password: ")
	pw, err := term.ReadPassword(fd)
	printf(cmd.OutOrStdout(), "\n")
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
