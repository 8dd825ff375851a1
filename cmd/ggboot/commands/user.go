package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/ggnet/ggboot/internal/cli/output"
	"github.com/ggnet/ggboot/internal/cli/prompt"
	"github.com/ggnet/ggboot/pkg/config"
	"github.com/ggnet/ggboot/pkg/controlplane/models"
	"github.com/ggnet/ggboot/pkg/controlplane/store"
	"github.com/spf13/cobra"
)

const minPasswordLength = 8

var (
	userAddRole  string
	userDelForce bool
	userListWide string
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage API user accounts",
	Long: `Manage the user accounts of the ggboot API.

Accounts authenticate against the control plane database directly, so
these commands work whether or not the server is running.

Roles:
  admin     Full access, including user management and the audit log
  operator  Manage machines, images, and boot sessions
  viewer    Read-only access

Examples:
  ggboot user add alice --role operator
  ggboot user passwd alice
  ggboot user disable alice
  ggboot user list`,
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Add a new user (prompts for password)",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userDeleteCmd = &cobra.Command{
	Use:     "delete <username>",
	Aliases: []string{"remove"},
	Short:   "Delete a user",
	Args:    cobra.ExactArgs(1),
	RunE:    runUserDelete,
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all users",
	Args:    cobra.NoArgs,
	RunE:    runUserList,
}

var userPasswdCmd = &cobra.Command{
	Use:     "passwd <username>",
	Aliases: []string{"password"},
	Short:   "Change a user's password",
	Args:    cobra.ExactArgs(1),
	RunE:    runUserPasswd,
}

var userEnableCmd = &cobra.Command{
	Use:   "enable <username>",
	Short: "Reactivate a disabled user",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserEnable,
}

var userDisableCmd = &cobra.Command{
	Use:   "disable <username>",
	Short: "Disable a user without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserDisable,
}

func init() {
	userAddCmd.Flags().StringVar(&userAddRole, "role", string(models.RoleViewer), "Role for the new user (admin|operator|viewer)")
	userDeleteCmd.Flags().BoolVar(&userDelForce, "force", false, "Skip confirmation prompt")
	userListCmd.Flags().StringVarP(&userListWide, "output", "o", "table", "Output format (table|json|yaml)")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userDeleteCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userPasswdCmd)
	userCmd.AddCommand(userEnableCmd)
	userCmd.AddCommand(userDisableCmd)
}

// openStore opens the control plane database from the configured location.
func openStore() (*store.GORMStore, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open control plane store: %w", err)
	}
	return st, nil
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	username := args[0]

	role := models.UserRole(userAddRole)
	if !role.IsValid() {
		return fmt.Errorf("invalid role %q (must be admin, operator, or viewer)", userAddRole)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	password, err := prompt.PasswordWithConfirmation("Password", "Confirm password", minPasswordLength)
	if err != nil {
		return err
	}

	hash, err := models.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         string(role),
		Active:       true,
	}
	if err := st.CreateUser(context.Background(), user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("User %q created with role %s\n", username, role)
	return nil
}

func runUserDelete(cmd *cobra.Command, args []string) error {
	username := args[0]

	confirmed, err := prompt.ConfirmWithForce(fmt.Sprintf("Delete user %q", username), userDelForce)
	if err != nil {
		return err
	}
	if !confirmed {
		fmt.Println("Aborted")
		return nil
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.DeleteUser(context.Background(), username); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	fmt.Printf("User %q deleted\n", username)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(userListWide)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	users, err := st.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, users)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, users)
	default:
		table := output.NewTableData("USERNAME", "ROLE", "ACTIVE", "LAST LOGIN")
		for _, u := range users {
			lastLogin := "never"
			if u.LastLogin != nil {
				lastLogin = u.LastLogin.Format("2006-01-02 15:04:05")
			}
			table.AddRow(u.Username, u.Role, fmt.Sprintf("%t", u.Active), lastLogin)
		}
		return output.PrintTable(os.Stdout, table)
	}
}

func runUserPasswd(cmd *cobra.Command, args []string) error {
	username := args[0]

	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	// Fail before prompting if the user does not exist.
	if _, err := st.GetUser(context.Background(), username); err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	password, err := prompt.PasswordWithConfirmation("New password", "Confirm password", minPasswordLength)
	if err != nil {
		return err
	}

	hash, err := models.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := st.UpdatePassword(context.Background(), username, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	fmt.Printf("Password updated for %q\n", username)
	return nil
}

func runUserEnable(cmd *cobra.Command, args []string) error {
	return setUserActive(args[0], true)
}

func runUserDisable(cmd *cobra.Command, args []string) error {
	return setUserActive(args[0], false)
}

func setUserActive(username string, active bool) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	user, err := st.GetUser(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	user.Active = active
	if err := st.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	if active {
		fmt.Printf("User %q enabled\n", username)
	} else {
		fmt.Printf("User %q disabled\n", username)
	}
	return nil
}
