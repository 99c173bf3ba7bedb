package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"postpulse/pkg/auth"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage API bearer tokens",
	Long: `Manage stored API bearer tokens.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - POSTPULSE_BEARER_TOKEN environment variable (read only)

Several tokens can be kept under profile names; select one with --profile.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login [profile]",
	Short: "Store an API bearer token",
	Example: `  # Store the default token
  postpulse auth login

  # Store a second app's token
  postpulse auth login research`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAuthLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout [profile]",
	Short: "Remove a stored token",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuthLogout,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tokens",
	Args:  cobra.NoArgs,
	RunE:  runAuthList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authListCmd)
}

func profileArg(args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}
	if profile != "" {
		return profile
	}
	return auth.DefaultProfile
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}
	name := profileArg(args)
	out := cmd.OutOrStdout()
	reader := bufio.NewReader(os.Stdin)

	auth.ShowTokenGuide(out)
	fmt.Fprintln(out)

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Fprintf(out, "A token is already stored for '%s'. Replace it? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Fprint(out, "Bearer token (hidden): ")
	token, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	token = strings.TrimPrefix(strings.TrimSpace(token), "Bearer ")
	if len(token) < 20 {
		return errors.New("that does not look like a bearer token")
	}

	if err := manager.Store(&auth.Token{Profile: name, BearerToken: token, LastModified: time.Now()}); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	printer.Success(fmt.Sprintf("Token saved for profile '%s' (%s)", name, auth.MaskString(token)))
	return nil
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}
	name := profileArg(args)
	if err := manager.Delete(name); err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	printer.Success("Token removed: " + name)
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}
	tokens, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list tokens: %w", err)
	}
	if len(tokens) == 0 {
		printer.Info("No stored tokens", "use 'postpulse auth login' to add one")
		return nil
	}

	rows := make([][]string, 0, len(tokens))
	for _, t := range tokens {
		s := auth.Sanitize(t)
		rows = append(rows, []string{s.Profile, s.BearerToken, s.LastModified.Format("2006-01-02 15:04:05")})
	}
	printer.Table([]string{"Profile", "Token", "Last Modified"}, rows)
	return nil
}

// readSecret reads a line from stdin without echoing it when stdin is a terminal.
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return string(secret), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
