package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/alfredjeanlab/panels/internal/client"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	Short:   "Register, sign in and inspect the current token",
	GroupID: "system",
}

// readPassword prompts on a terminal, otherwise reads one line from stdin.
func readPassword(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("password"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func startSession(cmd *cobra.Command, email string, register bool) error {
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}
	name, _ := cmd.Flags().GetString("name")
	creds := &client.Credentials{Email: email, Password: password, Name: name}

	var s *client.Session
	if register {
		s, err = panelsClient.Register(cmd.Context(), creds)
	} else {
		s, err = panelsClient.SignIn(cmd.Context(), creds)
	}
	if err != nil {
		return err
	}

	if save, _ := cmd.Flags().GetBool("save"); save {
		ok, err := saveActiveToken(s.Token)
		if err != nil {
			return fmt.Errorf("saving token: %w", err)
		}
		if !ok {
			return fmt.Errorf("no active remote to save the token on (see pd remote use)")
		}
	}

	if jsonOutput {
		printJSON(s)
		return nil
	}
	fmt.Printf("Signed in as %s (expires %s)\n", s.User.Email, s.ExpiresAt.Local().Format(timeLayout))
	if save, _ := cmd.Flags().GetBool("save"); !save {
		fmt.Println(s.Token)
	}
	return nil
}

var authRegisterCmd = &cobra.Command{
	Use:   "register <email>",
	Short: "Create an account and sign in",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return startSession(cmd, args[0], true)
	},
}

var authSignInCmd = &cobra.Command{
	Use:   "signin <email>",
	Short: "Sign in and print (or save) a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return startSession(cmd, args[0], false)
	},
}

var authSignOutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign out and forget the saved token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := panelsClient.SignOut(cmd.Context()); err != nil {
			return err
		}
		if _, err := saveActiveToken(""); err != nil {
			return fmt.Errorf("clearing saved token: %w", err)
		}
		fmt.Println("Signed out")
		return nil
	},
}

var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Validate the current token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := panelsClient.ValidateToken(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			printJSON(info)
			return nil
		}
		switch {
		case !info.Valid:
			fmt.Println("Not signed in")
		case info.Service:
			fmt.Println("Service token")
		default:
			fmt.Printf("%s (%s)\n", info.Email, info.UserID)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{authRegisterCmd, authSignInCmd} {
		c.Flags().String("password", "", "password (prompted when empty)")
		c.Flags().Bool("save", false, "store the token on the active remote")
	}
	authRegisterCmd.Flags().String("name", "", "display name")

	authCmd.AddCommand(authRegisterCmd)
	authCmd.AddCommand(authSignInCmd)
	authCmd.AddCommand(authSignOutCmd)
	authCmd.AddCommand(authWhoamiCmd)
}
