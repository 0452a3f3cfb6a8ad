package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andreluisaguiar/chatbot-distribuido/internal/model/user"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/account"
	"github.com/andreluisaguiar/chatbot-distribuido/internal/service/auth"
)

var stdin = bufio.NewReader(os.Stdin)

// prompt asks for a value on stderr when the flag was left empty.
func prompt(label, current string) (string, error) {
	if current != "" {
		return current, nil
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	line, err := stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return line, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// explain turns a 401 into a hint to log in again.
func explain(err error) error {
	if errors.Is(err, account.ErrNotAuthenticated) || account.IsStatus(err, http.StatusUnauthorized) {
		return fmt.Errorf("%w (run `chat login`)", err)
	}
	return err
}

var (
	regNome, regSobrenome, regEmail, regSenha string
	loginEmail, loginSenha                    string
	updNome, updSobrenome, updSenha           string
	listSkip, listLimit                       int
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		if regNome, err = prompt("Nome", regNome); err != nil {
			return err
		}
		if regSobrenome, err = prompt("Sobrenome", regSobrenome); err != nil {
			return err
		}
		if regEmail, err = prompt("Email", regEmail); err != nil {
			return err
		}
		if regSenha, err = prompt("Senha", regSenha); err != nil {
			return err
		}

		resp, err := state.api.Register(cmd.Context(), user.RegisterRequest{
			Nome: regNome, Sobrenome: regSobrenome, Email: regEmail, Senha: regSenha,
		})
		if err != nil {
			return err
		}
		if err := state.sessions.Save(resp.Credentials()); err != nil {
			return err
		}
		fmt.Printf("Welcome, %s. You are signed in.\n", resp.User.DisplayName())
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and remember the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		if loginEmail, err = prompt("Email", loginEmail); err != nil {
			return err
		}
		if loginSenha, err = prompt("Senha", loginSenha); err != nil {
			return err
		}

		creds, err := auth.Login{
			Client: state.api,
			Store:  state.sessions,
			Email:  loginEmail,
			Senha:  loginSenha,
		}.Resolve(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Signed in as %s.\n", creds.DisplayName)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := state.sessions.Clear(); err != nil {
			return err
		}
		state.api.SetToken("")
		fmt.Println("Signed out.")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		u, err := state.api.CurrentUser(cmd.Context())
		if err != nil {
			return explain(err)
		}
		return printJSON(u)
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Browse accounts",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts page by page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		page, err := state.api.ListUsers(cmd.Context(), listSkip, listLimit)
		if err != nil {
			return explain(err)
		}
		for _, u := range page.Users {
			fmt.Printf("%s  %-30s  %-20s  %s\n", u.ID, u.Email, u.DisplayName(), u.IsActive)
		}
		fmt.Printf("%d of %d\n", len(page.Users), page.Total)
		return nil
	},
}

var usersGetCmd = &cobra.Command{
	Use:   "get <user-id>",
	Short: "Show one account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := state.api.GetUser(cmd.Context(), args[0])
		if err != nil {
			return explain(err)
		}
		return printJSON(u)
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Change name or password of the signed-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var req user.UpdateRequest
		flags := cmd.Flags()
		if flags.Changed("nome") {
			req.Nome = &updNome
		}
		if flags.Changed("sobrenome") {
			req.Sobrenome = &updSobrenome
		}
		if flags.Changed("senha") {
			req.Senha = &updSenha
		}
		if req.Nome == nil && req.Sobrenome == nil && req.Senha == nil {
			return errors.New("nothing to update, pass --nome, --sobrenome or --senha")
		}

		u, err := state.api.UpdateUser(cmd.Context(), req)
		if err != nil {
			return explain(err)
		}
		return printJSON(u)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Deactivate the signed-in account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		resp, err := state.api.DeleteCurrentUser(cmd.Context())
		if err != nil {
			return explain(err)
		}
		if err := state.sessions.Clear(); err != nil {
			return err
		}
		fmt.Println(resp.Message)
		return nil
	},
}

func init() {
	f := registerCmd.Flags()
	f.StringVar(&regNome, "nome", "", "first name")
	f.StringVar(&regSobrenome, "sobrenome", "", "last name")
	f.StringVar(&regEmail, "email", "", "email address")
	f.StringVar(&regSenha, "senha", "", "password")

	f = loginCmd.Flags()
	f.StringVar(&loginEmail, "email", "", "email address")
	f.StringVar(&loginSenha, "senha", "", "password")

	f = updateCmd.Flags()
	f.StringVar(&updNome, "nome", "", "new first name")
	f.StringVar(&updSobrenome, "sobrenome", "", "new last name")
	f.StringVar(&updSenha, "senha", "", "new password")

	f = usersListCmd.Flags()
	f.IntVar(&listSkip, "skip", 0, "accounts to skip")
	f.IntVar(&listLimit, "limit", 20, "page size")

	usersCmd.AddCommand(usersListCmd, usersGetCmd)
}
