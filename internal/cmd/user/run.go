// Package user implements the "nexorax user" CLI subcommand. It edits
// the account files directly and does not need the server running.
package user

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/khang26042012/NexoraX-AI/internal/authstore"
	"github.com/khang26042012/NexoraX-AI/internal/validate"
)

// PasswordEnv is read by "user add -password-env".
const PasswordEnv = "NEXORAX_USER_PASSWORD"

type Options struct {
	DataDir     string
	Hash        bool
	PasswordEnv bool
}

func usage() {
	fmt.Fprintln(os.Stderr, "nexorax user <add|delete|unlock|list> [flags] [username]")
}

func Run(args []string) error {
	if len(args) < 1 {
		usage()
		return errors.New("missing user action")
	}
	action := args[0]

	fs := flag.NewFlagSet("user "+action, flag.ContinueOnError)
	var opt Options
	fs.StringVar(&opt.DataDir, "data-dir", "./data", "data directory holding accounts.txt")
	fs.BoolVar(&opt.Hash, "hash", false, "store the password as an argon2id hash")
	fs.BoolVar(&opt.PasswordEnv, "password-env", false, "read the password from "+PasswordEnv)
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	dir, err := validate.DataDir(opt.DataDir)
	if err != nil {
		return err
	}
	opt.DataDir = dir

	so := authstore.FileOptions(opt.DataDir)
	so.HashPasswords = opt.Hash
	so.Logger = slog.Default()
	st, err := authstore.Open(so)
	if err != nil {
		return err
	}

	name := strings.TrimSpace(fs.Arg(0))
	switch action {
	case "list":
		return list(os.Stdout, st)
	case "add":
		if name == "" {
			return errors.New("username is required")
		}
		if err := validate.Username(name); err != nil {
			return err
		}
		if err := os.MkdirAll(opt.DataDir, 0o700); err != nil {
			return err
		}
		pw, err := password(opt)
		if err != nil {
			return err
		}
		if err := st.CreateUser(name, pw); err != nil {
			return err
		}
		fmt.Printf("user %s created\n", name)
		return nil
	case "delete":
		if name == "" {
			return errors.New("username is required")
		}
		if err := st.DeleteUser(name); err != nil {
			return err
		}
		fmt.Printf("user %s deleted (send SIGHUP to a running server to apply)\n", name)
		return nil
	case "unlock":
		if name == "" {
			return errors.New("username is required")
		}
		if !st.ClearRateLimit(name) {
			return fmt.Errorf("no rate limit entry for %s", name)
		}
		fmt.Printf("user %s unlocked\n", name)
		return nil
	default:
		usage()
		return fmt.Errorf("unknown user action: %s", action)
	}
}

func list(w io.Writer, st *authstore.Store) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USERNAME\tSESSIONS\tFAILED\tLOCKED UNTIL\tHASHED")
	for _, u := range st.UserInfos() {
		locked := "-"
		if !u.LockedUntil.IsZero() {
			locked = u.LockedUntil.Time().Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%t\n", u.Username, u.Sessions, u.Attempts, locked, u.Hashed)
	}
	return tw.Flush()
}

func password(opt Options) (string, error) {
	if opt.PasswordEnv {
		pw := os.Getenv(PasswordEnv)
		if pw == "" {
			return "", fmt.Errorf("%s is empty", PasswordEnv)
		}
		return pw, validate.Password(pw)
	}
	return promptPassword("Password")
}

func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		for {
			fmt.Fprintf(os.Stderr, "%s: ", label)
			p1b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return "", err
			}
			fmt.Fprint(os.Stderr, "Confirm password: ")
			p2b, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return "", err
			}
			p1, p2 := string(p1b), string(p2b)
			if err := validate.Password(p1); err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			if p1 != p2 {
				fmt.Fprintln(os.Stderr, "passwords do not match")
				continue
			}
			return p1, nil
		}
	}

	// Piped input: one line, no confirmation.
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	pw := strings.TrimRight(line, "\r\n")
	return pw, validate.Password(pw)
}
