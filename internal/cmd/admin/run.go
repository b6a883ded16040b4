// Package admin implements the "nexorax admin" terminal console.
package admin

import (
	"flag"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/khang26042012/NexoraX-AI/internal/adminapi"
	"github.com/khang26042012/NexoraX-AI/internal/adminui"
	"github.com/khang26042012/NexoraX-AI/internal/version"
)

// TokenEnv supplies the admin token when -token is not given.
const TokenEnv = "NEXORAX_ADMIN_TOKEN"

type Options struct {
	Addr        string
	Token       string
	TLSInsecure bool
}

func Run(args []string) error {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	var opt Options
	fs.StringVar(&opt.Addr, "addr", "http://127.0.0.1:5000", "server address")
	fs.StringVar(&opt.Token, "token", "", "admin token (default $"+TokenEnv+")")
	fs.BoolVar(&opt.TLSInsecure, "insecure", false, "skip TLS verification (always on for localhost)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opt.Token == "" {
		opt.Token = os.Getenv(TokenEnv)
	}

	c, err := adminapi.NewClient(adminapi.ClientOptions{
		Addr:      opt.Addr,
		Token:     opt.Token,
		Insecure:  opt.TLSInsecure || adminui.IsLocalAddr(opt.Addr),
		UserAgent: "nexorax-admin/" + version.Version,
	})
	if err != nil {
		return err
	}

	p := tea.NewProgram(adminui.New(c, opt.Addr), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
