// Package realdialog provides a TUI-based DialogProvider using charmbracelet/huh.
//
// fieldterm owns the terminal while prompting (the session is not attached
// yet), so the form runs directly on stdin/stdout.
package realdialog

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/fieldterm/fieldterm/internal/ports"
)

// Provider implements ports.DialogProvider with an inline huh form.
type Provider struct{}

// New returns a new TUI dialog provider.
func New() *Provider {
	return &Provider{}
}

// AskSecret prompts for a masked secret on the controlling terminal.
func (p *Provider) AskSecret(prompt ports.SecretPrompt) (string, error) {
	var secret string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(prompt.Title).
				Description(prompt.Description).
				EchoMode(huh.EchoModePassword).
				Value(&secret),
		),
	)

	if err := form.Run(); err != nil {
		return "", fmt.Errorf("secret prompt: %w", err)
	}

	return secret, nil
}

// Ensure Provider implements ports.DialogProvider.
var _ ports.DialogProvider = (*Provider)(nil)
