package ports

// SecretPrompt describes a credential request presented to the user.
type SecretPrompt struct {
	Title       string // e.g. "SSH password"
	Description string // e.g. "user@host"
}

// DialogProvider abstracts interactive user dialogs.
// Implementations may use TUI forms, native OS dialogs, or test fakes.
type DialogProvider interface {
	// AskSecret prompts the user for a masked secret (password, passphrase).
	AskSecret(prompt SecretPrompt) (string, error)
}
