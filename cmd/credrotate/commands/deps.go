package commands

import (
	"github.com/systmms/credrotate/internal/browser"
	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/logging"
	"github.com/systmms/credrotate/internal/secretstores"
	"github.com/systmms/credrotate/pkg/rotation"
)

// Deps are the collaborators commands are built with. Tests replace the
// opener so no browser is needed.
type Deps struct {
	NewOpener func(cfg config.Browser, logger *logging.Logger) rotation.Opener
	Registry  *secretstores.Registry
	Generate  func(rotation.Policy) (string, error)
}

// DefaultDeps drives a real Chrome through chromedp.
func DefaultDeps() Deps {
	return Deps{
		NewOpener: func(cfg config.Browser, logger *logging.Logger) rotation.Opener {
			return browser.NewOpener(cfg, logger)
		},
		Registry: secretstores.NewRegistry(),
		Generate: rotation.Generate,
	}
}
