// Package rotation changes the secret of a web account by driving a browser
// through the site's own login and password-change forms.
//
// # Procedure
//
// A Procedure performs one rotation per call, against one Target, for one
// Credential:
//
//  1. Acquire a Session from the Opener. Close is deferred immediately, so
//     the session is released on every exit path.
//  2. Open the login surface, fill the identity and secret fields, submit.
//  3. Poll for the login_success locator (or login_rejected) with a bounded
//     timeout. There are no fixed sleeps anywhere in the flow.
//  4. Open the rotation surface (ChangeURL, or stay on the current page),
//     clicking rotation_open first when the form sits behind a button.
//  5. Re-enter the current secret when the target asks for it. With
//     reverify_submit it is submitted on its own, and the new secret fields
//     are located on the page that follows.
//  6. Generate a new secret from the Policy and hand it to the escrow hook.
//  7. Type the new secret, and its confirmation when the target has one.
//  8. Submit the rotation form.
//  9. Poll for rotation_success (or rotation_rejected) and report.
//
// # Errors
//
// Every failure is one of a small set of typed errors, classified by Kind:
//
//   - *SessionAcquisitionError: no browser session could be opened.
//   - *ElementTimeoutError: a locator never matched within its bound.
//   - *AuthenticationRejectedError: the login surface showed its rejection signal.
//   - *RotationRejectedError: the rotation surface showed its rejection signal.
//   - *AmbiguousRotationStateError: the rotation form was submitted but
//     neither signal was observed. The new secret may or may not be live.
//
// Nothing is retried. Resubmitting a rotation whose outcome is unknown can
// rotate the account twice and leave the caller holding the wrong secret.
//
// # Usage
//
//	proc := rotation.NewProcedure(browser.NewOpener(cfg.Browser, logger), logger,
//	    rotation.WithEscrow(func(ctx context.Context, secret string) error {
//	        return pending.Store(ctx, secret)
//	    }),
//	)
//
//	result, err := proc.Rotate(ctx, target, rotation.Credential{
//	    Site:     target.Name,
//	    Identity: "alice@example.com",
//	    Secret:   current,
//	})
//	if err != nil {
//	    switch rotation.Kind(err) {
//	    case rotation.KindAmbiguous:
//	        // result.NewSecret may be the live secret now
//	    }
//	}
//
// # Security Considerations
//
//   - Secrets travel as *secure.Buffer and are revealed only for the keystroke.
//   - Never log secret values (use logging.Secret).
//   - Errors and step records never carry secret material.
package rotation
