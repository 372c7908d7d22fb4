/*
Package authsdk is a Go client for the authcore HTTP API.

# Client vs Session

SDKClient covers the public endpoints: registration, login, email
verification, password reset and health. A successful login returns a
Session, which carries the token pair and calls the authenticated endpoints.

	client := authsdk.NewSDKClient("https://auth.example.com")

	_, err := client.Register(ctx, authsdk.RegisterRequest{Email: "a@b.com", Password: "Passw0rd!"})

	session, err := client.Login(ctx, "a@b.com", "Passw0rd!")
	var mfa *authsdk.MFARequiredError
	if errors.As(err, &mfa) {
		session, err = client.CompleteMFA(ctx, mfa.MFAToken, code)
	}

	me, err := session.Me(ctx)

# Token refresh

Sessions refresh their access token shortly before it expires, and once more
if the server rejects it with 401. Refresh tokens rotate on every use, so a
Session must not be shared with another process holding the same tokens.

# Errors

Every non-2xx response is returned as *APIError carrying the status code,
the error code and any field-level validation messages. Login against an
MFA-enabled account returns *MFARequiredError instead of a Session.
*/
package authsdk
