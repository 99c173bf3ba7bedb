package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowTokenGuide prints how to obtain an app-only bearer token.
func ShowTokenGuide(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "API BEARER TOKEN")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "postpulse reads the v1.1 REST API with an app-only bearer token.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 1: Open the developer portal and select (or create) a project app.")
	fmt.Fprintln(w, "STEP 2: Under 'Keys and tokens', generate the Bearer Token.")
	fmt.Fprintln(w, "STEP 3: Run `postpulse auth login` and paste the token when asked.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The token is kept in the system keychain when one is available, otherwise")
	fmt.Fprintln(w, "in an encrypted file under your config directory. For CI, set")
	fmt.Fprintf(w, "%s instead.\n", TokenEnv)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Rate limits are per app: friends/list allows 15 calls and")
	fmt.Fprintln(w, "statuses/user_timeline 1500 calls per 15 minute window.")
	fmt.Fprintln(w, strings.Repeat("=", 72))
}
