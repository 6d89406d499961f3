package httpapi

import (
	"net/http"

	"github.com/1percentsync/sakura-dispatch/internal/store"
)

// credentialFromPath parses the {credential} path wildcard into its
// (user_id, secret) parts, surfacing a malformed segment as spec.md §4.2
// step 1's 401/invalid_token rather than a generic 400.
func credentialFromPath(r *http.Request) (store.Credential, bool) {
	raw := r.PathValue("credential")
	cred, err := store.ParseCredential(raw)
	if err != nil {
		return store.Credential{}, false
	}
	return cred, true
}
