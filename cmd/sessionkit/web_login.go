package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/auditdeck/sessionkit/internal/callback"
	"github.com/auditdeck/sessionkit/internal/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// callbackPage moves fragment parameters into the query string so the
// loopback listener can see them. Implicit-flow providers return the token
// in the URL fragment, which browsers never send to the server.
const callbackPage = `<!DOCTYPE html>
<html><body><script>
var params = window.location.hash ? window.location.hash.substring(1) : window.location.search.substring(1);
window.location.replace("/callback/done" + (params ? "?" + params : ""));
</script></body></html>`

const resultPage = `<!DOCTYPE html>
<html><body><h3>%s</h3><p>You can close this window and return to the terminal.</p></body></html>`

// runWebLogin drives the external provider hop: start a loopback
// listener, send the browser to the identity service's authorize
// endpoint, and reconcile the redirect that comes back.
func runWebLogin(cmd *cobra.Command, a *app, provider, listen string) error {
	attemptID := uuid.NewString()

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("failed to start callback listener: %w", err)
	}

	callbackURL := fmt.Sprintf("http://%s/callback", ln.Addr().String())
	authorizeURL := a.identity.AuthorizeURL(provider, callbackURL)

	results := make(chan callback.Result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, callbackPage)
	})
	mux.HandleFunc("/callback/done", func(w http.ResponseWriter, r *http.Request) {
		// A fresh reconciler per request is safe: the attempt phase lives
		// in the callback cache, so a duplicate request observes it
		// instead of re-exchanging the single-use token.
		nav := &httpNavigator{w: w, r: r}
		rec := callback.NewReconciler(a.store, a.manager, nav, a.cfg.DashboardURL)

		result := rec.Reconcile(r.Context(), "http://"+r.Host+r.URL.String())
		switch result.Status {
		case callback.StatusFailed:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, resultPage, "Login failed: "+result.Message)
		case callback.StatusInFlight:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprintf(w, resultPage, "Login is completing in another window.")
			return
		case callback.StatusExchanged:
			if !nav.wrote {
				// Replayed request after completion; nothing redirected it
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				fmt.Fprintf(w, resultPage, "Signed in.")
			}
		}

		select {
		case results <- result:
		default:
		}
	})

	server := &http.Server{Handler: mux}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogErrorWithFields("cli", "Callback listener failed", map[string]any{
				"attempt": attemptID,
				"error":   err.Error(),
			})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.LogInfoWithFields("cli", "Starting external provider login", map[string]any{
		"attempt":  attemptID,
		"provider": provider,
		"callback": callbackURL,
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Opening your browser to sign in with %s.\n", provider)
	fmt.Fprintf(cmd.OutOrStdout(), "If it does not open, visit:\n\n  %s\n\n", authorizeURL)
	openBrowser(authorizeURL)

	select {
	case result := <-results:
		if result.Status == callback.StatusFailed {
			return fmt.Errorf("login failed: %s", result.Message)
		}
		state := a.manager.State()
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (role: %s)\n", state.User.Email, state.User.Role)
		return nil
	case <-cmd.Context().Done():
		return cmd.Context().Err()
	}
}

// httpNavigator adapts the pending callback response to the reconciler's
// navigation contract. The loopback page is transient, so there is no
// address bar to scrub.
type httpNavigator struct {
	w     http.ResponseWriter
	r     *http.Request
	wrote bool
}

func (n *httpNavigator) ReplaceURL(string) {}

func (n *httpNavigator) Navigate(destURL string) {
	n.wrote = true
	http.Redirect(n.w, n.r, destURL, http.StatusFound)
}

// openBrowser makes a best-effort attempt to open url in the default
// browser; the URL is always printed as a fallback.
func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.LogDebugWithFields("cli", "Could not open browser", map[string]any{
			"error": err.Error(),
		})
	}
}
