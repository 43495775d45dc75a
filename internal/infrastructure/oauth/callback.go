package oauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// CallbackResult is what the provider redirect delivered to the
// loopback listener.
type CallbackResult struct {
	Code  string
	State string
}

// CallbackServer is a single-shot loopback HTTP listener for the OAuth
// redirect during interactive (CLI) flows. It accepts exactly one
// callback, renders a small done page for the browser and shuts down.
type CallbackServer struct {
	srv      *http.Server
	listener net.Listener
	results  chan CallbackResult
	errs     chan error
}

// NewCallbackServer binds the loopback address. Pass port 0 to let the
// kernel pick; RedirectURI reports the resulting address for the
// authorization request.
func NewCallbackServer(port int) (*CallbackServer, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind oauth callback listener: %w", err)
	}

	cs := &CallbackServer{
		listener: ln,
		results:  make(chan CallbackResult, 1),
		errs:     make(chan error, 1),
	}

	r := chi.NewRouter()
	r.Get("/callback", cs.handleCallback)
	cs.srv = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := cs.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case cs.errs <- err:
			default:
			}
		}
	}()

	return cs, nil
}

// RedirectURI is the redirect_uri to register with the provider for
// this flow.
func (cs *CallbackServer) RedirectURI() string {
	return fmt.Sprintf("http://%s/callback", cs.listener.Addr().String())
}

func (cs *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		http.Error(w, "Authorization failed: "+errCode, http.StatusBadRequest)
		select {
		case cs.errs <- fmt.Errorf("provider returned error %q", errCode):
		default:
		}
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		http.Error(w, "Missing code or state", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html><html><body style="font-family:sans-serif;text-align:center;padding-top:4em">
<h2>Signed in</h2><p>You can close this tab and return to the terminal.</p>
</body></html>`)

	select {
	case cs.results <- CallbackResult{Code: code, State: state}:
	default:
		// A second callback on the same flow is dropped.
	}
}

// Wait blocks until the redirect arrives, the context expires or the
// listener fails. Callers typically wrap the context with a timeout in
// the minutes range; users are slow in browsers.
func (cs *CallbackServer) Wait(ctx context.Context) (CallbackResult, error) {
	select {
	case res := <-cs.results:
		return res, nil
	case err := <-cs.errs:
		return CallbackResult{}, err
	case <-ctx.Done():
		return CallbackResult{}, ctx.Err()
	}
}

// Close shuts the listener down, waiting briefly for an in-flight
// response to finish.
func (cs *CallbackServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return cs.srv.Shutdown(ctx)
}
