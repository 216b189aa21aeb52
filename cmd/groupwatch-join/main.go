// Command groupwatch-join follows one invitation join from a terminal: it
// submits or resumes the request, waits for the admin review, prints the
// authorization link once one is issued, and reports the final outcome.
//
// State is saved per invitation code, so an interrupted run picks up where
// it left off when started again with the same code.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"groupwatch/services/joinapi"
	"groupwatch/services/joinflow"
	"groupwatch/services/stremio"
)

func main() {
	server := flag.String("server", envOrDefault("GROUPWATCH_SERVER", "http://localhost:8460"), "groupwatch server URL")
	code := flag.String("code", strings.TrimSpace(os.Getenv("GROUPWATCH_CODE")), "invitation code")
	email := flag.String("email", "", "email for a new join request")
	username := flag.String("username", "", "username for a new join request")
	stateDir := flag.String("state-dir", envOrDefault("GROUPWATCH_STATE_DIR", defaultStateDir()), "directory for resumable join state")
	providerURL := flag.String("provider-url", "", "Stremio link service URL override")
	providerOrigin := flag.String("provider-origin", "", "Origin header sent to the link service")
	verbose := flag.Bool("verbose", false, "log engine activity to stderr")
	flag.Parse()

	if strings.TrimSpace(*code) == "" {
		fmt.Fprintln(os.Stderr, "an invitation code is required (-code or GROUPWATCH_CODE)")
		flag.Usage()
		os.Exit(2)
	}

	engineLog := log.New(io.Discard, "", 0)
	if *verbose {
		engineLog = log.New(os.Stderr, "", log.LstdFlags)
	}

	store, err := joinflow.NewIdentityStore(afero.NewOsFs(), *stateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "state directory: %v\n", err)
		os.Exit(1)
	}

	eng, err := joinflow.NewEngine(joinflow.Options{
		API:            joinapi.NewClient(strings.TrimRight(*server, "/") + "/api"),
		Links:          stremio.NewClient(stremio.Config{LinkBaseURL: *providerURL, Origin: *providerOrigin}),
		Store:          store,
		InvitationCode: strings.TrimSpace(*code),
		Notifier:       &consoleNotifier{out: os.Stdout},
		Logger:         engineLog,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	identity, err := eng.Resume()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not read saved state: %v\n", err)
		os.Exit(1)
	}

	// A saved request resumes unless a different email was given, which
	// starts the flow over with the new identity.
	if identity.Submitted && (*email == "" || strings.EqualFold(identity.Email, *email)) {
		fmt.Printf("Resuming the join request for %s.\n", identity.Email)
	} else {
		if *email == "" || *username == "" {
			fmt.Fprintln(os.Stderr, "no resumable request found; -email and -username are required to submit one")
			flag.Usage()
			os.Exit(2)
		}
		if err := eng.Submit(*email, *username); err != nil {
			fmt.Fprintf(os.Stderr, "submit failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Join request submitted for %s.\n", *email)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan runResult, 1)
	go func() {
		st, err := eng.Run(ctx)
		done <- runResult{state: st, err: err}
	}()

	// The engine reports states; minting links is this process's job. A new
	// link is requested whenever the request sits accepted without a usable
	// one, which also covers withdrawn and expired links. A failed mint is
	// retried on the next tick.
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case res := <-done:
			finish(res)
		case <-ticker.C:
			switch eng.State() {
			case joinflow.StateAcceptedNoLink, joinflow.StateRenewed, joinflow.StateLinkExpired:
				if _, err := eng.GenerateLink(); err != nil {
					fmt.Fprintf(os.Stderr, "could not generate an authorization link: %v\n", err)
				}
			}
		}
	}
}

type runResult struct {
	state joinflow.State
	err   error
}

func finish(res runResult) {
	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			fmt.Println("\nInterrupted. Run again with the same invitation code to resume.")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "%v\n", res.err)
		os.Exit(1)
	}
	if res.state == joinflow.StateCompleted {
		os.Exit(0)
	}
	os.Exit(1)
}

// consoleNotifier renders engine output for a terminal. States narrate
// progress; notices arrive as finished sentences and are printed as-is.
type consoleNotifier struct {
	out io.Writer
}

func (n *consoleNotifier) State(st joinflow.State, snap *joinflow.Snapshot) {
	switch st {
	case joinflow.StatePending:
		fmt.Fprintln(n.out, "Waiting for an admin to review the request...")
	case joinflow.StateAcceptedNoLink:
		fmt.Fprintln(n.out, "Request accepted. Preparing an authorization link...")
	case joinflow.StateRenewed:
		fmt.Fprintln(n.out, "The authorization link was withdrawn. Preparing a new one...")
	case joinflow.StateAcceptedWithLink:
		if snap == nil {
			return
		}
		fmt.Fprintf(n.out, "\nOpen this link and sign in with your Stremio account:\n\n    %s\n\n", snap.Link())
		if snap.OAuthExpiresAt != nil {
			fmt.Fprintf(n.out, "The link expires at %s.\n", snap.OAuthExpiresAt.Local().Format(time.Kitchen))
		}
	case joinflow.StateLinkExpired:
		fmt.Fprintln(n.out, "The authorization link expired. Preparing a new one...")
	case joinflow.StateRejected:
		fmt.Fprintln(n.out, "The request was rejected by an admin.")
	case joinflow.StateCompleted:
		if snap != nil && snap.GroupName != "" {
			fmt.Fprintf(n.out, "Membership complete. Welcome to %s.\n", snap.GroupName)
		} else {
			fmt.Fprintln(n.out, "Membership complete.")
		}
	case joinflow.StateEmailMismatch:
		fmt.Fprintln(n.out, "The authorized Stremio account does not match the request email.")
	case joinflow.StateNotFound:
		fmt.Fprintln(n.out, "The join request no longer exists on the server. Saved state was cleared; run again with -email and -username to submit a new one.")
	case joinflow.StateInvitationDisabled:
		fmt.Fprintln(n.out, "The invitation is currently disabled. The request is kept; try again later.")
	}
}

func (n *consoleNotifier) Notice(level joinflow.NoticeLevel, message string) {
	if level == joinflow.NoticeError {
		fmt.Fprintf(os.Stderr, "error: %s\n", message)
		return
	}
	fmt.Fprintln(n.out, message)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

// defaultStateDir puts resumable state under the user config directory so a
// rerun finds it regardless of the working directory.
func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "groupwatch", "join")
	}
	return ".groupwatch"
}
