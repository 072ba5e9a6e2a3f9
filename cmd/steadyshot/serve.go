package main

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ayusman/steadyshot/internal/app"
	"github.com/ayusman/steadyshot/internal/scan"
	"github.com/ayusman/steadyshot/internal/server"
	"github.com/ayusman/steadyshot/internal/server/api"
	"github.com/ayusman/steadyshot/internal/store"
	"github.com/ayusman/steadyshot/internal/tray"
)

var (
	serveAddr   string
	serveWebDir string
	serveNoTray bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture session with the web UI and tray",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), rootOpts)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", ":8080", "HTTP listen address ($STEADYSHOT_ADDR)")
	serveCmd.Flags().StringVar(&serveWebDir, "web-dir", "", "Static web UI directory ($STEADYSHOT_WEB_DIR)")
	serveCmd.Flags().BoolVar(&serveNoTray, "no-tray", false, "Do not show the system tray icon")

	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, opts Options) error {
	fmt.Println("SteadyShot - Hands-free capture")

	// The gallery only lives as long as the session
	st, err := store.New(store.MemoryDSN)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()

	session, err := newSession(opts, func(res scan.Result) {
		c := &store.Capture{
			Mode:      string(res.Mode),
			Width:     res.Width,
			Height:    res.Height,
			Manual:    res.Manual,
			Timestamp: res.Timestamp,
			Image:     res.Image,
		}
		if err := st.Captures().Add(c); err != nil {
			log.Printf("Error saving capture: %v", err)
			return
		}
		log.Printf("Saved %s as %s", c.FileName(), c.ID)
	})
	if err != nil {
		return err
	}

	if err := st.Settings().Set(store.KeyMode, string(session.Mode())); err != nil {
		log.Printf("Error saving mode setting: %v", err)
	}

	// A failed start leaves the session in ERROR, which the UI reports
	if err := session.Start(); err != nil {
		log.Printf("Capture session failed to start: %v", err)
	}
	defer session.Stop()

	webDir := serveWebDir
	if webDir == "" {
		webDir = findWebDir()
	}
	if webDir != "" {
		fmt.Printf("Serving static files from: %s\n", webDir)
	}

	srv := server.New(server.Config{
		StaticDir: webDir,
		Store:     st,
		Session:   session,
	})

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Starting server on %s\n", serveAddr)
		errCh <- srv.ListenAndServe(serveAddr)
	}()

	if serveNoTray {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		}
	}

	t := newTray(ctx, session, st)
	go func() {
		select {
		case <-ctx.Done():
		case err := <-errCh:
			log.Printf("Server failed: %v", err)
		}
		t.Quit()
	}()

	// The tray owns the main thread until Quit
	t.Run()
	return nil
}

// newTray wires tray menu actions to the session.
func newTray(ctx context.Context, session *app.Session, st *store.Store) *tray.Tray {
	t := tray.New(session.Mode())
	actions := &trayActions{ctx: ctx, session: session, store: st}

	t.OnMode(actions.switchMode)
	t.OnCapture(actions.capture)
	t.OnOpen(actions.open)
	t.OnQuit(actions.quit)

	updates, _ := session.Subscribe()
	go t.Follow(updates)

	return t
}

// trayActions are the tray menu callbacks.
type trayActions struct {
	ctx     context.Context
	session *app.Session
	store   *store.Store
}

func (a *trayActions) switchMode(mode scan.Mode) {
	if err := a.session.SetMode(mode); err != nil {
		log.Printf("Error switching to %s: %v", mode, err)
		if prev, err := api.RestoreMode(a.session, a.store, mode); err != nil {
			log.Printf("Error restoring previous mode: %v", err)
		} else if prev != "" {
			log.Printf("Restored %s mode", prev)
		}
		return
	}
	if err := a.store.Settings().Set(store.KeyMode, string(mode)); err != nil {
		log.Printf("Error saving mode setting: %v", err)
	}
}

func (a *trayActions) capture() {
	ctx, cancel := context.WithTimeout(a.ctx, api.TriggerTimeout)
	defer cancel()
	if _, err := a.session.Trigger(ctx); err != nil {
		log.Printf("Manual capture: %v", err)
	}
}

func (a *trayActions) open() {
	if err := openBrowser(localURL(serveAddr)); err != nil {
		log.Printf("Error opening browser: %v", err)
	}
}

// quit releases the camera right away; the tray closes once the callback returns.
func (a *trayActions) quit() {
	log.Println("Quit requested from tray")
	a.session.Stop()
}

// localURL turns a listen address into a browsable URL.
func localURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
