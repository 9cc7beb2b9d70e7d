// Command `suspscale-server` runs the suspension scale web UI + HTTP API
// locally.
//
// It serves static assets from `-web` (defaults to `./web`) and exposes JSON
// APIs + WebSocket streams used by the frontend to connect to the controller,
// capture calibration points, fit models, tare, and flash firmware.
//
// Flags:
//
//	-addr: TCP address to listen on (default 127.0.0.1:8080)
//	-web:  path to web root containing index.html
//	-open: open the UI URL in your default browser at startup
//
// Env:
//
//	SUSPSCALE_NO_OPEN=1 disables browser auto-open even when -open is set.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/CK6170/suspscale-go/internal/server"
	"github.com/CK6170/suspscale-go/pipeline"
	"github.com/CK6170/suspscale-go/scale"
)

func main() {
	var (
		addr = flag.String("addr", "127.0.0.1:8080", "http listen address")
		web  = flag.String("web", "./web", "path to web root (index.html)")
		open = flag.Bool("open", false, "open the web UI in your default browser on startup")
	)
	flag.Parse()

	// Resolve the web directory to an absolute path so logging and
	// FileServer behavior are consistent regardless of cwd.
	webDir, err := filepath.Abs(*web)
	if err != nil {
		log.Fatalf("Failed to resolve web directory: %v", err)
	}
	if st, err := os.Stat(webDir); err != nil || !st.IsDir() {
		log.Fatalf("Web directory does not exist: %s", webDir)
	}

	session := scale.New(pipeline.DefaultFilterConfig)
	s := server.New(webDir, session)

	// Bind the listen address early so we fail fast if the port is in use.
	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", *addr, err)
	}

	uiURL := makeUIURL(*addr)
	log.Printf("Serving on http://%s", *addr)
	log.Printf("UI:        %s", uiURL)

	if *open && os.Getenv("SUSPSCALE_NO_OPEN") == "" {
		if err := openBrowser(uiURL); err != nil {
			log.Printf("WARN: failed to open browser: %v", err)
		}
	}

	if err := http.Serve(ln, s.Handler()); err != nil {
		fmt.Println(err)
	}
}

// makeUIURL turns a listen address (host:port) into a browser-friendly URL.
// Wildcard binds (0.0.0.0 / ::) are rewritten to 127.0.0.1 because they are
// not reachable targets in browsers.
func makeUIURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Sprintf("http://%s/", strings.TrimSpace(addr))
	}
	if host == "" || host == "0.0.0.0" || host == "::" || host == "[::]" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%s/", host, port)
}

// openBrowser tries to open the given URL in the OS default browser. It is
// non-blocking (Start, not Run) so server startup is not delayed.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "windows":
		// `start` is a cmd.exe built-in. The empty title argument prevents
		// quoting issues.
		return exec.Command("cmd", "/c", "start", "", url).Start()
	case "darwin":
		return exec.Command("open", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
