// p2plink CLI entry point.
//
// p2plink brings up a segment link between two peers over a WebRTC
// DataChannel. The host waits for a client on its signaling server and
// echoes every segment it receives; the client sends stdin lines as segments
// and prints the echoes.
//
// It can be launched interactively (no -role) or non-interactively via CLI
// flags, which override the YAML config file.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/p2plink/internal/adapter"
	"github.com/1ureka/p2plink/internal/config"
	"github.com/1ureka/p2plink/internal/device"
	"github.com/1ureka/p2plink/internal/p2p"
	"github.com/1ureka/p2plink/internal/segment"
	"github.com/1ureka/p2plink/internal/signaling"
	"github.com/1ureka/p2plink/internal/util"
)

var version = "dev"

// reconnectDelay spaces host re-arm attempts after a link goes down.
const reconnectDelay = time.Second

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// CLI flags.
	configPath := flag.String("config", "", "Path to a YAML config file")
	role := flag.String("role", "", "Role: host or client")
	listen := flag.String("listen", "", "Signaling listen address (host only), e.g. :7000")
	wsURL := flag.String("url", "", "Host signaling URL (client only), e.g. ws://10.0.0.2:7000")
	iface := flag.String("iface", "", "Network interface that must be up while connected")
	logFile := flag.String("log", "", "Also write logs to this rotating file")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	applyFlags(cfg, *role, *listen, *wsURL, *iface, *logFile, *debugMode)

	if cfg.Log.Debug {
		util.EnableDebug()
	}
	defer util.SetLogFile(cfg.Log.LogFile()).Close()

	pterm.Info.Println(fmt.Sprintf("p2plink v%s", version))
	pterm.Println()

	if cfg.Role == "" {
		askRole(cfg)
	}
	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if cfg.StatsInterval > 0 {
		util.StartStatsReporter(ctx, cfg.StatsInterval)
	}

	switch cfg.Role {
	case config.RoleHost:
		err = runHost(ctx, cfg)
	case config.RoleClient:
		err = runClient(ctx, cfg)
	}
	if err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("link closed")
}

// applyFlags overrides config values with the flags that were set.
func applyFlags(cfg *config.Config, role, listen, wsURL, iface, logFile string, debug bool) {
	if role != "" {
		cfg.Role = config.Role(role)
	}
	if listen != "" {
		cfg.Signaling.Listen = listen
	}
	if wsURL != "" {
		cfg.Signaling.URL = wsURL
	}
	if iface != "" {
		cfg.Device.Interface = iface
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}
	if debug {
		cfg.Log.Debug = true
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runHost serves the signaling server, re-arms the adapter whenever the link
// drops and echoes every received segment back to the client.
func runHost(ctx context.Context, cfg *config.Config) error {
	srv, err := signaling.Listen(cfg.Signaling.Listen)
	if err != nil {
		return err
	}
	defer srv.Close()

	host := p2p.NewHost(srv, cfg.ICEServers)
	a, err := newAdapter(ctx, cfg, host, nil)
	if err != nil {
		return err
	}

	pterm.DefaultBox.WithTitle("Signaling Server").Println(
		fmt.Sprintf("Listening on %s\nClients connect with -url ws://<this-host>:<port>", srv.Addr()))

	// Connect requests and dropped links both re-arm the adapter. A request
	// arriving while it already waits for a peer is rejected and logged.
	arm := func() {
		if ctx.Err() == nil {
			a.Connect(ctx, false)
		}
	}
	srv.OnConnectRequest(func(adapterID int) {
		if adapterID != a.ID() {
			util.LogWarning("connect request for unknown adapter %d", adapterID)
			return
		}
		arm()
	})
	// A client disconnecting on purpose is torn down here right away instead
	// of through a receive error.
	srv.OnDisconnectRequest(func(adapterID int) {
		if adapterID != a.ID() {
			util.LogWarning("disconnect request for unknown adapter %d", adapterID)
			return
		}
		a.Disconnect(ctx)
	})
	a.OnStateChange(func(id adapter.Identity, oldState, newState adapter.State) {
		if newState == adapter.StateDisconnected {
			go func() {
				time.Sleep(reconnectDelay)
				arm()
			}()
		}
	})
	arm()

	go echo(ctx, a)

	<-ctx.Done()
	shutdown(a, nil)
	return nil
}

// runClient connects to the host and relays stdin lines until EOF or Ctrl+C.
func runClient(ctx context.Context, cfg *config.Config) error {
	base, err := normalizeBaseURL(cfg.Signaling.URL)
	if err != nil {
		return err
	}

	client := p2p.NewClient(base+"/ws", cfg.ICEServers)
	notifier := &signaling.Notifier{URL: base + "/control"}
	a, err := newAdapter(ctx, cfg, client, notifier)
	if err != nil {
		return err
	}

	spinner, _ := pterm.DefaultSpinner.Start("Connecting to host...")
	if !<-a.Connect(ctx, true) {
		spinner.Fail("Connection failed")
		return fmt.Errorf("cannot connect to %s", base)
	}
	spinner.Success("Link established, type a line to send it")
	defer shutdown(a, notifier)

	go printEchoes(ctx, a)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	maxLen := a.Pool().PayloadSize()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if len(line) > maxLen {
				util.LogWarning("line truncated to %d bytes", maxLen)
				line = line[:maxLen]
			}
			if err := a.Write(ctx, uint32(len(line)), []byte(line)); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// newAdapter builds the device, pool and socket for one adapter over link.
func newAdapter(ctx context.Context, cfg *config.Config, link interface {
	adapter.P2PClient
	p2p.Link
}, signaler adapter.ConnectSignaler) (*adapter.Adapter, error) {
	var ctl device.Controller = device.AlwaysOn{}
	if cfg.Device.Interface != "" {
		ctl = device.Interface{Name: cfg.Device.Interface}
	}

	pool, err := segment.NewPool(cfg.Segments.Count, cfg.Segments.PayloadSize)
	if err != nil {
		return nil, err
	}

	return adapter.New(ctx, adapter.Options{
		ID:       cfg.Adapter.ID,
		Name:     cfg.Adapter.Name,
		Device:   device.New(cfg.Adapter.Name, ctl),
		P2P:      link,
		Socket:   p2p.NewSocket(link),
		Pool:     pool,
		Signaler: signaler,
	})
}

// shutdown disconnects the adapter if it is up, bounded by a short timeout.
// With a notifier the host is told first that the disconnect is deliberate.
func shutdown(a *adapter.Adapter, notifier *signaling.Notifier) {
	if a.State() != adapter.StateConnected {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if notifier != nil {
		if err := notifier.RequestDisconnect(ctx, a.ID()); err != nil {
			util.LogWarning("host not told about disconnect: %v", err)
		}
	}
	<-a.Disconnect(ctx)
}

// echo writes every received segment back with the same flags and length.
func echo(ctx context.Context, a *adapter.Adapter) {
	for {
		s, err := a.Read(ctx)
		if err != nil {
			return
		}
		payload := append([]byte(nil), s.Payload()...)
		seq, flagLen := s.SeqNo, s.FlagLen
		a.Pool().Free(s)

		util.LogDebug("echo seq=%d (%d bytes)", seq, flagLen)
		if err := a.Write(ctx, flagLen, payload); err != nil {
			return
		}
	}
}

// printEchoes prints the payload of every received segment. The low bits of
// FlagLen carry the payload length.
func printEchoes(ctx context.Context, a *adapter.Adapter) {
	for {
		s, err := a.Read(ctx)
		if err != nil {
			return
		}
		n := min(int(s.FlagLen), len(s.Payload()))
		pterm.Success.Printfln("echo #%d: %s", s.SeqNo, s.Payload()[:n])
		a.Pool().Free(s)
	}
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeBaseURL validates a host URL and reduces it to scheme://host.
func normalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid signaling URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host), nil
}

// askRole prompts for the role, and for the host URL on the client side.
func askRole(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host: wait for a peer and echo", "Client: connect to a host"}).
		WithDefaultText("Select your role").
		Show()
	pterm.Println()

	if strings.HasPrefix(role, "Host") {
		cfg.Role = config.RoleHost
		return
	}

	cfg.Role = config.RoleClient
	if cfg.Signaling.URL != "" {
		return
	}
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Host URL (e.g. ws://10.0.0.2:7000)").
			Show()
		pterm.Println()

		if _, err := normalizeBaseURL(raw); err == nil {
			cfg.Signaling.URL = raw
			return
		}
		util.LogWarning("invalid input: please enter a valid host or URL")
	}
}
