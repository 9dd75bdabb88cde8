package blastercli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/droned/droned/internal/blaster"
	"github.com/droned/droned/internal/security"
)

var (
	sendHosts       string
	sendHostFile    string
	sendOutFile     string
	sendKeyDir      string
	sendSignerID    string
	sendTimeout     float64
	sendDefaultPort int
	sendDebug       bool
	sendContentType string
)

func init() {
	sendCmd.Flags().StringVarP(&sendHosts, "hosts", "h", "", "comma-separated host[:port] list")
	sendCmd.Flags().StringVarP(&sendHostFile, "hostfile", "f", "", "file of host[:port], one per line")
	sendCmd.Flags().StringVarP(&sendOutFile, "outfile", "o", "", "write per-peer results here instead of stdout")
	sendCmd.Flags().StringVarP(&sendKeyDir, "keys", "k", "", "keyring directory")
	sendCmd.Flags().Float64VarP(&sendTimeout, "timeout", "t", 120, "broadcast timeout in seconds")
	sendCmd.Flags().IntVarP(&sendDefaultPort, "port", "p", 5500, "default port for bare hostnames")
	sendCmd.Flags().BoolVarP(&sendDebug, "debug", "d", false, "verbose logging")
	sendCmd.Flags().StringVar(&sendSignerID, "id", "", "signer id to sign the command as")
	sendCmd.Flags().StringVar(&sendContentType, "content-type", blaster.ContentTypeJSON, "wire content type")
	sendCmd.MarkFlagRequired("keys") //nolint:errcheck
	sendCmd.MarkFlagRequired("id")   //nolint:errcheck
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send \"action [args...]\"",
	Short: "Send a signed action to one or more droned peers and print each result",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSend,
}

// runSend implements the blaster client CLI surface: it resolves the peer
// list from -h/-f, sends one action string to every peer, prints (or
// writes to -o) each peer's result, then exits with the sum of the
// absolute values of every peer's code — 0 iff every peer reported
// success (spec §6, CLI surface of the blaster client).
func runSend(cmd *cobra.Command, args []string) error {
	action, argstr := splitActionArgstr(strings.Join(args, " "))

	peers, err := resolvePeers()
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return fmt.Errorf("no peers given: use -h or -f")
	}

	log := zerolog.Nop()
	if sendDebug {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel)
	}

	kr, err := security.NewKeyring(sendKeyDir, log)
	if err != nil {
		return fmt.Errorf("load keyring: %w", err)
	}

	client := blaster.NewClient(kr, sendSignerID, log)
	client.SetTimeouts(0, time.Duration(sendTimeout*float64(time.Second)))

	results := client.Broadcast(context.Background(), peers, action, argstr, sendContentType)

	out := os.Stdout
	if sendOutFile != "" {
		f, err := os.Create(sendOutFile)
		if err != nil {
			return fmt.Errorf("open outfile: %w", err)
		}
		defer f.Close()
		out = f
	}

	exitCode := 0
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(out, "%s: error: %v\n", r.Peer, r.Err)
			exitCode++
			continue
		}
		fmt.Fprintf(out, "%s: [%d] %s\n", r.Peer, r.Result.Code, r.Result.Description)
		if r.Result.Code < 0 {
			exitCode += -r.Result.Code
		} else {
			exitCode += r.Result.Code
		}
	}

	os.Exit(exitCode)
	return nil
}

// splitActionArgstr splits the joined CLI words into the action token and
// its remaining argstr, the inverse of the dispatcher's own
// first-whitespace-token split.
func splitActionArgstr(s string) (action, argstr string) {
	s = strings.TrimSpace(s)
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx+1:])
}

// resolvePeers builds the peer URL list from -h (comma-separated) and/or
// -f (one host[:port] per line, blanks and "#" comments ignored),
// defaulting any bare hostname to sendDefaultPort and to http://.
func resolvePeers() ([]string, error) {
	var hosts []string

	if sendHosts != "" {
		for _, h := range strings.Split(sendHosts, ",") {
			h = strings.TrimSpace(h)
			if h != "" {
				hosts = append(hosts, h)
			}
		}
	}

	if sendHostFile != "" {
		f, err := os.Open(sendHostFile)
		if err != nil {
			return nil, fmt.Errorf("open hostfile: %w", err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			hosts = append(hosts, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read hostfile: %w", err)
		}
	}

	peers := make([]string, 0, len(hosts))
	for _, h := range hosts {
		peers = append(peers, normalizePeer(h))
	}
	return peers, nil
}

// normalizePeer turns a bare "host" or "host:port" into a full base URL,
// adding sendDefaultPort and the http scheme when they're missing.
func normalizePeer(h string) string {
	if strings.HasPrefix(h, "http://") || strings.HasPrefix(h, "https://") {
		return strings.TrimSuffix(h, "/")
	}
	if _, _, err := splitHostPort(h); err == nil {
		return "http://" + h
	}
	return fmt.Sprintf("http://%s:%d", h, sendDefaultPort)
}

// splitHostPort reports whether h already carries an explicit ":<port>".
func splitHostPort(h string) (host string, port int, err error) {
	idx := strings.LastIndex(h, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("no port")
	}
	p, err := strconv.Atoi(h[idx+1:])
	if err != nil {
		return "", 0, err
	}
	return h[:idx], p, nil
}
