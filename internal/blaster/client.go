package blaster

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/droned/droned/internal/domain"
	"github.com/droned/droned/internal/security"
)

// Default timeouts for the two fan-out phases, per spec §4.5.
const (
	DefaultPrimeTimeout     = 5 * time.Second
	DefaultBroadcastTimeout = 120 * time.Second
)

// MaxConcurrentCommands bounds how many outbound commands may be in
// flight to peers at once, across every peer combined — the blaster
// client's mirror of dispatch.MaxConcurrentCommands, which bounds inbound
// action execution instead. Spec §8: "outbound commands in flight across
// all servers <= MAX_CONCURRENT_COMMANDS".
const MaxConcurrentCommands = 5

// PeerResult pairs one peer with the outcome of a broadcast.
type PeerResult struct {
	Peer   string
	Result Result
	Err    error
}

// Client fans a single signed command out to a set of peers using the
// blaster two-phase protocol, the way the teacher's network.Fabric fans a
// request out to its gossip membership and aggregates per-peer outcomes.
type Client struct {
	httpClient       *http.Client
	keyring          *security.Keyring
	signerID         string
	primeTimeout     time.Duration
	broadcastTimeout time.Duration
	log              zerolog.Logger

	outbound chan struct{}
	peers    sync.Map // peer string -> *peerQueue
}

// peerQueue serializes outbound delivery to one peer: commands destined
// for the same peer run one at a time rather than concurrently. It is a
// plain sync.Mutex, so waiting commands are not guaranteed to run in the
// order they were submitted.
type peerQueue struct {
	mu sync.Mutex
}

// NewClient creates a client that signs outgoing commands as signerID.
func NewClient(kr *security.Keyring, signerID string, log zerolog.Logger) *Client {
	return &Client{
		httpClient:       &http.Client{},
		keyring:          kr,
		signerID:         signerID,
		primeTimeout:     DefaultPrimeTimeout,
		broadcastTimeout: DefaultBroadcastTimeout,
		log:              log.With().Str("component", "blaster-client").Logger(),
		outbound:         make(chan struct{}, MaxConcurrentCommands),
	}
}

// queueFor returns the per-peer queue for peer, creating one on first use.
func (c *Client) queueFor(peer string) *peerQueue {
	v, _ := c.peers.LoadOrStore(peer, &peerQueue{})
	return v.(*peerQueue)
}

// SetTimeouts overrides the default per-phase timeouts.
func (c *Client) SetTimeouts(prime, broadcast time.Duration) {
	if prime > 0 {
		c.primeTimeout = prime
	}
	if broadcast > 0 {
		c.broadcastTimeout = broadcast
	}
}

// Broadcast runs the full two-phase protocol against peers: gather primes
// from every reachable peer (phase 1), sign one envelope whose magic is the
// product of the ready peers' primes, and deliver it to each of them in
// parallel (phase 2). Peers that fail phase 1 are reported as errors and
// never receive the command.
func (c *Client) Broadcast(ctx context.Context, peers []string, action, argstr, contentType string) []PeerResult {
	ready, failed := c.gatherPrimes(ctx, peers)

	results := make([]PeerResult, 0, len(peers))
	for peer, err := range failed {
		results = append(results, PeerResult{Peer: peer, Err: err})
	}

	if len(ready) == 0 {
		return results
	}

	magic := c.combinedMagic(ready)
	env, err := c.buildEnvelope(magic, action, argstr)
	if err != nil {
		for peer := range ready {
			results = append(results, PeerResult{Peer: peer, Err: err})
		}
		return results
	}

	body, err := EncodeEnvelope(contentType, env)
	if err != nil {
		for peer := range ready {
			results = append(results, PeerResult{Peer: peer, Err: err})
		}
		return results
	}

	bctx, cancel := context.WithTimeout(ctx, c.broadcastTimeout)
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for peer := range ready {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			res, err := c.deliverQueued(bctx, peer, contentType, body)
			mu.Lock()
			results = append(results, PeerResult{Peer: peer, Result: res, Err: err})
			mu.Unlock()
		}(peer)
	}
	wg.Wait()

	return results
}

// deliverQueued delivers body to peer through that peer's queue (never
// two commands in flight to the same peer at once) and the
// client-wide MaxConcurrentCommands semaphore (never more than that many
// commands in flight to any peer combined).
func (c *Client) deliverQueued(ctx context.Context, peer, contentType string, body []byte) (Result, error) {
	q := c.queueFor(peer)
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case c.outbound <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-c.outbound }()

	return c.deliver(ctx, peer, contentType, body)
}

// gatherPrimes runs phase 1: a concurrent GET /_getprime against every
// peer, bounded by primeTimeout each, partitioning peers into those that
// answered and those that didn't.
func (c *Client) gatherPrimes(ctx context.Context, peers []string) (map[string]uint32, map[string]error) {
	ready := make(map[string]uint32)
	failed := make(map[string]error)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, peer := range peers {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, c.primeTimeout)
			defer cancel()

			prime, err := c.getPrime(pctx, peer)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[peer] = err
				return
			}
			ready[peer] = prime
		}(peer)
	}
	wg.Wait()
	return ready, failed
}

func (c *Client) getPrime(ctx context.Context, peer string) (uint32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peer+"/_getprime", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrPeerUnreachable, peer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %s returned %d", domain.ErrPeerUnreachable, peer, resp.StatusCode)
	}

	buf := make([]byte, 32)
	n, _ := resp.Body.Read(buf)
	prime, err := parsePrimeBody(buf[:n])
	if err != nil {
		return 0, fmt.Errorf("%w: %s: invalid prime body", domain.ErrPeerUnreachable, peer)
	}
	return uint32(prime), nil
}

// combinedMagic is the product of every ready peer's prime — any one of
// them divides it, so any one peer's PrimePool.Validate call succeeds.
func (c *Client) combinedMagic(ready map[string]uint32) *big.Int {
	magic := big.NewInt(1)
	for _, prime := range ready {
		magic.Mul(magic, new(big.Int).SetUint64(uint64(prime)))
	}
	return magic
}

func (c *Client) buildEnvelope(magic *big.Int, action, argstr string) (Envelope, error) {
	now := time.Now().Unix()
	magicBytes := magic.Bytes()

	digestInput := CanonicalDigestInput(magicBytes, now, action, argstr)
	sum := sha1.Sum(digestInput)
	digestHex := fmt.Sprintf("%x", sum)

	signature, err := c.keyring.PrivateEncrypt(c.signerID, []byte(digestHex))
	if err != nil {
		return Envelope{}, fmt.Errorf("sign command: %w", err)
	}

	return Envelope{
		Action:    action,
		Argstr:    argstr,
		Magic:     magicBytes,
		Time:      now,
		Key:       c.signerID,
		Signature: signature,
	}, nil
}

func (c *Client) deliver(ctx context.Context, peer, contentType string, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer+"/_command", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", domain.ErrPeerUnreachable, peer, err)
	}
	defer resp.Body.Close()

	respBody := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(chunk)
		respBody = append(respBody, chunk[:n]...)
		if err != nil {
			break
		}
	}

	return DecodeResult(contentType, respBody)
}
