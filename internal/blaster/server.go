package blaster

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/droned/droned/internal/domain"
	"github.com/droned/droned/internal/security"
	"github.com/droned/droned/internal/telemetry"
)

// Dispatcher is the boundary between the blaster server and the command
// dispatcher: Dispatch runs action with the given argstr and returns the
// canonical result envelope, converting any handler error into
// Result.Error/Code/Stacktrace rather than ever propagating it to the
// transport layer.
type Dispatcher interface {
	Dispatch(action, argstr string) Result
}

// Gremlin is the read-only entity introspection source behind GET
// /gremlin (the journal owns the concrete implementation).
type Gremlin interface {
	WriteSnapshot(w io.Writer) error
}

// Server is the blaster HTTP server: nonce issuance plus signed command
// delivery over a chi router (RequestID/RealIP/Recoverer/Timeout
// middleware), with envelope failures written by writeEnvelopeError.
type Server struct {
	keyring *security.Keyring
	primes  *security.PrimePool
	dispatch Dispatcher
	gremlin  Gremlin
	log      zerolog.Logger
}

// NewServer creates a blaster server.
func NewServer(kr *security.Keyring, primes *security.PrimePool, dispatch Dispatcher, gremlin Gremlin, log zerolog.Logger) *Server {
	return &Server{
		keyring:  kr,
		primes:   primes,
		dispatch: dispatch,
		gremlin:  gremlin,
		log:      log.With().Str("component", "blaster-server").Logger(),
	}
}

// Handler returns the chi router with all blaster routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/_getprime", s.handleGetPrime)
	r.Post("/_command", s.handleCommand)
	r.Get("/gremlin", s.handleGremlin)

	return r
}

// handleGetPrime issues a fresh one-shot prime, always as plain-text
// decimal ASCII with no caching.
func (s *Server) handleGetPrime(w http.ResponseWriter, r *http.Request) {
	prime := s.primes.Issue()
	telemetry.PrimesIssued.Inc()
	telemetry.PrimesActive.Set(float64(s.primes.ActiveCount()))
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprintf(w, "%d", prime)
}

// handleCommand reads the envelope, verifies it, dispatches the action,
// and writes back the result.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeEnvelopeError(w, contentType, domain.ErrUnknownContentType)
		return
	}

	env, err := DecodeEnvelope(contentType, body)
	if err != nil {
		telemetry.CommandsRejected.WithLabelValues("malformed-envelope").Inc()
		s.log.Warn().Err(err).Str("remote", remoteIP(r)).Msg("rejected malformed envelope")
		s.writeEnvelopeError(w, contentType, domain.ErrUnknownContentType)
		return
	}

	if err := s.verify(env); err != nil {
		telemetry.CommandsRejected.WithLabelValues(verifyFailureReason(err)).Inc()
		s.log.Warn().Err(err).Str("remote", remoteIP(r)).Str("key", env.SignerID()).Msg("rejected command")
		s.writeEnvelopeError(w, contentType, err)
		return
	}

	s.log.Info().
		Str("key", env.SignerID()).
		Str("remote", remoteIP(r)).
		Str("action", env.Action).
		Msg("accepted command")

	telemetry.CommandsAccepted.WithLabelValues(env.Action).Inc()
	start := time.Now()
	result := s.dispatch.Dispatch(env.Action, env.Argstr)
	telemetry.CommandLatency.WithLabelValues(env.Action).Observe(time.Since(start).Seconds())

	out, err := EncodeResult(contentType, result)
	if err != nil {
		http.Error(w, "internal encoding error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(out) //nolint:errcheck
}

// verifyFailureReason maps a verify error to a low-cardinality label for
// the commands_rejected_total metric.
func verifyFailureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrZeroMagic):
		return "zero-magic"
	case errors.Is(err, domain.ErrUnknownKey):
		return "unknown-key"
	case errors.Is(err, domain.ErrInvalidSignature):
		return "invalid-signature"
	case errors.Is(err, domain.ErrInvalidMagic):
		return "invalid-magic"
	default:
		return "other"
	}
}

// verify recomputes the digest, RSA-decrypts the signature with the
// sender's public key and compares, then validates and redeems the magic
// nonce. magic == 0 is always refused.
func (s *Server) verify(env Envelope) error {
	if env.MagicInt().Sign() == 0 {
		return domain.ErrZeroMagic
	}

	if !s.keyring.HasPublic(env.SignerID()) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownKey, env.SignerID())
	}

	input := CanonicalDigestInput(env.Magic, env.Time, env.Action, env.Argstr)
	sum := sha1.Sum(input)
	expected := fmt.Sprintf("%x", sum)

	decrypted, err := s.keyring.PublicDecrypt(env.SignerID(), env.Signature)
	if err != nil || string(decrypted) != expected {
		return domain.ErrInvalidSignature
	}

	if !s.primes.Validate(env.MagicInt()) {
		return domain.ErrInvalidMagic
	}
	telemetry.PrimesActive.Set(float64(s.primes.ActiveCount()))

	return nil
}

// writeEnvelopeError reports a generic "bad request" to the remote (code
// 1) while the specific cause stays in the local log only. The one
// exception is a rejected magic, which is reported as "Invalid Magic
// String".
func (s *Server) writeEnvelopeError(w http.ResponseWriter, contentType string, cause error) {
	result := Result{
		Code:        1,
		Description: "bad request",
		Error:       true,
	}
	if errors.Is(cause, domain.ErrInvalidMagic) {
		result.Description = "Invalid Magic String"
	}
	out, err := EncodeResult(contentType, result)
	if err != nil {
		// Content type itself was the problem — fall back to JSON.
		out, _ = EncodeResult(ContentTypeJSON, result)
		contentType = ContentTypeJSON
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(out) //nolint:errcheck
}

// handleGremlin streams a read-only snapshot of all serializable entities.
func (s *Server) handleGremlin(w http.ResponseWriter, r *http.Request) {
	if s.gremlin == nil {
		http.Error(w, "gremlin introspection not available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if err := s.gremlin.WriteSnapshot(w); err != nil {
		s.log.Error().Err(err).Msg("gremlin snapshot write failed")
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parsePrimeBody parses the decimal-ASCII body of a /_getprime response.
func parsePrimeBody(body []byte) (uint64, error) {
	return strconv.ParseUint(string(body), 10, 32)
}
