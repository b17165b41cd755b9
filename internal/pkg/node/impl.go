package node

import (
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/ethereum/go-ethereum/common"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"
	appcommon "github.com/vreid/cluehunt/internal/pkg/common"
	"github.com/vreid/cluehunt/internal/pkg/encryption"
	"github.com/vreid/cluehunt/internal/pkg/threshold"
	"golang.org/x/time/rate"
)

const (
	endpointShare   = "share"
	endpointExecute = "execute"
)

// NodeService is one member of the threshold network. It releases its
// decryption share only to sessions that satisfy a ciphertext's conditions,
// and can run verification programs so plaintext never leaves the network.
type NodeService struct {
	Logger zerolog.Logger

	Index           int
	Threshold       int
	Share           threshold.KeyShare
	MasterPublicKey bn254.G2Affine
	PublicShare     bn254.G2Affine

	Chain   threshold.ChainReader
	Limiter *rate.Limiter

	peerTimeout time.Duration

	mu         sync.RWMutex
	peers      []string
	peerClient *threshold.Client

	metrics *nodeMetrics
	now     func() time.Time
}

func NewNodeService(i do.Injector) (*NodeService, error) {
	logger := do.MustInvoke[zerolog.Logger](i)
	registry := do.MustInvoke[*prometheus.Registry](i)
	chain := do.MustInvoke[threshold.ChainReader](i)

	cfg := Config{
		Index:           do.MustInvokeNamed[int](i, "index"),
		Threshold:       do.MustInvokeNamed[int](i, "threshold"),
		Share:           do.MustInvokeNamed[string](i, "share"),
		MasterPublicKey: do.MustInvokeNamed[string](i, "master-public-key"),
		Peers:           do.MustInvokeNamed[[]string](i, "peers"),
		PeerTimeout:     do.MustInvokeNamed[time.Duration](i, "node-timeout"),
		RateLimit:       do.MustInvokeNamed[float64](i, "rate-limit"),
	}

	databaseService := do.MustInvoke[*appcommon.DatabaseService](i)

	cfg, err := ResolveKeyMaterial(databaseService, cfg)
	if err != nil {
		return nil, err
	}

	result, err := New(cfg, chain, logger, registry)
	if err != nil {
		return nil, err
	}

	echoService, err := do.Invoke[*appcommon.EchoService](i)
	if err != nil {
		return nil, fmt.Errorf("failed to create echo service: %w", err)
	}

	echoService.Register(result.Routes)

	return result, nil
}

func New(
	cfg Config,
	chain threshold.ChainReader,
	logger zerolog.Logger,
	registerer prometheus.Registerer,
) (*NodeService, error) {
	if cfg.Index < 1 || cfg.Threshold < 1 {
		return nil, fmt.Errorf("%w: node index and threshold must be positive", appcommon.ErrConfiguration)
	}

	value, err := threshold.DecodeScalar(cfg.Share)
	if err != nil {
		return nil, fmt.Errorf("%w: key share: %w", appcommon.ErrConfiguration, err)
	}

	mpk, err := threshold.DecodeG2(cfg.MasterPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: master public key: %w", appcommon.ErrConfiguration, err)
	}

	share := threshold.KeyShare{Index: cfg.Index, Value: value}

	result := &NodeService{
		Logger: logger.With().Str("service", "node").Int("index", cfg.Index).Logger(),

		Index:           cfg.Index,
		Threshold:       cfg.Threshold,
		Share:           share,
		MasterPublicKey: mpk,
		PublicShare:     threshold.PublicShare(share),

		Chain: chain,

		peerTimeout: cfg.PeerTimeout,

		metrics: newNodeMetrics(registerer),
		now:     time.Now,
	}

	if cfg.RateLimit > 0 {
		result.Limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}

	err = result.SetPeers(cfg.Peers)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// SetPeers replaces the set of nodes asked for shares during execution.
func (s *NodeService) SetPeers(peers []string) error {
	need := s.Threshold - 1

	if need > len(peers) {
		return fmt.Errorf("%w: threshold %d needs at least %d peers, have %d",
			appcommon.ErrConfiguration, s.Threshold, need, len(peers))
	}

	var peerClient *threshold.Client

	if need > 0 {
		client, err := threshold.NewClient(peers, need, threshold.EncodeG2(s.MasterPublicKey), s.peerTimeout)
		if err != nil {
			return err
		}

		peerClient = client
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.peers = peers
	s.peerClient = peerClient

	return nil
}

func (s *NodeService) Routes(e *echo.Echo) {
	apiGroup := e.Group("/api")

	nodeGroup := apiGroup.Group("/node")

	nodeGroup.GET("/info", s.GetInfo)
	nodeGroup.POST("/share", s.PostShare)
	nodeGroup.POST("/execute", s.PostExecute)
}

func (s *NodeService) GetInfo(c echo.Context) error {
	//nolint:wrapcheck
	return c.JSON(http.StatusOK, threshold.NodeInfo{
		Index:           s.Index,
		Threshold:       s.Threshold,
		MasterPublicKey: threshold.EncodeG2(s.MasterPublicKey),
		PublicShare:     threshold.EncodeG2(s.PublicShare),
	})
}

func (s *NodeService) allow(endpoint string) error {
	if s.Limiter != nil && !s.Limiter.Allow() {
		s.metrics.requests.WithLabelValues(endpoint, "rate_limited").Inc()

		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	return nil
}

// authorize verifies the session and the conditions for its signer.
func (s *NodeService) authorize(
	c echo.Context,
	endpoint string,
	session threshold.SessionSig,
	ability threshold.Ability,
	conditions threshold.AccessControlConditions,
) (common.Address, error) {
	signer, err := session.Verify(s.now(), ability)
	if err != nil {
		s.metrics.requests.WithLabelValues(endpoint, "unauthorized").Inc()

		return common.Address{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	}

	ok, err := conditions.Evaluate(c.Request().Context(), s.Chain, signer)
	if errors.Is(err, threshold.ErrInvalidConditions) {
		s.metrics.requests.WithLabelValues(endpoint, "bad_request").Inc()

		return common.Address{}, echo.NewHTTPError(http.StatusBadRequest, "invalid access control conditions")
	}

	if err != nil {
		s.Logger.Warn().Err(err).Str("signer", signer.Hex()).Msg("failed to evaluate access control conditions")
		s.metrics.requests.WithLabelValues(endpoint, "unavailable").Inc()

		return common.Address{}, echo.NewHTTPError(http.StatusServiceUnavailable, "condition check unavailable")
	}

	if !ok {
		s.metrics.requests.WithLabelValues(endpoint, "denied").Inc()

		return common.Address{}, echo.NewHTTPError(http.StatusForbidden, "access control conditions not satisfied")
	}

	return signer, nil
}

func (s *NodeService) identity(conditions threshold.AccessControlConditions, dataHash string) ([]byte, error) {
	rawHash, err := hex.DecodeString(dataHash)
	if err != nil || len(rawHash) == 0 {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid data hash")
	}

	identity, err := threshold.Identity(conditions, rawHash)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid access control conditions")
	}

	return identity, nil
}

func (s *NodeService) PostShare(c echo.Context) error {
	err := s.allow(endpointShare)
	if err != nil {
		return err
	}

	var req threshold.ShareRequest

	err = c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	_, err = s.authorize(c, endpointShare, req.Session, threshold.AbilityDecrypt, req.Conditions)
	if err != nil {
		return err
	}

	identity, err := s.identity(req.Conditions, req.DataHash)
	if err != nil {
		return err
	}

	share, err := threshold.DecryptionShare(s.Share, identity)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute decryption share")
	}

	s.metrics.requests.WithLabelValues(endpointShare, "ok").Inc()

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, threshold.ShareResponse{
		Index: s.Index,
		Share: threshold.EncodeG1(share),
	})
}

func (s *NodeService) collectPeerShares(
	c echo.Context,
	req threshold.ShareRequest,
	identity []byte,
) (map[int]bn254.G1Affine, error) {
	s.mu.RLock()
	peers, peerClient := s.peers, s.peerClient
	s.mu.RUnlock()

	if peerClient == nil {
		return map[int]bn254.G1Affine{}, nil
	}

	shares, err := peerClient.CollectShares(c.Request().Context(), peers, req, identity, s.Threshold-1)
	if err == nil {
		return shares, nil
	}

	switch {
	case errors.Is(err, threshold.ErrAccessDenied):
		return nil, echo.NewHTTPError(http.StatusForbidden, "access control conditions not satisfied")
	case errors.Is(err, threshold.ErrSessionInvalid):
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
	case errors.Is(err, threshold.ErrBadRequest):
		return nil, echo.NewHTTPError(http.StatusBadRequest, "peer rejected the request")
	default:
		s.Logger.Warn().Err(err).Msg("failed to collect peer shares")

		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "quorum not reached")
	}
}

//nolint:cyclop,funlen
func (s *NodeService) PostExecute(c echo.Context) error {
	err := s.allow(endpointExecute)
	if err != nil {
		return err
	}

	var req threshold.ExecuteRequest

	err = c.Bind(&req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err = req.Program.Validate()
	if err != nil {
		s.metrics.requests.WithLabelValues(endpointExecute, "bad_request").Inc()

		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	conditions := req.Blob.AccessControlConditions

	_, err = s.authorize(c, endpointExecute, req.Session, threshold.AbilityExecute, conditions)
	if err != nil {
		return err
	}

	identity, err := s.identity(conditions, req.Blob.DataHash)
	if err != nil {
		return err
	}

	capsule, err := threshold.DecodeG2(req.Blob.Capsule)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid capsule")
	}

	own, err := threshold.DecryptionShare(s.Share, identity)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute decryption share")
	}

	peerShares, err := s.collectPeerShares(c, threshold.ShareRequest{
		Session:    req.Session,
		Conditions: conditions,
		DataHash:   req.Blob.DataHash,
	}, identity)
	if err != nil {
		return err
	}

	shares := make(map[int]bn254.G1Affine, len(peerShares)+1)
	maps.Copy(shares, peerShares)
	shares[s.Index] = own

	key, err := threshold.CombineShares(shares, s.Threshold, capsule)
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "quorum not reached")
	}

	plaintext, err := encryption.OpenBlob(key, req.Blob)
	if err != nil {
		s.metrics.requests.WithLabelValues(endpointExecute, "undecryptable").Inc()

		return echo.NewHTTPError(http.StatusUnprocessableEntity, "blob could not be decrypted")
	}

	verified, err := req.Program.Evaluate(plaintext)
	if err != nil {
		s.metrics.requests.WithLabelValues(endpointExecute, "bad_request").Inc()

		return echo.NewHTTPError(http.StatusUnprocessableEntity, "program could not be evaluated")
	}

	s.Logger.Info().
		Str("algorithm", string(req.Program.Algorithm)).
		Str("clue_id", req.Program.ClueID).
		Bool("verified", verified).
		Msg("executed verification program")
	s.metrics.requests.WithLabelValues(endpointExecute, "ok").Inc()

	//nolint:wrapcheck
	return c.JSON(http.StatusOK, threshold.ExecuteResponse{Verified: verified})
}
