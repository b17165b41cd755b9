package threshold

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/go-resty/resty/v2"
	"github.com/samber/do/v2"
	appcommon "github.com/vreid/cluehunt/internal/pkg/common"
	"github.com/vreid/cluehunt/internal/pkg/verifier"
)

const (
	InfoPath    = "/api/node/info"
	SharePath   = "/api/node/share"
	ExecutePath = "/api/node/execute"

	DefaultNodeTimeout = 10 * time.Second
)

var (
	ErrNodeUnavailable = errors.New("threshold node unavailable")
	ErrNotConnected    = errors.New("threshold client is not connected")
	ErrBadRequest      = errors.New("threshold node rejected request")
	ErrKeyMismatch     = errors.New("node serves a different master public key")
)

type nodeState struct {
	info        NodeInfo
	publicShare bn254.G2Affine
}

// Client talks to a set of threshold nodes. It holds no wallet state; callers
// pass a fresh session on every request.
type Client struct {
	http *resty.Client

	nodes           []string
	threshold       int
	masterPublicKey bn254.G2Affine

	mu        sync.RWMutex
	states    map[string]nodeState
	connected bool

	cursor atomic.Uint64
}

func NewClientService(i do.Injector) (*Client, error) {
	nodes := do.MustInvokeNamed[[]string](i, "nodes")
	threshold := do.MustInvokeNamed[int](i, "threshold")
	masterPublicKey := do.MustInvokeNamed[string](i, "master-public-key")
	timeout := do.MustInvokeNamed[time.Duration](i, "node-timeout")

	return NewClient(nodes, threshold, masterPublicKey, timeout)
}

func NewClient(nodes []string, threshold int, masterPublicKey string, timeout time.Duration) (*Client, error) {
	if threshold < 1 || threshold > len(nodes) {
		return nil, fmt.Errorf("%w: threshold %d with %d nodes", appcommon.ErrConfiguration, threshold, len(nodes))
	}

	mpk, err := DecodeG2(masterPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: master public key: %w", appcommon.ErrConfiguration, err)
	}

	if timeout <= 0 {
		timeout = DefaultNodeTimeout
	}

	normalized := make([]string, 0, len(nodes))
	for _, node := range nodes {
		normalized = append(normalized, strings.TrimRight(node, "/"))
	}

	return &Client{
		http: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),

		nodes:           normalized,
		threshold:       threshold,
		masterPublicKey: mpk,

		states: map[string]nodeState{},
	}, nil
}

// Connect handshakes with every node and requires at least a quorum that
// agrees on the master public key.
func (c *Client) Connect(ctx context.Context) error {
	var (
		wg        sync.WaitGroup
		reachable atomic.Int32
		mismatch  atomic.Bool
	)

	for _, node := range c.nodes {
		wg.Go(func() {
			_, err := c.state(ctx, node)
			if err == nil {
				reachable.Add(1)
			} else if errors.Is(err, ErrKeyMismatch) {
				mismatch.Store(true)
			}
		})
	}

	wg.Wait()

	if int(reachable.Load()) < c.threshold {
		if mismatch.Load() {
			return fmt.Errorf("%w: quorum not reached: %w", ErrNodeUnavailable, ErrKeyMismatch)
		}

		return fmt.Errorf("%w: %d of %d nodes reachable, need %d",
			ErrNodeUnavailable, reachable.Load(), len(c.nodes), c.threshold)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	return nil
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states = map[string]nodeState{}
	c.connected = false
}

func (c *Client) Shutdown() {
	c.Disconnect()
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connected
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNodeUnavailable, err)
	}

	if !resp.IsError() {
		return nil
	}

	message := resp.Status()
	if body, ok := resp.Error().(*errorResponse); ok && len(body.Message) > 0 {
		message = body.Message
	}

	switch resp.StatusCode() {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrSessionInvalid, message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAccessDenied, message)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrBadRequest, message)
	default:
		return fmt.Errorf("%w: %s", ErrNodeUnavailable, message)
	}
}

func (c *Client) Info(ctx context.Context, node string) (NodeInfo, error) {
	var info NodeInfo

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&info).
		SetError(&errorResponse{}).
		Get(node + InfoPath)

	err = checkResponse(resp, err)
	if err != nil {
		return NodeInfo{}, err
	}

	return info, nil
}

func (c *Client) state(ctx context.Context, node string) (nodeState, error) {
	c.mu.RLock()
	state, ok := c.states[node]
	c.mu.RUnlock()

	if ok {
		return state, nil
	}

	info, err := c.Info(ctx, node)
	if err != nil {
		return nodeState{}, err
	}

	mpk, err := DecodeG2(info.MasterPublicKey)
	if err != nil || !mpk.Equal(&c.masterPublicKey) {
		return nodeState{}, fmt.Errorf("%w: %s", ErrKeyMismatch, node)
	}

	publicShare, err := DecodeG2(info.PublicShare)
	if err != nil {
		return nodeState{}, fmt.Errorf("%w: %s public share: %w", ErrBadRequest, node, err)
	}

	state = nodeState{info: info, publicShare: publicShare}

	c.mu.Lock()
	c.states[node] = state
	c.mu.Unlock()

	return state, nil
}

func (c *Client) RequestShare(ctx context.Context, node string, req ShareRequest) (ShareResponse, error) {
	var share ShareResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&share).
		SetError(&errorResponse{}).
		Post(node + SharePath)

	err = checkResponse(resp, err)
	if err != nil {
		return ShareResponse{}, err
	}

	return share, nil
}

func (c *Client) verifiedShare(
	ctx context.Context,
	node string,
	req ShareRequest,
	identity []byte,
) (int, bn254.G1Affine, error) {
	state, err := c.state(ctx, node)
	if err != nil {
		return 0, bn254.G1Affine{}, err
	}

	resp, err := c.RequestShare(ctx, node, req)
	if err != nil {
		return 0, bn254.G1Affine{}, err
	}

	if resp.Index != state.info.Index {
		return 0, bn254.G1Affine{}, fmt.Errorf("%w: %s answered as index %d", ErrInvalidShare, node, resp.Index)
	}

	share, err := DecodeG1(resp.Share)
	if err != nil {
		return 0, bn254.G1Affine{}, fmt.Errorf("%w: %w", ErrInvalidShare, err)
	}

	ok, err := VerifyDecryptionShare(share, state.publicShare, identity)
	if err != nil {
		return 0, bn254.G1Affine{}, err
	}

	if !ok {
		return 0, bn254.G1Affine{}, fmt.Errorf("%w: %s", ErrInvalidShare, node)
	}

	return resp.Index, share, nil
}

// CollectShares asks every given node for a decryption share concurrently
// and returns the verified ones once at least need arrived.
func (c *Client) CollectShares(
	ctx context.Context,
	nodes []string,
	req ShareRequest,
	identity []byte,
	need int,
) (map[int]bn254.G1Affine, error) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex

		shares  = make(map[int]bn254.G1Affine, len(nodes))
		denials []error
		others  []error
	)

	for _, node := range nodes {
		wg.Go(func() {
			index, share, err := c.verifiedShare(ctx, node, req, identity)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				shares[index] = share
			case errors.Is(err, ErrAccessDenied),
				errors.Is(err, ErrSessionInvalid),
				errors.Is(err, ErrBadRequest):
				denials = append(denials, err)
			default:
				others = append(others, err)
			}
		})
	}

	wg.Wait()

	if len(shares) >= need {
		return shares, nil
	}

	if len(denials) > 0 {
		return nil, denials[0]
	}

	return nil, fmt.Errorf("%w: %d of %d shares: %w",
		ErrNodeUnavailable, len(shares), need, errors.Join(others...))
}

// Encapsulate needs no network round trip: it only uses the master public key.
func (c *Client) Encapsulate(conditions AccessControlConditions, dataHash []byte) ([]byte, string, error) {
	identity, err := Identity(conditions, dataHash)
	if err != nil {
		return nil, "", err
	}

	key, capsule, err := Encapsulate(c.masterPublicKey, identity)
	if err != nil {
		return nil, "", err
	}

	return key, EncodeG2(capsule), nil
}

func (c *Client) DecryptionKey(ctx context.Context, session *SessionSig, blob EncryptedBlob) ([]byte, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}

	dataHash, err := hex.DecodeString(blob.DataHash)
	if err != nil {
		return nil, fmt.Errorf("%w: data hash: %w", ErrBadRequest, err)
	}

	identity, err := Identity(blob.AccessControlConditions, dataHash)
	if err != nil {
		return nil, err
	}

	capsule, err := DecodeG2(blob.Capsule)
	if err != nil {
		return nil, err
	}

	shares, err := c.CollectShares(ctx, c.nodes, ShareRequest{
		Session:    *session,
		Conditions: blob.AccessControlConditions,
		DataHash:   blob.DataHash,
	}, identity, c.threshold)
	if err != nil {
		return nil, err
	}

	return CombineShares(shares, c.threshold, capsule)
}

func (c *Client) nextNode() string {
	c.mu.RLock()
	nodes := make([]string, 0, len(c.states))
	for node := range c.states {
		nodes = append(nodes, node)
	}
	c.mu.RUnlock()

	if len(nodes) == 0 {
		nodes = c.nodes
	}

	sort.Strings(nodes)

	return nodes[(c.cursor.Add(1)-1)%uint64(len(nodes))]
}

// Execute ships program to one node, which decrypts blob inside the network
// and answers with the verdict only. Each call lands on the next node.
func (c *Client) Execute(
	ctx context.Context,
	session *SessionSig,
	blob EncryptedBlob,
	program verifier.Program,
) (bool, error) {
	if !c.Connected() {
		return false, ErrNotConnected
	}

	var result ExecuteResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(ExecuteRequest{
			Session: *session,
			Blob:    blob,
			Program: program,
		}).
		SetResult(&result).
		SetError(&errorResponse{}).
		Post(c.nextNode() + ExecutePath)

	err = checkResponse(resp, err)
	if err != nil {
		return false, err
	}

	return result.Verified, nil
}
