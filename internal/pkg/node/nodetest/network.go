// Package nodetest runs an in-process threshold network for tests.
package nodetest

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/vreid/cluehunt/internal/pkg/node"
	"github.com/vreid/cluehunt/internal/pkg/threshold"
)

type Network struct {
	Threshold       int
	MasterPublicKey string

	Nodes   []*node.NodeService
	Servers []*httptest.Server
	URLs    []string
}

// Start brings up n nodes sharing a fresh t-of-n key. Every node treats
// all the others as peers.
func Start(tb testing.TB, t, n int, chain threshold.ChainReader) *Network {
	tb.Helper()

	keys, err := threshold.GenerateKey(t, n)
	require.NoError(tb, err)

	manifest := keys.Manifest()

	network := &Network{
		Threshold:       t,
		MasterPublicKey: manifest.MasterPublicKey,
	}

	for range manifest.Nodes {
		server := httptest.NewUnstartedServer(nil)
		tb.Cleanup(server.Close)

		network.Servers = append(network.Servers, server)
		network.URLs = append(network.URLs, "http://"+server.Listener.Addr().String())
	}

	for idx, entry := range manifest.Nodes {
		peers := make([]string, 0, n-1)
		for other, url := range network.URLs {
			if other != idx {
				peers = append(peers, url)
			}
		}

		svc, err := node.New(node.Config{
			Index:           entry.Index,
			Threshold:       t,
			Share:           entry.Share,
			MasterPublicKey: manifest.MasterPublicKey,
			Peers:           peers,
			PeerTimeout:     2 * time.Second,
		}, chain, zerolog.Nop(), nil)
		require.NoError(tb, err)

		e := echo.New()
		svc.Routes(e)

		server := network.Servers[idx]
		server.Config.Handler = e
		server.Start()

		network.Nodes = append(network.Nodes, svc)
	}

	return network
}

// Stop takes node idx offline.
func (n *Network) Stop(idx int) {
	n.Servers[idx].Close()
}

// Client returns a connected client for the whole network.
func (n *Network) Client(tb testing.TB) *threshold.Client {
	tb.Helper()

	client, err := threshold.NewClient(n.URLs, n.Threshold, n.MasterPublicKey, 2*time.Second)
	require.NoError(tb, err)
	require.NoError(tb, client.Connect(tb.Context()))

	return client
}
