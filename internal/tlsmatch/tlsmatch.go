// Package tlsmatch implements the "TLS matcher" derived index named
// alongside the router and tool indexes in spec §4.A's Publication list:
// an SNI-indexed certificate set rebuilt from the registry's SSL
// resources whenever they change.
package tlsmatch

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/accesspoint/gateway/internal/gwerrors"
	"github.com/accesspoint/gateway/internal/obslog"
	"github.com/accesspoint/gateway/internal/registry"
)

// Index maps a TLS ClientHello's server name to the certificate it should
// be served, built once from one registry.Snapshot's SSL resources (spec
// §3 "SSL... matched by SNI at TLS accept").
type Index struct {
	bySNI map[string]*tls.Certificate
}

// Build compiles every SSL resource in snap into an SNI-keyed certificate
// set. A snapshot with no SSLs yields an empty, always-miss Index rather
// than an error, since TLS is optional for the gateway as a whole.
func Build(snap *registry.Snapshot) (*Index, error) {
	idx := &Index{bySNI: map[string]*tls.Certificate{}}
	for _, ssl := range snap.SSLs {
		cert, err := tls.X509KeyPair([]byte(ssl.Cert), []byte(ssl.Key))
		if err != nil {
			return nil, fmt.Errorf("ssl %s: parsing certificate: %w", ssl.ID, err)
		}
		for _, sni := range ssl.SNIs {
			idx.bySNI[sni] = &cert
		}
	}
	return idx, nil
}

// SNICount reports how many server names this index answers for.
func (idx *Index) SNICount() int { return len(idx.bySNI) }

func (idx *Index) lookup(name string) (*tls.Certificate, bool) {
	cert, ok := idx.bySNI[name]
	return cert, ok
}

// Manager holds the currently live Index behind a plain pointer swap and
// implements registry.Listener, mirroring router.Manager and
// mcpengine.Manager's rebuild-on-publish shape: it rebuilds whenever an
// SSL resource changes (spec §4.A Publication -> "TLS matcher" rebuild).
type Manager struct {
	idx *Index
}

func NewManager(snap *registry.Snapshot) *Manager {
	idx, err := Build(snap)
	if err != nil {
		// An unparsable cert at bootstrap should not prevent the gateway
		// from starting over plain HTTP; TLS simply answers no SNIs until
		// the offending SSL resource is corrected and republished.
		idx = &Index{bySNI: map[string]*tls.Certificate{}}
	}
	return &Manager{idx: idx}
}

func (m *Manager) Current() *Index { return m.idx }

func (m *Manager) OnPublish(ctx context.Context, snap *registry.Snapshot, affected []registry.ResourceType) {
	for _, t := range affected {
		if t == registry.TypeSSL {
			idx, err := Build(snap)
			if err != nil {
				obslog.FromContext(ctx).Error("tls matcher rebuild failed, keeping previous index", "err", err)
				return
			}
			m.idx = idx
			obslog.FromContext(ctx).Info("tls matcher rebuilt", "snis", idx.SNICount())
			return
		}
	}
}

// GetCertificate implements crypto/tls.Config.GetCertificate: it selects a
// certificate by the ClientHello's SNI (spec §3 SSL "Matched by SNI at TLS
// accept"), failing if no SSL resource claims that name.
func (m *Manager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert, ok := m.Current().lookup(hello.ServerName)
	if !ok {
		return nil, gwerrors.NotFound("ssls", hello.ServerName)
	}
	return cert, nil
}
