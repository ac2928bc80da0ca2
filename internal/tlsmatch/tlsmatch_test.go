package tlsmatch

import (
	"context"
	"crypto/tls"
	"testing"

	"github.com/accesspoint/gateway/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_InvalidCertReturnsError(t *testing.T) {
	snap := &registry.Snapshot{
		SSLs: map[string]*registry.SSL{
			"bad": {ID: "bad", Cert: "not a cert", Key: "not a key", SNIs: []string{"example.com"}},
		},
	}
	_, err := Build(snap)
	assert.Error(t, err)
}

func TestBuild_EmptySnapshotYieldsEmptyIndex(t *testing.T) {
	idx, err := Build(&registry.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, 0, idx.SNICount())
}

func TestGetCertificate_MatchesBySNI(t *testing.T) {
	want := &tls.Certificate{}
	m := &Manager{idx: &Index{bySNI: map[string]*tls.Certificate{"example.com": want}}}

	got, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "example.com"})
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestGetCertificate_UnknownSNIFails(t *testing.T) {
	m := &Manager{idx: &Index{bySNI: map[string]*tls.Certificate{}}}
	_, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "unknown.example.com"})
	assert.Error(t, err)
}

func TestOnPublish_IgnoresUnrelatedResourceTypes(t *testing.T) {
	original := &Index{bySNI: map[string]*tls.Certificate{"keep.example.com": {}}}
	m := &Manager{idx: original}

	m.OnPublish(context.Background(), &registry.Snapshot{}, []registry.ResourceType{registry.TypeUpstream})
	assert.Same(t, original, m.Current(), "a publish that doesn't touch SSLs must not rebuild the index")
}

func TestOnPublish_FailedSSLRebuildKeepsPreviousIndex(t *testing.T) {
	m := NewManager(&registry.Snapshot{})
	snap := &registry.Snapshot{
		SSLs: map[string]*registry.SSL{
			"bad": {ID: "bad", Cert: "still not a cert", Key: "still not a key", SNIs: []string{"example.com"}},
		},
	}

	before := m.Current()
	m.OnPublish(context.Background(), snap, []registry.ResourceType{registry.TypeSSL})

	assert.Same(t, before, m.Current(), "a failed rebuild keeps serving the previous index rather than going empty")
}
